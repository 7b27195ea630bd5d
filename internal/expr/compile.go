// Package expr compiles user-supplied arithmetic over trade fields into SQL
// fragments, derives stable output column names, and evaluates expressions
// row-at-a-time when no SQL fragment is available.
package expr

import (
	"regexp"
	"strconv"
	"strings"
)

// SQL column expressions substituted for each operand. Auxiliary fields are
// nullable in storage and treated as 0.
var operandSQL = map[string]string{
	OperandPrice: "price",
	OperandSize:  "CAST(trade_size AS FLOAT8)",
	OperandDelT:  "COALESCE(CAST(del_t AS FLOAT8), 0)",
	OperandDelP:  "COALESCE(del_p, 0)",
}

// sqlAllowList is the final gate on every rendered fragment.
var sqlAllowList = regexp.MustCompile(`^[0-9a-z_+\-*/().,\s]+$`)

// Compiled holds everything derived from one Operation expression.
type Compiled struct {
	Expression string
	Column     string
	Fragment   string // SQL fragment; empty when the expression must use Evaluate
}

// HasFragment reports whether the expression can be computed in the backing store.
func (c Compiled) HasFragment() bool { return c.Fragment != "" }

// Compile derives the SQL fragment and column name for an expression.
func Compile(expression string) Compiled {
	frag, _ := CompileSQL(expression)
	return Compiled{
		Expression: expression,
		Column:     ColumnName(expression),
		Fragment:   frag,
	}
}

// CompileAll compiles a list of expressions, preserving order.
func CompileAll(expressions []string) []Compiled {
	out := make([]Compiled, len(expressions))
	for i, e := range expressions {
		out[i] = Compile(e)
	}
	return out
}

// CompileSQL translates an expression into a SQL fragment over the trades
// relation. Power is emitted as POWER(a, b). It reports false when the input
// does not parse, references an unknown name, or renders to anything outside
// the allow-list.
func CompileSQL(expression string) (string, bool) {
	n, err := Parse(strings.TrimSpace(expression))
	if err != nil {
		return "", false
	}
	var b strings.Builder
	renderSQL(&b, n)
	out := b.String()
	if !sqlAllowList.MatchString(strings.ToLower(out)) {
		return "", false
	}
	return out, true
}

func renderSQL(b *strings.Builder, n Node) {
	switch n := n.(type) {
	case *Number:
		b.WriteString(sqlNumber(n.Value))
	case *Operand:
		b.WriteString(operandSQL[n.Name])
	case *Unary:
		if n.Op == TOKEN_PLUS {
			renderSQL(b, n.X)
			return
		}
		b.WriteString("(-")
		renderSQL(b, n.X)
		b.WriteString(")")
	case *Binary:
		if n.Op == TOKEN_CARET {
			b.WriteString("POWER(")
			renderSQL(b, n.Left)
			b.WriteString(", ")
			renderSQL(b, n.Right)
			b.WriteString(")")
			return
		}
		b.WriteString("(")
		renderSQL(b, n.Left)
		b.WriteString(" ")
		b.WriteString(n.Op.String())
		b.WriteString(" ")
		if n.Op == TOKEN_SLASH {
			// x / 0 yields NULL (written as 0) on every dialect.
			b.WriteString("NULLIF(")
			renderSQL(b, n.Right)
			b.WriteString(", 0)")
		} else {
			renderSQL(b, n.Right)
		}
		b.WriteString(")")
	}
}

// sqlNumber renders a literal as a float so that division never truncates,
// whatever integer semantics the dialect applies to bare integer literals.
func sqlNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
