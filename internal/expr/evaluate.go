package expr

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numericAllowList gates the substituted expression before it is parsed.
var numericAllowList = regexp.MustCompile(`^[0-9+\-*/^().\s]+$`)

var errDivisionByZero = errors.New("division by zero")

// Values are the concrete operand values for one row. Nil auxiliaries count as 0.
type Values struct {
	Price float64
	Size  float64
	DelT  *float64
	DelP  *float64
}

func (v Values) lookup(name string) float64 {
	switch name {
	case OperandPrice:
		return v.Price
	case OperandSize:
		return v.Size
	case OperandDelT:
		if v.DelT != nil {
			return *v.DelT
		}
	case OperandDelP:
		if v.DelP != nil {
			return *v.DelP
		}
	}
	return 0
}

// Evaluate computes an expression for one row. Operands are replaced with
// their values, the result is checked against a numeric-only allow-list,
// parsed and evaluated, and rounded to 6 decimal places. Any failure
// (parse error, division by zero, non-finite result) yields 0.
func Evaluate(expression string, vals Values) float64 {
	substituted, ok := substitute(expression, vals)
	if !ok || !numericAllowList.MatchString(substituted) {
		return 0
	}
	n, err := ParseNumeric(substituted)
	if err != nil {
		return 0
	}
	v, err := eval(n)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return Round6(v)
}

// Round6 rounds to 6 decimal places. Non-finite input becomes 0.
func Round6(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if math.Abs(v) >= 1e15 {
		return v
	}
	r := math.Round(v*1e6) / 1e6
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}

// substitute rewrites operand identifiers into parenthesized literals,
// keeping every other token as written.
func substitute(expression string, vals Values) (string, bool) {
	if len(expression) > MaxLength {
		return "", false
	}
	var b strings.Builder
	for _, tok := range Tokenize(expression) {
		switch tok.Type {
		case TOKEN_EOF:
			return b.String(), true
		case TOKEN_ILLEGAL:
			return "", false
		case TOKEN_IDENT:
			name := strings.ToUpper(tok.Literal)
			if !knownOperands[name] {
				return "", false
			}
			b.WriteString("(")
			b.WriteString(strconv.FormatFloat(vals.lookup(name), 'f', -1, 64))
			b.WriteString(")")
		default:
			b.WriteString(tok.Literal)
		}
		b.WriteString(" ")
	}
	return b.String(), true
}

func eval(n Node) (float64, error) {
	switch n := n.(type) {
	case *Number:
		return n.Value, nil
	case *Unary:
		x, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		if n.Op == TOKEN_MINUS {
			return -x, nil
		}
		return x, nil
	case *Binary:
		l, err := eval(n.Left)
		if err != nil {
			return 0, err
		}
		r, err := eval(n.Right)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case TOKEN_PLUS:
			return l + r, nil
		case TOKEN_MINUS:
			return l - r, nil
		case TOKEN_STAR:
			return l * r, nil
		case TOKEN_SLASH:
			if r == 0 {
				return 0, errDivisionByZero
			}
			return l / r, nil
		case TOKEN_CARET:
			if l == 0 && r < 0 {
				return 0, errDivisionByZero
			}
			return math.Pow(l, r), nil
		}
	}
	return 0, errors.New("unsupported expression node")
}
