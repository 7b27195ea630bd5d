package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxDepth caps expression nesting so pathological input cannot exhaust the stack.
const MaxDepth = 64

// MaxLength caps the accepted expression length in bytes.
const MaxLength = 1024

// Operand names accepted in expressions (case-insensitive).
const (
	OperandPrice = "PRICE"
	OperandSize  = "SIZE"
	OperandDelT  = "DEL_T"
	OperandDelP  = "DEL_P"
)

var knownOperands = map[string]bool{
	OperandPrice: true,
	OperandSize:  true,
	OperandDelT:  true,
	OperandDelP:  true,
}

// Parser is a recursive-descent parser over the fixed arithmetic grammar:
//
//	expr    := term (("+" | "-") term)*
//	term    := unary (("*" | "/") unary)*
//	unary   := ("-" | "+") unary | power
//	power   := primary ("^" unary)?
//	primary := NUMBER | OPERAND | "(" expr ")"
//
// Power is right-associative and binds tighter than a leading sign, so
// -2^2 is -(2^2) and 2^3^2 is 2^(3^2).
type Parser struct {
	lexer    *Lexer
	token    Token
	depth    int
	operands bool
}

// Parse parses an expression that may reference the trade operands.
func Parse(input string) (Node, error) {
	return parse(input, true)
}

// ParseNumeric parses an expression made only of numeric literals.
func ParseNumeric(input string) (Node, error) {
	return parse(input, false)
}

func parse(input string, operands bool) (Node, error) {
	if len(input) > MaxLength {
		return nil, fmt.Errorf("expression exceeds %d bytes", MaxLength)
	}
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	p := &Parser{lexer: NewLexer(input), operands: operands}
	p.nextToken()

	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.token.Type != TOKEN_EOF {
		return nil, p.errorf("unexpected %s", p.describe())
	}
	return n, nil
}

func (p *Parser) nextToken() {
	p.token = p.lexer.NextToken()
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return fmt.Errorf("expression nesting exceeds depth %d", MaxDepth)
	}
	return nil
}

func (p *Parser) leave() { p.depth-- }

func (p *Parser) parseExpr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.token.Type == TOKEN_PLUS || p.token.Type == TOKEN_MINUS {
		op := p.token.Type
		p.nextToken()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.token.Type == TOKEN_STAR || p.token.Type == TOKEN_SLASH {
		op := p.token.Type
		p.nextToken()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.token.Type == TOKEN_MINUS || p.token.Type == TOKEN_PLUS {
		op := p.token.Type
		p.nextToken()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, X: x}, nil
	}
	return p.parsePower()
}

func (p *Parser) parsePower() (Node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.token.Type != TOKEN_CARET {
		return base, nil
	}
	p.nextToken()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &Binary{Op: TOKEN_CARET, Left: base, Right: exp}, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.token
	switch tok.Type {
	case TOKEN_NUMBER:
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", tok.Literal)
		}
		p.nextToken()
		return &Number{Value: v, Text: tok.Literal}, nil

	case TOKEN_IDENT:
		if !p.operands {
			return nil, p.errorf("identifier %q not allowed here", tok.Literal)
		}
		name := strings.ToUpper(tok.Literal)
		if !knownOperands[name] {
			return nil, p.errorf("unknown operand %q", tok.Literal)
		}
		p.nextToken()
		return &Operand{Name: name}, nil

	case TOKEN_LPAREN:
		p.nextToken()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.token.Type != TOKEN_RPAREN {
			return nil, p.errorf("expected ) but found %s", p.describe())
		}
		p.nextToken()
		return inner, nil
	}
	return nil, p.errorf("unexpected %s", p.describe())
}

func (p *Parser) describe() string {
	switch p.token.Type {
	case TOKEN_EOF:
		return "end of expression"
	case TOKEN_NUMBER, TOKEN_IDENT, TOKEN_ILLEGAL:
		return fmt.Sprintf("%q", p.token.Literal)
	default:
		return p.token.Type.String()
	}
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("at offset %d: %s", p.token.Pos, fmt.Sprintf(format, args...))
}
