package expr

// Node is a parsed arithmetic expression.
type Node interface {
	node()
}

// Number is a numeric literal. Text keeps the literal as written.
type Number struct {
	Value float64
	Text  string
}

// Operand is a reference to one of the trade fields.
type Operand struct {
	Name string // canonical upper-case name, e.g. PRICE
}

// Unary is a prefix sign applied to an expression.
type Unary struct {
	Op TokenType // TOKEN_MINUS or TOKEN_PLUS
	X  Node
}

// Binary is an infix arithmetic operation. Power is represented with TOKEN_CARET.
type Binary struct {
	Op          TokenType
	Left, Right Node
}

func (*Number) node()  {}
func (*Operand) node() {}
func (*Unary) node()   {}
func (*Binary) node()  {}
