package expr

// TokenType identifies the kind of a lexical token.
type TokenType int

// Token types produced by the Lexer.
const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF
	TOKEN_NUMBER
	TOKEN_IDENT
	TOKEN_PLUS
	TOKEN_MINUS
	TOKEN_STAR
	TOKEN_SLASH
	TOKEN_CARET
	TOKEN_LPAREN
	TOKEN_RPAREN
)

var tokenNames = map[TokenType]string{
	TOKEN_ILLEGAL: "ILLEGAL",
	TOKEN_EOF:     "EOF",
	TOKEN_NUMBER:  "NUMBER",
	TOKEN_IDENT:   "IDENT",
	TOKEN_PLUS:    "+",
	TOKEN_MINUS:   "-",
	TOKEN_STAR:    "*",
	TOKEN_SLASH:   "/",
	TOKEN_CARET:   "^",
	TOKEN_LPAREN:  "(",
	TOKEN_RPAREN:  ")",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Token is a lexical token with its source text and byte offset.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}
