package expr

// Lexer tokenizes arithmetic expression input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	start := l.pos
	switch {
	case l.ch == 0 && l.pos >= len(l.input):
		return Token{Type: TOKEN_EOF, Pos: start}
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return Token{Type: TOKEN_NUMBER, Literal: l.readNumber(), Pos: start}
	case isLetter(l.ch):
		return Token{Type: TOKEN_IDENT, Literal: l.readIdent(), Pos: start}
	}

	var typ TokenType
	switch l.ch {
	case '+':
		typ = TOKEN_PLUS
	case '-':
		typ = TOKEN_MINUS
	case '*':
		typ = TOKEN_STAR
	case '/':
		typ = TOKEN_SLASH
	case '^':
		typ = TOKEN_CARET
	case '(':
		typ = TOKEN_LPAREN
	case ')':
		typ = TOKEN_RPAREN
	default:
		typ = TOKEN_ILLEGAL
	}
	tok := Token{Type: typ, Literal: string(l.ch), Pos: start}
	l.readChar()
	return tok
}

// Tokenize returns every token up to and including EOF, or stops at the
// first ILLEGAL token.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var out []Token
	for {
		tok := l.NextToken()
		out = append(out, tok)
		if tok.Type == TOKEN_EOF || tok.Type == TOKEN_ILLEGAL {
			return out
		}
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' || l.ch == '\v' {
		l.readChar()
	}
}

// readNumber reads digits with at most one decimal point ("12", "1.5", ".5", "2.").
func (l *Lexer) readNumber() string {
	start := l.pos
	seenDot := false
	for isDigit(l.ch) || (l.ch == '.' && !seenDot) {
		if l.ch == '.' {
			seenDot = true
		}
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readIdent() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isDigit(ch byte) bool  { return ch >= '0' && ch <= '9' }
func isLetter(ch byte) bool { return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') }
