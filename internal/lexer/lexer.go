package lexer

// identStart is the leading character set for identifiers: letters plus
// the arithmetic/comparison symbols, so operators like `+` and `<=`
// tokenize as ordinary identifiers rather than punctuation.
func identStart(ch byte) bool {
	switch {
	case ch >= 'A' && ch <= 'Z':
		return true
	case ch >= 'a' && ch <= 'z':
		return true
	}
	switch ch {
	case '<', '>', '=', '+', '-', '*', '/':
		return true
	}
	return false
}

func identCont(ch byte) bool {
	return identStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\r', '\n':
		return true
	}
	return false
}

// Lexer scans source text into Tokens with a two-token pushback buffer, so
// the compiler's recursive-descent reader can peek ahead without
// consuming.
type Lexer struct {
	src    []byte
	pos    int
	line   int
	column int

	pushback []Token
}

// New constructs a Lexer over source.
func New(source string) *Lexer {
	return &Lexer{src: []byte(source), line: 1, column: 1}
}

// PutBack pushes tok back onto the pushback buffer; it will be the next
// Token returned by Next. At most two tokens may be buffered.
func (l *Lexer) PutBack(tok Token) {
	l.pushback = append(l.pushback, tok)
}

func (l *Lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) byteAt(offset int) byte {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *Lexer) advance() byte {
	ch := l.src[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return ch
}

func (l *Lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.src) {
		ch := l.peekByte()
		if isSpace(ch) {
			l.advance()
			continue
		}
		if ch == ';' {
			for l.pos < len(l.src) && l.peekByte() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

// Next returns the next Token, consuming from the pushback buffer first.
func (l *Lexer) Next() Token {
	if n := len(l.pushback); n > 0 {
		tok := l.pushback[n-1]
		l.pushback = l.pushback[:n-1]
		return tok
	}
	return l.scan()
}

func (l *Lexer) scan() Token {
	l.skipWhitespaceAndComments()
	startLine, startColumn := l.line, l.column

	if l.pos >= len(l.src) {
		return Token{Type: EOF, Line: startLine, Column: startColumn}
	}

	ch := l.peekByte()

	if tok, ok := l.matchKeyword(); ok {
		tok.Line, tok.Column = startLine, startColumn
		return tok
	}

	switch ch {
	case '(':
		l.advance()
		return Token{Type: LeftParen, Literal: "(", Line: startLine, Column: startColumn}
	case ')':
		l.advance()
		return Token{Type: RightParen, Literal: ")", Line: startLine, Column: startColumn}
	case '"':
		lit := l.readString()
		return Token{Type: String, Literal: lit, Line: startLine, Column: startColumn}
	}

	if isDigit(ch) {
		typ, lit := l.readNumber()
		return Token{Type: typ, Literal: lit, Line: startLine, Column: startColumn}
	}

	if identStart(ch) {
		lit := l.readIdentifier()
		return Token{Type: Identifier, Literal: lit, Line: startLine, Column: startColumn}
	}

	// Unknown is the last resort; it consumes exactly one byte to
	// guarantee forward progress.
	l.advance()
	return Token{Type: Unknown, Literal: string(ch), Line: startLine, Column: startColumn}
}

// matchKeyword recognizes a keyword literal only when followed by a
// non-identifier boundary, so "do1" lexes as an Identifier, not Do+"1".
func (l *Lexer) matchKeyword() (Token, bool) {
	for _, word := range []string{"do", "def", "let", "if", "true", "false", "nil", "fn"} {
		n := len(word)
		if l.pos+n > len(l.src) {
			continue
		}
		if string(l.src[l.pos:l.pos+n]) != word {
			continue
		}
		if l.pos+n < len(l.src) && identCont(l.src[l.pos+n]) {
			continue
		}
		for i := 0; i < n; i++ {
			l.advance()
		}
		return Token{Type: keywords[word], Literal: word}, true
	}
	return Token{}, false
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for l.pos < len(l.src) && identCont(l.peekByte()) {
		l.advance()
	}
	return string(l.src[start:l.pos])
}

func (l *Lexer) readNumber() (TokenType, string) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.peekByte()) {
		l.advance()
	}
	typ := Integer
	if l.peekByte() == '.' && isDigit(l.byteAt(1)) {
		typ = Double
		l.advance()
		for l.pos < len(l.src) && isDigit(l.peekByte()) {
			l.advance()
		}
	}
	return typ, string(l.src[start:l.pos])
}

func (l *Lexer) readString() string {
	l.advance() // opening quote
	var out []byte
	for l.pos < len(l.src) && l.peekByte() != '"' {
		ch := l.advance()
		if ch == '\\' && l.pos < len(l.src) {
			esc := l.advance()
			switch esc {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			default:
				out = append(out, '\\', esc)
			}
			continue
		}
		out = append(out, ch)
	}
	if l.pos < len(l.src) {
		l.advance() // closing quote
	}
	return string(out)
}
