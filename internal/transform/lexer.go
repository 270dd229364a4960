package transform

// tokenKind is the coarse class of a lexical token. The lexer only needs
// enough of JavaScript/TypeScript to track nesting and find statement
// boundaries; it never builds an AST.
type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokTemplate
	tokRegex
	tokPunct
)

type token struct {
	kind  tokenKind
	start int
	end   int
	// newlineBefore is set when a line break separates this token from the
	// previous one.
	newlineBefore bool
}

func (t token) text(src []byte) string {
	return string(src[t.start:t.end])
}

func (t token) is(src []byte, s string) bool {
	return t.end-t.start == len(s) && string(src[t.start:t.end]) == s
}

func (t token) punct(src []byte) byte {
	if t.kind != tokPunct {
		return 0
	}
	return src[t.start]
}

// regexAfterWord lists keywords after which a slash starts a regex.
var regexAfterWord = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "new": true, "delete": true, "void": true,
	"throw": true, "yield": true, "await": true, "instanceof": true,
}

type lexer struct {
	src []byte
	pos int
	// last significant token, used for the regex/division decision
	last token
}

func newLexer(src []byte, pos int) *lexer {
	return &lexer{src: src, pos: pos}
}

func isWhiteSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
		c == '_' || c == '$' || c >= 0x80
}

// skipTrivia skips whitespace and comments and reports whether a line break
// was crossed.
func (l *lexer) skipTrivia() bool {
	newline := false
	n := len(l.src)
	for l.pos < n {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			newline = true
			l.pos++
		case isWhiteSpace(c):
			l.pos++
		case c == '/' && l.pos+1 < n && l.src[l.pos+1] == '/':
			for l.pos < n && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.pos+1 < n && l.src[l.pos+1] == '*':
			l.pos += 2
			for l.pos+1 < n && !(l.src[l.pos] == '*' && l.src[l.pos+1] == '/') {
				if l.src[l.pos] == '\n' {
					newline = true
				}
				l.pos++
			}
			l.pos += 2
			if l.pos > n {
				l.pos = n
			}
		default:
			return newline
		}
	}
	return newline
}

// next returns the next significant token.
func (l *lexer) next() token {
	newline := l.skipTrivia()
	n := len(l.src)
	if l.pos >= n {
		return token{kind: tokEOF, start: n, end: n, newlineBefore: newline}
	}

	start := l.pos
	c := l.src[l.pos]
	var kind tokenKind

	switch {
	case c == '"' || c == '\'':
		l.pos = skipString(l.src, l.pos)
		kind = tokString
	case c == '`':
		l.pos = skipTemplate(l.src, l.pos)
		kind = tokTemplate
	case c == '/' && l.regexAllowed():
		l.pos = skipRegex(l.src, l.pos)
		kind = tokRegex
	case isIdentChar(c):
		for l.pos < n && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		kind = tokIdent
	default:
		l.pos++
		kind = tokPunct
	}

	t := token{kind: kind, start: start, end: l.pos, newlineBefore: newline}
	l.last = t
	return t
}

// peek returns the next token without consuming it.
func (l *lexer) peek() token {
	pos, last := l.pos, l.last
	t := l.next()
	l.pos, l.last = pos, last
	return t
}

func (l *lexer) regexAllowed() bool {
	switch l.last.kind {
	case tokEOF:
		return true
	case tokIdent:
		return regexAfterWord[l.last.text(l.src)]
	case tokPunct:
		switch l.src[l.last.start] {
		case ')', ']', '}', '<', '>':
			// '<' covers JSX closing tags such as </div>.
			return false
		default:
			return true
		}
	default:
		return false
	}
}

// skipString returns the index after the string literal starting at i.
// Unterminated literals stop at the end of the line.
func skipString(src []byte, i int) int {
	quote := src[i]
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		case '\n':
			return i
		}
		i++
	}
	return len(src)
}

// skipTemplate returns the index after the template literal starting at i,
// descending into ${ } substitutions.
func skipTemplate(src []byte, i int) int {
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case '`':
			return i + 1
		case '$':
			if i+1 < len(src) && src[i+1] == '{' {
				i = skipSubstitution(src, i+2)
				continue
			}
		}
		i++
	}
	return len(src)
}

// skipSubstitution consumes tokens until the brace closing a template
// substitution and returns the index after it.
func skipSubstitution(src []byte, i int) int {
	l := newLexer(src, i)
	depth := 0
	for {
		t := l.next()
		switch t.kind {
		case tokEOF:
			return len(src)
		case tokPunct:
			switch src[t.start] {
			case '{', '(', '[':
				depth++
			case ')', ']':
				depth--
			case '}':
				if depth == 0 {
					return t.end
				}
				depth--
			}
		}
	}
}

// skipRegex returns the index after the regex literal starting at i.
func skipRegex(src []byte, i int) int {
	i++
	inClass := false
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				i++
				for i < len(src) && isIdentChar(src[i]) {
					i++
				}
				return i
			}
		case '\n':
			return i
		}
		i++
	}
	return len(src)
}
