package minixml

import (
	"strconv"
	"strings"
)

type tokenType int

const (
	tokNone tokenType = iota
	tokString
	tokOpen
	tokClose
	tokEqual
	tokToken
	tokSlashClose
	tokQuestionClose
	tokComment
	tokLiteral
)

// lexer splits input into tokens. inElement is true between '<' and the
// closing '>', '/>' or '?>' of a tag, which changes how '=', quotes and
// bare words are read.
type lexer struct {
	in        string
	pos       int
	line      int
	inElement bool

	typ tokenType
	tok string
}

func newLexer(in string) *lexer {
	return &lexer{in: in, line: 1}
}

func (l *lexer) readChar() byte {
	if l.pos >= len(l.in) {
		return 0
	}
	c := l.in[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
	}
	return c
}

func (l *lexer) unreadChar(c byte) {
	if c == 0 || l.pos == 0 {
		return
	}
	l.pos--
	if c == '\n' {
		l.line--
	}
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.in) {
		return 0
	}
	return l.in[l.pos]
}

func (l *lexer) hasPrefix(s string) bool {
	return strings.HasPrefix(l.in[l.pos:], s)
}

func (l *lexer) hasPrefixFold(s string) bool {
	return len(l.in)-l.pos >= len(s) && strings.EqualFold(l.in[l.pos:l.pos+len(s)], s)
}

// skip advances n bytes, keeping the line count current.
func (l *lexer) skip(n int) {
	l.line += strings.Count(l.in[l.pos:l.pos+n], "\n")
	l.pos += n
}

func (l *lexer) errorf(msg string) *ParseError {
	return &ParseError{Line: l.line, Msg: msg}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// next reads the following token into typ/tok. typ is tokNone at end of input.
func (l *lexer) next() error {
	l.typ = tokNone
	l.tok = ""

	c := l.readChar()
	for isSpace(c) {
		c = l.readChar()
	}

	switch {
	case c == 0:
		return nil

	case c == '<' && l.hasPrefix("!--"):
		l.skip(3)
		end := strings.Index(l.in[l.pos:], "-->")
		if end < 0 {
			return l.errorf("unterminated comment, reached end of file without '-->'")
		}
		l.tok = l.in[l.pos : l.pos+end]
		l.skip(end + 3)
		l.typ = tokComment

	case c == '<' && l.hasPrefixFold("!DOCTYPE"):
		return l.readDoctype()

	case c == '<' && l.hasPrefix("![CDATA["):
		l.skip(len("![CDATA["))
		end := strings.Index(l.in[l.pos:], "]]>")
		if end < 0 {
			return l.errorf("unterminated CDATA section, reached end of file without ']]>'")
		}
		l.tok = l.in[l.pos : l.pos+end]
		l.skip(end + 3)
		l.typ = tokString

	case c == '<' && !l.inElement:
		l.typ = tokOpen
		l.inElement = true

	case c == '>' && l.inElement:
		l.typ = tokClose
		l.inElement = false

	case c == '=' && l.inElement:
		l.typ = tokEqual

	case c == '/' && l.inElement && l.peek() == '>':
		l.readChar()
		l.typ = tokSlashClose
		l.inElement = false

	case c == '?' && l.inElement && l.peek() == '>':
		l.readChar()
		l.typ = tokQuestionClose
		l.inElement = false

	case (c == '"' || c == '\'') && l.inElement:
		start := l.pos
		end := strings.IndexByte(l.in[start:], c)
		if end < 0 {
			return l.errorf("unterminated quoted string")
		}
		l.skip(end + 1)
		l.tok = unescape(l.in[start : start+end])
		l.typ = tokString

	case !l.inElement:
		start := l.pos - 1
		end := strings.IndexByte(l.in[l.pos:], '<')
		if end < 0 {
			l.skip(len(l.in) - l.pos)
		} else {
			l.skip(end)
		}
		// whitespace around a text run is layout, not content
		l.tok = unescape(strings.TrimRight(l.in[start:l.pos], " \t\r\n"))
		l.typ = tokString

	default:
		var b strings.Builder
		b.WriteByte(c)
		for {
			ch := l.readChar()
			if ch == 0 || isSpace(ch) || ch == '>' || ch == '=' || ch == '<' ||
				((ch == '/' || ch == '?') && l.peek() == '>') {
				l.unreadChar(ch)
				break
			}
			b.WriteByte(ch)
		}
		l.tok = b.String()
		l.typ = tokToken
	}
	return nil
}

// readDoctype reads a <!DOCTYPE ...> declaration verbatim. An internal
// subset in [...] and quoted strings may contain '>' and are skipped whole.
func (l *lexer) readDoctype() error {
	startLine := l.line
	var b strings.Builder
	b.WriteByte('<')
	for {
		ch := l.readChar()
		if ch == 0 {
			return &ParseError{Line: startLine, Msg: "parse error in DOCTYPE, reached end of file without '>'"}
		}
		b.WriteByte(ch)
		switch ch {
		case '[':
			for {
				ch = l.readChar()
				if ch == 0 {
					return &ParseError{Line: startLine, Msg: "parse error in DOCTYPE, reached end of file without ']'"}
				}
				b.WriteByte(ch)
				if ch == ']' {
					break
				}
			}
		case '"', '\'':
			quote := ch
			for {
				ch = l.readChar()
				if ch == 0 {
					return &ParseError{Line: startLine, Msg: "parse error in DOCTYPE, unterminated quoted string"}
				}
				b.WriteByte(ch)
				if ch == quote {
					break
				}
			}
		case '>':
			l.tok = b.String()
			l.typ = tokLiteral
			return nil
		}
	}
}

// unescape replaces XML entities in s. Unknown entities are kept as is.
func unescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '&' {
			b.WriteByte(s[i])
			continue
		}
		semi := strings.IndexByte(s[i:], ';')
		if semi < 0 {
			b.WriteByte('&')
			continue
		}
		entity := s[i+1 : i+semi]
		if r, ok := decodeEntity(entity); ok {
			b.WriteString(r)
			i += semi
			continue
		}
		b.WriteByte('&')
	}
	return b.String()
}

func decodeEntity(entity string) (string, bool) {
	switch entity {
	case "lt":
		return "<", true
	case "gt":
		return ">", true
	case "amp":
		return "&", true
	case "quot":
		return "\"", true
	case "apos":
		return "'", true
	}
	if strings.HasPrefix(entity, "#x") || strings.HasPrefix(entity, "#X") {
		if n, err := strconv.ParseUint(entity[2:], 16, 32); err == nil {
			return string(rune(n)), true
		}
	} else if strings.HasPrefix(entity, "#") {
		if n, err := strconv.ParseUint(entity[1:], 10, 32); err == nil {
			return string(rune(n)), true
		}
	}
	return "", false
}

// escape replaces the characters that cannot appear literally in text or
// attribute values.
func escape(s string) string {
	if !strings.ContainsAny(s, "<>&\"") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		case '"':
			b.WriteString("&quot;")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
