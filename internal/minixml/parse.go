package minixml

import (
	"fmt"
	"strings"
)

// Parse parses text into a tree and returns the first root-level node.
// Further root-level nodes hang off its Next chain. On malformed input no
// tree is returned and the error is a *ParseError carrying the line number.
func Parse(text string) (*Node, error) {
	p := parser{lex: newLexer(text)}
	return p.parse()
}

type parser struct {
	lex   *lexer
	stack []*Node
	root  *Node
	last  *Node
}

func (p *parser) top() *Node {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

func (p *parser) pop() {
	p.stack = p.stack[:len(p.stack)-1]
}

// attach adds n under the innermost open element, or to the root chain.
func (p *parser) attach(n *Node) {
	if parent := p.top(); parent != nil {
		AddChild(parent, n)
		return
	}
	if p.root == nil {
		p.root = n
	} else {
		p.last.Next = n
	}
	p.last = n
}

func (p *parser) fail(msg string, args ...any) error {
	return &ParseError{Line: p.lex.line, Msg: fmt.Sprintf(msg, args...)}
}

func (p *parser) failToken(msg string) error {
	return &ParseError{Line: p.lex.line, Token: truncate(p.lex.tok), Msg: msg}
}

func (p *parser) parse() (*Node, error) {
	lex := p.lex
	for {
		if err := lex.next(); err != nil {
			return nil, err
		}

		switch lex.typ {
		case tokNone:
			if len(p.stack) > 0 {
				return nil, p.fail("not all elements have been closed, starting with <%s>", p.top().Value)
			}
			if p.root == nil {
				return nil, p.fail("document contains no nodes")
			}
			return p.root, nil

		case tokOpen:
			if err := lex.next(); err != nil {
				return nil, err
			}
			if lex.typ != tokToken {
				return nil, p.failToken("didn't find element token after open angle bracket")
			}
			if !strings.HasPrefix(lex.tok, "/") {
				n := NewElement(lex.tok)
				p.attach(n)
				p.stack = append(p.stack, n)
				continue
			}

			name := lex.tok[1:]
			top := p.top()
			if top == nil || !strings.EqualFold(name, top.Value) {
				if top == nil {
					return nil, p.fail("closing tag </%s> has no matching open tag", truncate(name))
				}
				return nil, p.fail("<%s> doesn't have matching </%s>", truncate(top.Value), truncate(name))
			}
			if err := lex.next(); err != nil {
				return nil, err
			}
			if lex.typ != tokClose {
				return nil, p.fail("missing close angle bracket after </%s", truncate(name))
			}
			p.pop()

		case tokToken:
			top := p.top()
			if top == nil {
				return nil, p.failToken("unexpected token outside of an element")
			}
			attr := CreateChild(top, Attribute, lex.tok)
			if err := lex.next(); err != nil {
				return nil, err
			}
			if lex.typ != tokEqual {
				return nil, p.fail("didn't find expected '=' for value of attribute '%s'", truncate(attr.Value))
			}
			if err := lex.next(); err != nil {
				return nil, err
			}
			if lex.typ != tokToken && lex.typ != tokString {
				return nil, p.fail("didn't find expected attribute value for '%s'", truncate(attr.Value))
			}
			CreateChild(attr, Text, lex.tok)

		case tokClose:
			if p.top() == nil {
				return nil, p.fail("found unbalanced '>'")
			}

		case tokSlashClose:
			if p.top() == nil {
				return nil, p.fail("found unbalanced '/>'")
			}
			p.pop()

		case tokQuestionClose:
			top := p.top()
			if top == nil || !strings.HasPrefix(top.Value, "?") {
				return nil, p.fail("found unbalanced '?>'")
			}
			p.pop()

		case tokComment:
			p.attach(&Node{Type: Comment, Value: lex.tok})

		case tokLiteral:
			p.attach(&Node{Type: Literal, Value: lex.tok})

		case tokString:
			p.attach(&Node{Type: Text, Value: lex.tok})

		default:
			return nil, p.failToken("unexpected token")
		}
	}
}
