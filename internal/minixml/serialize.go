package minixml

import "strings"

const indentStep = 2

// Serialize renders n and every node on its Next chain as indented text.
// Elements without non-attribute children use the short "<name/>" form.
// Elements whose non-attribute children are all Text keep the text on the
// same line as the tags; in mixed content each Text child gets its own line.
func Serialize(n *Node) string {
	var b strings.Builder
	for ; n != nil; n = n.Next {
		serializeNode(&b, n, 0)
	}
	return b.String()
}

func writeIndent(b *strings.Builder, indent int) {
	for i := 0; i < indent; i++ {
		b.WriteByte(' ')
	}
}

func serializeNode(b *strings.Builder, n *Node, indent int) {
	switch n.Type {
	case Text:
		b.WriteString(escape(n.Value))

	case Attribute:
		b.WriteByte(' ')
		b.WriteString(n.Value)
		b.WriteString(`="`)
		if len(n.Children) > 0 && n.Children[0].Type == Text {
			b.WriteString(escape(n.Children[0].Value))
		}
		b.WriteByte('"')

	case Comment:
		writeIndent(b, indent)
		b.WriteString("<!--")
		b.WriteString(n.Value)
		b.WriteString("-->\n")

	case Literal:
		writeIndent(b, indent)
		b.WriteString(n.Value)
		b.WriteByte('\n')

	case Element:
		writeIndent(b, indent)
		b.WriteByte('<')
		b.WriteString(n.Value)

		hasContent := false
		for _, c := range n.Children {
			if c.Type == Attribute {
				serializeNode(b, c, indent)
			} else {
				hasContent = true
			}
		}

		switch {
		case strings.HasPrefix(n.Value, "?"):
			b.WriteString("?>\n")
		case !hasContent:
			b.WriteString("/>\n")
		default:
			b.WriteByte('>')
			mixed := false
			for _, c := range n.Children {
				if c.Type != Attribute && c.Type != Text {
					mixed = true
					break
				}
			}
			if mixed {
				b.WriteByte('\n')
			}
			for _, c := range n.Children {
				switch {
				case c.Type == Attribute:
				case c.Type == Text && mixed:
					writeIndent(b, indent+indentStep)
					serializeNode(b, c, indent+indentStep)
					b.WriteByte('\n')
				default:
					serializeNode(b, c, indent+indentStep)
				}
			}
			if mixed {
				writeIndent(b, indent)
			}
			b.WriteString("</")
			b.WriteString(n.Value)
			b.WriteString(">\n")
		}
	}
}
