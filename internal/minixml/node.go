// Package minixml parses a restricted XML dialect into a node tree,
// serializes trees back to indented text, and offers dotted-path lookup
// and update helpers. It is the persistence format for index catalogues.
//
// Children of a node are held in an ordered slice in which Attribute nodes
// always precede every other node type. Root-level nodes (for example a
// <?xml?> declaration followed by the document element) are chained through
// Next; Next is nil for nodes stored in a Children slice.
package minixml

// NodeType is the kind of a tree node.
type NodeType int

const (
	Element NodeType = iota
	Attribute
	Text
	Comment
	Literal
)

func (t NodeType) String() string {
	switch t {
	case Element:
		return "Element"
	case Attribute:
		return "Attribute"
	case Text:
		return "Text"
	case Comment:
		return "Comment"
	case Literal:
		return "Literal"
	default:
		return "Unknown"
	}
}

// Node is one node of the tree. For Element and Attribute nodes Value is the
// name; for Text, Comment and Literal nodes it is the content.
type Node struct {
	Type     NodeType
	Value    string
	Children []*Node
	Next     *Node
}

// NewElement creates an element node.
func NewElement(name string) *Node {
	return &Node{Type: Element, Value: name}
}

// NewAttribute creates an attribute node holding value as its single Text child.
func NewAttribute(name, value string) *Node {
	return &Node{Type: Attribute, Value: name, Children: []*Node{{Type: Text, Value: value}}}
}

// NewText creates a text node.
func NewText(value string) *Node {
	return &Node{Type: Text, Value: value}
}

// CreateChild creates a node of the given type and attaches it to parent
// (when parent is non-nil).
func CreateChild(parent *Node, t NodeType, value string) *Node {
	n := &Node{Type: t, Value: value}
	if parent != nil {
		AddChild(parent, n)
	}
	return n
}

// CreateElementAndValue creates <name>value</name> under parent.
func CreateElementAndValue(parent *Node, name, value string) *Node {
	n := CreateChild(parent, Element, name)
	CreateChild(n, Text, value)
	return n
}

// AddChild attaches child to parent. Attribute children are inserted after
// the last existing attribute; everything else is appended.
func AddChild(parent, child *Node) {
	child.Next = nil
	if child.Type != Attribute {
		parent.Children = append(parent.Children, child)
		return
	}

	pos := 0
	for pos < len(parent.Children) && parent.Children[pos].Type == Attribute {
		pos++
	}
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[pos+1:], parent.Children[pos:])
	parent.Children[pos] = child
}

// RemoveChild detaches child from parent. It reports whether child was found.
func RemoveChild(parent, child *Node) bool {
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return true
		}
	}
	return false
}

// AddSibling appends sibling to the end of the Next chain starting at n.
func AddSibling(n, sibling *Node) {
	last := n
	for last.Next != nil {
		last = last.Next
	}
	last.Next = sibling
}

// Clone returns a deep copy of n, its children and its following siblings.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}

	var head, tail *Node
	for src := n; src != nil; src = src.Next {
		dst := cloneOne(src)
		if head == nil {
			head = dst
		} else {
			tail.Next = dst
		}
		tail = dst
	}
	return head
}

func cloneOne(src *Node) *Node {
	dst := &Node{Type: src.Type, Value: src.Value}
	if len(src.Children) > 0 {
		dst.Children = make([]*Node, len(src.Children))
		for i, c := range src.Children {
			dst.Children[i] = cloneOne(c)
		}
	}
	return dst
}

// attributesFirst reports whether no attribute follows a non-attribute child.
func attributesFirst(n *Node) bool {
	seenOther := false
	for _, c := range n.Children {
		if c.Type == Attribute {
			if seenOther {
				return false
			}
		} else {
			seenOther = true
		}
	}
	return true
}
