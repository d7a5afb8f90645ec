package minixml

import (
	"fmt"
	"strings"
)

// GetNode finds the node addressed by a dotted path such as "a.b.c",
// descending one named child (Element or Attribute) per segment. A leading
// '=' makes the first segment match root itself or one of its Next siblings
// instead of a child of root. It returns nil when any segment is missing.
func GetNode(root *Node, path string) *Node {
	if root == nil {
		return nil
	}

	sideSearch := false
	if strings.HasPrefix(path, "=") {
		sideSearch = true
		path = path[1:]
	}
	if path == "" {
		return root
	}

	cur := root
	for i, seg := range strings.Split(path, ".") {
		var found *Node
		if i == 0 && sideSearch {
			for n := cur; n != nil; n = n.Next {
				if isNamed(n) && n.Value == seg {
					found = n
					break
				}
			}
		} else {
			found = namedChild(cur, seg)
		}
		if found == nil {
			return nil
		}
		cur = found
	}
	return cur
}

func isNamed(n *Node) bool {
	return n.Type == Element || n.Type == Attribute
}

func namedChild(parent *Node, name string) *Node {
	for _, c := range parent.Children {
		if isNamed(c) && c.Value == name {
			return c
		}
	}
	return nil
}

// GetValue returns the text held by the node at path: the value of an
// Attribute, the content of a Text node, or the text of an Element whose only
// non-attribute child is a single Text node. Otherwise it returns def.
// An empty path addresses root.
func GetValue(root *Node, path, def string) string {
	n := root
	if path != "" {
		n = GetNode(root, path)
	}
	if n == nil {
		return def
	}

	switch n.Type {
	case Text:
		return n.Value
	case Attribute:
		if len(n.Children) > 0 && n.Children[0].Type == Text {
			return n.Children[0].Value
		}
	case Element:
		var content []*Node
		for _, c := range n.Children {
			if c.Type != Attribute {
				content = append(content, c)
			}
		}
		if len(content) == 1 && content[0].Type == Text {
			return content[0].Value
		}
	}
	return def
}

// SetValue stores value at path below root, creating missing segments. A
// segment written as "#name" addresses an attribute. The terminal node's text
// child is replaced or created; it is an error if the terminal element
// already holds non-text content.
func SetValue(root *Node, path, value string) error {
	if root == nil {
		return fmt.Errorf("set %q: nil root", path)
	}

	cur := root
	for _, seg := range strings.Split(path, ".") {
		t := Element
		name := seg
		if strings.HasPrefix(seg, "#") {
			t = Attribute
			name = seg[1:]
		}
		if name == "" {
			return fmt.Errorf("set %q: empty path segment", path)
		}

		var next *Node
		for _, c := range cur.Children {
			if c.Type == t && c.Value == name {
				next = c
				break
			}
		}
		if next == nil {
			next = CreateChild(cur, t, name)
		}
		cur = next
	}

	for _, c := range cur.Children {
		if c.Type == Attribute {
			continue
		}
		if c.Type != Text {
			return fmt.Errorf("set %q: node <%s> has non-text content", path, cur.Value)
		}
		c.Value = value
		return nil
	}
	CreateChild(cur, Text, value)
	return nil
}
