package minixml

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogueDoc = `<?xml version="1.0"?>
<LayerAttrIndex>
  <ContainerFile>roads.ind</ContainerFile>
  <AttrIndex>
    <FieldIndex>0</FieldIndex>
  </AttrIndex>
</LayerAttrIndex>
`

func TestParseDocument(t *testing.T) {
	root, err := Parse(catalogueDoc)
	require.NoError(t, err)

	assert.Equal(t, Element, root.Type)
	assert.Equal(t, "?xml", root.Value)
	require.Len(t, root.Children, 1)
	assert.Equal(t, Attribute, root.Children[0].Type)
	assert.Equal(t, "1.0", GetValue(root, "version", ""))

	require.NotNil(t, root.Next)
	assert.Equal(t, "LayerAttrIndex", root.Next.Value)
	assert.Equal(t, "roads.ind", GetValue(root, "=LayerAttrIndex.ContainerFile", ""))
	assert.Equal(t, "0", GetValue(root, "=LayerAttrIndex.AttrIndex.FieldIndex", ""))
	assert.Equal(t, "none", GetValue(root, "=LayerAttrIndex.Missing", "none"))
	assert.Nil(t, GetNode(root, "LayerAttrIndex"), "without '=' only children of root are searched")
}

func TestSerializeMatchesIndentedInput(t *testing.T) {
	root, err := Parse(catalogueDoc)
	require.NoError(t, err)
	assert.Equal(t, catalogueDoc, Serialize(root))
}

func TestRoundTrip(t *testing.T) {
	doc := NewElement("Layer")
	AddChild(doc, NewAttribute("name", "roads"))
	AddChild(doc, NewAttribute("version", "2"))
	CreateElementAndValue(doc, "Field", "width")
	CreateChild(doc, Comment, " generated ")
	empty := CreateChild(doc, Element, "Empty")
	AddChild(empty, NewAttribute("k", "v"))
	nested := CreateChild(doc, Element, "Nested")
	CreateElementAndValue(nested, "Leaf", "42")

	parsed, err := Parse(Serialize(doc))
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)

	again, err := Parse(Serialize(parsed))
	require.NoError(t, err)
	assert.Equal(t, parsed, again)
}

func TestMixedContentRoundTrip(t *testing.T) {
	for _, input := range []string{
		"<a>x<b/>y</a>",
		"<a>\n  x\n  <b>inner</b>\n  y z\n</a>",
		"<a k='v'>lead<!-- c -->tail</a>",
	} {
		t.Run(input, func(t *testing.T) {
			first, err := Parse(input)
			require.NoError(t, err)

			out := Serialize(first)
			second, err := Parse(out)
			require.NoError(t, err, out)
			assert.Equal(t, first, second, out)
			assert.Equal(t, out, Serialize(second))
		})
	}

	root, err := Parse("<a>x<b/>y</a>")
	require.NoError(t, err)
	out := Serialize(root)
	assert.Equal(t, "<a>\n  x\n  <b/>\n  y\n</a>\n", out)

	parsed, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, parsed.Children, 3)
	assert.Equal(t, "x", parsed.Children[0].Value)
	assert.Equal(t, "b", parsed.Children[1].Value)
	assert.Equal(t, "y", parsed.Children[2].Value)
}

func TestEntityRoundTrip(t *testing.T) {
	const raw = `a < b & "c" > d`

	root := NewElement("v")
	require.NoError(t, SetValue(root, "text", raw))
	require.NoError(t, SetValue(root, "#attr", raw))

	out := Serialize(root)
	assert.Contains(t, out, `attr="a &lt; b &amp; &quot;c&quot; &gt; d"`)
	assert.Contains(t, out, `<text>a &lt; b &amp; &quot;c&quot; &gt; d</text>`)

	parsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, raw, GetValue(parsed, "text", ""))
	assert.Equal(t, raw, GetValue(parsed, "attr", ""))
}

func TestNumericEntities(t *testing.T) {
	root, err := Parse(`<a b='&#65;&#x42;&apos;'>&#x263A; &unknown; &amp</a>`)
	require.NoError(t, err)
	assert.Equal(t, "AB'", GetValue(root, "b", ""))
	assert.Equal(t, "☺ &unknown; &amp", GetValue(root, "", ""))
}

func TestSpecialForms(t *testing.T) {
	input := "<!DOCTYPE x [ <!ELEMENT x ANY> ]>\n<x><!-- hi --><![CDATA[x < y &amp;]]></x>"
	root, err := Parse(input)
	require.NoError(t, err)

	assert.Equal(t, Literal, root.Type)
	assert.Equal(t, "<!DOCTYPE x [ <!ELEMENT x ANY> ]>", root.Value)

	x := root.Next
	require.NotNil(t, x)
	require.Len(t, x.Children, 2)
	assert.Equal(t, Comment, x.Children[0].Type)
	assert.Equal(t, " hi ", x.Children[0].Value)
	assert.Equal(t, Text, x.Children[1].Type)
	assert.Equal(t, "x < y &amp;", x.Children[1].Value)
}

func TestSelfClosingAndBareValues(t *testing.T) {
	root, err := Parse(`<A><b/><c k=v/><d k='q'></d></a>`)
	require.NoError(t, err)
	require.Len(t, root.Children, 3)
	assert.Equal(t, "v", GetValue(root, "c.k", ""))
	assert.Equal(t, "q", GetValue(root, "d.k", ""))
	assert.Nil(t, root.Children[0].Children)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
		msg   string
	}{
		{"unclosed element", "<root>\n  <x>1</x>\n  <open>", 3, "not all elements have been closed, starting with <open>"},
		{"mismatched close", "<a>\n</b>", 2, "<a> doesn't have matching </b>"},
		{"unterminated quote", "<a\n b=\"x>", 2, "unterminated quoted string"},
		{"missing equals", "<a b>", 1, "didn't find expected '='"},
		{"missing value", "<a b=>", 1, "didn't find expected attribute value"},
		{"unbalanced question close", "<a?>", 1, "found unbalanced '?>'"},
		{"unterminated doctype", "<!DOCTYPE x", 1, "DOCTYPE"},
		{"unterminated comment", "<a>\n<!-- x", 2, "unterminated comment"},
		{"stray close tag", "</a>", 1, "has no matching open tag"},
		{"empty", "  \n", 2, "no nodes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := Parse(tt.input)
			assert.Nil(t, root)
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.line, perr.Line)
			assert.Contains(t, perr.Msg, tt.msg)
		})
	}
}

func TestParseErrorTruncatesToken(t *testing.T) {
	long := strings.Repeat("x", 2*maxTokenInMessage)
	_, err := Parse("<a " + long + ">")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.NotContains(t, perr.Msg, long)
	assert.Contains(t, perr.Msg, long[:maxTokenInMessage])
}

func TestAddChildKeepsAttributesFirst(t *testing.T) {
	el := NewElement("e")
	CreateChild(el, Element, "child")
	CreateChild(el, Text, "body")
	AddChild(el, NewAttribute("a", "1"))
	AddChild(el, NewAttribute("b", "2"))

	require.Len(t, el.Children, 4)
	assert.Equal(t, "a", el.Children[0].Value)
	assert.Equal(t, "b", el.Children[1].Value)
	assert.Equal(t, "child", el.Children[2].Value)
	assert.True(t, attributesFirst(el))

	assert.True(t, RemoveChild(el, el.Children[0]))
	assert.False(t, RemoveChild(el, NewElement("stranger")))
	assert.Equal(t, "b", el.Children[0].Value)
	assert.True(t, attributesFirst(el))
}

func TestCloneIsDeep(t *testing.T) {
	root, err := Parse(catalogueDoc)
	require.NoError(t, err)

	cp := Clone(root)
	require.Equal(t, root, cp)
	require.NotSame(t, root.Next, cp.Next)

	require.NoError(t, SetValue(cp.Next, "ContainerFile", "other.ind"))
	assert.Equal(t, "roads.ind", GetValue(root, "=LayerAttrIndex.ContainerFile", ""))
	assert.Equal(t, "other.ind", GetValue(cp, "=LayerAttrIndex.ContainerFile", ""))
	assert.Nil(t, Clone(nil))
}

func TestSetValue(t *testing.T) {
	root := NewElement("Root")
	require.NoError(t, SetValue(root, "a.b", "1"))
	require.NoError(t, SetValue(root, "a.#id", "7"))

	assert.Equal(t, "<Root>\n  <a id=\"7\">\n    <b>1</b>\n  </a>\n</Root>\n", Serialize(root))

	require.NoError(t, SetValue(root, "a.b", "2"))
	assert.Equal(t, "2", GetValue(root, "a.b", ""))
	assert.Equal(t, "7", GetValue(root, "a.id", ""))

	assert.Error(t, SetValue(root, "a", "x"), "a holds element content")
	assert.Error(t, SetValue(root, "a..b", "x"))
}

func TestGetValueAmbiguousText(t *testing.T) {
	root, err := Parse(`<a>text<b/></a>`)
	require.NoError(t, err)
	assert.Equal(t, "def", GetValue(root, "", "def"))
}

func TestSiblingChain(t *testing.T) {
	first := NewElement("one")
	AddSibling(first, NewElement("two"))
	AddSibling(first, NewElement("three"))

	assert.Equal(t, "three", GetNode(first, "=three").Value)
	assert.Equal(t, "<one/>\n<two/>\n<three/>\n", Serialize(first))
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.idm")

	root, err := Parse(catalogueDoc)
	require.NoError(t, err)
	require.NoError(t, SerializeToFile(root, path))

	loaded, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, root, loaded)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.idm"))
	assert.Error(t, err)
}
