package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestYAMLTree(t *testing.T) {
	src := `
op: "+"
left:
  call: concat
  args:
    - field: Name
    - lookup: {through: Tasks, field: Title}
right:
  number: "1"
`
	var tree Tree
	require.NoError(t, yaml.Unmarshal([]byte(src), &tree))

	want := Op(OpAdd,
		Fn("concat", Ref("Name"), Lookup{Through: "Tasks", Name: "Title"}),
		Number("1"),
	)
	assert.Equal(t, want, tree.Root)
	assert.Equal(t, "(concat(field('Name'), lookup('Tasks', 'Title')) + 1)", tree.Root.String())
}

func TestYAMLTreeErrors(t *testing.T) {
	var tree Tree
	err := yaml.Unmarshal([]byte(`{op: "%", left: {number: "1"}, right: {number: "2"}}`), &tree)
	assert.ErrorContains(t, err, "unknown operator")

	err = yaml.Unmarshal([]byte(`{lookup: {through: Tasks}}`), &tree)
	assert.ErrorContains(t, err, "lookup needs both")

	err = yaml.Unmarshal([]byte(`{op: "+", left: {number: "1"}}`), &tree)
	assert.ErrorContains(t, err, "right of +")
}

func TestJSONNodeRoundTrip(t *testing.T) {
	n := Fn("if", Op(OpGreater, Ref("A"), Number("2")), Text("it's"), Bool(false))
	raw, err := MarshalNode(n)
	require.NoError(t, err)

	back, err := UnmarshalNode(raw)
	require.NoError(t, err)
	assert.Equal(t, n, back)

	empty, err := UnmarshalNode(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestReferences(t *testing.T) {
	n := Op(OpAdd,
		Op(OpMultiply, Ref("B"), Ref("A")),
		Fn("sum", Lookup{Through: "Tasks", Name: "Hours"}, Ref("B")),
	)
	assert.Equal(t, []Reference{
		{Name: "A"},
		{Name: "B"},
		{Name: "Tasks"},
		{Name: "Hours", Via: "Tasks"},
	}, References(n))

	assert.Empty(t, References(Number("1")))
}

func TestRenames(t *testing.T) {
	n := Op(OpAdd, Ref("Price"), Fn("sum", Lookup{Through: "Price", Name: "Price"}))

	renamed := RenameField(n, "Price", "Cost")
	assert.Equal(t, Op(OpAdd, Ref("Cost"), Fn("sum", Lookup{Through: "Cost", Name: "Price"})), renamed)
	// исходное дерево не меняется
	assert.Equal(t, Ref("Price"), n.Left)

	renamed = RenameLookupTarget(n, "Price", "Price", "Amount")
	assert.Equal(t, Op(OpAdd, Ref("Price"), Fn("sum", Lookup{Through: "Price", Name: "Amount"})), renamed)
}

func TestOperatorKinds(t *testing.T) {
	assert.True(t, OpLess.IsOrdering())
	assert.True(t, OpEqual.IsComparison())
	assert.False(t, OpEqual.IsOrdering())
	assert.False(t, OpAdd.IsComparison())
}
