package ol

import (
	"reflect"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
)

func TestPathAppendDoesNotAlias(t *testing.T) {
	base := make(Path, 1, 4)
	base[0] = Name("a")

	left := base.Append(Index(0))
	right := base.Append(Index(1))

	assert.True(t, left.Equal(PathOf("a", 0)))
	assert.True(t, right.Equal(PathOf("a", 1)))
	assert.Equal(t, 1, base.Depth())
}

func TestPathEqualAndString(t *testing.T) {
	assert.True(t, PathOf().Equal(Path{}))
	assert.False(t, PathOf("a").Equal(PathOf(0)))
	assert.False(t, PathOf(Token([]int{1})).Equal(PathOf(Token([]int{1}))))
	assert.True(t, PathOf(Token(true)).Equal(PathOf(Token(true))))
	assert.Equal(t, "$.a[2]{true}", PathOf("a", 2, true).String())
	assert.Equal(t, "$", Path{}.String())
}

func TestKindOf(t *testing.T) {
	var nilRecord map[string]any
	tests := []struct {
		v    any
		kind Kind
	}{
		{nil, Primitive},
		{1, Primitive},
		{"s", Primitive},
		{func() {}, Primitive},
		{nilRecord, Primitive},
		{map[string]any{}, Record},
		{[]any{}, List},
		{&[]any{}, List},
		{map[any]any{}, Map},
		{mapset.NewSet[any](), Set},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.v), "%T", tt.v)
	}
}

func TestNormalizeAndPlain(t *testing.T) {
	tree := Normalize(map[string]any{"l": []any{[]any{1}}}).(map[string]any)
	outer, ok := tree["l"].(*[]any)
	assert.True(t, ok)
	_, ok = (*outer)[0].(*[]any)
	assert.True(t, ok)

	assert.Equal(t, map[string]any{"l": []any{[]any{1}}}, Plain(tree))
}

func TestNormalizeLeavesInputAlone(t *testing.T) {
	inner := map[string]any{"l": []any{1}}
	src := map[string]any{"x": inner, "y": inner, "plain": map[string]any{"a": 1}}

	out := Normalize(src).(map[string]any)

	_, isSlice := inner["l"].([]any)
	assert.True(t, isSlice, "caller's nested map keeps its plain slice")
	assert.Equal(t, reflect.ValueOf(src["plain"]).Pointer(), reflect.ValueOf(out["plain"]).Pointer(),
		"containers without slices are shared")

	x := out["x"].(map[string]any)
	_, isList := x["l"].(*[]any)
	assert.True(t, isList)
	assert.Equal(t, reflect.ValueOf(x).Pointer(), reflect.ValueOf(out["y"]).Pointer(),
		"a container reached twice is converted once")
}

func TestNormalizeKeepsNormalizedTree(t *testing.T) {
	list := &[]any{map[string]any{"a": 1}}
	tree := map[string]any{"l": list}
	out := Normalize(tree).(map[string]any)
	assert.Same(t, list, out["l"])
}

func TestCloneIsDeep(t *testing.T) {
	src := map[string]any{"l": &[]any{map[string]any{"a": 1}}}
	dup := Clone(src).(map[string]any)
	(*dup["l"].(*[]any))[0].(map[string]any)["a"] = 2

	assert.Equal(t, 1, (*src["l"].(*[]any))[0].(map[string]any)["a"])
}
