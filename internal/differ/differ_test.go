package differ

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/hotreload/internal/compiler"
	"github.com/funvibe/hotreload/internal/program"
)

func compile(t *testing.T, sources map[string]string) *program.Program {
	t.Helper()
	src := map[string][]byte{}
	for uri, s := range sources {
		src[uri] = []byte(s)
	}
	p, err := compiler.New(logr.Discard()).Compile(context.Background(), compiler.Request{Root: "main", Sources: src})
	require.NoError(t, err)
	return p
}

func diff(t *testing.T, before, after map[string]string) *Result {
	t.Helper()
	r, err := Diff(context.Background(), compile(t, before), compile(t, after))
	require.NoError(t, err)
	return r
}

func key(name string) program.ClassKey { return program.ClassKey{Library: "main", Name: name} }

const base = `
library: main
variables:
  - name: counter
    init: "0"
functions:
  - name: main
    returns: "4"
classes:
  - name: A
    fields:
      - name: a
        type: int
      - name: b
  - name: B
    extends: A
    fields:
      - name: c
  - name: Fruit
    enum: [Apple, Banana, Cherry]
`

func TestIdenticalProgramsAreUnchanged(t *testing.T) {
	r := diff(t, map[string]string{"main": base}, map[string]string{"main": base})
	assert.False(t, r.Changed())
	for _, cd := range r.Classes() {
		assert.Equal(t, Unchanged, cd.Change, cd.Key.String())
	}
	assert.Equal(t, Stats{}, r.Stats())
}

func TestShapeChangePropagatesToSubclasses(t *testing.T) {
	after := `
library: main
variables:
  - name: counter
    init: "0"
functions:
  - name: main
    returns: "10"
classes:
  - name: A
    fields:
      - name: a
        type: double
      - name: d
  - name: B
    extends: A
    fields:
      - name: c
  - name: Fruit
    enum: [Cherry, Apple]
`
	r := diff(t, map[string]string{"main": base}, map[string]string{"main": after})
	require.True(t, r.Changed())

	a := r.Class(key("A"))
	require.NotNil(t, a)
	assert.Equal(t, Modified, a.Change)
	assert.True(t, a.Kinds.Has(ShapeChanged))
	assert.True(t, a.Kinds.Has(FieldTypeChanged))
	assert.Equal(t, []Entry{
		{Name: "a", Change: Modified, Detail: "type int -> double"},
		{Name: "d", Change: Added},
		{Name: "b", Change: Removed},
	}, a.Fields)

	b := r.Class(key("B"))
	require.NotNil(t, b)
	assert.True(t, b.Kinds.Has(ShapeChanged))
	assert.False(t, b.Kinds.Has(SupertypeChanged))

	fruit := r.Class(key("Fruit"))
	require.NotNil(t, fruit)
	assert.True(t, fruit.Kinds.Has(EnumMembersChanged))
	assert.False(t, fruit.Kinds.Has(ShapeChanged))
	assert.Equal(t, []Entry{
		{Name: "Cherry", Change: Modified, Detail: "index 2 -> 0"},
		{Name: "Apple", Change: Modified, Detail: "index 0 -> 1"},
		{Name: "Banana", Change: Removed},
	}, fruit.EnumMembers)

	assert.Equal(t, []Entry{{Name: "main", Change: Modified}}, r.Library("main").Functions)
	assert.Len(t, r.ShapeChanged(), 2)

	s := r.Stats()
	assert.Equal(t, 1, s.LibrariesModified)
	assert.Equal(t, 3, s.ClassesModified)
	assert.Equal(t, 2, s.ShapesChanged)
}

func TestClassTransitions(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
		want   ClassChange
	}{
		{
			name:   "became abstract",
			before: "classes:\n  - name: C\n",
			after:  "classes:\n  - name: C\n    abstract: true\n",
			want:   BecameAbstract,
		},
		{
			name:   "ceased const",
			before: "classes:\n  - name: C\n    const: true\n    fields:\n      - name: x\n        final: true\n",
			after:  "classes:\n  - name: C\n    fields:\n      - name: x\n        final: true\n",
			want:   CeasedConst,
		},
		{
			name:   "became enum",
			before: "classes:\n  - name: C\n",
			after:  "classes:\n  - name: C\n    enum: [One]\n",
			want:   BecameEnum | SupertypeChanged | ShapeChanged | EnumMembersChanged,
		},
		{
			name:   "type params",
			before: "classes:\n  - name: C\n",
			after:  "classes:\n  - name: C\n    type_params: [T]\n",
			want:   TypeParamsChanged | TypeArgsChanged,
		},
		{
			name:   "method body",
			before: "classes:\n  - name: C\n    methods:\n      - name: m\n        returns: \"1\"\n",
			after:  "classes:\n  - name: C\n    methods:\n      - name: m\n        returns: \"2\"\n",
			want:   MethodsChanged,
		},
		{
			name:   "static added",
			before: "classes:\n  - name: C\n",
			after:  "classes:\n  - name: C\n    statics:\n      - name: s\n        init: \"1\"\n",
			want:   StaticsChanged,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := diff(t,
				map[string]string{"main": "library: main\n" + tt.before},
				map[string]string{"main": "library: main\n" + tt.after})
			cd := r.Class(key("C"))
			require.NotNil(t, cd)
			assert.Equal(t, Modified, cd.Change)
			assert.Equal(t, tt.want, cd.Kinds, cd.Kinds.String())
		})
	}
}

func TestTypeParamRename(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
		want   ClassChange
	}{
		{
			name:   "own parameter",
			before: "classes:\n  - name: C\n    type_params: [T]\n",
			after:  "classes:\n  - name: C\n    type_params: [U]\n",
		},
		{
			name:   "forwarded to superclass",
			before: "classes:\n  - name: Bar\n    type_params: [B]\n  - name: C\n    type_params: [T]\n    extends: Bar<T>\n",
			after:  "classes:\n  - name: Bar\n    type_params: [B]\n  - name: C\n    type_params: [U]\n    extends: Bar<U>\n",
		},
		{
			name:   "nested argument",
			before: "classes:\n  - name: Bar\n    type_params: [B]\n  - name: C\n    type_params: [T]\n    extends: Bar<List<T>>\n",
			after:  "classes:\n  - name: Bar\n    type_params: [B]\n  - name: C\n    type_params: [U]\n    extends: Bar<List<U>>\n",
		},
		{
			name:   "swapped slots",
			before: "classes:\n  - name: Bar\n    type_params: [B]\n  - name: C\n    type_params: [T, S]\n    extends: Bar<T>\n",
			after:  "classes:\n  - name: Bar\n    type_params: [B]\n  - name: C\n    type_params: [T, S]\n    extends: Bar<S>\n",
			want:   TypeArgsChanged,
		},
		{
			name:   "arity",
			before: "classes:\n  - name: C\n    type_params: [T]\n",
			after:  "classes:\n  - name: C\n    type_params: [U, V]\n",
			want:   TypeParamsChanged | TypeArgsChanged,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := diff(t,
				map[string]string{"main": "library: main\n" + tt.before},
				map[string]string{"main": "library: main\n" + tt.after})
			cd := r.Class(key("C"))
			require.NotNil(t, cd)
			assert.Equal(t, tt.want, cd.Kinds, cd.Kinds.String())
		})
	}
}

func TestLibrariesAddedAndRemoved(t *testing.T) {
	before := map[string]string{
		"main": "library: main\nimports:\n  - uri: old\n",
		"old":  "library: old\nclasses:\n  - name: Gone\n",
	}
	after := map[string]string{
		"main":  "library: main\nimports:\n  - uri: fresh\n    show: [New]\n",
		"fresh": "library: fresh\nclasses:\n  - name: New\n",
	}
	r := diff(t, before, after)

	assert.Equal(t, Removed, r.Library("old").Change)
	assert.Equal(t, Added, r.Library("fresh").Change)
	assert.Equal(t, Removed, r.Class(program.ClassKey{Library: "old", Name: "Gone"}).Change)
	assert.Equal(t, Added, r.Class(program.ClassKey{Library: "fresh", Name: "New"}).Change)
	assert.Equal(t, []Entry{
		{Name: "import old", Change: Removed},
		{Name: "import fresh", Change: Added},
	}, r.Library("main").Imports)
	assert.Equal(t, Unchanged, r.Library("lib:core").Change)
}

func TestTypedefTransition(t *testing.T) {
	before := "library: main\ntypedefs:\n  - name: Pred\n    type: (int) => bool\n"
	after := "library: main\nclasses:\n  - name: Pred\n"
	r := diff(t, map[string]string{"main": before}, map[string]string{"main": after})

	ld := r.Library("main")
	assert.Equal(t, []Entry{{Name: "Pred", Change: Modified, Detail: "typedef -> class"}}, ld.Transitions)
	assert.Equal(t, []Entry{{Name: "Pred", Change: Removed}}, ld.Typedefs)
	assert.Equal(t, Added, r.Class(key("Pred")).Change)
}

func TestClassChangeString(t *testing.T) {
	assert.Equal(t, "none", ClassChange(0).String())
	assert.Equal(t, "shape,became-enum", (ShapeChanged | BecameEnum).String())
	assert.Equal(t, "modified", Modified.String())
}
