package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLib = "file:///test-lib"

func class(name string, super ClassKey, fields ...string) *Class {
	c := &Class{Library: testLib, Name: name, Super: super}
	for _, f := range fields {
		c.Fields = append(c.Fields, &Field{Name: f})
	}
	return c
}

func key(name string) ClassKey { return ClassKey{Library: testLib, Name: name} }

func TestShapeFlattensHierarchy(t *testing.T) {
	a := class("A", ObjectKey, "x", "y")
	m := class("M", ObjectKey, "m")
	b := class("B", key("A"), "z", "x")
	b.Mixins = []ClassKey{key("M")}
	p := New(testLib, []*Library{{URI: testLib, Classes: []*Class{a, m, b}}})

	assert.Equal(t, []string{"x", "y", "m", "z"}, p.ShapeNames(key("B")))
	f, ok := p.ShapeField(key("B"), "x")
	require.True(t, ok)
	assert.Equal(t, key("B"), f.Owner)

	assert.True(t, p.IsSubtype(key("B"), key("A")))
	assert.True(t, p.IsSubtype(key("B"), key("M")))
	assert.False(t, p.IsSubtype(key("A"), key("B")))
	assert.True(t, p.IsSubtype(key("A"), ObjectKey))
}

func TestEnumShapeCarriesIndexAndName(t *testing.T) {
	e := &Class{Library: testLib, Name: "Fruit", IsEnum: true, EnumMembers: []string{"Apple", "Banana"}, Super: ObjectKey}
	p := New(testLib, []*Library{{URI: testLib, Classes: []*Class{e}}})
	assert.Equal(t, []string{"index", "_name"}, p.ShapeNames(key("Fruit")))
	assert.Equal(t, 1, e.EnumIndex("Banana"))
	assert.Equal(t, -1, e.EnumIndex("Cantaloupe"))
}

func TestTypeArgVector(t *testing.T) {
	foo := class("Foo", ObjectKey)
	foo.TypeParams = []string{"A"}
	bar := class("Bar", key("Foo"))
	bar.TypeParams = []string{"B", "C"}
	baz := class("Baz", key("Bar"))
	p := New(testLib, []*Library{{URI: testLib, Classes: []*Class{foo, bar, baz}}})
	assert.Equal(t, []string{"Foo.A", "Bar.B", "Bar.C"}, p.TypeArgVector(key("Baz")))
	assert.Equal(t, []string{"Foo.0", "Bar.0", "Bar.1"}, p.TypeArgLayout(key("Baz")))
}

func TestResolveMethodAndSuper(t *testing.T) {
	a := class("A", ObjectKey)
	a.Methods = []*Function{{Name: "m"}, {Name: "s", Static: true}}
	b := class("B", key("A"))
	b.Methods = []*Function{{Name: "m"}}
	p := New(testLib, []*Library{{URI: testLib, Classes: []*Class{a, b}}})

	fn, owner := p.ResolveMethod(key("B"), "m", ClassKey{})
	require.NotNil(t, fn)
	assert.Equal(t, "B", owner.Name)

	fn, owner = p.ResolveMethod(key("B"), "m", key("B"))
	require.NotNil(t, fn)
	assert.Equal(t, "A", owner.Name)

	_, sm, sowner := p.ResolveStatic(key("B"), "s")
	require.NotNil(t, sm)
	assert.Equal(t, "A", sowner.Name)

	fn, _ = p.ResolveMethod(key("B"), "s", ClassKey{})
	assert.Nil(t, fn, "static methods are not instance members")
}

func TestScopeShowHideAndExports(t *testing.T) {
	lib1 := &Library{URI: "test:lib1", Functions: []*Function{{Name: "f"}, {Name: "g"}}, Exports: []*Import{{URI: "test:lib2"}}}
	lib2 := &Library{URI: "test:lib2", Functions: []*Function{{Name: "h"}}}
	main := &Library{URI: testLib, Imports: []*Import{
		{URI: "test:lib1", Hide: []string{"g"}},
		{URI: "test:lib1", Prefix: "p", Show: []string{"g"}},
	}}
	p := New(testLib, []*Library{main, lib1, lib2})
	s := p.Scope(testLib)

	_, ok := s.Lookup("f")
	assert.True(t, ok)
	_, ok = s.Lookup("g")
	assert.False(t, ok, "hidden name must not resolve")
	_, ok = s.Lookup("h")
	assert.True(t, ok, "re-exported name resolves")
	m, ok := s.LookupPrefixed("p", "g")
	require.True(t, ok)
	assert.Equal(t, "test:lib1", m.Library)
	_, ok = s.LookupPrefixed("p", "f")
	assert.False(t, ok)
	_, ok = s.Lookup("Object")
	assert.True(t, ok, "core library is implicitly imported")

	deps := p.Dependents()
	assert.ElementsMatch(t, []string{testLib, testLib}, deps["test:lib1"])
	assert.Equal(t, []string{"test:lib1"}, deps["test:lib2"])
}

func TestNamesIncludeQualifiedForms(t *testing.T) {
	e := &Class{Library: testLib, Name: "Fruit", IsEnum: true, EnumMembers: []string{"Apple"}, Super: ObjectKey}
	c := class("C", ObjectKey, "x")
	c.Methods = []*Function{{Name: "foo", Static: true}, {Name: "bar", Params: []string{"a"}}}
	p := New(testLib, []*Library{{URI: testLib, Classes: []*Class{e, c}}})

	n := p.Names()
	assert.Contains(t, n.Qualified, "Fruit.Apple")
	assert.Contains(t, n.Qualified, "Fruit.values")
	assert.Contains(t, n.Qualified, "C.foo")
	assert.Contains(t, n.Qualified, "super.bar")
	assert.Contains(t, n.Idents, "a")
	assert.Contains(t, n.Idents, "reload")
	assert.NotContains(t, n.Qualified, "C.bar")
}

func TestParseTypeRef(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		args    []string
		wantErr bool
	}{
		{"Foo", "Foo", nil, false},
		{"Foo<String>", "Foo", []string{"String"}, false},
		{"Map<String, List<int>>", "Map", []string{"String", "List<int>"}, false},
		{"Foo<", "", nil, true},
		{"Foo<A,>", "", nil, true},
		{"", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := ParseTypeRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, ref.Name)
			assert.Equal(t, tt.args, ref.Args)
		})
	}
	assert.Equal(t, "List", BaseTypeName("List<int>?"))
}

func TestImageRoundtrip(t *testing.T) {
	lib := &Library{URI: testLib, Source: []byte("library: file:///test-lib\n"), Hash: "abc"}
	p := New(testLib, []*Library{lib})
	p.Generation = 3

	data, err := Snapshot(p).Serialize()
	require.NoError(t, err)
	assert.True(t, IsImage(data))

	img, err := DeserializeImage(data)
	require.NoError(t, err)
	assert.Equal(t, testLib, img.Root)
	assert.Equal(t, uint64(3), img.Generation)
	assert.Equal(t, []string{testLib}, img.URIs())
	assert.Equal(t, "abc", img.Hashes[testLib])

	_, err = DeserializeImage([]byte{1})
	assert.ErrorContains(t, err, "too short")
	_, err = DeserializeImage([]byte("XXXX\x01"))
	assert.ErrorContains(t, err, "invalid magic")
}
