package shape

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/hotreload/internal/compiler"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/differ"
	"github.com/funvibe/hotreload/internal/program"
)

const lib = "file:///test-lib"

type oracle struct {
	instances map[string]bool
	constants map[string]bool
}

func (o oracle) HasInstances(key program.ClassKey) bool {
	return o.instances[key.Name] || o.constants[key.Name]
}

func (o oracle) HasConstants(key program.ClassKey) bool { return o.constants[key.Name] }

func diff(t *testing.T, before, after string) *differ.Result {
	t.Helper()
	compile := func(src string) *program.Program {
		p, err := compiler.New(logr.Discard()).Compile(context.Background(), compiler.Request{
			Root:    lib,
			Sources: map[string][]byte{lib: []byte("library: " + lib + "\n" + src)},
		})
		require.NoError(t, err)
		return p
	}
	r, err := differ.Diff(context.Background(), compile(before), compile(after))
	require.NoError(t, err)
	return r
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
		oracle oracle
		want   string
	}{
		{
			name:   "enum to class",
			before: "classes:\n  - name: Fruit\n    enum: [Apple]\n",
			after:  "classes:\n  - name: Fruit\n",
			want:   "Enum class cannot be redefined to be a non-enum class: Library:'file:///test-lib' Class: Fruit",
		},
		{
			name:   "class to enum",
			before: "classes:\n  - name: Fruit\n",
			after:  "classes:\n  - name: Fruit\n    enum: [Apple]\n",
			want:   "Class cannot be redefined to be a enum class: Library:'file:///test-lib' Class: Fruit",
		},
		{
			name:   "const removes field",
			before: "classes:\n  - name: A\n    const: true\n    constructor: [x, y, z]\n    fields:\n      - {name: x, final: true}\n      - {name: y, final: true}\n      - {name: z, final: true}\n",
			after:  "classes:\n  - name: A\n    const: true\n    constructor: [x, y]\n    fields:\n      - {name: x, final: true}\n      - {name: y, final: true}\n",
			oracle: oracle{constants: map[string]bool{"A": true}},
			want:   "Const class cannot remove fields: Library:'file:///test-lib' Class: A",
		},
		{
			name:   "const rename is a removal",
			before: "classes:\n  - name: A\n    const: true\n    fields:\n      - {name: x, final: true}\n      - {name: z, final: true}\n",
			after:  "classes:\n  - name: A\n    const: true\n    fields:\n      - {name: x, final: true}\n      - {name: w, final: true}\n",
			oracle: oracle{constants: map[string]bool{"A": true}},
			want:   "Const class cannot remove fields: Library:'file:///test-lib' Class: A",
		},
		{
			name:   "const adds field",
			before: "classes:\n  - name: A\n    const: true\n    fields:\n      - {name: x, final: true}\n",
			after:  "classes:\n  - name: A\n    const: true\n    fields:\n      - {name: x, final: true}\n      - {name: y, final: true}\n",
			oracle: oracle{constants: map[string]bool{"A": true}},
		},
		{
			name:   "const removes field without constants",
			before: "classes:\n  - name: A\n    const: true\n    fields:\n      - {name: x, final: true}\n",
			after:  "classes:\n  - name: A\n    const: true\n",
		},
		{
			name:   "const to non-const",
			before: "classes:\n  - name: A\n    const: true\n    constructor: [x]\n    fields:\n      - {name: x, final: true}\n",
			after:  "classes:\n  - name: A\n    constructor: [x]\n    fields:\n      - {name: x}\n",
			oracle: oracle{constants: map[string]bool{"A": true}},
			want:   "Const class cannot become non-const: Library:'file:///test-lib' Class: A",
		},
		{
			name:   "empty const to non-const",
			before: "classes:\n  - name: A\n    const: true\n",
			after:  "classes:\n  - name: A\n    constructor: [x]\n    fields:\n      - {name: x}\n",
			oracle: oracle{constants: map[string]bool{"A": true}},
			want:   "Const class cannot become non-const: Library:'file:///test-lib' Class: A",
		},
		{
			name:   "type params with instances",
			before: "classes:\n  - name: Foo\n    type_params: [A, B]\n    fields:\n      - {name: a}\n      - {name: b}\n",
			after:  "classes:\n  - name: Foo\n    type_params: [A]\n    fields:\n      - {name: a}\n",
			oracle: oracle{instances: map[string]bool{"Foo": true}},
			want:   "Limitation: type parameters have changed for Library:'file:///test-lib' Class: Foo",
		},
		{
			name:   "type params without instances",
			before: "classes:\n  - name: Foo\n    type_params: [A, B]\n    fields:\n      - {name: a}\n      - {name: b}\n",
			after:  "classes:\n  - name: Foo\n    type_params: [A]\n    fields:\n      - {name: a}\n",
		},
		{
			name:   "type param renamed with instances",
			before: "classes:\n  - name: Box\n    type_params: [T]\n    fields:\n      - {name: v, type: T}\n",
			after:  "classes:\n  - name: Box\n    type_params: [U]\n    fields:\n      - {name: v, type: U}\n",
			oracle: oracle{instances: map[string]bool{"Box": true}},
		},
		{
			name: "forwarded type param renamed with instances",
			before: "classes:\n  - name: Bar\n    type_params: [B]\n" +
				"  - name: Foo\n    type_params: [T]\n    extends: Bar<T>\n",
			after: "classes:\n  - name: Bar\n    type_params: [B]\n" +
				"  - name: Foo\n    type_params: [U]\n    extends: Bar<U>\n",
			oracle: oracle{instances: map[string]bool{"Foo": true}},
		},
		{
			name: "type argument vector with instances",
			before: "classes:\n  - name: Foo\n    type_params: [A]\n    fields:\n      - {name: a}\n" +
				"  - name: Bar\n    type_params: [B, C]\n    extends: Foo<B>\n" +
				"  - name: Baz\n    extends: Foo<String>\n",
			after: "classes:\n  - name: Foo\n    type_params: [A]\n    fields:\n      - {name: a}\n" +
				"  - name: Bar\n    type_params: [B, C]\n    extends: Foo<B>\n" +
				"  - name: Baz\n    extends: Bar<String, double>\n",
			oracle: oracle{instances: map[string]bool{"Baz": true}},
			want:   "Limitation: type parameters have changed for Library:'file:///test-lib' Class: Baz",
		},
		{
			name:   "supertype argument only",
			before: "classes:\n  - name: Foo\n    type_params: [A]\n  - name: Baz\n    extends: Foo<String>\n",
			after:  "classes:\n  - name: Foo\n    type_params: [A]\n  - name: Baz\n    extends: Foo<int>\n",
			oracle: oracle{instances: map[string]bool{"Baz": true}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(diff(t, tt.before, tt.after), tt.oracle)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.True(t, errors.Is(err, diagnostics.ErrIllegalTransition))
		})
	}
}

func TestValidateReportsFirstClassInOrder(t *testing.T) {
	before := "classes:\n  - name: A\n    enum: [X]\n  - name: B\n    enum: [Y]\n"
	after := "classes:\n  - name: A\n  - name: B\n"
	err := Validate(diff(t, before, after), oracle{})
	require.Error(t, err)
	var d *diagnostics.Diagnostic
	require.ErrorAs(t, err, &d)
	assert.Equal(t, "A", d.Class)
	assert.Equal(t, lib, d.Library)
}

func TestBuildPlans(t *testing.T) {
	before := `
classes:
  - name: A
    fields:
      - {name: a, type: int}
      - {name: b}
      - {name: c, init: "42"}
  - name: B
    extends: A
    fields:
      - {name: d}
  - name: Untouched
    fields:
      - {name: u}
`
	after := `
classes:
  - name: A
    fields:
      - {name: c, init: "42"}
      - {name: a, type: double}
      - {name: e, init: "'new'"}
  - name: B
    extends: A
    fields:
      - {name: d}
  - name: Untouched
    fields:
      - {name: u}
`
	set, err := Build(diff(t, before, after))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	assert.Nil(t, set.Lookup(program.ClassKey{Library: lib, Name: "Untouched"}))

	a := set.Lookup(program.ClassKey{Library: lib, Name: "A"})
	require.NotNil(t, a)
	assert.Equal(t, []SlotPlan{
		{Name: "c", Action: Copy, From: 2},
		{Name: "a", Action: Copy, From: 0, CheckOnRead: true},
		{Name: "e", Action: LazyInit, From: -1},
	}, a.Slots)
	assert.Equal(t, []string{"b"}, a.Dropped)
	assert.Equal(t, []string{"a"}, a.Checked())
	assert.Equal(t, []string{"e"}, a.Added())
	assert.Equal(t, "file:///test-lib::A {c<-2, a<-0!, e:lazy; drop b}", a.String())

	b := set.Lookup(program.ClassKey{Library: lib, Name: "B"})
	require.NotNil(t, b)
	assert.Equal(t, []SlotPlan{
		{Name: "c", Action: Copy, From: 2},
		{Name: "a", Action: Copy, From: 0, CheckOnRead: true},
		{Name: "e", Action: LazyInit, From: -1},
		{Name: "d", Action: Copy, From: 3},
	}, b.Slots)
}

func TestNewPlanTreatsEmptyTypeAsDynamic(t *testing.T) {
	key := program.ClassKey{Library: lib, Name: "A"}
	p := NewPlan(key,
		[]program.ShapeField{{Name: "x"}},
		[]program.ShapeField{{Name: "x", Type: "dynamic"}})
	assert.Equal(t, []SlotPlan{{Name: "x", Action: Copy, From: 0}}, p.Slots)
	assert.Empty(t, p.Dropped)
}
