package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/program"
)

const mainLib = `
library: main
imports:
  - uri: util
functions:
  - name: main
    body:
      - let: p
        expr: Point(1, 2)
      - return: p.x + twice(p.y)
classes:
  - name: Point
    constructor: [x, y]
    fields:
      - name: x
        type: int
      - name: y
        type: int
    methods:
      - name: sum
        returns: x + y
`

const utilLib = `
library: util
functions:
  - name: twice
    params: [n]
    returns: n * 2
`

const otherLib = `
library: other
variables:
  - name: greeting
    type: String
    init: '"hello"'
`

func compile(t *testing.T, sources map[string]string, opts Options) (*program.Program, error) {
	t.Helper()
	src := map[string][]byte{}
	for uri, s := range sources {
		src[uri] = []byte(s)
	}
	return New(logr.Discard()).Compile(context.Background(), Request{Root: "main", Sources: src, Options: opts})
}

func baseSources() map[string]string {
	return map[string]string{"main": mainLib, "util": utilLib, "other": otherLib}
}

func TestCompileProgram(t *testing.T) {
	p, err := compile(t, baseSources(), Options{})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), p.Generation)
	assert.Equal(t, "main", p.Root)
	require.NotNil(t, p.Library("util"))

	point := p.Class(program.ClassKey{Library: "main", Name: "Point"})
	require.NotNil(t, point)
	assert.Equal(t, program.ObjectKey, point.Super)
	assert.Equal(t, []string{"x", "y"}, p.ShapeNames(point.Key()))

	main := p.Library("main").Function("main")
	require.NotNil(t, main)
	require.Len(t, main.Body, 2)
	assert.Equal(t, program.StepLet, main.Body[0].Op)
	assert.Equal(t, program.StepReturn, main.Body[1].Op)
	assert.Equal(t, 8, main.Body[0].Value.Line)
}

func TestCompileEnumAndHierarchy(t *testing.T) {
	src := map[string]string{"main": `
library: main
classes:
  - name: Fruit
    enum: [Apple, Banana]
  - name: Base
    type_params: [T]
    abstract: true
    fields:
      - name: value
    methods:
      - name: describe
        abstract: true
  - name: Derived
    extends: Base<int>
    constructor: [value]
    methods:
      - name: describe
        returns: str(value)
`}
	p, err := compile(t, src, Options{})
	require.NoError(t, err)

	fruit := p.Class(program.ClassKey{Library: "main", Name: "Fruit"})
	require.NotNil(t, fruit)
	assert.True(t, fruit.IsEnum)
	assert.Equal(t, "Enum", fruit.Super.Name)

	derived := p.Class(program.ClassKey{Library: "main", Name: "Derived"})
	require.NotNil(t, derived)
	assert.Equal(t, "Base", derived.Super.Name)
	assert.Equal(t, []string{"Base.T"}, p.TypeArgVector(derived.Key()))
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		main    string
		wantErr string
	}{
		{
			name: "undeclared identifier",
			main: `
library: main
functions:
  - name: main
    returns: nope + 1
`,
			wantErr: "undeclared reference to 'nope'",
		},
		{
			name: "reserved name",
			main: `
library: main
variables:
  - name: int
    init: "1"
`,
			wantErr: "'int' is a reserved word",
		},
		{
			name: "duplicate declaration",
			main: `
library: main
variables:
  - name: a
    init: "1"
functions:
  - name: a
    returns: "2"
`,
			wantErr: "'a' is already declared",
		},
		{
			name: "missing import",
			main: `
library: main
imports:
  - uri: missing
`,
			wantErr: "Error when reading 'missing'",
		},
		{
			name: "const without initializer",
			main: `
library: main
variables:
  - name: k
    const: true
`,
			wantErr: "const variable 'k' must be initialized",
		},
		{
			name: "unknown superclass",
			main: `
library: main
classes:
  - name: A
    extends: Nope
`,
			wantErr: "unknown class 'Nope'",
		},
		{
			name: "constructor formal is not a field",
			main: `
library: main
classes:
  - name: A
    constructor: [x]
`,
			wantErr: "constructor parameter 'x'",
		},
		{
			name: "extends enum",
			main: `
library: main
classes:
  - name: E
    enum: [One]
  - name: A
    extends: E
`,
			wantErr: "cannot extend enum 'E'",
		},
		{
			name: "step with two kinds",
			main: `
library: main
functions:
  - name: main
    body:
      - let: a
        do: b
        expr: "1"
`,
			wantErr: "exactly one of let",
		},
		{
			name: "abstract method in concrete class",
			main: `
library: main
classes:
  - name: A
    methods:
      - name: m
        abstract: true
`,
			wantErr: "declares abstract method 'm'",
		},
		{
			name: "library URI mismatch",
			main: `
library: elsewhere
`,
			wantErr: `library declares URI "elsewhere"`,
		},
		{
			name:    "malformed yaml",
			main:    "library: [main\n",
			wantErr: "main:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, map[string]string{"main": tt.main}, Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.Is(err, diagnostics.ErrCompile))
		})
	}
}

func TestCompileRequiresRoot(t *testing.T) {
	_, err := compile(t, map[string]string{"util": utilLib}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root library not found")
}

func TestIncrementalReusesUnmodifiedLibraries(t *testing.T) {
	base, err := compile(t, baseSources(), Options{})
	require.NoError(t, err)

	t.Run("hash comparison", func(t *testing.T) {
		next, err := compile(t, baseSources(), Options{Incremental: true, Baseline: base})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), next.Generation)
		assert.Same(t, base.Library("main"), next.Library("main"))
		assert.Same(t, base.Library("util"), next.Library("util"))
		assert.Same(t, base.Library("other"), next.Library("other"))
	})

	t.Run("oracle propagates to importers", func(t *testing.T) {
		modified := func(uri string, _ time.Time) bool { return uri == "util" }
		next, err := compile(t, baseSources(), Options{
			Incremental: true,
			Baseline:    base,
			Since:       base.CompiledAt,
			IsModified:  modified,
		})
		require.NoError(t, err)
		assert.NotSame(t, base.Library("util"), next.Library("util"))
		assert.NotSame(t, base.Library("main"), next.Library("main"))
		assert.Same(t, base.Library("other"), next.Library("other"))
	})

	t.Run("changed source", func(t *testing.T) {
		src := baseSources()
		src["other"] = otherLib + "\n# touched\n"
		next, err := compile(t, src, Options{Incremental: true, Baseline: base})
		require.NoError(t, err)
		assert.NotSame(t, base.Library("other"), next.Library("other"))
		assert.Same(t, base.Library("main"), next.Library("main"))
	})
}

func TestPropagate(t *testing.T) {
	dependents := map[string][]string{
		"a": {"b"},
		"b": {"c", "d"},
		"x": {"y"},
	}
	got := Propagate(dependents, map[string]bool{"a": true, "x": false})
	assert.Equal(t, map[string]bool{"b": true, "c": true, "d": true}, got)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("main.yaml", mainLib)
	write("util.yml", utilLib)
	write("hotreload.yaml", "root: main\nsources: .\n")
	write("notes.txt", "ignored")

	sources, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
	assert.Contains(t, sources, "main")
	assert.Contains(t, sources, "util")

	write("dup.yaml", utilLib)
	_, err = LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined twice")
}
