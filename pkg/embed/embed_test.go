package hotreload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/hotreload/internal/config"
)

const appLib = `
library: app
variables:
  - name: greeting
    init: '"hello"'
functions:
  - name: greet
    params: [name]
    returns: greeting + ", " + name
  - name: pair
    params: [xs]
    returns: "[xs[0] + xs[1], xs[0] * xs[1]]"
  - name: shout
    params: [s]
    body:
      - do: print(s)
      - return: "null"
  - name: origin
    returns: Point(0, 0)
classes:
  - name: Point
    constructor: [x, y]
    fields:
      - name: x
        type: int
      - name: y
        type: int
`

func appSources(src string) map[string][]byte {
	return map[string][]byte{"app": []byte(src)}
}

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	ctx := context.Background()
	r, err := New(ctx, append([]Option{WithLogger(testr.New(t))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	require.NoError(t, r.Load(ctx, "app", appSources(appLib)))
	return r
}

func TestInvoke(t *testing.T) {
	r := newRuntime(t)

	v, err := r.Invoke("app", "greet", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "hello, Alice", v)

	// Go ints are widened on the way in.
	v, err = r.Invoke("app", "pair", []int{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(7), int64(12)}, v)

	pair, err := InvokeAs[[]int](r, "app", "pair", []int32{2, 5})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 10}, pair)

	_, err = r.Invoke("app", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchMethodError")
}

func TestInvokeObjects(t *testing.T) {
	r := newRuntime(t)
	v, err := r.Invoke("app", "origin")
	require.NoError(t, err)
	p, ok := v.(*Object)
	require.True(t, ok, "got %T", v)

	x, err := r.ReadField(p, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), x)

	s, err := r.Str(int64(3))
	require.NoError(t, err)
	assert.Equal(t, "3", s)
}

func TestStdout(t *testing.T) {
	var out bytes.Buffer
	r := newRuntime(t, WithStdout(&out))
	_, err := r.Invoke("app", "shout", "hey")
	require.NoError(t, err)
	assert.Equal(t, "hey\n", out.String())
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	r := newRuntime(t)

	res := r.Reload(ctx, appSources(strings.Replace(appLib, `greeting + ", " + name`, `greeting + ", dear " + name`, 1)))
	require.NoError(t, res.Err)
	require.True(t, res.Success)

	v, err := r.Invoke("app", "greet", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "hello, dear Bob", v)

	failed := r.Reload(ctx, appSources("classes: ["))
	require.False(t, failed.Success)
	require.NotNil(t, failed.Diagnostic())

	v, err = r.Invoke("app", "greet", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "hello, dear Bob", v)
}

func TestLibraries(t *testing.T) {
	r := newRuntime(t, WithDebuggableDefault(false))
	id, ok := r.LibraryID("app")
	require.True(t, ok)

	debuggable, err := r.IsLibraryDebuggable(id)
	require.NoError(t, err)
	assert.False(t, debuggable)

	require.NoError(t, r.SetLibraryDebuggable(id, true))
	libs := r.Libraries()
	require.Len(t, libs, 1)
	assert.Equal(t, "app", libs[0].URI)
	assert.True(t, libs[0].Debuggable)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()

	r := newRuntime(t)
	_, err := r.History(ctx, 10)
	require.ErrorIs(t, err, ErrNoJournal)

	registry := prometheus.NewRegistry()
	r = newRuntime(t, WithJournal(":memory:"), WithMetrics(registry))
	res := r.Reload(ctx, appSources(appLib))
	require.True(t, res.Success)

	entries, err := r.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.TxnID.String(), entries[0].ID)
	assert.True(t, entries[0].Success)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "app.yaml"), []byte(appLib), 0o644))
	cfg, err := config.ParseConfig([]byte("root: app\nsources: lib\nheap_limit: 100\n"), filepath.Join(dir, config.ConfigFileName))
	require.NoError(t, err)

	r, err := FromConfig(context.Background(), cfg, WithLogger(testr.New(t)))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 100, r.HeapStats().Limit)
	v, err := r.Invoke("app", "greet", "Carol")
	require.NoError(t, err)
	assert.Equal(t, "hello, Carol", v)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	r := newRuntime(t)
	data, err := r.Snapshot()
	require.NoError(t, err)

	fresh, err := New(ctx)
	require.NoError(t, err)
	defer fresh.Close()
	_, err = fresh.Snapshot()
	require.Error(t, err)

	require.NoError(t, fresh.LoadImage(ctx, data))
	v, err := fresh.Invoke("app", "greet", "Dan")
	require.NoError(t, err)
	assert.Equal(t, "hello, Dan", v)

	require.Error(t, fresh.LoadImage(ctx, []byte("nope")))
}

func TestMarshaller(t *testing.T) {
	m := NewMarshaller()
	type user struct {
		Name  string
		Score int
		note  string
	}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int", 42, int64(42)},
		{"uint", uint8(7), int64(7)},
		{"float32", float32(1.5), 1.5},
		{"string", "hi", "hi"},
		{"slice", []string{"a", "b"}, []any{"a", "b"}},
		{"array", [2]int{1, 2}, []any{int64(1), int64(2)}},
		{"map", map[string]int{"a": 1}, map[string]any{"a": int64(1)}},
		{"struct", user{Name: "Ann", Score: 3, note: "x"}, map[string]any{"Name": "Ann", "Score": int64(3)}},
		{"pointer", &user{Name: "Ann"}, map[string]any{"Name": "Ann", "Score": int64(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ToValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := m.ToValue(map[int]string{1: "a"})
	assert.Error(t, err)
	_, err = m.ToValue(func() {})
	assert.Error(t, err)

	back, err := m.FromValue(map[string]any{"a": int64(2)}, reflect.TypeOf((*map[string]float64)(nil)).Elem())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 2}, back)

	back, err = m.FromValue(nil, reflect.TypeOf((**int)(nil)).Elem())
	require.NoError(t, err)
	assert.Nil(t, back)

	_, err = m.FromValue("x", reflect.TypeOf((*int)(nil)).Elem())
	assert.Error(t, err)
}
