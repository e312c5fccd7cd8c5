package expr

import (
	"testing"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/hotreload/internal/program"
)

type recorder struct {
	calls []string
}

func (r *recorder) CallGlobal(name string, args []ref.Val) ref.Val {
	r.calls = append(r.calls, "global:"+name)
	return types.Int(len(args))
}

func (r *recorder) CallMember(name string, recv ref.Val, args []ref.Val) ref.Val {
	r.calls = append(r.calls, "member:"+name)
	return types.String(name)
}

func TestEnvironmentDispatchesCalls(t *testing.T) {
	r := &recorder{}
	names := &program.Names{Idents: []string{"f", "x", "m"}, Qualified: []string{"C.s"}}
	env, err := NewEnvironment(names, WithDispatcher(r))
	require.NoError(t, err)

	tests := []struct {
		name  string
		src   string
		want  any
		calls []string
	}{
		{"global arity", "f(1, 2) + C.s(3)", int64(3), []string{"global:f", "global:C.s"}},
		{"member call", "x.m()", "m", []string{"member:m"}},
		{"qualified variable", "C.s + 1", int64(6), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.calls = nil
			e, err := Compile(env, &program.Expr{Source: tt.src})
			require.NoError(t, err)
			out, _, err := e.Program.Eval(map[string]any{"x": int64(1), "C.s": int64(5)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ToNative(out))
			assert.Equal(t, tt.calls, r.calls)
		})
	}
}

func TestCompileRejectsUndeclaredNames(t *testing.T) {
	env, err := NewEnvironment(&program.Names{Idents: []string{"f"}})
	require.NoError(t, err)

	_, err = Compile(env, &program.Expr{Source: "g()", Line: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 7")

	assert.NoError(t, Check(env, "f(1) + 2"))
	assert.Error(t, Check(env, "f(1"))
}

func TestToNative(t *testing.T) {
	a := &Adapter{}
	list := a.NativeToValue([]any{int64(1), "two", map[string]any{"k": 2.5}, nil})
	assert.Equal(t, []any{int64(1), "two", map[string]any{"k": 2.5}, nil}, ToNative(list))
	assert.Equal(t, true, ToNative(types.True))
	assert.Nil(t, ToNative(types.NullValue))
}

func TestReserved(t *testing.T) {
	for _, n := range []string{"size", "const", "map", "int", "charAt"} {
		assert.True(t, Reserved(n), n)
	}
	for _, n := range []string{"main", "value", "reload", "toString"} {
		assert.False(t, Reserved(n), n)
	}
}
