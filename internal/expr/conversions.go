package expr

import (
	"fmt"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Native is implemented by CEL values that wrap a runtime value.
type Native interface {
	Native() any
}

// Adapter converts runtime values into CEL values. Wrap handles the
// runtime's own value kinds (objects, closures) and returns nil for anything
// else.
type Adapter struct {
	Wrap func(v any) ref.Val
}

func (a *Adapter) NativeToValue(v any) ref.Val {
	switch x := v.(type) {
	case ref.Val:
		return x
	case nil:
		return types.NullValue
	case []any:
		return types.NewDynamicList(a, x)
	case map[string]any:
		return types.NewStringInterfaceMap(a, x)
	}
	if a.Wrap != nil {
		if rv := a.Wrap(v); rv != nil {
			return rv
		}
	}
	return types.DefaultTypeAdapter.NativeToValue(v)
}

// ToNative converts a CEL value into the runtime representation: nil,
// bool, int64, float64, string, []any, map[string]any or whatever a Native
// value wraps.
func ToNative(v ref.Val) any {
	switch x := v.(type) {
	case nil:
		return nil
	case types.Null:
		return nil
	case types.Bool:
		return bool(x)
	case types.Int:
		return int64(x)
	case types.Uint:
		return int64(x)
	case types.Double:
		return float64(x)
	case types.String:
		return string(x)
	case types.Bytes:
		return string(x)
	case Native:
		return x.Native()
	case traits.Lister:
		var out []any
		it := x.Iterator()
		for it.HasNext() == types.True {
			out = append(out, ToNative(it.Next()))
		}
		if out == nil {
			// Own backing array so that distinct empty lists stay distinct.
			out = make([]any, 0, 1)
		}
		return out
	case traits.Mapper:
		out := map[string]any{}
		it := x.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := ToNative(k).(string)
			if !ok {
				key = fmt.Sprint(ToNative(k))
			}
			out[key] = ToNative(x.Get(k))
		}
		return out
	}
	return v.Value()
}

// IsError reports whether v is a CEL error value.
func IsError(v ref.Val) bool { return types.IsError(v) }
