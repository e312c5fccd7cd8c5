package vm

import (
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/identity"
	"github.com/funvibe/hotreload/internal/program"
)

var (
	objectType  = types.NewOpaqueType("hotreload.Object")
	closureType = types.NewOpaqueType("hotreload.Closure")
	classType   = types.NewOpaqueType("hotreload.Type")
)

// toVal converts a runtime value for an expression.
func (t *Thread) toVal(v any) ref.Val { return t.adapter.NativeToValue(v) }

// wrap converts the runtime's own value kinds; it returns nil for the
// primitives the default adapter handles.
func (t *Thread) wrap(v any) ref.Val {
	switch x := v.(type) {
	case *heap.Object:
		return &objectVal{t: t, o: x}
	case *heap.Closure:
		return &closureVal{t: t, c: x}
	case *identity.Type:
		return &typeVal{t: t, ty: x}
	case int:
		return types.Int(x)
	}
	return nil
}

// objectVal exposes a heap object to CEL. Selecting a member reads it
// through the thread that evaluates the expression.
type objectVal struct {
	t *Thread
	o *heap.Object
}

func (v *objectVal) ConvertToType(typ ref.Type) ref.Val {
	switch typ {
	case types.TypeType:
		return objectType
	case types.StringType:
		s, err := v.t.str(v.o)
		if err != nil {
			return v.t.raise(err)
		}
		return types.String(s)
	}
	return types.NewErr("type conversion error from '%s' to '%s'", objectType, typ)
}

func (v *objectVal) ConvertToNative(typeDesc reflect.Type) (any, error) {
	if reflect.TypeOf(v.o).AssignableTo(typeDesc) {
		return v.o, nil
	}
	return nil, fmt.Errorf("type conversion error from '%s' to '%v'", objectType, typeDesc)
}

func (v *objectVal) Equal(other ref.Val) ref.Val {
	o, ok := other.(*objectVal)
	return types.Bool(ok && o.o == v.o)
}

func (v *objectVal) Type() ref.Type { return objectType }

func (v *objectVal) Value() any { return v.o }

func (v *objectVal) Native() any { return v.o }

func (v *objectVal) Get(index ref.Val) ref.Val {
	name, ok := index.(types.String)
	if !ok {
		return types.NewErr("no such key: %v", index)
	}
	r, err := v.t.getValue(v.t.stack.Top(), v.o, string(name))
	if err != nil {
		return v.t.raise(err)
	}
	return v.t.toVal(r)
}

// closureVal exposes a method reference. Two references to the same
// method of the same receiver are equal even when torn off separately.
type closureVal struct {
	t *Thread
	c *heap.Closure
}

func (v *closureVal) ConvertToType(typ ref.Type) ref.Val {
	switch typ {
	case types.TypeType:
		return closureType
	case types.StringType:
		return types.String(v.c.String())
	}
	return types.NewErr("type conversion error from '%s' to '%s'", closureType, typ)
}

func (v *closureVal) ConvertToNative(typeDesc reflect.Type) (any, error) {
	if reflect.TypeOf(v.c).AssignableTo(typeDesc) {
		return v.c, nil
	}
	return nil, fmt.Errorf("type conversion error from '%s' to '%v'", closureType, typeDesc)
}

func (v *closureVal) Equal(other ref.Val) ref.Val {
	o, ok := other.(*closureVal)
	return types.Bool(ok && sameClosure(v.c, o.c))
}

func (v *closureVal) Type() ref.Type { return closureType }

func (v *closureVal) Value() any { return v.c }

func (v *closureVal) Native() any { return v.c }

func (v *closureVal) Get(index ref.Val) ref.Val {
	name, ok := index.(types.String)
	if !ok {
		return types.NewErr("no such key: %v", index)
	}
	r, err := v.t.getValue(v.t.stack.Top(), v.c, string(name))
	if err != nil {
		return v.t.raise(err)
	}
	return v.t.toVal(r)
}

func sameClosure(a, b *heap.Closure) bool {
	if a == b {
		return true
	}
	return a.Receiver != nil && a.Receiver == b.Receiver && a.Name == b.Name && a.Class == b.Class
}

func closureHash(c *heap.Closure) uint32 {
	if c.Receiver == nil {
		return c.Hash()
	}
	h := fnv.New32a()
	h.Write([]byte(c.Class.String()))
	h.Write([]byte{0})
	h.Write([]byte(c.Name))
	return h.Sum32() ^ c.Receiver.Hash()
}

// typeVal is a class literal. Its members are the class's statics.
type typeVal struct {
	t  *Thread
	ty *identity.Type
}

func (v *typeVal) ConvertToType(typ ref.Type) ref.Val {
	switch typ {
	case types.TypeType:
		return classType
	case types.StringType:
		return types.String(v.ty.String())
	}
	return types.NewErr("type conversion error from '%s' to '%s'", classType, typ)
}

func (v *typeVal) ConvertToNative(typeDesc reflect.Type) (any, error) {
	if reflect.TypeOf(v.ty).AssignableTo(typeDesc) {
		return v.ty, nil
	}
	return nil, fmt.Errorf("type conversion error from '%s' to '%v'", classType, typeDesc)
}

func (v *typeVal) Equal(other ref.Val) ref.Val {
	o, ok := other.(*typeVal)
	return types.Bool(ok && o.ty == v.ty)
}

func (v *typeVal) Type() ref.Type { return classType }

func (v *typeVal) Value() any { return v.ty }

func (v *typeVal) Native() any { return v.ty }

func (v *typeVal) Get(index ref.Val) ref.Val {
	name, ok := index.(types.String)
	if !ok {
		return types.NewErr("no such key: %v", index)
	}
	decl := v.t.vm.Program().Class(v.ty.Key)
	if decl == nil {
		return v.t.raise(noGetter(v.ty.Key.Name, string(name)))
	}
	r, err := v.t.classMember(v.t.stack.Top(), decl, string(name))
	if err != nil {
		return v.t.raise(err)
	}
	return v.t.toVal(r)
}

// identical is reference identity for heap values and value equality for
// primitives.
func identical(a, b any) bool {
	switch x := a.(type) {
	case *heap.Object:
		y, ok := b.(*heap.Object)
		return ok && x == y
	case *heap.Closure:
		y, ok := b.(*heap.Closure)
		return ok && sameClosure(x, y)
	case *identity.Type:
		y, ok := b.(*identity.Type)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		return ok && sameList(x, y)
	case map[string]any:
		y, ok := b.(map[string]any)
		return ok && reflect.ValueOf(x).Pointer() == reflect.ValueOf(y).Pointer()
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || math.IsNaN(x) && math.IsNaN(y))
	}
	return a == b
}

// sameList compares backing arrays. Every zero-capacity slice shares one
// base address, so such lists are never identical.
func sameList(x, y []any) bool {
	return len(x) == len(y) && cap(x) > 0 && cap(y) > 0 && unsafe.SliceData(x) == unsafe.SliceData(y)
}

// typeName is the runtime type of v as error messages spell it.
func typeName(v any) string {
	switch x := v.(type) {
	case nil:
		return config.NullTypeName
	case bool:
		return config.BoolTypeName
	case int64, int:
		return config.IntTypeName
	case float64:
		return config.DoubleTypeName
	case string:
		return config.StringTypeName
	case []any:
		return "List<dynamic>"
	case map[string]any:
		return "Map<String, dynamic>"
	case *heap.Object:
		return x.Class().Name()
	case *heap.Closure:
		return config.FunctionTypeName
	case *identity.Type:
		return "Type"
	}
	return fmt.Sprintf("%T", v)
}

// str is the toString of v. Objects dispatch to their toString method.
func (t *Thread) str(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return formatDouble(x), nil
	case string:
		return x, nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			s, err := t.str(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			s, err := t.str(x[k])
			if err != nil {
				return "", err
			}
			parts[i] = k + ": " + s
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	case *heap.Object:
		return t.objectString(x)
	case *heap.Closure:
		return x.String(), nil
	case *identity.Type:
		return x.String(), nil
	}
	return fmt.Sprint(v), nil
}

func (t *Thread) objectString(o *heap.Object) (string, error) {
	cls := o.Class()
	p := cls.Program()
	if m, owner := p.ResolveMethod(cls.Key, config.ToStringName, program.ClassKey{}); m != nil && !m.Abstract && len(m.Params) == 0 {
		r, err := t.call(m, owner.Library, owner.Key(), p, o, nil)
		if err != nil {
			return "", err
		}
		if s, ok := r.(string); ok {
			return s, nil
		}
		return t.str(r)
	}
	if decl := cls.Decl(); decl != nil && decl.IsEnum {
		return enumString(o)
	}
	return o.String(), nil
}

// formatDouble prints doubles the way the language does: integral values
// keep a ".0".
func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// cut splits a qualified name at its first dot.
func cut(name string) (head, tail string, ok bool) {
	return strings.Cut(name, ".")
}
