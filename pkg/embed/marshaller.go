package hotreload

import (
	"fmt"
	"reflect"

	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/identity"
)

// Marshaller handles conversion between Go values and runtime values.
type Marshaller struct{}

func NewMarshaller() *Marshaller {
	return &Marshaller{}
}

// ToValue converts a Go value to a runtime value. Integers widen to int64,
// floats to float64, slices and arrays to lists and string-keyed maps to
// maps. Exported struct fields become a map.
func (m *Marshaller) ToValue(val any) (any, error) {
	if val == nil {
		return nil, nil
	}

	// Runtime values pass through untouched
	switch val.(type) {
	case *heap.Object, *heap.Closure, *identity.Type, int64, float64, string, bool, []any, map[string]any:
		return val, nil
	}

	v := reflect.ValueOf(val)
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, nil
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Slice, reflect.Array:
		return m.sliceToList(v)
	case reflect.Map:
		return m.mapToMap(v)
	case reflect.Struct:
		return m.structToMap(v)
	case reflect.Ptr:
		if v.IsNil() {
			return nil, nil
		}
		return m.ToValue(v.Elem().Interface())
	default:
		return nil, fmt.Errorf("unsupported type for conversion: %T", val)
	}
}

// FromValue converts a runtime value to a Go value.
// targetType is optional; if provided, tries to convert to that type.
func (m *Marshaller) FromValue(val any, targetType reflect.Type) (any, error) {
	if targetType == nil {
		return val, nil
	}
	if val == nil {
		return reflect.Zero(targetType).Interface(), nil
	}

	switch v := val.(type) {
	case []any:
		if targetType.Kind() == reflect.Slice {
			return m.listToSlice(v, targetType)
		}
	case map[string]any:
		if targetType.Kind() == reflect.Map {
			return m.mapToGoMap(v, targetType)
		}
	}

	rv := reflect.ValueOf(val)
	switch {
	case rv.Type().AssignableTo(targetType):
		return val, nil
	case isNumber(rv.Kind()) && isNumber(targetType.Kind()):
		return rv.Convert(targetType).Interface(), nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", rv.Type(), targetType)
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (m *Marshaller) sliceToList(v reflect.Value) ([]any, error) {
	elements := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		val, err := m.ToValue(v.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		elements[i] = val
	}
	return elements, nil
}

func (m *Marshaller) mapToMap(v reflect.Value) (map[string]any, error) {
	if v.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("map key: unsupported type %s", v.Type().Key())
	}
	result := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		val, err := m.ToValue(iter.Value().Interface())
		if err != nil {
			return nil, fmt.Errorf("map value: %w", err)
		}
		result[iter.Key().String()] = val
	}
	return result, nil
}

func (m *Marshaller) structToMap(v reflect.Value) (map[string]any, error) {
	fields := make(map[string]any)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" { // Skip unexported fields
			continue
		}
		val, err := m.ToValue(v.Field(i).Interface())
		if err != nil {
			return nil, err
		}
		fields[field.Name] = val
	}
	return fields, nil
}

func (m *Marshaller) listToSlice(l []any, targetType reflect.Type) (any, error) {
	elemType := targetType.Elem()
	slice := reflect.MakeSlice(targetType, 0, len(l))
	for _, el := range l {
		val, err := m.FromValue(el, elemType)
		if err != nil {
			return nil, err
		}
		slice = reflect.Append(slice, valueOf(val, elemType))
	}
	return slice.Interface(), nil
}

func (m *Marshaller) mapToGoMap(in map[string]any, targetType reflect.Type) (any, error) {
	if targetType.Key().Kind() != reflect.String {
		return nil, fmt.Errorf("map key: cannot convert String to %s", targetType.Key())
	}
	result := reflect.MakeMapWithSize(targetType, len(in))
	valType := targetType.Elem()
	for k, item := range in {
		val, err := m.FromValue(item, valType)
		if err != nil {
			return nil, fmt.Errorf("map value: %w", err)
		}
		result.SetMapIndex(reflect.ValueOf(k).Convert(targetType.Key()), valueOf(val, valType))
	}
	return result.Interface(), nil
}

// valueOf handles nil for pointer and interface element types.
func valueOf(val any, typ reflect.Type) reflect.Value {
	if val == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(val)
}
