package vm

import (
	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/identity"
	"github.com/funvibe/hotreload/internal/program"
)

// isType checks v against a declared type. Null passes every check and
// names that denote no class or typedef (type parameters) accept anything.
// Type arguments are ignored.
func (t *Thread) isType(v any, typ string) bool {
	return t.isTypeDepth(v, typ, 0)
}

func (t *Thread) isTypeDepth(v any, typ string, depth int) bool {
	if v == nil {
		return true
	}
	name := program.BaseTypeName(typ)
	switch name {
	case "", config.DynamicTypeName, config.ObjectTypeName:
		return true
	case config.NumTypeName:
		switch v.(type) {
		case int64, int, float64:
			return true
		}
		return false
	case config.IntTypeName:
		switch v.(type) {
		case int64, int:
			return true
		}
		return false
	case config.DoubleTypeName:
		_, ok := v.(float64)
		return ok
	case config.StringTypeName:
		_, ok := v.(string)
		return ok
	case config.BoolTypeName:
		_, ok := v.(bool)
		return ok
	case config.ListTypeName:
		_, ok := v.([]any)
		return ok
	case config.MapTypeName:
		_, ok := v.(map[string]any)
		return ok
	case config.FunctionTypeName:
		_, ok := v.(*heap.Closure)
		return ok
	case config.NullTypeName:
		return false
	case "Type":
		_, ok := v.(*identity.Type)
		return ok
	}

	p := t.vm.Program()
	if obj, ok := v.(*heap.Object); ok {
		cls := obj.Class()
		for _, c := range cls.Program().Linearization(cls.Key) {
			if c.Name == name {
				return true
			}
		}
	}
	if p == nil {
		return true
	}
	for _, l := range p.Libraries() {
		if l.Class(name) != nil {
			return false
		}
	}
	if depth > 8 {
		return true
	}
	for _, l := range p.Libraries() {
		if td := l.Typedef(name); td != nil {
			if td.IsFunctionType() {
				_, ok := v.(*heap.Closure)
				return ok
			}
			return t.isTypeDepth(v, td.Type, depth+1)
		}
	}
	return true
}
