package vm

import (
	"github.com/funvibe/hotreload/internal/config"
	"github.com/funvibe/hotreload/internal/diagnostics"
	"github.com/funvibe/hotreload/internal/heap"
	"github.com/funvibe/hotreload/internal/identity"
	"github.com/funvibe/hotreload/internal/program"
)

// enumValue returns the canonical value of an enum member, materialising
// it on first use.
func (t *Thread) enumValue(c *program.Class, member string) (*heap.Object, error) {
	rc := t.vm.identity.Class(c.Key())
	if rc == nil {
		return nil, diagnostics.Undefinedf("enum '%s' is not loaded", c.Name)
	}
	return t.vm.identity.EnumValue(rc.ID, member, func() (*heap.Object, error) {
		o, err := t.vm.heap.Allocate(rc)
		if err != nil {
			return nil, err
		}
		o.SetField(config.IndexFieldName, int64(c.EnumIndex(member)))
		o.SetField(config.NameFieldName, member)
		return o, nil
	})
}

// enumValues returns the values of an enum in declaration order.
func (t *Thread) enumValues(c *program.Class) ([]any, error) {
	out := make([]any, 0, len(c.EnumMembers))
	for _, m := range c.EnumMembers {
		v, err := t.enumValue(c, m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// enumString renders "Enum.member", or the stored name of a value whose
// member was deleted.
func enumString(o *heap.Object) (string, error) {
	idx, _ := o.Field(config.IndexFieldName)
	name, _ := o.Field(config.NameFieldName)
	s, _ := name.Value.(string)
	if i, ok := idx.Value.(int64); ok && i < 0 {
		return s, nil
	}
	return o.Class().Name() + "." + s, nil
}

// FixupEnums re-indexes the materialised values of an enum after its
// members changed. Values of deleted members are retired through txn and
// keep a name that says where they came from.
func (vm *VM) FixupEnums(cls *heap.Class, decl *program.Class, txn *identity.Txn) int {
	deleted := 0
	for member, o := range vm.identity.EnumValues(cls.ID) {
		if i := decl.EnumIndex(member); i >= 0 {
			o.SetField(config.IndexFieldName, int64(i))
			continue
		}
		txn.DeleteEnumMember(cls.ID, member)
		o.SetField(config.IndexFieldName, int64(-1))
		o.SetField(config.NameFieldName, config.DeletedEnumName+decl.Name)
		deleted++
	}
	if deleted > 0 {
		vm.log.V(1).Info("enum members deleted", "enum", decl.Name, "values", deleted)
	}
	return deleted
}
