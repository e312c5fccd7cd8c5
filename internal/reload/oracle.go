package reload

import (
	"github.com/funvibe/hotreload/internal/program"
	"github.com/funvibe/hotreload/internal/vm"
)

// instanceOracle answers validation questions from the live heap. Canonical
// constants and materialised enum values count as instances.
type instanceOracle struct {
	vm *vm.VM
}

func (o instanceOracle) HasInstances(key program.ClassKey) bool {
	rc := o.vm.Identity().Class(key)
	if rc == nil {
		return false
	}
	return o.vm.Heap().CountInstances(rc.ID) > 0 || len(o.vm.Identity().Constants(rc.ID)) > 0
}

func (o instanceOracle) HasConstants(key program.ClassKey) bool {
	rc := o.vm.Identity().Class(key)
	return rc != nil && len(o.vm.Identity().Constants(rc.ID)) > 0
}
