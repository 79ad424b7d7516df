package registry

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"module-host/models"
	"module-host/repository"
)

// staging applies a batch against a deep copy of the routing tables and
// tracks which records changed. The live tables are only swapped out after
// the whole batch, initializer included, has committed to disk.
type staging struct {
	t               *tables
	touchedBindings map[string]bool
	touchedModules  map[string]bool
}

func (s *Service) beginStaging() *staging {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &tables{
		bindings:   make(map[string]*models.Binding, len(s.t.bindings)),
		modules:    make(map[string]*models.ModuleEntry, len(s.t.modules)),
		moduleList: make([]string, len(s.t.moduleList)),
		modulePos:  make(map[string]int, len(s.t.modulePos)),
	}
	for id, b := range s.t.bindings {
		c := *b
		clone.bindings[id] = &c
	}
	for name, entry := range s.t.modules {
		ids := make([]string, len(entry.Identifiers))
		copy(ids, entry.Identifiers)
		clone.modules[name] = &models.ModuleEntry{Module: name, Identifiers: ids}
	}
	copy(clone.moduleList, s.t.moduleList)
	for name, pos := range s.t.modulePos {
		clone.modulePos[name] = pos
	}

	return &staging{
		t:               clone,
		touchedBindings: make(map[string]bool),
		touchedModules:  make(map[string]bool),
	}
}

// add binds fresh identifiers to a module.
func (st *staging) add(module string, identifiers []string) error {
	for _, id := range identifiers {
		if existing, ok := st.t.bindings[id]; ok {
			return fmt.Errorf("%w: identifier %q already bound to %q", models.ErrConflict, id, existing.Module)
		}
		st.bind(module, id)
	}
	return nil
}

// replace rebinds identifiers that are currently bound to other modules.
func (st *staging) replace(module string, identifiers []string) error {
	for _, id := range identifiers {
		existing, ok := st.t.bindings[id]
		if !ok {
			return fmt.Errorf("%w: identifier %q is not bound", models.ErrConflict, id)
		}
		if existing.Module == module {
			return fmt.Errorf("%w: identifier %q already bound to %q", models.ErrConflict, id, module)
		}
		st.unbind(existing)
		st.bind(module, id)
	}
	return nil
}

// remove deletes existing bindings.
func (st *staging) remove(identifiers []string) error {
	for _, id := range identifiers {
		existing, ok := st.t.bindings[id]
		if !ok {
			return fmt.Errorf("%w: identifier %q is not bound", models.ErrConflict, id)
		}
		st.unbind(existing)
		delete(st.t.bindings, id)
		st.touchedBindings[id] = true
	}
	return nil
}

// bind appends the identifier to the module's owned list, creating the
// module entry on its first binding.
func (st *staging) bind(module, identifier string) {
	entry, ok := st.t.modules[module]
	if !ok {
		entry = &models.ModuleEntry{Module: module}
		st.t.modules[module] = entry
		st.t.modulePos[module] = len(st.t.moduleList)
		st.t.moduleList = append(st.t.moduleList, module)
	}
	st.t.bindings[identifier] = &models.Binding{
		Identifier: identifier,
		Module:     module,
		Position:   len(entry.Identifiers),
	}
	entry.Identifiers = append(entry.Identifiers, identifier)
	st.touchedBindings[identifier] = true
	st.touchedModules[module] = true
}

// unbind swap-removes the binding from its module's owned list: the last
// identifier moves into the vacated slot and its recorded position follows,
// keeping every position equal to its true index. A module whose list
// empties leaves the module list the same way.
func (st *staging) unbind(b *models.Binding) {
	entry := st.t.modules[b.Module]
	last := len(entry.Identifiers) - 1
	if b.Position != last {
		moved := entry.Identifiers[last]
		entry.Identifiers[b.Position] = moved
		st.t.bindings[moved].Position = b.Position
		st.touchedBindings[moved] = true
	}
	entry.Identifiers = entry.Identifiers[:last]
	st.touchedModules[b.Module] = true

	if last == 0 {
		delete(st.t.modules, b.Module)
		st.dropFromModuleList(b.Module)
	}
}

// dropFromModuleList swap-removes a module from the dense module list.
func (st *staging) dropFromModuleList(module string) {
	pos := st.t.modulePos[module]
	last := len(st.t.moduleList) - 1
	if pos != last {
		moved := st.t.moduleList[last]
		st.t.moduleList[pos] = moved
		st.t.modulePos[moved] = pos
	}
	st.t.moduleList = st.t.moduleList[:last]
	delete(st.t.modulePos, module)
}

// stage turns the touched records into batch puts and deletes.
func (st *staging) stage(repo repository.RegistryRepositoryInterface, batch *leveldb.Batch) error {
	for id := range st.touchedBindings {
		if b, ok := st.t.bindings[id]; ok {
			if err := repo.StageBinding(b, batch); err != nil {
				return err
			}
		} else {
			repo.StageBindingDelete(id, batch)
		}
	}
	for name := range st.touchedModules {
		if entry, ok := st.t.modules[name]; ok {
			if err := repo.StageModule(entry, batch); err != nil {
				return err
			}
		} else {
			repo.StageModuleDelete(name, batch)
		}
	}
	return nil
}
