package repository

import (
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb"

	"module-host/db"
	"module-host/models"
)

// Key namespaces. Each subsystem persists under its own fixed prefix so
// independently written records never alias each other.
const (
	bindingPrefix = "registry/"
	modulePrefix  = "module/"
)

// It abstracts the storage layer from the registry logic. Mutations are
// staged into a leveldb batch and committed in one write, which is what
// makes a registry batch all-or-nothing on disk.
type RegistryRepositoryInterface interface {
	LoadBindings() ([]*models.Binding, error)
	LoadModules() ([]*models.ModuleEntry, error)
	StageBinding(b *models.Binding, batch *leveldb.Batch) error
	StageBindingDelete(identifier string, batch *leveldb.Batch)
	StageModule(m *models.ModuleEntry, batch *leveldb.Batch) error
	StageModuleDelete(module string, batch *leveldb.Batch)
	Commit(batch *leveldb.Batch) error
}

// RegistryRepository implements RegistryRepositoryInterface using LevelDB as
// the storage backend
type RegistryRepository struct {
	db *db.LevelDB
}

// NewRegistryRepository creates and returns a new RegistryRepository instance
func NewRegistryRepository(db *db.LevelDB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// LoadBindings retrieves every persisted binding
func (r *RegistryRepository) LoadBindings() ([]*models.Binding, error) {
	iter := r.db.NewPrefixIterator([]byte(bindingPrefix))
	defer iter.Release()

	var bindings []*models.Binding
	for iter.Next() {
		var b models.Binding
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, err
		}
		bindings = append(bindings, &b)
	}
	return bindings, iter.Error()
}

// LoadModules retrieves every persisted module entry
func (r *RegistryRepository) LoadModules() ([]*models.ModuleEntry, error) {
	iter := r.db.NewPrefixIterator([]byte(modulePrefix))
	defer iter.Release()

	var modules []*models.ModuleEntry
	for iter.Next() {
		var m models.ModuleEntry
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, err
		}
		modules = append(modules, &m)
	}
	return modules, iter.Error()
}

// StageBinding queues a binding upsert into the batch
func (r *RegistryRepository) StageBinding(b *models.Binding, batch *leveldb.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	batch.Put([]byte(bindingPrefix+b.Identifier), data)
	return nil
}

// StageBindingDelete queues a binding removal into the batch
func (r *RegistryRepository) StageBindingDelete(identifier string, batch *leveldb.Batch) {
	batch.Delete([]byte(bindingPrefix + identifier))
}

// StageModule queues a module entry upsert into the batch
func (r *RegistryRepository) StageModule(m *models.ModuleEntry, batch *leveldb.Batch) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	batch.Put([]byte(modulePrefix+m.Module), data)
	return nil
}

// StageModuleDelete queues a module entry removal into the batch
func (r *RegistryRepository) StageModuleDelete(module string, batch *leveldb.Batch) {
	batch.Delete([]byte(modulePrefix + module))
}

// Commit writes the staged batch atomically
func (r *RegistryRepository) Commit(batch *leveldb.Batch) error {
	return r.db.Write(batch)
}
