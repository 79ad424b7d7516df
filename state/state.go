// Package state holds the shared module state: one key-value data set that
// every dispatched module reads and writes through the host. Keys live under
// a single LevelDB namespace; the in-memory snapshot is the authoritative
// view between restarts.
package state

import (
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"module-host/db"
)

const statePrefix = "state/"

// Store is the host-owned shared state. Modules never touch it directly;
// they get a Tx scoped to their call and the dispatcher commits or discards
// it as a whole.
type Store struct {
	mu   sync.RWMutex
	db   *db.LevelDB
	data map[string][]byte
}

// NewStore loads the persisted state namespace into memory.
func NewStore(ldb *db.LevelDB) (*Store, error) {
	s := &Store{db: ldb, data: make(map[string][]byte)}

	iter := ldb.NewPrefixIterator([]byte(statePrefix))
	defer iter.Release()
	for iter.Next() {
		key := string(iter.Key())[len(statePrefix):]
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		s.data[key] = value
	}
	return s, iter.Error()
}

// Get returns the committed value for a key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok
}

// Begin opens an overlay transaction. Reads fall through to the committed
// snapshot; writes stay in the overlay until Stage/Apply.
func (s *Store) Begin() *Tx {
	return &Tx{store: s, writes: make(map[string][]byte)}
}

// Tx is a call-scoped overlay over the shared state. A nil overlay value
// records a delete.
type Tx struct {
	store  *Store
	writes map[string][]byte
}

// Get returns the value as this call sees it.
func (t *Tx) Get(key string) ([]byte, bool) {
	if value, ok := t.writes[key]; ok {
		return value, value != nil
	}
	return t.store.Get(key)
}

// Put records a write in the overlay.
func (t *Tx) Put(key string, value []byte) {
	buf := make([]byte, len(value))
	copy(buf, value)
	t.writes[key] = buf
}

// Delete records a removal in the overlay.
func (t *Tx) Delete(key string) {
	t.writes[key] = nil
}

// Dirty reports whether the overlay holds any writes.
func (t *Tx) Dirty() bool {
	return len(t.writes) > 0
}

// Stage queues the overlay's writes into a LevelDB batch under the state
// namespace. The caller commits the batch and then calls Apply, or drops
// both on failure.
func (t *Tx) Stage(batch *leveldb.Batch) {
	for key, value := range t.writes {
		if value == nil {
			batch.Delete([]byte(statePrefix + key))
		} else {
			batch.Put([]byte(statePrefix+key), value)
		}
	}
}

// Apply merges the overlay into the committed snapshot. Only call after the
// staged batch was written.
func (t *Tx) Apply() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for key, value := range t.writes {
		if value == nil {
			delete(t.store.data, key)
		} else {
			t.store.data[key] = value
		}
	}
	t.writes = make(map[string][]byte)
}
