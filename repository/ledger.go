package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"

	"module-host/db"
	"module-host/models"
)

const (
	checkpointPrefix = "ledger/"
	delegationPrefix = "delegation/"
	sequenceKey      = "meta/sequence"
)

// It abstracts ledger persistence from the checkpoint logic. Checkpoints are
// keyed per (account, point) with a zero-padded point so a prefix scan
// yields them in ascending order; an overwrite at the same point reuses the
// same key, which is how the collapsing rule survives restarts.
type LedgerRepositoryInterface interface {
	LoadHistories() (map[string][]models.Checkpoint, error)
	LoadDelegations() (map[string]string, error)
	LoadSequencePoint() (uint64, error)
	StageCheckpoint(account string, cp models.Checkpoint, batch *leveldb.Batch) error
	StageDelegation(d *models.Delegation, batch *leveldb.Batch) error
	StageDelegationDelete(account string, batch *leveldb.Batch)
	StageSequencePoint(point uint64, batch *leveldb.Batch)
	Commit(batch *leveldb.Batch) error
}

// LedgerRepository implements LedgerRepositoryInterface using LevelDB as the
// storage backend
type LedgerRepository struct {
	db *db.LevelDB
}

// NewLedgerRepository creates and returns a new LedgerRepository instance
func NewLedgerRepository(db *db.LevelDB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func checkpointKey(account string, point uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", checkpointPrefix, account, point))
}

// LoadHistories rebuilds every account's checkpoint array in point order
func (r *LedgerRepository) LoadHistories() (map[string][]models.Checkpoint, error) {
	iter := r.db.NewPrefixIterator([]byte(checkpointPrefix))
	defer iter.Release()

	histories := make(map[string][]models.Checkpoint)
	for iter.Next() {
		key := string(iter.Key())
		rest := strings.TrimPrefix(key, checkpointPrefix)
		slash := strings.LastIndexByte(rest, '/')
		if slash < 0 {
			return nil, fmt.Errorf("malformed checkpoint key %q", key)
		}
		account := rest[:slash]

		var cp models.Checkpoint
		if err := json.Unmarshal(iter.Value(), &cp); err != nil {
			return nil, err
		}
		histories[account] = append(histories[account], cp)
	}
	return histories, iter.Error()
}

// LoadDelegations retrieves every account -> representative mapping
func (r *LedgerRepository) LoadDelegations() (map[string]string, error) {
	iter := r.db.NewPrefixIterator([]byte(delegationPrefix))
	defer iter.Release()

	delegations := make(map[string]string)
	for iter.Next() {
		var d models.Delegation
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			return nil, err
		}
		delegations[d.Account] = d.Representative
	}
	return delegations, iter.Error()
}

// LoadSequencePoint retrieves the persisted sequence point, zero if unset
func (r *LedgerRepository) LoadSequencePoint() (uint64, error) {
	data, err := r.db.Get([]byte(sequenceKey))
	if err == db.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var point uint64
	if err := json.Unmarshal(data, &point); err != nil {
		return 0, err
	}
	return point, nil
}

// StageCheckpoint queues a checkpoint upsert into the batch
func (r *LedgerRepository) StageCheckpoint(account string, cp models.Checkpoint, batch *leveldb.Batch) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	batch.Put(checkpointKey(account, cp.Point), data)
	return nil
}

// StageDelegation queues a delegation upsert into the batch
func (r *LedgerRepository) StageDelegation(d *models.Delegation, batch *leveldb.Batch) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	batch.Put([]byte(delegationPrefix+d.Account), data)
	return nil
}

// StageDelegationDelete queues removal of a delegation mapping. Used when an
// account delegates back to itself, which is modeled as "no representative".
func (r *LedgerRepository) StageDelegationDelete(account string, batch *leveldb.Batch) {
	batch.Delete([]byte(delegationPrefix + account))
}

// StageSequencePoint queues the new sequence point into the batch
func (r *LedgerRepository) StageSequencePoint(point uint64, batch *leveldb.Batch) {
	data, _ := json.Marshal(point)
	batch.Put([]byte(sequenceKey), data)
}

// Commit writes the staged batch atomically
func (r *LedgerRepository) Commit(batch *leveldb.Batch) error {
	return r.db.Write(batch)
}
