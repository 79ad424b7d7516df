package ledger

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"module-host/models"
)

// Tx stages checkpoint writes for one dispatched call. The weight-change
// hook funnels every balance delta through here; nothing touches the live
// histories until the dispatcher commits the whole call.
type Tx struct {
	l      *Ledger
	staged map[string][]models.Checkpoint
}

// Begin opens a call-scoped ledger transaction. The caller must hold the
// host execution lock for the transaction's lifetime.
func (l *Ledger) Begin() *Tx {
	return &Tx{l: l, staged: make(map[string][]models.Checkpoint)}
}

// history returns the account's checkpoint array as this call sees it.
func (t *Tx) history(account string) []models.Checkpoint {
	if hist, ok := t.staged[account]; ok {
		return hist
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	return copyHistory(t.l.histories[account])
}

// CurrentWeight returns the account's weight including staged writes.
func (t *Tx) CurrentWeight(account string) uint64 {
	return lastWeight(t.history(account))
}

// Append sets the account's weight at the current sequence point, either
// overwriting a same-point checkpoint or appending a new one.
func (t *Tx) Append(account string, weight uint64) error {
	if account == NoAccount {
		return fmt.Errorf("%w: checkpoint for the zero account", models.ErrPrecondition)
	}
	hist, err := writeCheckpoint(t.history(account), t.l.SequencePoint(), weight)
	if err != nil {
		return err
	}
	t.staged[account] = hist
	return nil
}

// Transfer is the weight-change hook: it moves amount of voting weight from
// the source's effective representative to the destination's. The zero
// sentinel skips a side (mint has no source, burn no destination).
func (t *Tx) Transfer(from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}

	src, dst := NoAccount, NoAccount
	if from != NoAccount {
		src = t.l.Representative(from)
	}
	if to != NoAccount {
		dst = t.l.Representative(to)
	}
	if src == dst {
		// Either both sides resolve to the same representative or both are
		// sentinels; no weight moves.
		return nil
	}

	point := t.l.SequencePoint()
	if src != NoAccount {
		hist, err := moveWeight(t.history(src), point, amount, false)
		if err != nil {
			return err
		}
		t.staged[src] = hist
	}
	if dst != NoAccount {
		hist, err := moveWeight(t.history(dst), point, amount, true)
		if err != nil {
			return err
		}
		t.staged[dst] = hist
	}
	return nil
}

// Stage queues each touched account's changed checkpoint into the batch.
// Within one call every write lands on the current sequence point, so per
// account only the final checkpoint differs from the committed state.
func (t *Tx) Stage(batch *leveldb.Batch) error {
	for account, hist := range t.staged {
		if len(hist) == 0 {
			continue
		}
		if err := t.l.repo.StageCheckpoint(account, hist[len(hist)-1], batch); err != nil {
			return err
		}
	}
	return nil
}

// Apply publishes the staged histories. Only call after the batch was
// written.
func (t *Tx) Apply() {
	if len(t.staged) == 0 {
		return
	}
	t.l.mu.Lock()
	for account, hist := range t.staged {
		t.l.histories[account] = hist
	}
	t.l.mu.Unlock()
	t.l.metrics.CheckpointsWritten.Add(float64(len(t.staged)))
	t.staged = make(map[string][]models.Checkpoint)
}
