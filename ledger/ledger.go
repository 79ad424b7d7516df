// Package ledger maintains the per-account voting checkpoint history and the
// delegation table. Checkpoint arrays are append-only and ordered by
// sequence point, so historical weight queries are a binary search.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"module-host/logger"
	"module-host/metrics"
	"module-host/models"
	"module-host/repository"
)

// NoAccount is the zero sentinel: the mint source and burn sink in weight
// transfers, and an invalid delegation target.
const NoAccount = ""

// Ledger owns checkpoint histories, delegations and the host's sequence
// point. hostMu is the host-wide execution lock shared with the dispatcher
// and the registry mutator; every externally triggered mutation takes it
// first so calls apply one at a time.
type Ledger struct {
	hostMu *sync.Mutex
	mu     sync.RWMutex

	repo    repository.LedgerRepositoryInterface
	metrics *metrics.Metrics

	histories   map[string][]models.Checkpoint
	delegations map[string]string
	seq         uint64
}

// NewLedger loads persisted histories, delegations and the sequence point.
func NewLedger(repo repository.LedgerRepositoryInterface, hostMu *sync.Mutex, m *metrics.Metrics) (*Ledger, error) {
	histories, err := repo.LoadHistories()
	if err != nil {
		return nil, err
	}
	delegations, err := repo.LoadDelegations()
	if err != nil {
		return nil, err
	}
	seq, err := repo.LoadSequencePoint()
	if err != nil {
		return nil, err
	}
	return &Ledger{
		hostMu:      hostMu,
		repo:        repo,
		metrics:     m,
		histories:   histories,
		delegations: delegations,
		seq:         seq,
	}, nil
}

// SequencePoint returns the host's current sequence point.
func (l *Ledger) SequencePoint() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// AdvanceSequence moves the sequence point forward. Points never go back, so
// a non-increasing target is a caller error.
func (l *Ledger) AdvanceSequence(point uint64) error {
	l.hostMu.Lock()
	defer l.hostMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if point <= l.seq {
		return fmt.Errorf("%w: sequence point %d does not exceed current %d", models.ErrPrecondition, point, l.seq)
	}

	batch := new(leveldb.Batch)
	l.repo.StageSequencePoint(point, batch)
	if err := l.repo.Commit(batch); err != nil {
		return err
	}
	l.seq = point
	logger.Logger.Info("Sequence point advanced", zap.Uint64("point", point))
	return nil
}

// CurrentWeight returns the last checkpoint's weight, zero if none exist.
func (l *Ledger) CurrentWeight(account string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lastWeight(l.histories[account])
}

// PriorWeight returns the account's weight as of a past sequence point.
// Querying the current or a future point fails: that point is unresolved.
func (l *Ledger) PriorWeight(account string, point uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if point >= l.seq {
		return 0, fmt.Errorf("%w: point %d, current %d", models.ErrHistoricalQuery, point, l.seq)
	}

	hist := l.histories[account]
	n := len(hist)
	if n == 0 {
		return 0, nil
	}
	// Most queries target recent history.
	if hist[n-1].Point <= point {
		return hist[n-1].Weight, nil
	}
	if hist[0].Point > point {
		return 0, nil
	}
	// Greatest checkpoint with Point <= point.
	idx := sort.Search(n, func(i int) bool { return hist[i].Point > point })
	return hist[idx-1].Weight, nil
}

// Representative returns the account's effective representative: its
// delegate if one is set, else the account itself.
func (l *Ledger) Representative(account string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.effectiveRep(account)
}

// effectiveRep must be called with mu held.
func (l *Ledger) effectiveRep(account string) string {
	if rep, ok := l.delegations[account]; ok {
		return rep
	}
	return account
}

// Delegate redirects the delegator's voting weight to a new representative,
// moving the delegator's entire current balance from the old effective
// representative's checkpoint to the new one. balanceOf is called under the
// host execution lock, so the amount moved is the delegator's committed
// balance at delegation time; it must not call back into the ledger or the
// dispatcher. Returns the moved amount. Delegating back to self is recorded
// as "no representative".
func (l *Ledger) Delegate(delegator, representative string, balanceOf func() uint64) (uint64, error) {
	l.hostMu.Lock()
	defer l.hostMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if representative == NoAccount {
		return 0, fmt.Errorf("%w: cannot delegate to the zero account", models.ErrPrecondition)
	}
	oldRep := l.effectiveRep(delegator)
	if representative == oldRep {
		return 0, fmt.Errorf("%w: %q is already the representative of %q", models.ErrPrecondition, representative, delegator)
	}

	balance := balanceOf()

	batch := new(leveldb.Batch)
	var oldHist, newHist []models.Checkpoint
	if balance > 0 {
		var err error
		oldHist, err = moveWeight(copyHistory(l.histories[oldRep]), l.seq, balance, false)
		if err != nil {
			return 0, err
		}
		newHist, err = moveWeight(copyHistory(l.histories[representative]), l.seq, balance, true)
		if err != nil {
			return 0, err
		}
		if err := l.repo.StageCheckpoint(oldRep, oldHist[len(oldHist)-1], batch); err != nil {
			return 0, err
		}
		if err := l.repo.StageCheckpoint(representative, newHist[len(newHist)-1], batch); err != nil {
			return 0, err
		}
	}

	if representative == delegator {
		l.repo.StageDelegationDelete(delegator, batch)
	} else {
		d := &models.Delegation{Account: delegator, Representative: representative}
		if err := l.repo.StageDelegation(d, batch); err != nil {
			return 0, err
		}
	}

	if err := l.repo.Commit(batch); err != nil {
		return 0, err
	}

	if balance > 0 {
		l.histories[oldRep] = oldHist
		l.histories[representative] = newHist
		l.metrics.CheckpointsWritten.Add(2)
	}
	if representative == delegator {
		delete(l.delegations, delegator)
	} else {
		l.delegations[delegator] = representative
	}
	l.metrics.DelegationChanges.Inc()

	logger.Logger.Info("Delegation changed",
		zap.String("delegator", delegator),
		zap.String("old_representative", oldRep),
		zap.String("new_representative", representative),
		zap.Uint64("moved", balance))
	return balance, nil
}

// writeCheckpoint records a weight at a point: overwrite in place when the
// point equals the last checkpoint's, append when greater. A lesser point is
// a caller error, sequence points reflect block order.
func writeCheckpoint(hist []models.Checkpoint, point, weight uint64) ([]models.Checkpoint, error) {
	n := len(hist)
	if n > 0 {
		last := hist[n-1].Point
		if last > point {
			return nil, fmt.Errorf("%w: checkpoint point %d behind last %d", models.ErrPrecondition, point, last)
		}
		if last == point {
			hist[n-1].Weight = weight
			return hist, nil
		}
	}
	return append(hist, models.Checkpoint{Point: point, Weight: weight}), nil
}

// moveWeight adjusts a history's current weight by amount at the given
// point. Subtraction floors at zero rather than underflowing.
func moveWeight(hist []models.Checkpoint, point, amount uint64, add bool) ([]models.Checkpoint, error) {
	current := lastWeight(hist)
	var next uint64
	if add {
		next = current + amount
	} else if current > amount {
		next = current - amount
	}
	return writeCheckpoint(hist, point, next)
}

func lastWeight(hist []models.Checkpoint) uint64 {
	if len(hist) == 0 {
		return 0
	}
	return hist[len(hist)-1].Weight
}

func copyHistory(hist []models.Checkpoint) []models.Checkpoint {
	out := make([]models.Checkpoint, len(hist))
	copy(out, hist)
	return out
}
