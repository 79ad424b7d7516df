// Package registry owns the routing table mapping invocation identifiers to
// the modules that handle them. All mutation goes through owner-gated
// batches that apply in order and commit all-or-nothing; lookups stay O(1)
// through the binding position bookkeeping.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"module-host/logger"
	"module-host/metrics"
	"module-host/models"
	"module-host/repository"
)

// CodeTable answers whether a module name has executable code behind it.
// The dispatcher's module table implements it; bindings must never point at
// a target that cannot run.
type CodeTable interface {
	HasCode(module string) bool
}

// InitRunner executes the optional post-mutation initializer against host
// storage. resolve sees the staged routing table, not the live one, so the
// initializer observes the batch it belongs to. The runner stages its state
// writes into batch and returns an apply func the mutator calls after the
// batch is committed.
type InitRunner interface {
	RunInitializer(target string, payload json.RawMessage, resolve func(identifier string) (string, bool), batch *leveldb.Batch) (func(), error)
}

// tables is the authoritative routing data: identifier -> binding, module ->
// owned identifier list, plus the dense list of modules with at least one
// binding (kept swap-removable through modulePos).
type tables struct {
	bindings   map[string]*models.Binding
	modules    map[string]*models.ModuleEntry
	moduleList []string
	modulePos  map[string]int
}

// Service implements the registry store and mutator over a repository.
type Service struct {
	hostMu *sync.Mutex
	mu     sync.RWMutex

	repo    repository.RegistryRepositoryInterface
	code    CodeTable
	init    InitRunner
	metrics *metrics.Metrics

	t *tables
}

// NewService loads the persisted routing table.
func NewService(repo repository.RegistryRepositoryInterface, code CodeTable, init InitRunner, hostMu *sync.Mutex, met *metrics.Metrics) (*Service, error) {
	bindings, err := repo.LoadBindings()
	if err != nil {
		return nil, err
	}
	modules, err := repo.LoadModules()
	if err != nil {
		return nil, err
	}

	t := &tables{
		bindings:  make(map[string]*models.Binding, len(bindings)),
		modules:   make(map[string]*models.ModuleEntry, len(modules)),
		modulePos: make(map[string]int, len(modules)),
	}
	for _, b := range bindings {
		t.bindings[b.Identifier] = b
	}
	for _, m := range modules {
		t.modules[m.Module] = m
		t.modulePos[m.Module] = len(t.moduleList)
		t.moduleList = append(t.moduleList, m.Module)
	}

	return &Service{hostMu: hostMu, repo: repo, code: code, init: init, metrics: met, t: t}, nil
}

// Resolve returns the module bound to an identifier.
func (s *Service) Resolve(identifier string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.t.bindings[identifier]
	if !ok {
		return models.NoModule, false
	}
	return b.Module, true
}

// ListModules returns the distinct modules that own at least one identifier.
func (s *Service) ListModules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.t.moduleList))
	copy(out, s.t.moduleList)
	return out
}

// ListIdentifiers returns the identifiers a module currently owns, in owned
// order. Unknown modules own nothing.
func (s *Service) ListIdentifiers(module string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.t.modules[module]
	if !ok {
		return nil
	}
	out := make([]string, len(entry.Identifiers))
	copy(out, entry.Identifiers)
	return out
}

// Mutate applies a batch of Add/Replace/Remove operations in order, then
// optionally runs the initializer. Any failure, including the initializer's,
// leaves the registry and host state exactly as before the call.
func (s *Service) Mutate(req models.MutateRequest) (string, error) {
	s.hostMu.Lock()
	defer s.hostMu.Unlock()

	if err := s.validate(req); err != nil {
		return "", err
	}

	st := s.beginStaging()
	for _, op := range req.Operations {
		var err error
		switch op.Action {
		case models.ActionAdd:
			err = st.add(op.Module, op.Identifiers)
		case models.ActionReplace:
			err = st.replace(op.Module, op.Identifiers)
		case models.ActionRemove:
			err = st.remove(op.Identifiers)
		}
		if err != nil {
			return "", err
		}
	}

	batch := new(leveldb.Batch)
	if err := st.stage(s.repo, batch); err != nil {
		return "", err
	}

	var applyInit func()
	if req.InitTarget != models.NoModule {
		resolve := func(identifier string) (string, bool) {
			b, ok := st.t.bindings[identifier]
			if !ok {
				return models.NoModule, false
			}
			return b.Module, true
		}
		var err error
		applyInit, err = s.init.RunInitializer(req.InitTarget, req.InitPayload, resolve, batch)
		if err != nil {
			// The initializer's own reason propagates unmodified.
			return "", err
		}
	}

	if err := s.repo.Commit(batch); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.t = st.t
	s.mu.Unlock()
	if applyInit != nil {
		applyInit()
	}

	batchID := uuid.NewString()
	for _, op := range req.Operations {
		s.metrics.RegistryMutations.WithLabelValues(string(op.Action)).Inc()
		logger.Logger.Info("Registry mutated",
			zap.String("batch_id", batchID),
			zap.String("action", string(op.Action)),
			zap.String("module", op.Module),
			zap.Strings("identifiers", op.Identifiers))
	}
	return batchID, nil
}

// validate collects the static precondition failures of a batch before
// anything is staged.
func (s *Service) validate(req models.MutateRequest) error {
	var errs error

	if len(req.Operations) == 0 && req.InitTarget == models.NoModule {
		errs = multierr.Append(errs, fmt.Errorf("%w: empty mutation", models.ErrPrecondition))
	}
	for i, op := range req.Operations {
		if len(op.Identifiers) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("%w: operation %d has no identifiers", models.ErrPrecondition, i))
		}
		switch op.Action {
		case models.ActionAdd, models.ActionReplace:
			if op.Module == models.NoModule {
				errs = multierr.Append(errs, fmt.Errorf("%w: operation %d targets the no-module sentinel", models.ErrPrecondition, i))
			} else if !s.code.HasCode(op.Module) {
				errs = multierr.Append(errs, fmt.Errorf("%w: module %q has no code", models.ErrPrecondition, op.Module))
			}
		case models.ActionRemove:
			if op.Module != models.NoModule {
				// Removal must be unmistakably intentional.
				errs = multierr.Append(errs, fmt.Errorf("%w: remove requires the no-module sentinel, got %q", models.ErrPrecondition, op.Module))
			}
		default:
			errs = multierr.Append(errs, fmt.Errorf("%w: unknown action %q", models.ErrPrecondition, op.Action))
		}
	}

	if req.InitPayload != nil && req.InitTarget == models.NoModule {
		errs = multierr.Append(errs, fmt.Errorf("%w: initializer payload without a target", models.ErrPrecondition))
	}
	if req.InitTarget != models.NoModule && !s.code.HasCode(req.InitTarget) {
		errs = multierr.Append(errs, fmt.Errorf("%w: initializer target %q has no code", models.ErrPrecondition, req.InitTarget))
	}
	return errs
}
