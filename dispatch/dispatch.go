// Package dispatch is the host's single entry point for module invocations.
// It resolves the incoming identifier through the registry, forwards the
// call to the bound module with the host's own state handle, and commits or
// discards everything the call touched as one unit.
package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"module-host/db"
	"module-host/ledger"
	"module-host/logger"
	"module-host/metrics"
	"module-host/models"
	"module-host/state"
)

// Module is an independently written unit of behavior. It owns no state of
// its own: everything it reads and writes goes through the Call handle,
// which is how many stateless modules cooperate on one shared data set.
type Module interface {
	Name() string
	// Init runs once as a registry batch's post-mutation initializer.
	Init(call *Call, payload json.RawMessage) error
	// Invoke handles one bound identifier.
	Invoke(call *Call, identifier string, payload json.RawMessage) (json.RawMessage, error)
}

// Resolver is the registry lookup the dispatcher routes through.
type Resolver interface {
	Resolve(identifier string) (string, bool)
}

// Dispatcher forwards invocations to modules. Its module table doubles as
// the code table the registry consults before binding.
type Dispatcher struct {
	hostMu   *sync.Mutex
	resolver Resolver
	modules  map[string]Module

	db      *db.LevelDB
	state   *state.Store
	ledger  *ledger.Ledger
	metrics *metrics.Metrics

	// Identifiers currently executing in this call chain. Guarded by hostMu.
	inFlight map[string]bool
}

// NewDispatcher wires the dispatcher to the host's storage. The resolver is
// attached afterwards because registry and dispatcher reference each other.
func NewDispatcher(ldb *db.LevelDB, st *state.Store, ldg *ledger.Ledger, hostMu *sync.Mutex, met *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		hostMu:   hostMu,
		modules:  make(map[string]Module),
		db:       ldb,
		state:    st,
		ledger:   ldg,
		metrics:  met,
		inFlight: make(map[string]bool),
	}
}

// SetResolver attaches the registry lookup. Must happen before serving.
func (d *Dispatcher) SetResolver(r Resolver) {
	d.resolver = r
}

// Register puts a module into the code table. Registration happens at boot,
// before any dispatching.
func (d *Dispatcher) Register(m Module) error {
	if _, exists := d.modules[m.Name()]; exists {
		return fmt.Errorf("%w: module %q registered twice", models.ErrConflict, m.Name())
	}
	d.modules[m.Name()] = m
	return nil
}

// HasCode reports whether a module name has executable code behind it.
func (d *Dispatcher) HasCode(module string) bool {
	_, ok := d.modules[module]
	return ok
}

// Dispatch executes one external invocation end to end. The module's output
// or error is forwarded to the caller unmodified; only a routing miss
// produces the dispatcher's own unknown-identifier error.
func (d *Dispatcher) Dispatch(caller, identifier string, payload json.RawMessage) (json.RawMessage, error) {
	d.hostMu.Lock()
	defer d.hostMu.Unlock()
	start := time.Now()

	moduleName, ok := d.resolver.Resolve(identifier)
	if !ok {
		d.metrics.Dispatches.WithLabelValues(identifier, "unknown").Inc()
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownIdentifier, identifier)
	}

	call := d.newCall(caller, nil)
	out, err := call.invoke(identifier, moduleName, payload)
	if err != nil {
		d.metrics.Dispatches.WithLabelValues(identifier, "error").Inc()
		logger.Logger.Warn("Dispatch failed",
			zap.String("call_id", call.ID),
			zap.String("identifier", identifier),
			zap.String("module", moduleName),
			zap.Error(err))
		return nil, err
	}

	batch := new(leveldb.Batch)
	call.State.Stage(batch)
	if err := call.ledger.Stage(batch); err != nil {
		d.metrics.Dispatches.WithLabelValues(identifier, "commit_error").Inc()
		return nil, err
	}
	if err := d.db.Write(batch); err != nil {
		d.metrics.Dispatches.WithLabelValues(identifier, "commit_error").Inc()
		logger.Logger.Error("Dispatch commit failed",
			zap.String("call_id", call.ID),
			zap.String("identifier", identifier),
			zap.Error(err))
		return nil, err
	}
	call.State.Apply()
	call.ledger.Apply()

	d.metrics.Dispatches.WithLabelValues(identifier, "ok").Inc()
	d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	logger.Logger.Info("Dispatched",
		zap.String("call_id", call.ID),
		zap.String("caller", caller),
		zap.String("identifier", identifier),
		zap.String("module", moduleName))
	return out, nil
}

// RunInitializer executes a module's initializer as part of a registry
// batch. resolve is the staged routing table; state and ledger writes go
// into the supplied batch and only land in memory when the returned apply
// func runs, after the registry has committed the batch. The caller holds
// the host execution lock.
func (d *Dispatcher) RunInitializer(target string, payload json.RawMessage, resolve func(string) (string, bool), batch *leveldb.Batch) (func(), error) {
	m, ok := d.modules[target]
	if !ok {
		return nil, fmt.Errorf("%w: initializer target %q has no code", models.ErrPrecondition, target)
	}

	call := d.newCall(models.NoModule, resolve)
	if err := m.Init(call, payload); err != nil {
		return nil, err
	}

	call.State.Stage(batch)
	if err := call.ledger.Stage(batch); err != nil {
		return nil, err
	}
	apply := func() {
		call.State.Apply()
		call.ledger.Apply()
		logger.Logger.Info("Initializer applied",
			zap.String("call_id", call.ID),
			zap.String("module", target))
	}
	return apply, nil
}

func (d *Dispatcher) newCall(caller string, resolve func(string) (string, bool)) *Call {
	if resolve == nil {
		resolve = d.resolver.Resolve
	}
	return &Call{
		ID:      uuid.NewString(),
		Caller:  caller,
		State:   d.state.Begin(),
		d:       d,
		ledger:  d.ledger.Begin(),
		resolve: resolve,
	}
}
