package dispatch

import (
	"encoding/json"
	"fmt"

	"module-host/ledger"
	"module-host/models"
	"module-host/state"
)

// Call is the handle a module executes against. It carries the caller's
// identity, the call-scoped state and ledger transactions, and the routing
// view the call was dispatched under.
type Call struct {
	// ID correlates log lines across nested invocations.
	ID string
	// Caller is the authenticated account that triggered the call; empty
	// for initializer runs.
	Caller string
	// State is the shared module state as this call sees it.
	State *state.Tx

	d       *Dispatcher
	ledger  *ledger.Tx
	resolve func(string) (string, bool)
}

// Invoke forwards to another bound identifier within the same call,
// sharing its transactions. Re-entering an identifier that is already in
// flight fails instead of recursing forever.
func (c *Call) Invoke(identifier string, payload json.RawMessage) (json.RawMessage, error) {
	moduleName, ok := c.resolve(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownIdentifier, identifier)
	}
	return c.invoke(identifier, moduleName, payload)
}

func (c *Call) invoke(identifier, moduleName string, payload json.RawMessage) (json.RawMessage, error) {
	if c.d.inFlight[identifier] {
		return nil, fmt.Errorf("%w: %q", models.ErrReentrantCall, identifier)
	}
	m, ok := c.d.modules[moduleName]
	if !ok {
		return nil, fmt.Errorf("%w: module %q has no code", models.ErrPrecondition, moduleName)
	}

	c.d.inFlight[identifier] = true
	defer delete(c.d.inFlight, identifier)
	return m.Invoke(c, identifier, payload)
}

// SequencePoint returns the host's current sequence point.
func (c *Call) SequencePoint() uint64 {
	return c.d.ledger.SequencePoint()
}

// CurrentWeight returns an account's voting weight including writes staged
// earlier in this call.
func (c *Call) CurrentWeight(account string) uint64 {
	return c.ledger.CurrentWeight(account)
}

// LedgerAppend sets an account's voting weight at the current sequence
// point.
func (c *Call) LedgerAppend(account string, weight uint64) error {
	return c.ledger.Append(account, weight)
}

// LedgerTransfer is the weight-change hook. Every balance-changing module
// operation reports its delta here; delegation redirection happens inside.
// The zero sentinel marks the mint source and the burn sink.
func (c *Call) LedgerTransfer(from, to string, amount uint64) error {
	return c.ledger.Transfer(from, to, amount)
}
