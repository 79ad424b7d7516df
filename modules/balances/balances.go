// Package balances is a thin token-balance module. It keeps one balance per
// account in the shared host state and reports every change through the
// weight-change hook so the checkpoint ledger stays in step. The arithmetic
// is deliberately minimal; this module exists as the registry's canonical
// code target and the hook's caller.
package balances

import (
	"encoding/json"
	"fmt"

	"module-host/dispatch"
	"module-host/models"
	"module-host/state"
)

// ModuleName is the name the registry binds identifiers to.
const ModuleName = "balances"

// Bound identifiers.
const (
	MintID      = "balances.mint"
	BurnID      = "balances.burn"
	TransferID  = "balances.transfer"
	BalanceOfID = "balances.balanceOf"
)

// Identifiers lists everything this module can handle, in binding order.
var Identifiers = []string{MintID, BurnID, TransferID, BalanceOfID}

const keyPrefix = "balances/"

// Module implements dispatch.Module.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) Name() string {
	return ModuleName
}

// InitPayload seeds balances when the module is wired in: each account is
// minted its starting amount.
type InitPayload struct {
	Balances map[string]uint64 `json:"balances"`
}

func (m *Module) Init(call *dispatch.Call, payload json.RawMessage) error {
	if len(payload) == 0 {
		return nil
	}
	var p InitPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPrecondition, err)
	}
	for account, amount := range p.Balances {
		if err := mint(call, account, amount); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) Invoke(call *dispatch.Call, identifier string, payload json.RawMessage) (json.RawMessage, error) {
	switch identifier {
	case MintID:
		return m.handleMint(call, payload)
	case BurnID:
		return m.handleBurn(call, payload)
	case TransferID:
		return m.handleTransfer(call, payload)
	case BalanceOfID:
		return m.handleBalanceOf(call, payload)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownIdentifier, identifier)
	}
}

type mintRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func (m *Module) handleMint(call *dispatch.Call, payload json.RawMessage) (json.RawMessage, error) {
	var req mintRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPrecondition, err)
	}
	if req.To == "" {
		return nil, fmt.Errorf("%w: mint needs a destination account", models.ErrPrecondition)
	}
	if err := mint(call, req.To, req.Amount); err != nil {
		return nil, err
	}
	return balanceReply(call, req.To)
}

type burnRequest struct {
	From   string `json:"from"`
	Amount uint64 `json:"amount"`
}

func (m *Module) handleBurn(call *dispatch.Call, payload json.RawMessage) (json.RawMessage, error) {
	var req burnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPrecondition, err)
	}
	if req.From == "" {
		req.From = call.Caller
	}
	if req.From != call.Caller {
		return nil, fmt.Errorf("%w: caller %q cannot burn from %q", models.ErrAuthorization, call.Caller, req.From)
	}
	current := balance(call.State, req.From)
	if current < req.Amount {
		return nil, fmt.Errorf("%w: balance %d below burn amount %d", models.ErrPrecondition, current, req.Amount)
	}
	setBalance(call.State, req.From, current-req.Amount)
	if err := call.LedgerTransfer(req.From, "", req.Amount); err != nil {
		return nil, err
	}
	return balanceReply(call, req.From)
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func (m *Module) handleTransfer(call *dispatch.Call, payload json.RawMessage) (json.RawMessage, error) {
	var req transferRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPrecondition, err)
	}
	if req.From == "" {
		req.From = call.Caller
	}
	if req.From != call.Caller {
		return nil, fmt.Errorf("%w: caller %q cannot transfer from %q", models.ErrAuthorization, call.Caller, req.From)
	}
	if req.To == "" {
		return nil, fmt.Errorf("%w: transfer needs a destination account", models.ErrPrecondition)
	}
	current := balance(call.State, req.From)
	if current < req.Amount {
		return nil, fmt.Errorf("%w: balance %d below transfer amount %d", models.ErrPrecondition, current, req.Amount)
	}
	setBalance(call.State, req.From, current-req.Amount)
	setBalance(call.State, req.To, balance(call.State, req.To)+req.Amount)
	if err := call.LedgerTransfer(req.From, req.To, req.Amount); err != nil {
		return nil, err
	}
	return balanceReply(call, req.From)
}

type balanceOfRequest struct {
	Account string `json:"account"`
}

func (m *Module) handleBalanceOf(call *dispatch.Call, payload json.RawMessage) (json.RawMessage, error) {
	var req balanceOfRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPrecondition, err)
	}
	if req.Account == "" {
		req.Account = call.Caller
	}
	return balanceReply(call, req.Account)
}

func mint(call *dispatch.Call, to string, amount uint64) error {
	setBalance(call.State, to, balance(call.State, to)+amount)
	return call.LedgerTransfer("", to, amount)
}

func balanceReply(call *dispatch.Call, account string) (json.RawMessage, error) {
	return json.Marshal(map[string]interface{}{
		"account": account,
		"balance": balance(call.State, account),
	})
}

// stateReader is satisfied by both the call-scoped transaction and the
// committed store.
type stateReader interface {
	Get(key string) ([]byte, bool)
}

func balance(st stateReader, account string) uint64 {
	data, ok := st.Get(keyPrefix + account)
	if !ok {
		return 0
	}
	var amount uint64
	if err := json.Unmarshal(data, &amount); err != nil {
		return 0
	}
	return amount
}

func setBalance(tx *state.Tx, account string, amount uint64) {
	data, _ := json.Marshal(amount)
	tx.Put(keyPrefix+account, data)
}

// Balance reads an account's committed balance straight from the store. The
// delegation endpoint uses it to size the weight move.
func Balance(st *state.Store, account string) uint64 {
	return balance(st, account)
}
