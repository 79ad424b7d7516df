package models

import "encoding/json"

// Action selects what a registry batch operation does with its identifiers.
type Action string

const (
	ActionAdd     Action = "add"
	ActionReplace Action = "replace"
	ActionRemove  Action = "remove"
)

// NoModule is the explicit "no module" sentinel. Remove operations must name
// it, and a delegation/transfer endpoint uses the same empty value for the
// mint-source and burn-sink accounts.
const NoModule = ""

// Binding maps one identifier to the module that handles it. Position is the
// identifier's index inside the module's owned list, kept in sync by the
// swap-remove procedure so removal stays O(1).
type Binding struct {
	Identifier string `json:"identifier"`
	Module     string `json:"module"`
	Position   int    `json:"position"`
}

// ModuleEntry is a module's ordered list of owned identifiers. A module has
// an entry iff it owns at least one identifier.
type ModuleEntry struct {
	Module      string   `json:"module"`
	Identifiers []string `json:"identifiers"`
}

// RegistryOp is one step of a registry mutation batch.
type RegistryOp struct {
	Module      string   `json:"module"`
	Action      Action   `json:"action"`
	Identifiers []string `json:"identifiers"`
}

// MutateRequest is the owner-facing batch: operations applied in order, all
// or nothing, optionally followed by a one-shot initializer invocation on
// InitTarget with InitPayload.
type MutateRequest struct {
	Operations  []RegistryOp    `json:"operations"`
	InitTarget  string          `json:"init_target,omitempty"`
	InitPayload json.RawMessage `json:"init_payload,omitempty"`
}
