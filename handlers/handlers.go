package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"module-host/auth"
	"module-host/dispatch"
	"module-host/ledger"
	"module-host/models"
	"module-host/registry"
)

// BalanceSource reads an account's committed balance. The delegation
// endpoint needs it to know how much weight to move.
type BalanceSource interface {
	Balance(account string) uint64
}

// BalanceFunc adapts a plain function to BalanceSource.
type BalanceFunc func(account string) uint64

func (f BalanceFunc) Balance(account string) uint64 { return f(account) }

// Handler contains the HTTP handlers for the host API endpoints
type Handler struct {
	Registry   *registry.Service
	Dispatcher *dispatch.Dispatcher
	Ledger     *ledger.Ledger
	Auth       *auth.Authenticator
	Balances   BalanceSource
}

// NewHandler creates and returns a new Handler instance
func NewHandler(reg *registry.Service, d *dispatch.Dispatcher, l *ledger.Ledger, a *auth.Authenticator, balances BalanceSource) *Handler {
	return &Handler{Registry: reg, Dispatcher: d, Ledger: l, Auth: a, Balances: balances}
}

// Health reports liveness and the current sequence point
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"sequence_point": h.Ledger.SequencePoint(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the failure taxonomy to HTTP statuses in one place. The
// original reason travels in the body unmodified.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrUnknownIdentifier):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrReentrantCall):
		status = http.StatusConflict
	case errors.Is(err, models.ErrPrecondition), errors.Is(err, models.ErrHistoricalQuery):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeBadPayload(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
}

// requireAccount rejects unauthenticated requests.
func (h *Handler) requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return "", false
	}
	return account, true
}

// requireOwner rejects everyone but the configured host owner.
func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request) bool {
	account, ok := h.requireAccount(w, r)
	if !ok {
		return false
	}
	if !h.Auth.IsOwner(account) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "owner required"})
		return false
	}
	return true
}
