package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"module-host/logger"
	"module-host/models"
)

// CurrentWeight returns an account's latest voting weight
func (h *Handler) CurrentWeight(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"weight":  h.Ledger.CurrentWeight(account),
	})
}

// PriorWeight returns an account's weight as of a past sequence point
func (h *Handler) PriorWeight(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account := vars["account"]
	point, err := strconv.ParseUint(vars["point"], 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad sequence point %q", models.ErrPrecondition, vars["point"]))
		return
	}

	weight, err := h.Ledger.PriorWeight(account, point)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"point":   point,
		"weight":  weight,
	})
}

type delegateRequest struct {
	Representative string `json:"representative"`
}

// Delegate redirects the caller's voting weight to a representative. The
// caller must be the delegating account itself.
func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	account := mux.Vars(r)["account"]
	if caller != account {
		writeError(w, fmt.Errorf("%w: caller %q cannot delegate for %q", models.ErrAuthorization, caller, account))
		return
	}

	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode delegate request", zap.Error(err))
		writeBadPayload(w)
		return
	}

	// The balance is read inside the ledger's critical section.
	moved, err := h.Ledger.Delegate(account, req.Representative, func() uint64 {
		return h.Balances.Balance(account)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Delegation recorded",
		"account":        account,
		"representative": req.Representative,
		"moved":          moved,
	})
}

// Sequence returns the host's current sequence point
func (h *Handler) Sequence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"point": h.Ledger.SequencePoint(),
	})
}

type advanceRequest struct {
	Point uint64 `json:"point"`
}

// AdvanceSequence moves the sequence point forward, owner only
func (h *Handler) AdvanceSequence(w http.ResponseWriter, r *http.Request) {
	if !h.requireOwner(w, r) {
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode advance request", zap.Error(err))
		writeBadPayload(w)
		return
	}

	if err := h.Ledger.AdvanceSequence(req.Point); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Sequence point advanced",
		"point":   req.Point,
	})
}
