package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"module-host/logger"
	"module-host/models"
)

// MutateRegistry handles owner-gated registry batches
func (h *Handler) MutateRegistry(w http.ResponseWriter, r *http.Request) {
	if !h.requireOwner(w, r) {
		return
	}

	var req models.MutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode mutate request", zap.Error(err))
		writeBadPayload(w)
		return
	}

	batchID, err := h.Registry.Mutate(req)
	if err != nil {
		logger.Logger.Error("Registry mutation rejected", zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Registry mutated successfully",
		"batch_id": batchID,
	})
}

// ListModules returns every module owning at least one identifier
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modules": h.Registry.ListModules(),
	})
}

// ListIdentifiers returns a module's owned identifiers in owned order
func (h *Handler) ListIdentifiers(w http.ResponseWriter, r *http.Request) {
	module := mux.Vars(r)["module"]
	identifiers := h.Registry.ListIdentifiers(module)
	if identifiers == nil {
		identifiers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"module":      module,
		"identifiers": identifiers,
	})
}

// ResolveIdentifier returns the module bound to an identifier
func (h *Handler) ResolveIdentifier(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]
	module, ok := h.Registry.Resolve(identifier)
	if !ok {
		writeError(w, fmt.Errorf("%w: %q", models.ErrUnknownIdentifier, identifier))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"identifier": identifier,
		"module":     module,
	})
}
