package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"module-host/logger"
)

// Dispatch is the single public entry point for module invocations
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	identifier := mux.Vars(r)["identifier"]

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Logger.Error("Failed to read dispatch payload", zap.Error(err))
		writeBadPayload(w)
		return
	}

	out, err := h.Dispatcher.Dispatch(caller, identifier, payload)
	if err != nil {
		// The module's (or dispatcher's) reason goes back verbatim.
		writeError(w, err)
		return
	}
	if out == nil {
		out = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identifier": identifier,
		"output":     json.RawMessage(out),
	})
}
