package routers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"module-host/auth"
	"module-host/handlers"
)

// RegisterRoutes sets up all the HTTP routes for the host
func RegisterRoutes(r *mux.Router, h *handlers.Handler, a *auth.Authenticator) {
	r.Use(a.Middleware)

	// Owner-gated registry mutation: batched add/replace/remove plus the
	// optional post-mutation initializer
	r.HandleFunc("/registry/mutate", h.MutateRegistry).Methods("POST")

	// Read-only registry introspection
	r.HandleFunc("/registry/modules", h.ListModules).Methods("GET")
	r.HandleFunc("/registry/modules/{module}/identifiers", h.ListIdentifiers).Methods("GET")
	r.HandleFunc("/registry/identifiers/{identifier}", h.ResolveIdentifier).Methods("GET")

	// The single public entry point for module invocations
	r.HandleFunc("/dispatch/{identifier}", h.Dispatch).Methods("POST")

	// Voting weight queries and delegation
	r.HandleFunc("/ledger/accounts/{account}/weight", h.CurrentWeight).Methods("GET")
	r.HandleFunc("/ledger/accounts/{account}/weight/{point}", h.PriorWeight).Methods("GET")
	r.HandleFunc("/ledger/accounts/{account}/delegate", h.Delegate).Methods("POST")

	// Sequence point control
	r.HandleFunc("/sequence", h.Sequence).Methods("GET")
	r.HandleFunc("/sequence/advance", h.AdvanceSequence).Methods("POST")

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
