// Package host exposes the process's HTTP health surface, grounded on
// apps/ReleaseParty/backend/internal/api/server.go's chi.NewRouter()
// plus /healthz handler — generalized with a /readyz endpoint backed by
// the agent orchestrator's Ready() so a deployment's readiness probe
// reflects whether the chat connection is actually up.
package host

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ReadinessChecker reports whether the process is ready to receive traffic.
type ReadinessChecker interface {
	Ready() bool
}

// Server is the health/readiness HTTP surface.
type Server struct {
	ready ReadinessChecker
}

// New builds a Server.
func New(ready ReadinessChecker) *Server {
	return &Server{ready: ready}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return r
}
