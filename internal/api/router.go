package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctl/ctrlgraph/internal/audit"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/graphql", s.handleGraphQL)
			r.Get("/ws", s.handleWebSocket)
			r.Get("/audit", s.handleAuditList)
		})
	})

	return r
}

// healthCheckTimeout bounds each component probe during a health request.
const healthCheckTimeout = 3 * time.Second

// handleHealth reports the server status and each backing component.
// The session store being down degrades the report but the endpoint
// itself stays 200: orchestrators restart on non-200, and a dead Redis
// is not fixed by restarting this bridge.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		if err := checker.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
		} else {
			components[name] = "ok"
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"components": components,
	})
}

// handleAuditList returns recorded mutations, newest first.
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "audit trail is disabled")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := s.audit.List(r.Context(), audit.Filter{
		Device: q.Get("device"),
		UserID: q.Get("user"),
		Action: q.Get("action"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("audit list failed", "error", err)
		writeInternalError(w, "querying audit trail failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
