// Package api is the HTTP surface: route wiring, bearer authentication, and
// the JSON handlers that front the identity and licensing services.
package api

import (
	"log/slog"
	"net/http"

	"github.com/fluxgate/tenancy/internal/identity/metrics"
	"github.com/fluxgate/tenancy/internal/identity/service"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/pkg/httpx"
	"github.com/fluxgate/tenancy/pkg/jwtx"
	"github.com/fluxgate/tenancy/pkg/slogx"
)

// Handlers carries the service dependencies for every endpoint.
type Handlers struct {
	Auth     *service.AuthService
	MFA      *service.MFAService
	Sessions *service.SessionService
	Licenses *service.LicenseService
	Store    store.Store
	Verifier jwtx.Verifier
	Logger   *slog.Logger
}

// Router builds the full route table with logging and metrics middleware
// applied.
func (h *Handlers) Router() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated.
	mux.HandleFunc("POST /v1/auth/login", h.login)
	mux.HandleFunc("POST /v1/auth/mfa/verify", h.verifyMFA)
	mux.HandleFunc("POST /v1/auth/refresh", h.refresh)
	mux.HandleFunc("POST /v1/auth/logout", h.logout)

	// Bearer-authenticated.
	mux.Handle("GET /v1/sessions", h.requireAuth(h.listSessions))
	mux.Handle("DELETE /v1/sessions/{id}", h.requireAuth(h.revokeSession))

	mux.Handle("POST /v1/license/requests", h.requireAuth(h.createRequest))
	mux.Handle("GET /v1/license/requests", h.requireAuth(h.listRequests))
	mux.Handle("GET /v1/license/requests/{id}", h.requireAuth(h.getRequest))
	mux.Handle("POST /v1/license/requests/{id}/decide", h.requireAuth(h.decideRequest))
	mux.Handle("POST /v1/license/requests/{id}/cancel", h.requireAuth(h.cancelRequest))

	mux.Handle("GET /v1/audit/events", h.requireAuth(h.listAuditEvents))

	// Operational.
	mux.HandleFunc("GET /livez", h.livez)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	return httpx.Chain(mux,
		slogx.HTTPMiddleware(h.Logger),
		metrics.Instrument,
	)
}

func (h *Handlers) livez(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
