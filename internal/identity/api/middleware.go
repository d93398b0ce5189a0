package api

import (
	"context"
	"net/http"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/pkg/httpx"
)

type contextKey int

const subjectKey contextKey = iota

// requireAuth verifies the bearer token and checks that its backing session
// is still live. The resolved subject is placed in the request context.
func (h *Handlers) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httpx.BearerToken(r)
		if token == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "missing bearer token")
			return
		}

		claims, err := h.Verifier.Verify(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "token verification failed")
			return
		}

		// Access tokens die with their session: revocation is effective
		// within one request, not one token TTL.
		ok, err := h.Sessions.Validate(r.Context(), claims.SID)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "")
			return
		}
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "session no longer valid")
			return
		}

		sub := domain.Subject{
			ActorID:  claims.Subject,
			Email:    claims.Email,
			Kind:     domain.ActorKind(claims.Kind),
			TenantID: claims.TenantID,
			RoleID:   claims.RoleID,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, sub)))
	})
}

// subjectFrom returns the authenticated subject placed by requireAuth.
func subjectFrom(r *http.Request) domain.Subject {
	sub, _ := r.Context().Value(subjectKey).(domain.Subject)
	return sub
}
