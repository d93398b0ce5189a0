package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fluxgate/tenancy/internal/identity/service"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/pkg/httpx"
	"github.com/fluxgate/tenancy/pkg/slogx"
)

// decodeJSON parses the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeServiceError maps service sentinel errors onto HTTP statuses with the
// uniform error envelope. Unknown errors are logged and become a 500 with no
// detail leaked.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, service.ErrAccountLocked):
		httpx.WriteError(w, http.StatusForbidden, "account_locked", "account locked after repeated failed logins")
	case errors.Is(err, service.ErrInvalidChallenge):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_challenge", "challenge is unknown, expired or consumed")
	case errors.Is(err, service.ErrInvalidCode):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "verification code does not match")
	case errors.Is(err, service.ErrTooManyAttempts):
		httpx.WriteError(w, http.StatusTooManyRequests, "too_many_attempts", "challenge attempt limit reached")
	case errors.Is(err, service.ErrInvalidSession):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_session", "unknown refresh token")
	case errors.Is(err, service.ErrRevokedSession):
		httpx.WriteError(w, http.StatusUnauthorized, "revoked_session", "session has been revoked")
	case errors.Is(err, service.ErrExpiredSession):
		httpx.WriteError(w, http.StatusUnauthorized, "expired_session", "session has expired")
	case errors.Is(err, service.ErrTokenReuse):
		httpx.WriteError(w, http.StatusUnauthorized, "token_reuse_detected", "all sessions for this account have been revoked")
	case errors.Is(err, service.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "")
	case errors.Is(err, service.ErrAlreadyDecided):
		httpx.WriteError(w, http.StatusConflict, "already_decided", "request has already reached a decision")
	case errors.Is(err, service.ErrNoPendingStep):
		httpx.WriteError(w, http.StatusConflict, "no_pending_step", "no approval step is awaiting a decision")
	case errors.Is(err, service.ErrInvalidState):
		httpx.WriteError(w, http.StatusConflict, "invalid_state", "request is not in a state that allows this operation")
	case errors.Is(err, service.ErrAllocationMissing):
		httpx.WriteError(w, http.StatusConflict, "allocation_missing", "no allocation exists for this tenant and license type")
	case errors.Is(err, service.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", "")
	default:
		slogx.FromContext(r.Context()).Error("unhandled service error", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
