package api

import (
	"net/http"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/service"
	"github.com/fluxgate/tenancy/pkg/httpx"
	"github.com/fluxgate/tenancy/pkg/jwtx"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	SessionID    string `json:"session_id"`
}

type challengeResponse struct {
	MFARequired bool                     `json:"mfa_required"`
	Challenge   domain.ChallengeResponse `json:"challenge"`
}

func newTokenResponse(pair *service.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
		SessionID:    pair.SessionID,
	}
}

// login resolves credentials and either issues tokens directly or, when MFA
// policy demands it, opens a challenge the client must answer via verifyMFA.
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ip := httpx.ClientIP(r)
	ua := r.UserAgent()

	sub, err := h.Auth.Resolve(r.Context(), req.Email, req.Password, ip, ua)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	required, err := h.MFA.Required(r.Context(), sub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)

	if required {
		challenge, err := h.MFA.Challenge(r.Context(), sub, ip, ua)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, challengeResponse{MFARequired: true, Challenge: challenge})
		return
	}

	pair, err := h.Sessions.Issue(r.Context(), sub, []string{jwtx.AMRPassword}, ip, ua)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newTokenResponse(pair))
}

type verifyMFARequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// verifyMFA consumes a challenge and completes the login it belongs to.
func (h *Handlers) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.ChallengeID == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "challenge_id and code are required")
		return
	}

	sub, err := h.MFA.Verify(r.Context(), req.ChallengeID, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	amr := []string{jwtx.AMRPassword, jwtx.AMROTP, jwtx.AMRMFA}
	pair, err := h.Sessions.Issue(r.Context(), sub, amr, httpx.ClientIP(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, newTokenResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh rotates a refresh token for a fresh pair.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := h.Sessions.Rotate(r.Context(), req.RefreshToken, httpx.ClientIP(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, newTokenResponse(pair))
}

// logout revokes the session owning the presented refresh token. Unknown
// tokens still succeed so logout is always safe to call.
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	if err := h.Sessions.RevokeBySecret(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
