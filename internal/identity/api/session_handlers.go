package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/pkg/httpx"
)

type sessionView struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Revoked   bool      `json:"revoked"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func newSessionView(s domain.Session) sessionView {
	return sessionView{
		ID:        s.ID,
		ActorID:   s.ActorID,
		Revoked:   s.Revoked,
		IP:        s.IP,
		UserAgent: s.UserAgent,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}
}

type sessionListResponse struct {
	Sessions []sessionView `json:"sessions"`
	Total    int           `json:"total"`
}

// listSessions returns the caller's sessions. Admins may inspect another
// actor via the actor_id query parameter.
func (h *Handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)

	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		actorID = sub.ActorID
	}
	limit, offset := pagination(r)

	sessions, total, err := h.Sessions.List(r.Context(), actorID, sub, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, newSessionView(s))
	}
	httpx.WriteJSON(w, http.StatusOK, sessionListResponse{Sessions: views, Total: total})
}

// revokeSession revokes one session by id.
func (h *Handlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Revoke(r.Context(), r.PathValue("id"), subjectFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pagination reads limit/offset query parameters, leaving clamping to the
// services.
func pagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
