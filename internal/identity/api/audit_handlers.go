package api

import (
	"net/http"
	"time"

	"github.com/fluxgate/tenancy/pkg/httpx"
)

type auditEventView struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	ActorKind string            `json:"actor_kind,omitempty"`
	Action    string            `json:"action"`
	Resource  string            `json:"resource,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// listAuditEvents is admin-only: the audit trail spans tenants.
func (h *Handlers) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)
	if !sub.IsAdmin() {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "")
		return
	}

	limit, offset := pagination(r)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	events, err := h.Store.AuditEvents().List(r.Context(), r.URL.Query().Get("tenant_id"), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := make([]auditEventView, 0, len(events))
	for _, e := range events {
		views = append(views, auditEventView(e))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": views})
}
