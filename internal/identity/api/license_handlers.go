package api

import (
	"net/http"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/service"
	"github.com/fluxgate/tenancy/pkg/httpx"
)

type requestView struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	LicenseType     string    `json:"license_type"`
	Direction       string    `json:"direction"`
	CurrentCount    int       `json:"current_count"`
	ChangeAmount    int       `json:"change_amount"`
	NewTotal        int       `json:"new_total"`
	Reason          string    `json:"reason,omitempty"`
	RequesterID     string    `json:"requester_id"`
	Status          string    `json:"status"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newRequestView(r domain.LicenseRequest) requestView {
	return requestView{
		ID:              r.ID,
		TenantID:        r.TenantID,
		LicenseType:     r.LicenseType,
		Direction:       string(r.Direction),
		CurrentCount:    r.CurrentCount,
		ChangeAmount:    r.ChangeAmount,
		NewTotal:        r.NewTotal,
		Reason:          r.Reason,
		RequesterID:     r.RequesterID,
		Status:          string(r.Status),
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type approvalView struct {
	ID        string     `json:"id"`
	Stage     string     `json:"stage"`
	Decision  string     `json:"decision"`
	DeciderID string     `json:"decider_id,omitempty"`
	Comments  string     `json:"comments,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

func newApprovalViews(steps []domain.Approval) []approvalView {
	views := make([]approvalView, 0, len(steps))
	for _, s := range steps {
		views = append(views, approvalView{
			ID:        s.ID,
			Stage:     s.Stage,
			Decision:  string(s.Decision),
			DeciderID: s.DeciderID,
			Comments:  s.Comments,
			DecidedAt: s.DecidedAt,
		})
	}
	return views
}

type createRequestBody struct {
	TenantID     string `json:"tenant_id"`
	LicenseType  string `json:"license_type"`
	Direction    string `json:"direction"`
	ChangeAmount int    `json:"change_amount"`
	Reason       string `json:"reason"`
}

// createRequest opens a license-change request and materializes its approval
// chain.
func (h *Handlers) createRequest(w http.ResponseWriter, r *http.Request) {
	sub := subjectFrom(r)

	var body createRequestBody
	if err := decodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	// Tenant subjects may omit tenant_id; it defaults to their own.
	if body.TenantID == "" {
		body.TenantID = sub.TenantID
	}

	request, err := h.Licenses.CreateRequest(r.Context(), sub, service.CreateRequestInput{
		TenantID:     body.TenantID,
		LicenseType:  body.LicenseType,
		Direction:    domain.RequestDirection(body.Direction),
		ChangeAmount: body.ChangeAmount,
		Reason:       body.Reason,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newRequestView(request))
}

type requestListResponse struct {
	Requests []requestView `json:"requests"`
	Total    int           `json:"total"`
}

func (h *Handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pagination(r)

	requests, total, err := h.Licenses.List(r.Context(), subjectFrom(r),
		q.Get("tenant_id"), domain.RequestStatus(q.Get("status")), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := make([]requestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, newRequestView(req))
	}
	httpx.WriteJSON(w, http.StatusOK, requestListResponse{Requests: views, Total: total})
}

type requestDetailResponse struct {
	Request   requestView    `json:"request"`
	Approvals []approvalView `json:"approvals"`
}

func (h *Handlers) getRequest(w http.ResponseWriter, r *http.Request) {
	request, steps, err := h.Licenses.Get(r.Context(), subjectFrom(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, requestDetailResponse{
		Request:   newRequestView(request),
		Approvals: newApprovalViews(steps),
	})
}

type decideBody struct {
	Approve  bool   `json:"approve"`
	Comments string `json:"comments"`
}

// decideRequest records the caller's decision on the request's current step.
func (h *Handlers) decideRequest(w http.ResponseWriter, r *http.Request) {
	var body decideBody
	if err := decodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if !body.Approve && body.Comments == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "a rejection requires comments")
		return
	}

	outcome, err := h.Licenses.Decide(r.Context(), subjectFrom(r), r.PathValue("id"), body.Approve, body.Comments)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, outcome)
}

type cancelBody struct {
	Comments string `json:"comments"`
}

func (h *Handlers) cancelRequest(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := decodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	if err := h.Licenses.Cancel(r.Context(), subjectFrom(r), r.PathValue("id"), body.Comments); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
