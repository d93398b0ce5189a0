package domain

import "time"

// RequestDirection says which way an allocation change moves.
type RequestDirection string

const (
	DirectionIncrease RequestDirection = "increase"
	DirectionDecrease RequestDirection = "decrease"
)

// RequestStatus is the license-change request lifecycle. APPROVED, REJECTED
// and CANCELLED are terminal.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

// Decision is the per-step approval state.
type Decision string

const (
	DecisionPending   Decision = "pending"
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionCancelled Decision = "cancelled"
)

// DefaultApprovalStage is used when a tenant has no approval levels
// configured: a single executive sign-off.
const DefaultApprovalStage = "ceo"

// Allocation is the seat ceiling and consumption for one (tenant,
// license-type) pair.
//
// Invariant: Used <= Allocated at all times. Attempts to violate it are
// rejected, never clamped.
type Allocation struct {
	ID          string
	TenantID    string
	LicenseType string
	Allocated   int
	Used        int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ApprovalLevel is one configured checkpoint in a tenant's approval chain,
// ordered by StepOrder.
type ApprovalLevel struct {
	ID        string
	TenantID  string
	StepOrder int
	Stage     string // department/stage label, e.g. "sales", "finance", "ceo"
	CreatedAt time.Time
}

// LicenseRequest is one proposed allocation change moving through the
// approval chain.
type LicenseRequest struct {
	ID              string
	TenantID        string
	LicenseType     string
	Direction       RequestDirection
	CurrentCount    int
	ChangeAmount    int
	NewTotal        int
	Reason          string
	RequesterID     string
	Status          RequestStatus
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Approval is one ordered step of a request's chain. Steps are totally
// ordered by creation; exactly one may be pending at a time.
type Approval struct {
	ID        string
	RequestID string
	Stage     string
	Decision  Decision
	DeciderID string
	Comments  string
	DecidedAt *time.Time
	CreatedAt time.Time
}

// DecideOutcome reports what a decision did to the request.
type DecideOutcome struct {
	Status    RequestStatus `json:"status"`
	NextStage string        `json:"next_stage,omitempty"`
}
