package domain

import "time"

// AuditEvent is one structured append-only audit record. Events are
// dispatched asynchronously and never block or fail the primary operation.
type AuditEvent struct {
	ID        string
	TenantID  string
	ActorID   string
	ActorKind string
	Action    string
	Resource  string
	Meta      map[string]string
	CreatedAt time.Time
}

// Audit action names.
const (
	AuditLoginSuccess       = "LOGIN_SUCCESS"
	AuditLoginFailed        = "LOGIN_FAILED"
	AuditAccountLocked      = "ACCOUNT_LOCKED"
	AuditChallengeSent      = "MFA_CHALLENGE_SENT"
	AuditChallengeVerified  = "MFA_CHALLENGE_VERIFIED"
	AuditSessionRotated     = "SESSION_ROTATED"
	AuditSessionRevoked     = "SESSION_REVOKED"
	AuditTokenReuseDetected = "TOKEN_REUSE_DETECTED"
	AuditRequestCreated     = "LICENSE_REQUEST_CREATED"
	AuditStepApproved       = "LICENSE_APPROVAL_APPROVED"
	AuditStepRejected       = "LICENSE_APPROVAL_REJECTED"
	AuditRequestApproved    = "LICENSE_REQUEST_APPROVED"
	AuditRequestRejected    = "LICENSE_REQUEST_REJECTED"
	AuditRequestCancelled   = "LICENSE_REQUEST_CANCELLED"
	AuditAllocationUpdated  = "LICENSE_ALLOCATION_UPDATED"
)
