package domain

import "time"

// Session models one issued refresh credential. The ID doubles as the
// session id embedded in access tokens. Only the SHA-256 fingerprint of the
// raw secret is ever stored.
//
// Invariant: at most one non-revoked session per actor at any time. Issuing
// a new session revokes all prior ones for that actor in the same
// transaction.
type Session struct {
	ID         string
	ActorID    string
	ActorKind  ActorKind
	TenantID   string // empty for platform actors
	Email      string
	TokenHash  string
	Revoked    bool
	ReplacedBy string // id of the session that superseded this one, if any
	IP         string
	UserAgent  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Active reports whether the session is usable at the given instant.
func (s Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// LoginAttempt is an immutable audit record written once per authentication
// attempt. It is never consulted for lockout decisions; the counter lives on
// the actor row.
type LoginAttempt struct {
	ID        string
	ActorID   string // empty when no actor matched
	ActorKind ActorKind
	Email     string
	IP        string
	UserAgent string
	Success   bool
	Reason    string // e.g. "wrong_password", "account_deactivated"
	CreatedAt time.Time
}

// Login attempt failure reasons.
const (
	AttemptReasonWrongPassword      = "wrong_password"
	AttemptReasonAccountDeactivated = "account_deactivated"
)
