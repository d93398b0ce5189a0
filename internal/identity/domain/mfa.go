package domain

import "time"

// MFAOverride is a user-level override of MFA policy. Its presence beats any
// role-level rule.
type MFAOverride struct {
	UserID    string
	Required  bool
	CreatedAt time.Time
}

// RoleMFAPolicy is a tenant+role-level MFA rule. Consulted only when no
// user-level override exists.
type RoleMFAPolicy struct {
	TenantID  string
	RoleID    string
	Required  bool
	CreatedAt time.Time
}

// TOTPEnrollment holds a user's enrolled TOTP secret. Users with an
// enrollment may answer a challenge with a TOTP code instead of the
// delivered one-time code.
type TOTPEnrollment struct {
	UserID    string
	Secret    string // base32 encoded
	EnabledAt time.Time
}

// Challenge is a pending out-of-band verification created when policy
// requires a second factor at login. The delivered code is stored only as a
// SHA-256 fingerprint. A bounded attempt counter prevents brute force.
type Challenge struct {
	ID        string
	ActorID   string
	ActorKind ActorKind
	TenantID  string
	Email     string
	RoleID    string
	CodeHash  string
	Attempts  int
	IP        string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ChallengeResponse is returned to the caller when MFA is required; the
// login completes through the verify operation.
type ChallengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}
