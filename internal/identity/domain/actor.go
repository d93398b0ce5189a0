package domain

import "time"

// ActorKind discriminates the three credentialed populations. Authentication
// probes them in this order; email is not guaranteed globally unique across
// kinds, so the ordering is a deliberate tie-break.
type ActorKind string

const (
	KindSuperAdmin     ActorKind = "superadmin"
	KindTenantUser     ActorKind = "tenant_user"
	KindDepartmentUser ActorKind = "department_user"
)

// ActorStatus is the account lifecycle state. Accounts are never deleted,
// only soft-deactivated.
type ActorStatus string

const (
	StatusActive      ActorStatus = "ACTIVE"
	StatusSuspended   ActorStatus = "SUSPENDED"
	StatusDeactivated ActorStatus = "DEACTIVATED"
)

// Actor is the credential view common to all three kinds: what the auth
// resolver needs to verify a password and apply lockout policy.
type Actor struct {
	ID             string
	Kind           ActorKind
	Email          string // stored lowercased
	PasswordHash   string // argon2id encoded
	Status         ActorStatus
	TenantID       string // empty for platform actors
	RoleID         string // empty when no (primary) role resolved
	Department     string // department users only
	FailedAttempts int
	LockedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Subject is the normalized identity returned by a successful authentication
// resolution. It carries everything downstream authorization needs and
// nothing it doesn't.
type Subject struct {
	ActorID  string
	Email    string
	Kind     ActorKind
	TenantID string // empty for platform actors
	RoleID   string
}

// IsPlatform reports whether the subject is a platform-level actor with no
// tenant scoping.
func (s Subject) IsPlatform() bool { return s.TenantID == "" }

// IsAdmin reports whether the subject holds administrative privilege for
// session and request management purposes.
func (s Subject) IsAdmin() bool { return s.Kind == KindSuperAdmin }

// Tenant holds the tenant attributes this service consults. Full tenant CRUD
// lives elsewhere.
type Tenant struct {
	ID         string
	Name       string
	MFAEnabled bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Role is a tenant-scoped role referenced by users and MFA policy.
type Role struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}
