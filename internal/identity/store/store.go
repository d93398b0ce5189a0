package store

import (
	"context"
	"errors"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for now)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable, and a Tx facility for the multi-step mutations that must be
// atomic (session issue/rotate, approval decisions).
type Store interface {
	Actors() Actors
	LoginAttempts() LoginAttempts
	Sessions() Sessions
	Directory() Directory
	Challenges() Challenges
	Allocations() Allocations
	Requests() Requests
	Approvals() Approvals
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. This is the
	// recommended way to handle transactions.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Actors is the credential store for all three actor kinds. It is consulted
// and mutated by the auth resolver; rows are created by the provisioning
// surface only.
type Actors interface {
	// Create inserts an actor row into the table matching its Kind.
	Create(ctx context.Context, a domain.Actor) error

	// AssignDepartmentRole maps a department user to a role, optionally
	// flagged as the primary one.
	AssignDepartmentRole(ctx context.Context, userID, roleID string, primary bool) error

	// FindByEmail looks up an actor of the given kind by case-insensitive
	// email.
	FindByEmail(ctx context.Context, kind domain.ActorKind, email string) (domain.Actor, error)

	// GetByID returns an actor of the given kind by id.
	GetByID(ctx context.Context, kind domain.ActorKind, id string) (domain.Actor, error)

	// ResetLockout clears the failed-attempt counter and lock timestamp
	// after a successful authentication.
	ResetLockout(ctx context.Context, kind domain.ActorKind, id string) error

	// IncrementFailedAttempts bumps the counter and returns the new value.
	IncrementFailedAttempts(ctx context.Context, kind domain.ActorKind, id string) (int, error)

	// Deactivate flips status to DEACTIVATED and stamps the lock time.
	Deactivate(ctx context.Context, kind domain.ActorKind, id string, at time.Time) error

	// PrimaryRoleID resolves a department user's primary role from its role
	// mappings. Returns "" when none is flagged primary.
	PrimaryRoleID(ctx context.Context, departmentUserID string) (string, error)
}

type LoginAttempts interface {
	// Create appends one immutable attempt record.
	Create(ctx context.Context, a domain.LoginAttempt) error
}

type Sessions interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s domain.Session) error

	// GetByHash returns the session owning the given secret fingerprint.
	GetByHash(ctx context.Context, hash string) (domain.Session, error)

	// GetByID returns a session by id.
	GetByID(ctx context.Context, id string) (domain.Session, error)

	// Revoke flips revoked=1. Revoking an already-revoked session is a
	// no-op success.
	Revoke(ctx context.Context, id string) error

	// RevokeActive revokes the session only if it is still active,
	// returning ErrNotFound when no active row matched. Rotation uses
	// this as its guard: two racing rotations of the same secret resolve
	// to exactly one winner.
	RevokeActive(ctx context.Context, id string) error

	// SetReplacedBy links a rotated-out session to its successor.
	SetReplacedBy(ctx context.Context, id, replacedByID string) error

	// RevokeAllForActor revokes every active session for the actor except
	// the one optionally named by keepID.
	RevokeAllForActor(ctx context.Context, actorID, keepID string) error

	// ListByActor returns the actor's sessions newest-first along with the
	// total count.
	ListByActor(ctx context.Context, actorID string, limit, offset int) ([]domain.Session, int, error)

	// DeleteExpired removes long-expired rows. Housekeeping only.
	DeleteExpired(ctx context.Context, olderThan time.Time) error
}

// Directory is read access to the tenant/role/user configuration this
// service consults but does not own: tenant MFA flags, policy rows,
// department membership for approval-stage authorization.
type Directory interface {
	GetTenant(ctx context.Context, id string) (domain.Tenant, error)

	// CreateTenant and the Set/Create methods below are the provisioning
	// surface used by bootstrap and tests.
	CreateTenant(ctx context.Context, t domain.Tenant) error
	CreateRole(ctx context.Context, r domain.Role) error
	SetMFAOverride(ctx context.Context, o domain.MFAOverride) error
	SetRoleMFAPolicy(ctx context.Context, p domain.RoleMFAPolicy) error
	SetTOTPEnrollment(ctx context.Context, e domain.TOTPEnrollment) error
	CreateApprovalLevel(ctx context.Context, l domain.ApprovalLevel) error

	// GetMFAOverride returns the user-level override row, ErrNotFound when
	// none exists.
	GetMFAOverride(ctx context.Context, userID string) (domain.MFAOverride, error)

	// GetRoleMFAPolicy returns the (tenant, role) policy row, ErrNotFound
	// when none exists.
	GetRoleMFAPolicy(ctx context.Context, tenantID, roleID string) (domain.RoleMFAPolicy, error)

	// GetTOTPEnrollment returns a user's TOTP enrollment, ErrNotFound when
	// the user never enrolled.
	GetTOTPEnrollment(ctx context.Context, userID string) (domain.TOTPEnrollment, error)

	// IsInStage reports whether the department user belongs to the
	// organizational unit matching the given approval stage label.
	IsInStage(ctx context.Context, actorID, stage string) (bool, error)

	// ApprovalLevels returns a tenant's configured approval chain ordered
	// by step order.
	ApprovalLevels(ctx context.Context, tenantID string) ([]domain.ApprovalLevel, error)
}

type Challenges interface {
	Create(ctx context.Context, c domain.Challenge) error
	Get(ctx context.Context, id string) (domain.Challenge, error)

	// IncrementAttempts bumps the failure counter and returns the updated
	// challenge.
	IncrementAttempts(ctx context.Context, id string) (domain.Challenge, error)

	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) error
}

type Allocations interface {
	// GetByTenantAndType returns the allocation row for one (tenant,
	// license-type) pair.
	GetByTenantAndType(ctx context.Context, tenantID, licenseType string) (domain.Allocation, error)

	// Create inserts a new allocation row.
	Create(ctx context.Context, a domain.Allocation) error

	// UpdateAllocated sets the seat ceiling.
	UpdateAllocated(ctx context.Context, id string, allocated int) error
}

type Requests interface {
	Create(ctx context.Context, r domain.LicenseRequest) error
	Get(ctx context.Context, id string) (domain.LicenseRequest, error)

	// UpdateStatus transitions the request. rejectionReason is persisted
	// only for rejections.
	UpdateStatus(ctx context.Context, id string, status domain.RequestStatus, rejectionReason string) error

	// List returns requests newest-first, optionally filtered by tenant
	// and/or status, along with the total count.
	List(ctx context.Context, tenantID string, status domain.RequestStatus, limit, offset int) ([]domain.LicenseRequest, int, error)
}

type Approvals interface {
	Create(ctx context.Context, a domain.Approval) error

	// ListByRequest returns all steps for a request in creation order.
	ListByRequest(ctx context.Context, requestID string) ([]domain.Approval, error)

	// EarliestPending returns the current step: the PENDING row with the
	// earliest creation time. ErrNotFound when none remains.
	EarliestPending(ctx context.Context, requestID string) (domain.Approval, error)

	// RecordDecision stamps decision, decider, comments and decision time
	// on one step.
	RecordDecision(ctx context.Context, id string, decision domain.Decision, deciderID, comments string, at time.Time) error

	// CancelPending marks every still-PENDING step of a request CANCELLED.
	CancelPending(ctx context.Context, requestID, comments string) error
}

type AuditEvents interface {
	// Append writes one structured audit record.
	Append(ctx context.Context, e domain.AuditEvent) error

	// List returns events newest-first, optionally filtered by tenant.
	List(ctx context.Context, tenantID string, limit, offset int) ([]domain.AuditEvent, error)
}
