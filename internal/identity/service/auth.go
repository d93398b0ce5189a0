package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/metrics"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/pkg/cryptox"
	"github.com/fluxgate/tenancy/pkg/idx"
	"github.com/fluxgate/tenancy/pkg/slogx"
)

const (
	// DefaultMaxFailedAttempts locks the account after this many consecutive
	// password failures.
	DefaultMaxFailedAttempts = 5
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and
	// suspended accounts. The caller never learns which, to avoid account
	// enumeration.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrAccountLocked is deliberately distinct: the attempt that crosses
	// the lockout threshold and every attempt after it gets an explicit,
	// actionable error, even with the correct password.
	ErrAccountLocked = errors.New("account_locked")
)

// probeOrder is the fixed kind priority for email lookups. Email is not
// guaranteed globally unique across kinds, so the ordering is a deliberate
// tie-break.
var probeOrder = []domain.ActorKind{
	domain.KindSuperAdmin,
	domain.KindTenantUser,
	domain.KindDepartmentUser,
}

// AuthService resolves login credentials into a normalized Subject and
// applies the failed-attempt lockout policy.
type AuthService struct {
	Store             store.Store
	Audit             *AuditDispatcher
	MaxFailedAttempts int
}

func (s *AuthService) maxAttempts() int {
	if s.MaxFailedAttempts > 0 {
		return s.MaxFailedAttempts
	}
	return DefaultMaxFailedAttempts
}

// Resolve authenticates an email/password pair. Exactly one login attempt
// record is written per call, matched or not. Failure modes collapse to
// ErrInvalidCredentials except lockout, which surfaces ErrAccountLocked.
func (s *AuthService) Resolve(ctx context.Context, email, password, ip, userAgent string) (domain.Subject, error) {
	now := time.Now()
	email = strings.ToLower(strings.TrimSpace(email))

	// 1. Probe the actor kinds in fixed order, stop at the first email match.
	var (
		actor domain.Actor
		found bool
	)
	for _, kind := range probeOrder {
		a, err := s.Store.Actors().FindByEmail(ctx, kind, email)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return domain.Subject{}, err
		}
		actor, found = a, true
		break
	}

	if !found {
		s.recordAttempt(ctx, domain.LoginAttempt{
			Email: email, IP: ip, UserAgent: userAgent,
			Success: false, Reason: AttemptReasonUnknownEmail, CreatedAt: now,
		})
		metrics.LoginsTotal.WithLabelValues("not_found").Inc()
		return domain.Subject{}, ErrInvalidCredentials
	}

	// 2. Non-ACTIVE accounts fail closed before the password is checked.
	if actor.Status != domain.StatusActive {
		s.recordAttempt(ctx, domain.LoginAttempt{
			ActorID: actor.ID, ActorKind: actor.Kind, Email: email,
			IP: ip, UserAgent: userAgent,
			Success: false, Reason: domain.AttemptReasonAccountDeactivated, CreatedAt: now,
		})
		metrics.LoginsTotal.WithLabelValues("account_deactivated").Inc()
		if actor.Status == domain.StatusDeactivated {
			return domain.Subject{}, ErrAccountLocked
		}
		return domain.Subject{}, ErrInvalidCredentials
	}

	// 3. Verify the password; a failure bumps the lockout counter.
	if err := cryptox.VerifyPassword(password, actor.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.Subject{}, err
		}
		return domain.Subject{}, s.handleWrongPassword(ctx, actor, email, ip, userAgent, now)
	}

	// 4. Success: reset the counter and resolve the subject.
	if err := s.Store.Actors().ResetLockout(ctx, actor.Kind, actor.ID); err != nil {
		return domain.Subject{}, err
	}

	roleID := actor.RoleID
	if actor.Kind == domain.KindDepartmentUser {
		var err error
		roleID, err = s.Store.Actors().PrimaryRoleID(ctx, actor.ID)
		if err != nil {
			return domain.Subject{}, err
		}
	}

	s.recordAttempt(ctx, domain.LoginAttempt{
		ActorID: actor.ID, ActorKind: actor.Kind, Email: email,
		IP: ip, UserAgent: userAgent, Success: true, CreatedAt: now,
	})
	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: actor.TenantID, ActorID: actor.ID, ActorKind: string(actor.Kind),
		Action: domain.AuditLoginSuccess,
	})
	metrics.LoginsTotal.WithLabelValues("success").Inc()

	return domain.Subject{
		ActorID:  actor.ID,
		Email:    actor.Email,
		Kind:     actor.Kind,
		TenantID: actor.TenantID,
		RoleID:   roleID,
	}, nil
}

func (s *AuthService) handleWrongPassword(ctx context.Context, actor domain.Actor, email, ip, userAgent string, now time.Time) error {
	l := slogx.FromContext(ctx)

	count, err := s.Store.Actors().IncrementFailedAttempts(ctx, actor.Kind, actor.ID)
	if err != nil {
		return err
	}

	s.recordAttempt(ctx, domain.LoginAttempt{
		ActorID: actor.ID, ActorKind: actor.Kind, Email: email,
		IP: ip, UserAgent: userAgent,
		Success: false, Reason: domain.AttemptReasonWrongPassword, CreatedAt: now,
	})
	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: actor.TenantID, ActorID: actor.ID, ActorKind: string(actor.Kind),
		Action: domain.AuditLoginFailed,
	})
	metrics.LoginsTotal.WithLabelValues("wrong_password").Inc()

	// The attempt that crosses the threshold locks the account and already
	// reports the lockout, not a generic credential failure.
	if count >= s.maxAttempts() {
		if err := s.Store.Actors().Deactivate(ctx, actor.Kind, actor.ID, now); err != nil {
			return err
		}
		l.Warn("account locked after repeated failed logins",
			slog.String("actor_id", actor.ID),
			slog.Int("failed_attempts", count),
		)
		s.Audit.Emit(ctx, domain.AuditEvent{
			TenantID: actor.TenantID, ActorID: actor.ID, ActorKind: string(actor.Kind),
			Action: domain.AuditAccountLocked,
		})
		metrics.LockoutsTotal.Inc()
		return ErrAccountLocked
	}

	return ErrInvalidCredentials
}

// recordAttempt writes the per-call attempt row. Failures are logged but
// never surfaced: the attempt log must not break authentication.
func (s *AuthService) recordAttempt(ctx context.Context, a domain.LoginAttempt) {
	a.ID = idx.New().String()
	if err := s.Store.LoginAttempts().Create(ctx, a); err != nil {
		slogx.FromContext(ctx).Error("failed to record login attempt", slog.Any("error", err))
	}
}

// AttemptReasonUnknownEmail marks attempts where no actor matched the email.
const AttemptReasonUnknownEmail = "unknown_email"
