package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/pkg/cryptox"
	"github.com/fluxgate/tenancy/pkg/idx"
	"github.com/fluxgate/tenancy/pkg/slogx"
	"github.com/pquerna/otp/totp"
)

const (
	// MaxChallengeAttempts bounds code guesses per challenge.
	MaxChallengeAttempts = 5

	// DefaultChallengeTTL is how long a delivered code stays valid.
	DefaultChallengeTTL = 5 * time.Minute

	// ChallengeCodeLength is the number of digits in a delivered code.
	ChallengeCodeLength = 6
)

var (
	ErrInvalidChallenge = errors.New("invalid_challenge")
	ErrInvalidCode      = errors.New("invalid_code")
	ErrTooManyAttempts  = errors.New("too_many_attempts")
)

// MFAService answers "does this subject need a second factor" and runs the
// challenge/verify exchange when it does.
type MFAService struct {
	Store        store.Store
	Notifier     Notifier
	Audit        *AuditDispatcher
	ChallengeTTL time.Duration
}

func (s *MFAService) challengeTTL() time.Duration {
	if s.ChallengeTTL > 0 {
		return s.ChallengeTTL
	}
	return DefaultChallengeTTL
}

// Required resolves MFA policy for a subject. Precedence, most specific
// first:
//
//  1. Platform subjects (no tenant): never required.
//  2. Tenant MFA disabled: never required, overrides everything below.
//  3. User-level override row: its value wins.
//  4. Role-level policy row (when the subject has a role): its value.
//  5. Default: not required.
func (s *MFAService) Required(ctx context.Context, sub domain.Subject) (bool, error) {
	if sub.IsPlatform() {
		return false, nil
	}

	tenant, err := s.Store.Directory().GetTenant(ctx, sub.TenantID)
	if err != nil {
		return false, err
	}
	if !tenant.MFAEnabled {
		return false, nil
	}

	override, err := s.Store.Directory().GetMFAOverride(ctx, sub.ActorID)
	if err == nil {
		return override.Required, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	if sub.RoleID != "" {
		policy, err := s.Store.Directory().GetRoleMFAPolicy(ctx, sub.TenantID, sub.RoleID)
		if err == nil {
			return policy.Required, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
	}

	return false, nil
}

// Challenge generates and delivers a one-time code, persisting only its
// fingerprint. The login completes through Verify.
func (s *MFAService) Challenge(ctx context.Context, sub domain.Subject, ip, userAgent string) (domain.ChallengeResponse, error) {
	now := time.Now()

	code, err := cryptox.GenerateNumericCode(ChallengeCodeLength)
	if err != nil {
		return domain.ChallengeResponse{}, err
	}

	challenge := domain.Challenge{
		ID:        idx.New().String(),
		ActorID:   sub.ActorID,
		ActorKind: sub.Kind,
		TenantID:  sub.TenantID,
		Email:     sub.Email,
		RoleID:    sub.RoleID,
		CodeHash:  cryptox.FingerprintToken(code),
		IP:        ip,
		UserAgent: userAgent,
		ExpiresAt: now.Add(s.challengeTTL()),
		CreatedAt: now,
	}

	if err := s.Store.Challenges().Create(ctx, challenge); err != nil {
		return domain.ChallengeResponse{}, err
	}

	if err := s.Notifier.SendCode(ctx, sub.Email, code); err != nil {
		// The challenge row is unusable without the code; drop it.
		_ = s.Store.Challenges().Delete(ctx, challenge.ID)
		return domain.ChallengeResponse{}, err
	}

	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: sub.TenantID, ActorID: sub.ActorID, ActorKind: string(sub.Kind),
		Action: domain.AuditChallengeSent,
	})

	return domain.ChallengeResponse{
		ChallengeID: challenge.ID,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// Verify consumes a challenge. The code may be the delivered one-time code
// or, for users with a TOTP enrollment, a current TOTP code. Success deletes
// the challenge and returns the subject it was issued for.
func (s *MFAService) Verify(ctx context.Context, challengeID, code string) (domain.Subject, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	challenge, err := s.Store.Challenges().Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Subject{}, ErrInvalidChallenge
		}
		return domain.Subject{}, err
	}

	if now.After(challenge.ExpiresAt) {
		_ = s.Store.Challenges().Delete(ctx, challengeID)
		return domain.Subject{}, ErrInvalidChallenge
	}

	if challenge.Attempts >= MaxChallengeAttempts {
		_ = s.Store.Challenges().Delete(ctx, challengeID)
		l.Warn("mfa challenge exceeded max attempts",
			slog.String("challenge_id", challengeID),
			slog.Int("attempts", challenge.Attempts),
		)
		return domain.Subject{}, ErrTooManyAttempts
	}

	if !s.codeMatches(ctx, challenge, code) {
		updated, err := s.Store.Challenges().IncrementAttempts(ctx, challengeID)
		if err != nil {
			return domain.Subject{}, err
		}
		if updated.Attempts >= MaxChallengeAttempts {
			_ = s.Store.Challenges().Delete(ctx, challengeID)
			return domain.Subject{}, ErrTooManyAttempts
		}
		return domain.Subject{}, ErrInvalidCode
	}

	if err := s.Store.Challenges().Delete(ctx, challengeID); err != nil {
		return domain.Subject{}, err
	}

	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: challenge.TenantID, ActorID: challenge.ActorID, ActorKind: string(challenge.ActorKind),
		Action: domain.AuditChallengeVerified,
	})

	return domain.Subject{
		ActorID:  challenge.ActorID,
		Email:    challenge.Email,
		Kind:     challenge.ActorKind,
		TenantID: challenge.TenantID,
		RoleID:   challenge.RoleID,
	}, nil
}

func (s *MFAService) codeMatches(ctx context.Context, challenge domain.Challenge, code string) bool {
	fp := cryptox.FingerprintToken(code)
	if subtle.ConstantTimeCompare([]byte(fp), []byte(challenge.CodeHash)) == 1 {
		return true
	}

	enrollment, err := s.Store.Directory().GetTOTPEnrollment(ctx, challenge.ActorID)
	if err != nil {
		return false
	}
	return totp.Validate(code, enrollment.Secret)
}
