package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/store"
)

// captureNotifier records the last delivered code instead of sending it.
type captureNotifier struct {
	mu   sync.Mutex
	code string
}

func (n *captureNotifier) SendCode(_ context.Context, _, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.code = code
	return nil
}

func (n *captureNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.code
}

func newMFAService(st store.Store) (*MFAService, *captureNotifier) {
	notifier := &captureNotifier{}
	return &MFAService{Store: st, Notifier: notifier}, notifier
}

func TestRequiredPrecedence(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, _ := newMFAService(st)

	mfaTenant := seedTenant(t, st, "mfa-on", true)
	offTenant := seedTenant(t, st, "mfa-off", false)
	role := seedRole(t, st, mfaTenant.ID, "approver")

	t.Run("platform subject never requires mfa", func(t *testing.T) {
		required, err := svc.Required(ctx, domain.Subject{ActorID: "root", Kind: domain.KindSuperAdmin})
		require.NoError(t, err)
		require.False(t, required)
	})

	t.Run("tenant flag off suppresses everything", func(t *testing.T) {
		sub := domain.Subject{ActorID: "u1", Kind: domain.KindTenantUser, TenantID: offTenant.ID}
		require.NoError(t, st.Directory().SetMFAOverride(ctx, domain.MFAOverride{UserID: "u1", Required: true}))

		required, err := svc.Required(ctx, sub)
		require.NoError(t, err)
		require.False(t, required)
	})

	t.Run("user override beats role policy", func(t *testing.T) {
		sub := domain.Subject{ActorID: "u2", Kind: domain.KindTenantUser, TenantID: mfaTenant.ID, RoleID: role.ID}
		require.NoError(t, st.Directory().SetRoleMFAPolicy(ctx, domain.RoleMFAPolicy{
			TenantID: mfaTenant.ID, RoleID: role.ID, Required: true,
		}))
		require.NoError(t, st.Directory().SetMFAOverride(ctx, domain.MFAOverride{UserID: "u2", Required: false}))

		required, err := svc.Required(ctx, sub)
		require.NoError(t, err)
		require.False(t, required)
	})

	t.Run("role policy applies without override", func(t *testing.T) {
		sub := domain.Subject{ActorID: "u3", Kind: domain.KindTenantUser, TenantID: mfaTenant.ID, RoleID: role.ID}
		required, err := svc.Required(ctx, sub)
		require.NoError(t, err)
		require.True(t, required)
	})

	t.Run("defaults to false", func(t *testing.T) {
		sub := domain.Subject{ActorID: "u4", Kind: domain.KindTenantUser, TenantID: mfaTenant.ID}
		required, err := svc.Required(ctx, sub)
		require.NoError(t, err)
		require.False(t, required)
	})
}

func TestChallengeVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, notifier := newMFAService(st)

	sub := domain.Subject{
		ActorID: "u1", Email: "user@example.com",
		Kind: domain.KindTenantUser, TenantID: "t1", RoleID: "r1",
	}

	resp, err := svc.Challenge(ctx, sub, "10.0.0.1", "test")
	require.NoError(t, err)
	require.NotEmpty(t, resp.ChallengeID)
	require.Len(t, notifier.last(), ChallengeCodeLength)

	verified, err := svc.Verify(ctx, resp.ChallengeID, notifier.last())
	require.NoError(t, err)
	require.Equal(t, sub, verified)

	// The challenge is consumed; a second verify fails.
	_, err = svc.Verify(ctx, resp.ChallengeID, notifier.last())
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestVerifyWrongCodeBoundsAttempts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, notifier := newMFAService(st)

	sub := domain.Subject{ActorID: "u1", Email: "user@example.com", Kind: domain.KindTenantUser, TenantID: "t1"}
	resp, err := svc.Challenge(ctx, sub, "", "")
	require.NoError(t, err)

	for i := 0; i < MaxChallengeAttempts-1; i++ {
		_, err := svc.Verify(ctx, resp.ChallengeID, "000000")
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	_, err = svc.Verify(ctx, resp.ChallengeID, "000000")
	require.ErrorIs(t, err, ErrTooManyAttempts)

	// The exhausted challenge is gone even for the right code.
	_, err = svc.Verify(ctx, resp.ChallengeID, notifier.last())
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestVerifyExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, notifier := newMFAService(st)
	svc.ChallengeTTL = time.Millisecond

	sub := domain.Subject{ActorID: "u1", Email: "user@example.com", Kind: domain.KindTenantUser, TenantID: "t1"}
	resp, err := svc.Challenge(ctx, sub, "", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = svc.Verify(ctx, resp.ChallengeID, notifier.last())
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestVerifyAcceptsTOTPForEnrolledUser(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc, _ := newMFAService(st)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "tenancy", AccountName: "user@example.com"})
	require.NoError(t, err)
	require.NoError(t, st.Directory().SetTOTPEnrollment(ctx, domain.TOTPEnrollment{
		UserID: "u1",
		Secret: key.Secret(),
	}))

	sub := domain.Subject{ActorID: "u1", Email: "user@example.com", Kind: domain.KindTenantUser, TenantID: "t1"}
	resp, err := svc.Challenge(ctx, sub, "", "")
	require.NoError(t, err)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	verified, err := svc.Verify(ctx, resp.ChallengeID, code)
	require.NoError(t, err)
	require.Equal(t, "u1", verified.ActorID)
}
