package jwtx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	kp, err := NewEdDSAKeypair("test-issuer")
	require.NoError(t, err)

	claims := NewAccessClaims(
		"actor-1", "session-1", "tenant_user", "tenant-1", "role-1",
		"alice@example.com",
		[]string{AMRPassword},
		time.Minute,
		"test-issuer",
		time.Now(),
	)

	token, err := kp.Sign(claims)
	require.NoError(t, err)

	parsed, err := kp.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "actor-1", parsed.Subject)
	require.Equal(t, "session-1", parsed.SID)
	require.Equal(t, "tenant-1", parsed.TenantID)
	require.Equal(t, []string{AMRPassword}, parsed.AMR)
}

func TestVerifyRejectsExpired(t *testing.T) {
	t.Parallel()

	kp, err := NewEdDSAKeypair("test-issuer")
	require.NoError(t, err)

	claims := NewAccessClaims(
		"actor-1", "session-1", "superadmin", "", "", "root@example.com",
		[]string{AMRPassword},
		time.Minute,
		"test-issuer",
		time.Now().Add(-time.Hour),
	)

	token, err := kp.Sign(claims)
	require.NoError(t, err)

	_, err = kp.Verify(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsForeignKeyAndIssuer(t *testing.T) {
	t.Parallel()

	kp, err := NewEdDSAKeypair("test-issuer")
	require.NoError(t, err)
	other, err := NewEdDSAKeypair("test-issuer")
	require.NoError(t, err)

	claims := NewAccessClaims(
		"actor-1", "session-1", "superadmin", "", "", "root@example.com",
		[]string{AMRPassword},
		time.Minute,
		"test-issuer",
		time.Now(),
	)

	token, err := kp.Sign(claims)
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewAccessClaims(
		"actor-1", "session-1", "superadmin", "", "", "root@example.com",
		[]string{AMRPassword},
		time.Minute,
		"someone-else",
		time.Now(),
	)
	token, err = kp.Sign(wrongIssuer)
	require.NoError(t, err)

	_, err = kp.Verify(token)
	require.ErrorIs(t, err, ErrIssuer)
}
