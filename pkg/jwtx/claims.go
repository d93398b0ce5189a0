package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is the default lifetime for access tokens.
// Short-lived; session validity is checked per request via the sid claim.
const DefaultAccessTokenTTL = 15 * time.Minute

// Authentication Method Reference values recorded in the amr claim.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRMFA      = "mfa"
)

// Claims are the access-token claims. The SID claim carries the refresh
// session id so downstream middleware can check session validity on every
// request.
type Claims struct {
	jwt.RegisteredClaims

	// SID is the session id of the refresh session backing this token.
	SID string `json:"sid"`

	// Kind identifies the actor kind ("superadmin", "tenant_user",
	// "department_user").
	Kind string `json:"kind,omitempty"`

	// TenantID is empty for platform actors.
	TenantID string `json:"tenant_id,omitempty"`

	// RoleID of the actor's (primary) role, when one is resolved.
	RoleID string `json:"role_id,omitempty"`

	// AMR lists the authentication methods used, e.g. ["pwd","otp"].
	AMR []string `json:"amr,omitempty"`

	Email string `json:"email,omitempty"`
}

// NewAccessClaims builds minimally-correct claims for an authenticated
// subject.
func NewAccessClaims(
	subject, sid, kind, tenantID, roleID, email string,
	amr []string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        newJTI(),
		},
		SID:      sid,
		Kind:     kind,
		TenantID: tenantID,
		RoleID:   roleID,
		AMR:      amr,
		Email:    email,
	}
}

// newJTI returns a URL-safe random identifier for the "jti" claim.
func newJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
