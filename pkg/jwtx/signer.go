package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("jwtx: invalid token")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
)

// Signer signs access-token claims. Verifier checks signatures and standard
// claims on presented tokens.
type Signer interface {
	Sign(claims Claims) (string, error)
}

type Verifier interface {
	Verify(token string) (*Claims, error)
}

// EdDSAKeypair signs and verifies with an in-process Ed25519 key. Keys are
// ephemeral: tokens do not outlive a deploy, which is fine for TTLs this
// short.
type EdDSAKeypair struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	issuer  string
}

// NewEdDSAKeypair generates a fresh Ed25519 keypair for the given issuer.
func NewEdDSAKeypair(issuer string) (*EdDSAKeypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &EdDSAKeypair{private: priv, public: pub, issuer: issuer}, nil
}

func (k *EdDSAKeypair) Sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(k.private)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (k *EdDSAKeypair) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return k.public, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if k.issuer != "" && claims.Issuer != k.issuer {
		return nil, ErrIssuer
	}
	return claims, nil
}
