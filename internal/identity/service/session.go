package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/cache"
	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/metrics"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/pkg/cryptox"
	"github.com/fluxgate/tenancy/pkg/idx"
	"github.com/fluxgate/tenancy/pkg/jwtx"
	"github.com/fluxgate/tenancy/pkg/slogx"
)

// DefaultRefreshTTL is the default refresh-session lifetime.
const DefaultRefreshTTL = 30 * 24 * time.Hour

var (
	ErrInvalidSession = errors.New("invalid_session")
	ErrRevokedSession = errors.New("revoked_session")
	ErrExpiredSession = errors.New("expired_session")

	// ErrTokenReuse signals a security incident: the fast-path cache holds a
	// different fingerprint for the presented session, meaning a rotated-out
	// secret is being replayed. All of the actor's sessions are revoked as a
	// side effect before this is returned.
	ErrTokenReuse = errors.New("token_reuse_detected")

	ErrForbidden = errors.New("forbidden")
)

// TokenPair is what a completed login or rotation hands back to the client.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    time.Duration `json:"expires_in"`
	SessionID    string        `json:"session_id"`
}

// SessionService issues, rotates, revokes and validates refresh-backed
// sessions, and signs the access tokens that ride on them.
//
// Cache is optional. Every cache failure is treated as a miss; the database
// stays authoritative.
type SessionService struct {
	Store      store.Store
	Cache      cache.Sessions
	Signer     jwtx.Signer
	Audit      *AuditDispatcher
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (s *SessionService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *SessionService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return DefaultRefreshTTL
}

// Issue creates a fresh session for the subject. Single-session policy:
// every prior active session of the actor is revoked in the same transaction
// that inserts the new row.
func (s *SessionService) Issue(ctx context.Context, sub domain.Subject, amr []string, ip, userAgent string) (*TokenPair, error) {
	now := time.Now()

	rawSecret, err := cryptox.GenerateToken(cryptox.TokenSize384)
	if err != nil {
		return nil, err
	}

	session := domain.Session{
		ID:        idx.New().String(),
		ActorID:   sub.ActorID,
		ActorKind: sub.Kind,
		TenantID:  sub.TenantID,
		Email:     sub.Email,
		TokenHash: cryptox.FingerprintToken(rawSecret),
		IP:        ip,
		UserAgent: userAgent,
		ExpiresAt: now.Add(s.refreshTTL()),
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Sessions().RevokeAllForActor(ctx, sub.ActorID, ""); err != nil {
			return err
		}
		return tx.Sessions().Create(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.mirrorIssue(ctx, session)

	accessToken, err := s.signAccess(sub, session.ID, amr, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rawSecret,
		ExpiresIn:    s.accessTTL(),
		SessionID:    session.ID,
	}, nil
}

// Rotate exchanges a valid refresh secret for a fresh session. The old row
// is revoked and linked to its successor in one transaction. When the cache
// is enabled, a fingerprint mismatch for the presented session id is treated
// as token reuse: all the actor's sessions are revoked and the call fails.
func (s *SessionService) Rotate(ctx context.Context, rawSecret, ip, userAgent string) (*TokenPair, error) {
	now := time.Now()
	fp := cryptox.FingerprintToken(rawSecret)

	old, err := s.Store.Sessions().GetByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	if old.Revoked {
		return nil, ErrRevokedSession
	}
	if now.After(old.ExpiresAt) {
		return nil, ErrExpiredSession
	}

	// Reuse detection against the fast path: a cached record whose hash
	// differs from the presented one means a newer secret exists for this
	// session and the presented one was stolen or replayed.
	if s.Cache != nil {
		if rec, err := s.Cache.Get(ctx, old.ID); err == nil && rec.TokenHash != fp {
			return nil, s.handleTokenReuse(ctx, old)
		}
	}

	newRaw, err := cryptox.GenerateToken(cryptox.TokenSize384)
	if err != nil {
		return nil, err
	}

	next := domain.Session{
		ID:        idx.New().String(),
		ActorID:   old.ActorID,
		ActorKind: old.ActorKind,
		TenantID:  old.TenantID,
		Email:     old.Email,
		TokenHash: cryptox.FingerprintToken(newRaw),
		IP:        ip,
		UserAgent: userAgent,
		ExpiresAt: now.Add(s.refreshTTL()),
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// The conditional revoke is the race guard: of two rotations
		// presenting the same secret, only one flips the row. The loser
		// matched zero rows and aborts without inserting.
		if err := tx.Sessions().RevokeActive(ctx, old.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRevokedSession
			}
			return err
		}
		if err := tx.Sessions().SetReplacedBy(ctx, old.ID, next.ID); err != nil {
			return err
		}
		return tx.Sessions().Create(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	s.mirrorRotate(ctx, old, next)

	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: old.TenantID, ActorID: old.ActorID, ActorKind: string(old.ActorKind),
		Action:   domain.AuditSessionRotated,
		Resource: next.ID,
	})
	metrics.SessionRotationsTotal.Inc()

	sub := domain.Subject{
		ActorID:  old.ActorID,
		Email:    old.Email,
		Kind:     old.ActorKind,
		TenantID: old.TenantID,
	}
	accessToken, err := s.signAccess(sub, next.ID, []string{jwtx.AMRPassword}, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRaw,
		ExpiresIn:    s.accessTTL(),
		SessionID:    next.ID,
	}, nil
}

// Revoke revokes one session. Allowed for the owning actor or an admin;
// revoking an already-revoked session is a no-op success.
func (s *SessionService) Revoke(ctx context.Context, sessionID string, requestedBy domain.Subject) error {
	session, err := s.Store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.ActorID != requestedBy.ActorID && !requestedBy.IsAdmin() {
		return ErrForbidden
	}

	if err := s.Store.Sessions().Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.cacheDelete(ctx, sessionID, session.ActorID)

	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: session.TenantID, ActorID: requestedBy.ActorID, ActorKind: string(requestedBy.Kind),
		Action:   domain.AuditSessionRevoked,
		Resource: sessionID,
	})
	return nil
}

// RevokeBySecret is the logout path: revoke whichever session owns the
// presented refresh secret. Unknown secrets are a no-op success.
func (s *SessionService) RevokeBySecret(ctx context.Context, rawSecret string) error {
	fp := cryptox.FingerprintToken(rawSecret)
	session, err := s.Store.Sessions().GetByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.Store.Sessions().Revoke(ctx, session.ID); err != nil {
		return err
	}
	s.cacheDelete(ctx, session.ID, session.ActorID)

	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: session.TenantID, ActorID: session.ActorID, ActorKind: string(session.ActorKind),
		Action:   domain.AuditSessionRevoked,
		Resource: session.ID,
	})
	return nil
}

// RevokeAll revokes every active session for the actor except the one
// optionally named by keepSessionID.
func (s *SessionService) RevokeAll(ctx context.Context, actorID, keepSessionID string) error {
	if err := s.Store.Sessions().RevokeAllForActor(ctx, actorID, keepSessionID); err != nil {
		return err
	}
	s.cacheDeleteAll(ctx, actorID)
	return nil
}

// Validate reports whether the session exists, is not revoked, and has not
// expired. The cache is consulted first; a miss or cache error falls back to
// the database.
func (s *SessionService) Validate(ctx context.Context, sessionID string) (bool, error) {
	now := time.Now()

	if s.Cache != nil {
		rec, err := s.Cache.Get(ctx, sessionID)
		if err == nil {
			return now.Before(rec.ExpiresAt), nil
		}
		// Anything else, including an unreachable Redis, is a miss.
	}

	session, err := s.Store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return session.Active(now), nil
}

// List returns an actor's sessions newest-first with the total count.
func (s *SessionService) List(ctx context.Context, actorID string, requestedBy domain.Subject, limit, offset int) ([]domain.Session, int, error) {
	if actorID != requestedBy.ActorID && !requestedBy.IsAdmin() {
		return nil, 0, ErrForbidden
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.Store.Sessions().ListByActor(ctx, actorID, limit, offset)
}

func (s *SessionService) handleTokenReuse(ctx context.Context, session domain.Session) error {
	l := slogx.FromContext(ctx)
	l.Warn("refresh token reuse detected, revoking all actor sessions",
		slog.String("session_id", session.ID),
		slog.String("actor_id", session.ActorID),
	)

	if err := s.Store.Sessions().RevokeAllForActor(ctx, session.ActorID, ""); err != nil {
		l.Error("failed to revoke sessions after reuse detection", slog.Any("error", err))
	}
	s.cacheDeleteAll(ctx, session.ActorID)

	s.Audit.Emit(ctx, domain.AuditEvent{
		TenantID: session.TenantID, ActorID: session.ActorID, ActorKind: string(session.ActorKind),
		Action:   domain.AuditTokenReuseDetected,
		Resource: session.ID,
	})
	metrics.TokenReuseTotal.Inc()

	return ErrTokenReuse
}

func (s *SessionService) signAccess(sub domain.Subject, sessionID string, amr []string, now time.Time) (string, error) {
	claims := jwtx.NewAccessClaims(
		sub.ActorID,
		sessionID,
		string(sub.Kind),
		sub.TenantID,
		sub.RoleID,
		sub.Email,
		amr,
		s.accessTTL(),
		s.Issuer,
		now,
	)
	return s.Signer.Sign(claims)
}

// Cache mirroring is fire and forget: the database is authoritative, so a
// failed mirror is logged and ignored.

func (s *SessionService) mirrorIssue(ctx context.Context, session domain.Session) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.DeleteAllForActor(ctx, session.ActorID); err != nil {
		slogx.FromContext(ctx).Warn("cache purge failed", slog.Any("error", err))
	}
	s.cachePut(ctx, session)
}

func (s *SessionService) mirrorRotate(ctx context.Context, old, next domain.Session) {
	if s.Cache == nil {
		return
	}
	s.cacheDelete(ctx, old.ID, old.ActorID)
	s.cachePut(ctx, next)
}

func (s *SessionService) cachePut(ctx context.Context, session domain.Session) {
	if s.Cache == nil {
		return
	}
	rec := cache.Record{
		SessionID: session.ID,
		ActorID:   session.ActorID,
		TokenHash: session.TokenHash,
		ExpiresAt: session.ExpiresAt,
	}
	if err := s.Cache.Put(ctx, rec, time.Until(session.ExpiresAt)); err != nil {
		slogx.FromContext(ctx).Warn("cache put failed", slog.Any("error", err))
	}
}

func (s *SessionService) cacheDelete(ctx context.Context, sessionID, actorID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, sessionID, actorID); err != nil {
		slogx.FromContext(ctx).Warn("cache delete failed", slog.Any("error", err))
	}
}

func (s *SessionService) cacheDeleteAll(ctx context.Context, actorID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.DeleteAllForActor(ctx, actorID); err != nil {
		slogx.FromContext(ctx).Warn("cache purge failed", slog.Any("error", err))
	}
}
