// Package cache is the session fast path: a Redis-backed fingerprint index
// consulted before the database on validate and rotate. It is an
// availability optimization, never the source of truth. A miss or an
// unreachable Redis always falls back to the store.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when no record exists for the session id. Callers fall
// back to the database.
var ErrMiss = errors.New("cache: miss")

// Record is the cached view of one session: just enough to validate an
// access token's sid and to detect refresh fingerprint mismatches.
type Record struct {
	SessionID string    `json:"session_id"`
	ActorID   string    `json:"actor_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sessions is the fast-path store. Implementations must be safe for
// concurrent use.
type Sessions interface {
	// Put stores the record and indexes it under its actor.
	Put(ctx context.Context, rec Record, ttl time.Duration) error

	// Get returns the record for a session id, ErrMiss when absent or
	// expired.
	Get(ctx context.Context, sessionID string) (Record, error)

	// Delete removes one session record and its actor-index entry.
	Delete(ctx context.Context, sessionID, actorID string) error

	// DeleteAllForActor removes every cached session of an actor. Used on
	// reuse detection and single-session enforcement.
	DeleteAllForActor(ctx context.Context, actorID string) error
}
