package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps transport failures so callers can distinguish "Redis
// is down" from a plain miss.
var ErrUnavailable = errors.New("cache: redis unavailable")

// Redis implements Sessions on a go-redis client. Keys:
//
//	session:<sessionID>        JSON Record, TTL = session lifetime
//	user_sessions:<actorID>    set of the actor's session ids
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func sessionKey(sessionID string) string { return "session:" + sessionID }
func actorKey(actorID string) string     { return "user_sessions:" + actorID }

func (r *Redis) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(rec.SessionID), data, ttl)
		pipe.SAdd(ctx, actorKey(rec.ActorID), rec.SessionID)
		pipe.Expire(ctx, actorKey(rec.ActorID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, sessionID string) (Record, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrMiss
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		_ = r.Delete(ctx, sessionID, rec.ActorID)
		return Record{}, ErrMiss
	}
	return rec, nil
}

func (r *Redis) Delete(ctx context.Context, sessionID, actorID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sessionID))
		pipe.SRem(ctx, actorKey(actorID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) DeleteAllForActor(ctx context.Context, actorID string) error {
	ids, err := r.client.SMembers(ctx, actorKey(actorID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, actorKey(actorID))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
