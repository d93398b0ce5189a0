package sqlite

import (
	"context"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
)

type loginAttemptsRepo struct {
	db dbtx
}

func (r *loginAttemptsRepo) Create(ctx context.Context, a domain.LoginAttempt) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_attempts (id, actor_id, actor_kind, email, ip, user_agent, success, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, mapStringNull(a.ActorID), a.ActorKind, a.Email, a.IP, a.UserAgent,
		a.Success, mapStringNull(a.Reason), createdAt.UTC(),
	)
	return err
}
