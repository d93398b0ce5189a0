package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
)

type challengesRepo struct {
	db dbtx
}

const challengeColumns = `id, actor_id, actor_kind, tenant_id, email, role_id,
	code_hash, attempts, ip, user_agent, expires_at, created_at`

func (r *challengesRepo) Create(ctx context.Context, c domain.Challenge) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mfa_challenges (`+challengeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ActorID, c.ActorKind, mapStringNull(c.TenantID), c.Email, mapStringNull(c.RoleID),
		c.CodeHash, c.Attempts, c.IP, c.UserAgent, c.ExpiresAt.UTC(), createdAt.UTC(),
	)
	return err
}

func (r *challengesRepo) Get(ctx context.Context, id string) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM mfa_challenges WHERE id = ?`, id)
	return scanChallenge(row)
}

func (r *challengesRepo) IncrementAttempts(ctx context.Context, id string) (domain.Challenge, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = ?`, id,
	); err != nil {
		return domain.Challenge{}, err
	}
	return r.Get(ctx, id)
}

func (r *challengesRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE id = ?`, id)
	return err
}

func (r *challengesRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_challenges WHERE expires_at < ?`, time.Now().UTC())
	return err
}

func scanChallenge(row rowScanner) (domain.Challenge, error) {
	var (
		c        domain.Challenge
		tenantID sql.NullString
		roleID   sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.ActorID, &c.ActorKind, &tenantID, &c.Email, &roleID,
		&c.CodeHash, &c.Attempts, &c.IP, &c.UserAgent, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	c.TenantID = mapNullString(tenantID)
	c.RoleID = mapNullString(roleID)
	return c, nil
}
