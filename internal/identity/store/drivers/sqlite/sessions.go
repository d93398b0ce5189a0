package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, actor_id, actor_kind, tenant_id, email, token_hash,
	revoked, replaced_by, ip, user_agent, expires_at, created_at, updated_at`

func (r *sessionsRepo) Create(ctx context.Context, s domain.Session) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, actor_id, actor_kind, tenant_id, email, token_hash,
			ip, user_agent, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ActorID, s.ActorKind, mapStringNull(s.TenantID), s.Email, s.TokenHash,
		s.IP, s.UserAgent, s.ExpiresAt.UTC(), now, now,
	)
	return err
}

func (r *sessionsRepo) GetByHash(ctx context.Context, hash string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, hash)
	return scanSession(row)
}

func (r *sessionsRepo) GetByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (r *sessionsRepo) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}

func (r *sessionsRepo) RevokeActive(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE, updated_at = ? WHERE id = ? AND revoked = FALSE`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *sessionsRepo) SetReplacedBy(ctx context.Context, id, replacedByID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET replaced_by = ?, updated_at = ? WHERE id = ?`,
		replacedByID, time.Now().UTC(), id,
	)
	return err
}

func (r *sessionsRepo) RevokeAllForActor(ctx context.Context, actorID, keepID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE, updated_at = ?
			WHERE actor_id = ? AND revoked = FALSE AND id != ?`,
		time.Now().UTC(), actorID, keepID,
	)
	return err
}

func (r *sessionsRepo) ListByActor(ctx context.Context, actorID string, limit, offset int) ([]domain.Session, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE actor_id = ?`, actorID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
			WHERE actor_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		actorID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, olderThan.UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s          domain.Session
		tenantID   sql.NullString
		replacedBy sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.ActorID, &s.ActorKind, &tenantID, &s.Email, &s.TokenHash,
		&s.Revoked, &replacedBy, &s.IP, &s.UserAgent, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.TenantID = mapNullString(tenantID)
	s.ReplacedBy = mapNullString(replacedBy)
	return s, nil
}
