package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/store"
)

// actorsRepo spans the three credential tables. Per-kind queries are built
// from a small table map rather than one polymorphic table so each
// population keeps its own schema and unique-email constraint.
type actorsRepo struct {
	db dbtx
}

func actorTable(kind domain.ActorKind) (string, error) {
	switch kind {
	case domain.KindSuperAdmin:
		return "super_admins", nil
	case domain.KindTenantUser:
		return "tenant_users", nil
	case domain.KindDepartmentUser:
		return "department_users", nil
	default:
		return "", fmt.Errorf("unknown actor kind %q", kind)
	}
}

func (r *actorsRepo) Create(ctx context.Context, a domain.Actor) error {
	now := time.Now().UTC()
	status := a.Status
	if status == "" {
		status = domain.StatusActive
	}
	email := strings.ToLower(a.Email)

	switch a.Kind {
	case domain.KindSuperAdmin:
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO super_admins (id, email, password_hash, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, email, a.PasswordHash, status, now, now,
		)
		return err
	case domain.KindTenantUser:
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO tenant_users (id, tenant_id, email, password_hash, status, role_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.TenantID, email, a.PasswordHash, status, mapStringNull(a.RoleID), now, now,
		)
		return err
	case domain.KindDepartmentUser:
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO department_users (id, tenant_id, department, email, password_hash, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.TenantID, a.Department, email, a.PasswordHash, status, now, now,
		)
		return err
	default:
		return fmt.Errorf("unknown actor kind %q", a.Kind)
	}
}

func (r *actorsRepo) AssignDepartmentRole(ctx context.Context, userID, roleID string, primary bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO department_user_roles (user_id, role_id, is_primary, created_at)
			VALUES (?, ?, ?, ?)`,
		userID, roleID, primary, time.Now().UTC(),
	)
	return err
}

func (r *actorsRepo) FindByEmail(ctx context.Context, kind domain.ActorKind, email string) (domain.Actor, error) {
	return r.getByColumn(ctx, kind, "email", strings.ToLower(email))
}

func (r *actorsRepo) GetByID(ctx context.Context, kind domain.ActorKind, id string) (domain.Actor, error) {
	return r.getByColumn(ctx, kind, "id", id)
}

func (r *actorsRepo) getByColumn(ctx context.Context, kind domain.ActorKind, column, value string) (domain.Actor, error) {
	table, err := actorTable(kind)
	if err != nil {
		return domain.Actor{}, err
	}

	a := domain.Actor{Kind: kind}
	var (
		tenantID sql.NullString
		roleID   sql.NullString
		lockedAt sql.NullTime
	)

	var query string
	switch kind {
	case domain.KindSuperAdmin:
		query = `SELECT id, email, password_hash, status, failed_attempts, locked_at, created_at, updated_at
			FROM super_admins WHERE ` + column + ` = ?`
		err = r.db.QueryRowContext(ctx, query, value).Scan(
			&a.ID, &a.Email, &a.PasswordHash, &a.Status, &a.FailedAttempts, &lockedAt, &a.CreatedAt, &a.UpdatedAt,
		)
	case domain.KindTenantUser:
		query = `SELECT id, tenant_id, email, password_hash, status, role_id, failed_attempts, locked_at, created_at, updated_at
			FROM tenant_users WHERE ` + column + ` = ?`
		err = r.db.QueryRowContext(ctx, query, value).Scan(
			&a.ID, &tenantID, &a.Email, &a.PasswordHash, &a.Status, &roleID, &a.FailedAttempts, &lockedAt, &a.CreatedAt, &a.UpdatedAt,
		)
	case domain.KindDepartmentUser:
		query = `SELECT id, tenant_id, email, password_hash, status, failed_attempts, locked_at, created_at, updated_at
			FROM ` + table + ` WHERE ` + column + ` = ?`
		err = r.db.QueryRowContext(ctx, query, value).Scan(
			&a.ID, &tenantID, &a.Email, &a.PasswordHash, &a.Status, &a.FailedAttempts, &lockedAt, &a.CreatedAt, &a.UpdatedAt,
		)
	}
	if err != nil {
		return domain.Actor{}, mapNotFound(err)
	}

	a.TenantID = mapNullString(tenantID)
	a.RoleID = mapNullString(roleID)
	a.LockedAt = mapNullTimePtr(lockedAt)
	return a, nil
}

func (r *actorsRepo) ResetLockout(ctx context.Context, kind domain.ActorKind, id string) error {
	table, err := actorTable(kind)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET failed_attempts = 0, locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *actorsRepo) IncrementFailedAttempts(ctx context.Context, kind domain.ActorKind, id string) (int, error) {
	table, err := actorTable(kind)
	if err != nil {
		return 0, err
	}

	var count int
	err = r.db.QueryRowContext(ctx,
		`UPDATE `+table+` SET failed_attempts = failed_attempts + 1, updated_at = ?
			WHERE id = ? RETURNING failed_attempts`,
		time.Now().UTC(), id,
	).Scan(&count)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return count, nil
}

func (r *actorsRepo) Deactivate(ctx context.Context, kind domain.ActorKind, id string, at time.Time) error {
	table, err := actorTable(kind)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET status = ?, locked_at = ?, updated_at = ? WHERE id = ?`,
		domain.StatusDeactivated, at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *actorsRepo) PrimaryRoleID(ctx context.Context, departmentUserID string) (string, error) {
	var roleID string
	err := r.db.QueryRowContext(ctx,
		`SELECT role_id FROM department_user_roles WHERE user_id = ? AND is_primary = TRUE LIMIT 1`,
		departmentUserID,
	).Scan(&roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return roleID, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
