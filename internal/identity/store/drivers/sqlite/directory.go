package sqlite

import (
	"context"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
)

type directoryRepo struct {
	db dbtx
}

func (r *directoryRepo) CreateTenant(ctx context.Context, t domain.Tenant) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, mfa_enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.MFAEnabled, now, now,
	)
	return err
}

func (r *directoryRepo) CreateRole(ctx context.Context, role domain.Role) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)`,
		role.ID, role.TenantID, role.Name, time.Now().UTC(),
	)
	return err
}

func (r *directoryRepo) SetMFAOverride(ctx context.Context, o domain.MFAOverride) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_mfa_overrides (user_id, required, created_at) VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET required = excluded.required`,
		o.UserID, o.Required, time.Now().UTC(),
	)
	return err
}

func (r *directoryRepo) SetRoleMFAPolicy(ctx context.Context, p domain.RoleMFAPolicy) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO role_mfa_policies (tenant_id, role_id, required, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (tenant_id, role_id) DO UPDATE SET required = excluded.required`,
		p.TenantID, p.RoleID, p.Required, time.Now().UTC(),
	)
	return err
}

func (r *directoryRepo) SetTOTPEnrollment(ctx context.Context, e domain.TOTPEnrollment) error {
	enabledAt := e.EnabledAt
	if enabledAt.IsZero() {
		enabledAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO totp_enrollments (user_id, secret, enabled_at) VALUES (?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET secret = excluded.secret`,
		e.UserID, e.Secret, enabledAt.UTC(),
	)
	return err
}

func (r *directoryRepo) CreateApprovalLevel(ctx context.Context, l domain.ApprovalLevel) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO approval_levels (id, tenant_id, step_order, stage, created_at)
			VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.StepOrder, l.Stage, time.Now().UTC(),
	)
	return err
}

func (r *directoryRepo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, mfa_enabled, created_at, updated_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.MFAEnabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, mapNotFound(err)
	}
	return t, nil
}

func (r *directoryRepo) GetMFAOverride(ctx context.Context, userID string) (domain.MFAOverride, error) {
	var o domain.MFAOverride
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, required, created_at FROM user_mfa_overrides WHERE user_id = ?`, userID,
	).Scan(&o.UserID, &o.Required, &o.CreatedAt)
	if err != nil {
		return domain.MFAOverride{}, mapNotFound(err)
	}
	return o, nil
}

func (r *directoryRepo) GetRoleMFAPolicy(ctx context.Context, tenantID, roleID string) (domain.RoleMFAPolicy, error) {
	var p domain.RoleMFAPolicy
	err := r.db.QueryRowContext(ctx,
		`SELECT tenant_id, role_id, required, created_at FROM role_mfa_policies
			WHERE tenant_id = ? AND role_id = ?`,
		tenantID, roleID,
	).Scan(&p.TenantID, &p.RoleID, &p.Required, &p.CreatedAt)
	if err != nil {
		return domain.RoleMFAPolicy{}, mapNotFound(err)
	}
	return p, nil
}

func (r *directoryRepo) GetTOTPEnrollment(ctx context.Context, userID string) (domain.TOTPEnrollment, error) {
	var e domain.TOTPEnrollment
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, secret, enabled_at FROM totp_enrollments WHERE user_id = ?`, userID,
	).Scan(&e.UserID, &e.Secret, &e.EnabledAt)
	if err != nil {
		return domain.TOTPEnrollment{}, mapNotFound(err)
	}
	return e, nil
}

func (r *directoryRepo) IsInStage(ctx context.Context, actorID, stage string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM department_users
			WHERE id = ? AND LOWER(department) = LOWER(?)`,
		actorID, stage,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *directoryRepo) ApprovalLevels(ctx context.Context, tenantID string) ([]domain.ApprovalLevel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, step_order, stage, created_at FROM approval_levels
			WHERE tenant_id = ? ORDER BY step_order ASC`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ApprovalLevel
	for rows.Next() {
		var l domain.ApprovalLevel
		if err := rows.Scan(&l.ID, &l.TenantID, &l.StepOrder, &l.Stage, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
