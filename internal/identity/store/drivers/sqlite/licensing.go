package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
)

type allocationsRepo struct {
	db dbtx
}

func (r *allocationsRepo) GetByTenantAndType(ctx context.Context, tenantID, licenseType string) (domain.Allocation, error) {
	var a domain.Allocation
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, license_type, allocated, used, created_at, updated_at
			FROM license_allocations WHERE tenant_id = ? AND license_type = ?`,
		tenantID, licenseType,
	).Scan(&a.ID, &a.TenantID, &a.LicenseType, &a.Allocated, &a.Used, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Allocation{}, mapNotFound(err)
	}
	return a, nil
}

func (r *allocationsRepo) Create(ctx context.Context, a domain.Allocation) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO license_allocations (id, tenant_id, license_type, allocated, used, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.LicenseType, a.Allocated, a.Used, now, now,
	)
	return err
}

func (r *allocationsRepo) UpdateAllocated(ctx context.Context, id string, allocated int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE license_allocations SET allocated = ?, updated_at = ? WHERE id = ?`,
		allocated, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

type requestsRepo struct {
	db dbtx
}

const requestColumns = `id, tenant_id, license_type, direction, current_count,
	change_amount, new_total, reason, requester_id, status, rejection_reason,
	created_at, updated_at`

func (r *requestsRepo) Create(ctx context.Context, req domain.LicenseRequest) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO license_requests (`+requestColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.TenantID, req.LicenseType, req.Direction, req.CurrentCount,
		req.ChangeAmount, req.NewTotal, req.Reason, req.RequesterID, req.Status,
		mapStringNull(req.RejectionReason), now, now,
	)
	return err
}

func (r *requestsRepo) Get(ctx context.Context, id string) (domain.LicenseRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM license_requests WHERE id = ?`, id)
	return scanRequest(row)
}

func (r *requestsRepo) UpdateStatus(ctx context.Context, id string, status domain.RequestStatus, rejectionReason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE license_requests SET status = ?, rejection_reason = ?, updated_at = ? WHERE id = ?`,
		status, mapStringNull(rejectionReason), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *requestsRepo) List(ctx context.Context, tenantID string, status domain.RequestStatus, limit, offset int) ([]domain.LicenseRequest, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if tenantID != "" {
		where += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM license_requests`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM license_requests`+where+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.LicenseRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

func scanRequest(row rowScanner) (domain.LicenseRequest, error) {
	var (
		req             domain.LicenseRequest
		rejectionReason sql.NullString
	)
	err := row.Scan(
		&req.ID, &req.TenantID, &req.LicenseType, &req.Direction, &req.CurrentCount,
		&req.ChangeAmount, &req.NewTotal, &req.Reason, &req.RequesterID, &req.Status,
		&rejectionReason, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return domain.LicenseRequest{}, mapNotFound(err)
	}
	req.RejectionReason = mapNullString(rejectionReason)
	return req, nil
}

type approvalsRepo struct {
	db dbtx
}

const approvalColumns = `id, request_id, stage, decision, decider_id, comments, decided_at, created_at`

func (r *approvalsRepo) Create(ctx context.Context, a domain.Approval) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO license_approvals (`+approvalColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RequestID, a.Stage, a.Decision, mapStringNull(a.DeciderID),
		mapStringNull(a.Comments), mapOptionalTime(a.DecidedAt), createdAt.UTC(),
	)
	return err
}

func (r *approvalsRepo) ListByRequest(ctx context.Context, requestID string) ([]domain.Approval, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM license_approvals
			WHERE request_id = ? ORDER BY created_at ASC, id ASC`,
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *approvalsRepo) EarliestPending(ctx context.Context, requestID string) (domain.Approval, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM license_approvals
			WHERE request_id = ? AND decision = ?
			ORDER BY created_at ASC, id ASC LIMIT 1`,
		requestID, domain.DecisionPending,
	)
	return scanApproval(row)
}

func (r *approvalsRepo) RecordDecision(ctx context.Context, id string, decision domain.Decision, deciderID, comments string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE license_approvals SET decision = ?, decider_id = ?, comments = ?, decided_at = ?
			WHERE id = ? AND decision = ?`,
		decision, mapStringNull(deciderID), mapStringNull(comments), at.UTC(),
		id, domain.DecisionPending,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *approvalsRepo) CancelPending(ctx context.Context, requestID, comments string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE license_approvals SET decision = ?, comments = ?, decided_at = ?
			WHERE request_id = ? AND decision = ?`,
		domain.DecisionCancelled, mapStringNull(comments), time.Now().UTC(),
		requestID, domain.DecisionPending,
	)
	return err
}

func scanApproval(row rowScanner) (domain.Approval, error) {
	var (
		a         domain.Approval
		deciderID sql.NullString
		comments  sql.NullString
		decidedAt sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.RequestID, &a.Stage, &a.Decision, &deciderID, &comments, &decidedAt, &a.CreatedAt,
	)
	if err != nil {
		return domain.Approval{}, mapNotFound(err)
	}
	a.DeciderID = mapNullString(deciderID)
	a.Comments = mapNullString(comments)
	a.DecidedAt = mapNullTimePtr(decidedAt)
	return a, nil
}
