package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
)

type auditEventsRepo struct {
	db dbtx
}

func (r *auditEventsRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	meta := []byte("{}")
	if len(e.Meta) > 0 {
		var err error
		meta, err = json.Marshal(e.Meta)
		if err != nil {
			return err
		}
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, tenant_id, actor_id, actor_kind, action, resource, meta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, mapStringNull(e.TenantID), mapStringNull(e.ActorID), mapStringNull(e.ActorKind),
		e.Action, mapStringNull(e.Resource), string(meta), createdAt.UTC(),
	)
	return err
}

func (r *auditEventsRepo) List(ctx context.Context, tenantID string, limit, offset int) ([]domain.AuditEvent, error) {
	query := `SELECT id, tenant_id, actor_id, actor_kind, action, resource, meta, created_at
		FROM audit_events`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e         domain.AuditEvent
			tenant    sql.NullString
			actorID   sql.NullString
			actorKind sql.NullString
			resource  sql.NullString
			meta      string
		)
		if err := rows.Scan(&e.ID, &tenant, &actorID, &actorKind, &e.Action, &resource, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TenantID = mapNullString(tenant)
		e.ActorID = mapNullString(actorID)
		e.ActorKind = mapNullString(actorKind)
		e.Resource = mapNullString(resource)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
