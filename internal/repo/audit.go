package repo

import (
	"context"

	"caseflow/internal/domain"
)

func (r Repo) ListAudit(ctx context.Context, entityKind, entityID string) ([]domain.AuditEntry, error) {
	var res []domain.AuditEntry
	err := r.DB.SelectContext(ctx, &res, `SELECT id,ts,entity_kind,entity_id,action,actor_id,payload_json
FROM audit_log WHERE entity_kind=? AND entity_id=? ORDER BY id`, entityKind, entityID)
	return res, err
}

func (r Repo) ListAuditByAction(ctx context.Context, action domain.AuditAction) ([]domain.AuditEntry, error) {
	var res []domain.AuditEntry
	err := r.DB.SelectContext(ctx, &res, `SELECT id,ts,entity_kind,entity_id,action,actor_id,payload_json
FROM audit_log WHERE action=? ORDER BY id`, string(action))
	return res, err
}
