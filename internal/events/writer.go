package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

// EntityCase is the entity kind recorded for case lifecycle entries.
const EntityCase = "case"

// Writer appends audit entries inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, action domain.AuditAction, entityKind, entityID, actorID string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(ts,entity_kind,entity_id,action,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, entityKind, entityID, string(action), actorID, string(data))
	return err
}

// AppendCase records an audit entry against a case.
func (w Writer) AppendCase(ctx context.Context, tx *sqlx.Tx, action domain.AuditAction, caseID, actorID string, payload Payload) error {
	return w.Append(ctx, tx, action, EntityCase, caseID, actorID, payload)
}
