package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

func (r Repo) InsertMessageTx(ctx context.Context, tx *sqlx.Tx, m domain.Message) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO messages(id,case_id,author_id,author_role,body,immutable,created_at)
VALUES (:id,:case_id,:author_id,:author_role,:body,:immutable,:created_at)`, m)
	return err
}

func (r Repo) InsertAttachmentTx(ctx context.Context, tx *sqlx.Tx, a domain.Attachment) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO attachments(id,case_id,message_id,file_name,mime_type,size_bytes,storage_key,uploaded_by,immutable,created_at)
VALUES (:id,:case_id,:message_id,:file_name,:mime_type,:size_bytes,:storage_key,:uploaded_by,:immutable,:created_at)`, a)
	return err
}

func (r Repo) ListMessages(ctx context.Context, caseID string) ([]domain.Message, error) {
	var res []domain.Message
	err := r.DB.SelectContext(ctx, &res, `SELECT id,case_id,author_id,author_role,body,immutable,created_at FROM messages WHERE case_id=? ORDER BY created_at, id`, caseID)
	return res, err
}

func (r Repo) ListAttachments(ctx context.Context, caseID string) ([]domain.Attachment, error) {
	var res []domain.Attachment
	err := r.DB.SelectContext(ctx, &res, `SELECT id,case_id,message_id,file_name,mime_type,size_bytes,storage_key,uploaded_by,immutable,created_at
FROM attachments WHERE case_id=? ORDER BY created_at, id`, caseID)
	return res, err
}

func (r Repo) AttachmentMimeTypesTx(ctx context.Context, tx *sqlx.Tx, caseID string) ([]string, error) {
	var res []string
	err := tx.SelectContext(ctx, &res, `SELECT mime_type FROM attachments WHERE case_id=? ORDER BY created_at, id`, caseID)
	return res, err
}

// FreezeConversationTx marks the case's messages and attachments immutable.
// Rows already frozen are not touched; the counts cover newly frozen rows only.
func (r Repo) FreezeConversationTx(ctx context.Context, tx *sqlx.Tx, caseID string) (messages, attachments int64, err error) {
	res, err := tx.ExecContext(ctx, `UPDATE messages SET immutable=1 WHERE case_id=? AND immutable=0`, caseID)
	if err != nil {
		return 0, 0, err
	}
	if messages, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	res, err = tx.ExecContext(ctx, `UPDATE attachments SET immutable=1 WHERE case_id=? AND immutable=0`, caseID)
	if err != nil {
		return 0, 0, err
	}
	if attachments, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	return messages, attachments, nil
}
