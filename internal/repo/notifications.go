package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

const notificationColumns = `id,case_id,recipient_type,recipient_track_number,recipient_staff_id,event_type,title,body,dedupe_key,created_at,read_at`

func (r Repo) DedupeKeyExistsTx(ctx context.Context, tx *sqlx.Tx, key string) (bool, error) {
	var n int
	err := get(ctx, tx, &n, `SELECT 1 FROM notifications WHERE dedupe_key=?`, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// InsertNotificationTx reports false when a row with the same dedupe key already exists.
func (r Repo) InsertNotificationTx(ctx context.Context, tx *sqlx.Tx, n domain.Notification) (bool, error) {
	return affected(tx.NamedExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES
(:id,:case_id,:recipient_type,:recipient_track_number,:recipient_staff_id,:event_type,:title,:body,:dedupe_key,:created_at,:read_at)
ON CONFLICT(dedupe_key) DO NOTHING`, n))
}

type NotificationFilters struct {
	StaffID     string
	TrackNumber string
	CaseID      string
	UnreadOnly  bool
	Limit       int
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	var (
		clauses []string
		args    []any
	)
	if f.StaffID != "" {
		clauses = append(clauses, "recipient_type='STAFF' AND recipient_staff_id=?")
		args = append(args, f.StaffID)
	}
	if f.TrackNumber != "" {
		clauses = append(clauses, "recipient_type='CLIENT' AND recipient_track_number=?")
		args = append(args, f.TrackNumber)
	}
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.UnreadOnly {
		clauses = append(clauses, "read_at IS NULL")
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	var res []domain.Notification
	err := r.DB.SelectContext(ctx, &res, query, args...)
	return res, err
}

// MarkNotificationsReadTx stamps every unread notification of one case side.
func (r Repo) MarkNotificationsReadTx(ctx context.Context, tx *sqlx.Tx, caseID string, side domain.RecipientType, recipient, now string) (int64, error) {
	var query string
	switch side {
	case domain.RecipientClient:
		query = `UPDATE notifications SET read_at=? WHERE case_id=? AND recipient_type='CLIENT' AND recipient_track_number=? AND read_at IS NULL`
	case domain.RecipientStaff:
		query = `UPDATE notifications SET read_at=? WHERE case_id=? AND recipient_type='STAFF' AND recipient_staff_id=? AND read_at IS NULL`
	default:
		return 0, fmt.Errorf("unknown recipient type %q", side)
	}
	res, err := tx.ExecContext(ctx, query, now, caseID, recipient)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
