package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

func (r Repo) InsertHistoryTx(ctx context.Context, tx *sqlx.Tx, h domain.HistoryEntry) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO case_history(case_id,from_status,to_status,actor_id,actor_role,comment,created_at) VALUES (?,?,?,?,?,?,?)`,
		h.CaseID, h.FromStatus, h.ToStatus, h.ActorID, string(h.ActorRole), h.Comment, h.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListHistory(ctx context.Context, caseID string) ([]domain.HistoryEntry, error) {
	var res []domain.HistoryEntry
	err := r.DB.SelectContext(ctx, &res, `SELECT id,case_id,from_status,to_status,actor_id,actor_role,comment,created_at
FROM case_history WHERE case_id=? ORDER BY id`, caseID)
	return res, err
}

func latestHistory(ctx context.Context, q sqlx.QueryerContext, caseID string) (domain.HistoryEntry, error) {
	var h domain.HistoryEntry
	err := get(ctx, q, &h, `SELECT id,case_id,from_status,to_status,actor_id,actor_role,comment,created_at
FROM case_history WHERE case_id=? ORDER BY id DESC LIMIT 1`, caseID)
	return h, err
}

// LatestHistory returns the entry that moved the case into its current status.
func (r Repo) LatestHistory(ctx context.Context, caseID string) (domain.HistoryEntry, error) {
	return latestHistory(ctx, r.DB, caseID)
}

func (r Repo) LatestHistoryTx(ctx context.Context, tx *sqlx.Tx, caseID string) (domain.HistoryEntry, error) {
	return latestHistory(ctx, tx, caseID)
}
