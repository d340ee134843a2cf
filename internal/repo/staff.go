package repo

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

const staffColumns = `id,name,role,active,primary_topic,default_rate,created_at`

func (r Repo) InsertStaffTx(ctx context.Context, tx *sqlx.Tx, s domain.Staff) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO staff(`+staffColumns+`) VALUES (:id,:name,:role,:active,:primary_topic,:default_rate,:created_at)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, active=excluded.active,
primary_topic=excluded.primary_topic, default_rate=excluded.default_rate`, s)
	return err
}

func (r Repo) SetStaffActiveTx(ctx context.Context, tx *sqlx.Tx, id string, active bool) error {
	ok, err := affected(tx.ExecContext(ctx, `UPDATE staff SET active=? WHERE id=?`, active, id))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// AddStaffTopicTx records a secondary topic qualification.
func (r Repo) AddStaffTopicTx(ctx context.Context, tx *sqlx.Tx, staffID, topic string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO staff_topics(staff_id,topic_code) VALUES (?,?)`, staffID, topic)
	return err
}

func getStaff(ctx context.Context, q sqlx.QueryerContext, id string) (domain.Staff, error) {
	var s domain.Staff
	err := get(ctx, q, &s, `SELECT `+staffColumns+` FROM staff WHERE id=?`, id)
	return s, err
}

func (r Repo) GetStaff(ctx context.Context, id string) (domain.Staff, error) {
	return getStaff(ctx, r.DB, id)
}

func (r Repo) GetStaffTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Staff, error) {
	return getStaff(ctx, tx, id)
}

func listActiveStaff(ctx context.Context, q sqlx.QueryerContext, role domain.Role) ([]domain.Staff, error) {
	var res []domain.Staff
	err := sqlx.SelectContext(ctx, q, &res, `SELECT `+staffColumns+` FROM staff WHERE active=1 AND role=? ORDER BY id`, string(role))
	return res, err
}

// ListActiveStaff returns active staff of a role ordered by id.
func (r Repo) ListActiveStaff(ctx context.Context, role domain.Role) ([]domain.Staff, error) {
	return listActiveStaff(ctx, r.DB, role)
}

func (r Repo) ListActiveStaffTx(ctx context.Context, tx *sqlx.Tx, role domain.Role) ([]domain.Staff, error) {
	return listActiveStaff(ctx, tx, role)
}

func (r Repo) ListStaff(ctx context.Context) ([]domain.Staff, error) {
	var res []domain.Staff
	err := r.DB.SelectContext(ctx, &res, `SELECT `+staffColumns+` FROM staff ORDER BY id`)
	return res, err
}

// StaffTopicsTx maps staff id to its secondary topics.
func (r Repo) StaffTopicsTx(ctx context.Context, tx *sqlx.Tx) (map[string][]string, error) {
	var rows []struct {
		StaffID   string `db:"staff_id"`
		TopicCode string `db:"topic_code"`
	}
	if err := tx.SelectContext(ctx, &rows, `SELECT staff_id,topic_code FROM staff_topics ORDER BY staff_id, topic_code`); err != nil {
		return nil, err
	}
	out := map[string][]string{}
	for _, row := range rows {
		out[row.StaffID] = append(out[row.StaffID], row.TopicCode)
	}
	return out, nil
}

// HasSecondaryTopicTx reports whether staffID carries topic as a secondary qualification.
func (r Repo) HasSecondaryTopicTx(ctx context.Context, tx *sqlx.Tx, staffID, topic string) (bool, error) {
	var n int
	err := get(ctx, tx, &n, `SELECT 1 FROM staff_topics WHERE staff_id=? AND topic_code=?`, staffID, topic)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
