package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

type Repo struct {
	DB *sqlx.DB
}

var ErrNotFound = errors.New("not found")

const caseColumns = `id,track_number,client_name,client_phone,topic_code,status,data_json,assigned_staff_id,
effective_rate,invoice_amount,paid_at,paid_by_staff_id,responsible,important_date_at,client_has_unread,
client_unread_event,staff_has_unread,staff_unread_event,created_at,updated_at`

func get(ctx context.Context, q sqlx.QueryerContext, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (r Repo) InsertCaseTx(ctx context.Context, tx *sqlx.Tx, c domain.Case) error {
	if c.Data == nil {
		c.Data = domain.JSONMap{}
	}
	_, err := tx.NamedExecContext(ctx, `INSERT INTO cases(`+caseColumns+`) VALUES (
:id,:track_number,:client_name,:client_phone,:topic_code,:status,:data_json,:assigned_staff_id,
:effective_rate,:invoice_amount,:paid_at,:paid_by_staff_id,:responsible,:important_date_at,:client_has_unread,
:client_unread_event,:staff_has_unread,:staff_unread_event,:created_at,:updated_at)`, c)
	return err
}

func getCase(ctx context.Context, q sqlx.QueryerContext, id string) (domain.Case, error) {
	var c domain.Case
	err := get(ctx, q, &c, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id)
	return c, err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return getCase(ctx, r.DB, id)
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Case, error) {
	return getCase(ctx, tx, id)
}

func (r Repo) GetCaseByTrack(ctx context.Context, track string) (domain.Case, error) {
	var c domain.Case
	err := get(ctx, r.DB, &c, `SELECT `+caseColumns+` FROM cases WHERE track_number=?`, track)
	return c, err
}

func (r Repo) CaseExistsTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	var n int
	err := get(ctx, tx, &n, `SELECT 1 FROM cases WHERE id=?`, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

type CaseFilters struct {
	Status     string
	TopicCode  string
	AssignedTo string
	Unassigned bool
	Limit      int
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TopicCode != "" {
		clauses = append(clauses, "topic_code=?")
		args = append(args, f.TopicCode)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_staff_id=?")
		args = append(args, f.AssignedTo)
	}
	if f.Unassigned {
		clauses = append(clauses, "assigned_staff_id IS NULL")
	}
	query := `SELECT ` + caseColumns + ` FROM cases`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	var res []domain.Case
	err := sqlx.SelectContext(ctx, r.DB, &res, query, args...)
	return res, err
}

// ListUnassignedTx returns cases with a topic and no assignee created at or before cutoff,
// oldest first.
func (r Repo) ListUnassignedTx(ctx context.Context, tx *sqlx.Tx, cutoff string) ([]domain.Case, error) {
	var res []domain.Case
	err := tx.SelectContext(ctx, &res, `SELECT `+caseColumns+` FROM cases
WHERE assigned_staff_id IS NULL AND topic_code <> '' AND created_at <= ?
ORDER BY created_at ASC, id ASC`, cutoff)
	return res, err
}

// ListOpenAssignedTx returns assigned cases whose status is not terminal.
func (r Repo) ListOpenAssignedTx(ctx context.Context, tx *sqlx.Tx, terminal []string) ([]domain.Case, error) {
	query, args, err := sqlx.In(`SELECT `+caseColumns+` FROM cases
WHERE assigned_staff_id IS NOT NULL AND status NOT IN (?) ORDER BY id`, terminal)
	if err != nil {
		return nil, err
	}
	var res []domain.Case
	err = tx.SelectContext(ctx, &res, tx.Rebind(query), args...)
	return res, err
}

// ActiveLoadsTx counts non-terminal cases per assignee.
func (r Repo) ActiveLoadsTx(ctx context.Context, tx *sqlx.Tx, terminal []string) (map[string]int, error) {
	query, args, err := sqlx.In(`SELECT assigned_staff_id AS staff_id, COUNT(*) AS n FROM cases
WHERE assigned_staff_id IS NOT NULL AND status NOT IN (?) GROUP BY assigned_staff_id`, terminal)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		StaffID string `db:"staff_id"`
		N       int    `db:"n"`
	}
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	loads := make(map[string]int, len(rows))
	for _, row := range rows {
		loads[row.StaffID] = row.N
	}
	return loads, nil
}

// UpdateCaseStatusTx moves the case from one status to another only if it is still in from.
func (r Repo) UpdateCaseStatusTx(ctx context.Context, tx *sqlx.Tx, id, from, to, responsible string, importantDate *string, now string) (bool, error) {
	return affected(tx.ExecContext(ctx, `UPDATE cases SET status=?, responsible=?, important_date_at=COALESCE(?, important_date_at), updated_at=?
WHERE id=? AND status=?`, to, responsible, importantDate, now, id, from))
}

// AssignIfUnassignedTx sets the assignee only while the case has none. The rate is
// backfilled when the case has no agreed rate yet.
func (r Repo) AssignIfUnassignedTx(ctx context.Context, tx *sqlx.Tx, id, staffID string, rate *float64, responsible, now string) (bool, error) {
	return affected(tx.ExecContext(ctx, `UPDATE cases SET assigned_staff_id=?, effective_rate=COALESCE(effective_rate, ?), responsible=?, updated_at=?
WHERE id=? AND assigned_staff_id IS NULL`, staffID, rate, responsible, now, id))
}

// ReassignTx moves the case to target only while expected still holds it.
func (r Repo) ReassignTx(ctx context.Context, tx *sqlx.Tx, id, expected, target, responsible, now string) (bool, error) {
	return affected(tx.ExecContext(ctx, `UPDATE cases SET assigned_staff_id=?, responsible=?, updated_at=?
WHERE id=? AND assigned_staff_id=?`, target, responsible, now, id, expected))
}

func (r Repo) BackfillInvoiceAmountTx(ctx context.Context, tx *sqlx.Tx, id string, amount float64, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE cases SET invoice_amount=?, updated_at=? WHERE id=? AND invoice_amount IS NULL`, amount, now, id)
	return err
}

func (r Repo) MarkCasePaidTx(ctx context.Context, tx *sqlx.Tx, id string, amount float64, paidAt, paidBy string) error {
	_, err := tx.ExecContext(ctx, `UPDATE cases SET invoice_amount=?, paid_at=?, paid_by_staff_id=?, updated_at=? WHERE id=?`,
		amount, paidAt, paidBy, paidAt, id)
	return err
}

func (r Repo) UpdateCaseDataTx(ctx context.Context, tx *sqlx.Tx, id string, data domain.JSONMap, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET data_json=?, updated_at=? WHERE id=?`, data, now, id)
	ok, err := affected(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SetUnreadTx raises the unread marker for one side of the case.
func (r Repo) SetUnreadTx(ctx context.Context, tx *sqlx.Tx, id string, side domain.RecipientType, event domain.EventType) error {
	var query string
	switch side {
	case domain.RecipientClient:
		query = `UPDATE cases SET client_has_unread=1, client_unread_event=? WHERE id=?`
	case domain.RecipientStaff:
		query = `UPDATE cases SET staff_has_unread=1, staff_unread_event=? WHERE id=?`
	default:
		return fmt.Errorf("unknown recipient type %q", side)
	}
	_, err := tx.ExecContext(ctx, query, string(event), id)
	return err
}

func (r Repo) ClearUnreadTx(ctx context.Context, tx *sqlx.Tx, id string, side domain.RecipientType) error {
	var query string
	switch side {
	case domain.RecipientClient:
		query = `UPDATE cases SET client_has_unread=0, client_unread_event=NULL WHERE id=?`
	case domain.RecipientStaff:
		query = `UPDATE cases SET staff_has_unread=0, staff_unread_event=NULL WHERE id=?`
	default:
		return fmt.Errorf("unknown recipient type %q", side)
	}
	_, err := tx.ExecContext(ctx, query, id)
	return err
}
