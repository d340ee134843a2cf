package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

const invoiceColumns = `id,case_id,number,status,amount,currency,payload_encrypted,issued_by_id,issued_by_role,issued_at,paid_at`

func (r Repo) InsertInvoiceTx(ctx context.Context, tx *sqlx.Tx, inv domain.Invoice) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO invoices(`+invoiceColumns+`) VALUES
(:id,:case_id,:number,:status,:amount,:currency,:payload_encrypted,:issued_by_id,:issued_by_role,:issued_at,:paid_at)`, inv)
	return err
}

// OpenInvoiceTx returns the invoice awaiting payment for the case.
func (r Repo) OpenInvoiceTx(ctx context.Context, tx *sqlx.Tx, caseID string) (domain.Invoice, error) {
	var inv domain.Invoice
	err := get(ctx, tx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE case_id=? AND status=? LIMIT 1`,
		caseID, string(domain.InvoiceWaitingPayment))
	return inv, err
}

func (r Repo) MarkInvoicePaidTx(ctx context.Context, tx *sqlx.Tx, id, paidAt string) (bool, error) {
	return affected(tx.ExecContext(ctx, `UPDATE invoices SET status=?, paid_at=? WHERE id=? AND status=?`,
		string(domain.InvoicePaid), paidAt, id, string(domain.InvoiceWaitingPayment)))
}

func (r Repo) ListInvoices(ctx context.Context, caseID string) ([]domain.Invoice, error) {
	var res []domain.Invoice
	err := r.DB.SelectContext(ctx, &res, `SELECT `+invoiceColumns+` FROM invoices WHERE case_id=? ORDER BY issued_at, id`, caseID)
	return res, err
}

func (r Repo) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	var inv domain.Invoice
	err := get(ctx, r.DB, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id=?`, id)
	return inv, err
}
