package billing_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/billing"
	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/sealed"
	"caseflow/internal/testutil"
)

type env struct {
	*testutil.Fixture
	Engine billing.Engine
	Key    sealed.Keypair
}

func newEnv(t *testing.T) env {
	t.Helper()
	f := testutil.NewFixture(t)
	kp, err := sealed.GenerateKeypair()
	require.NoError(t, err)
	s, err := sealed.New([]string{kp.PublicKey})
	require.NoError(t, err)
	return env{
		Fixture: f,
		Key:     kp,
		Engine: billing.Engine{
			Repo:     f.Repo,
			Sealer:   s,
			Currency: "EUR",
			Now:      func() time.Time { return time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC) },
		},
	}
}

func (e env) status(t *testing.T, code string) domain.Status {
	t.Helper()
	s, err := e.Repo.GetStatus(e.Ctx, code)
	require.NoError(t, err)
	return s
}

// apply runs billing in its own committed transaction.
func (e env) apply(t *testing.T, c *domain.Case, from, to string, actor domain.Actor) (billing.Result, error) {
	t.Helper()
	fromStatus, toStatus := e.status(t, from), e.status(t, to)
	tx, err := e.DB.BeginTxx(e.Ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	res, err := e.Engine.Apply(e.Ctx, tx, c, fromStatus, toStatus, actor)
	if err != nil {
		return res, err
	}
	require.NoError(t, tx.Commit())
	return res, nil
}

var (
	admin  = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	lawyer = domain.Actor{ID: "lawyer-1", Role: domain.RoleLawyer}
)

func TestIssueInvoiceIsIdempotent(t *testing.T) {
	e := newEnv(t)
	c := e.Case("c1", "civil", "IN_PROGRESS", func(c *domain.Case) { c.EffectiveRate = testutil.Ptr(1500.456) })

	res, err := e.apply(t, &c, "IN_PROGRESS", "AWAITING_PAYMENT", lawyer)
	require.NoError(t, err)
	require.True(t, res.Issued)
	require.NotNil(t, res.Invoice)
	assert.Regexp(t, `^INV-20240506-[0-9A-F]{8}$`, res.Invoice.Number)
	assert.Equal(t, "invoice issued: "+res.Invoice.Number, res.Note)
	assert.Equal(t, 1500.46, res.Invoice.Amount)
	assert.Equal(t, "EUR", res.Invoice.Currency)

	stored, err := e.Repo.GetCase(e.Ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, stored.InvoiceAmount)
	assert.Equal(t, 1500.46, *stored.InvoiceAmount)

	again, err := e.apply(t, &c, "IN_PROGRESS", "AWAITING_PAYMENT", lawyer)
	require.NoError(t, err)
	assert.False(t, again.Issued)
	assert.Equal(t, res.Invoice.Number, again.Invoice.Number)

	invoices, err := e.Repo.ListInvoices(e.Ctx, "c1")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, domain.InvoiceWaitingPayment, invoices[0].Status)
}

func TestInvoicePayloadIsSealed(t *testing.T) {
	e := newEnv(t)
	tmpl := "Pay {amount} for {track_number} ({client_name})"
	e.Status("BILLED", domain.KindInvoice, false, &tmpl)
	c := e.Case("c1", "civil", "IN_PROGRESS", func(c *domain.Case) { c.InvoiceAmount = testutil.Ptr(99.0) })

	res, err := e.apply(t, &c, "IN_PROGRESS", "BILLED", admin)
	require.NoError(t, err)

	inv, err := e.Repo.GetInvoice(e.Ctx, res.Invoice.ID)
	require.NoError(t, err)
	assert.NotContains(t, inv.PayloadEncrypted, "TRK-c1")
	plain, err := sealed.Open(inv.PayloadEncrypted, e.Key.PrivateKey)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(plain, &payload))
	assert.Equal(t, "Pay 99.00 for TRK-c1 (Client c1)", payload["text"])
	assert.Equal(t, "BILLED", payload["to_status"])
}

func TestUnknownPlaceholderRejected(t *testing.T) {
	e := newEnv(t)
	tmpl := "Pay {amount} to {bank_account}"
	e.Status("BILLED", domain.KindInvoice, false, &tmpl)
	c := e.Case("c1", "civil", "IN_PROGRESS")

	_, err := e.apply(t, &c, "IN_PROGRESS", "BILLED", admin)
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, billing.CodeInvalidPlaceholder, verr.Code)
	assert.Contains(t, verr.Reason, "bank_account")

	invoices, err := e.Repo.ListInvoices(e.Ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestPaidRequiresOpenInvoice(t *testing.T) {
	e := newEnv(t)
	c := e.Case("c1", "civil", "IN_PROGRESS")

	_, err := e.apply(t, &c, "IN_PROGRESS", "PAID", admin)
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, billing.CodeNoOpenInvoice, verr.Code)
}

func TestPaidRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	c := e.Case("c1", "civil", "IN_PROGRESS", func(c *domain.Case) { c.EffectiveRate = testutil.Ptr(10.0) })
	_, err := e.apply(t, &c, "IN_PROGRESS", "AWAITING_PAYMENT", lawyer)
	require.NoError(t, err)

	_, err = e.apply(t, &c, "AWAITING_PAYMENT", "PAID", lawyer)
	var ferr auth.ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, domain.RoleLawyer, ferr.Role)
}

func TestPaidSettlesOpenInvoiceOnce(t *testing.T) {
	e := newEnv(t)
	c := e.Case("c1", "civil", "IN_PROGRESS", func(c *domain.Case) { c.EffectiveRate = testutil.Ptr(250.0) })
	issued, err := e.apply(t, &c, "IN_PROGRESS", "AWAITING_PAYMENT", lawyer)
	require.NoError(t, err)

	paid, err := e.apply(t, &c, "AWAITING_PAYMENT", "PAID", admin)
	require.NoError(t, err)
	assert.True(t, paid.Paid)
	assert.Equal(t, "invoice "+issued.Invoice.Number+" paid, amount 250.00", paid.Note)

	stored, err := e.Repo.GetCase(e.Ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, "2024-05-06T12:00:00Z", *stored.PaidAt)
	require.NotNil(t, stored.PaidByStaffID)
	assert.Equal(t, "admin-1", *stored.PaidByStaffID)
	assert.Equal(t, 250.0, *stored.InvoiceAmount)

	_, err = e.apply(t, &c, "IN_PROGRESS", "PAID", admin)
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr, "the only invoice is already paid")
}

func TestDefaultKindHasNoEffect(t *testing.T) {
	e := newEnv(t)
	c := e.Case("c1", "civil", "NEW")
	res, err := e.apply(t, &c, "NEW", "IN_PROGRESS", lawyer)
	require.NoError(t, err)
	assert.Equal(t, billing.Result{}, res)

	res, err = e.apply(t, &c, "PAID", "PAID", admin)
	require.NoError(t, err)
	assert.Empty(t, res.Note)
}

func TestRender(t *testing.T) {
	out, err := billing.Render("{request_id}/{track_number}/{rate}", map[string]string{"request_id": "r", "track_number": "t"})
	require.NoError(t, err)
	assert.Equal(t, "r/t/", out)

	_, err = billing.Render("{ amount }", nil)
	assert.Error(t, err)
}

func TestInvoiceAmountFallbacks(t *testing.T) {
	assert.Equal(t, 0.0, billing.InvoiceAmount(domain.Case{}))
	assert.Equal(t, 12.35, billing.InvoiceAmount(domain.Case{EffectiveRate: testutil.Ptr(12.346)}))
	assert.Equal(t, 7.0, billing.InvoiceAmount(domain.Case{EffectiveRate: testutil.Ptr(12.0), InvoiceAmount: testutil.Ptr(7.0)}))
}
