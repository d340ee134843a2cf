// Package billing applies the invoice side effects of a status transition.
// Effects depend on the kind of the statuses involved, never on their codes.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/repo"
	"caseflow/internal/sealed"
	"caseflow/internal/telemetry"
)

const (
	CodeInvalidPlaceholder = "invalid_template_placeholder"
	CodeNoOpenInvoice      = "no_open_invoice"

	DefaultTemplate = "Invoice for case {track_number}: {amount}"
	DefaultCurrency = "RUB"
)

// Placeholders is the allow-list of template fields.
var Placeholders = []string{
	"request_id", "track_number", "client_name", "client_phone", "topic_code",
	"from_status", "to_status", "rate", "amount",
}

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

type Engine struct {
	Repo     repo.Repo
	Sealer   *sealed.Sealer
	Currency string
	Metrics  *telemetry.Metrics
	Now      func() time.Time
}

// Result describes what a transition did to billing. Note is empty when nothing happened.
type Result struct {
	Note    string
	Invoice *domain.Invoice
	Issued  bool
	Paid    bool
}

// Apply runs the billing state machine for c moving from one status to another.
// c is updated in place with any amounts mirrored onto the case.
func (e Engine) Apply(ctx context.Context, tx *sqlx.Tx, c *domain.Case, from, to domain.Status, actor domain.Actor) (Result, error) {
	switch to.Kind {
	case domain.KindInvoice:
		if from.Kind == domain.KindInvoice {
			return Result{}, nil
		}
		return e.issue(ctx, tx, c, from, to, actor)
	case domain.KindPaid:
		if from.Kind == domain.KindPaid {
			return Result{}, nil
		}
		return e.settle(ctx, tx, c, actor)
	case domain.KindDefault:
		return Result{}, nil
	default:
		return Result{}, fmt.Errorf("unknown status kind %q", to.Kind)
	}
}

func (e Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e Engine) issue(ctx context.Context, tx *sqlx.Tx, c *domain.Case, from, to domain.Status, actor domain.Actor) (Result, error) {
	open, err := e.Repo.OpenInvoiceTx(ctx, tx, c.ID)
	if err == nil {
		return Result{Note: "invoice issued: " + open.Number, Invoice: &open}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return Result{}, err
	}

	amount := InvoiceAmount(*c)
	tmpl := DefaultTemplate
	if to.InvoiceTemplate != nil && strings.TrimSpace(*to.InvoiceTemplate) != "" {
		tmpl = *to.InvoiceTemplate
	}
	text, err := Render(tmpl, templateValues(*c, from.Code, to.Code, amount))
	if err != nil {
		return Result{}, err
	}
	if e.Sealer == nil {
		return Result{}, errors.New("invoice sealer not configured")
	}
	now := e.now()
	currency := e.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	inv := domain.Invoice{
		ID:           uuid.NewString(),
		CaseID:       c.ID,
		Number:       InvoiceNumber(now),
		Status:       domain.InvoiceWaitingPayment,
		Amount:       amount,
		Currency:     currency,
		IssuedByID:   actor.ID,
		IssuedByRole: actor.Role,
		IssuedAt:     now.Format(time.RFC3339),
	}
	payload, err := json.Marshal(map[string]any{
		"text":         text,
		"number":       inv.Number,
		"case_id":      c.ID,
		"track_number": c.TrackNumber,
		"client_name":  c.ClientName,
		"client_phone": c.ClientPhone,
		"topic_code":   c.TopicCode,
		"from_status":  from.Code,
		"to_status":    to.Code,
		"amount":       amount,
		"currency":     currency,
		"issued_at":    inv.IssuedAt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal invoice payload: %w", err)
	}
	if inv.PayloadEncrypted, err = e.Sealer.Seal(payload); err != nil {
		return Result{}, err
	}
	if err := e.Repo.InsertInvoiceTx(ctx, tx, inv); err != nil {
		return Result{}, fmt.Errorf("insert invoice: %w", err)
	}
	if c.InvoiceAmount == nil {
		if err := e.Repo.BackfillInvoiceAmountTx(ctx, tx, c.ID, amount, inv.IssuedAt); err != nil {
			return Result{}, err
		}
		c.InvoiceAmount = &amount
	}
	e.Metrics.Invoice(ctx, "issued")
	return Result{Note: "invoice issued: " + inv.Number, Invoice: &inv, Issued: true}, nil
}

func (e Engine) settle(ctx context.Context, tx *sqlx.Tx, c *domain.Case, actor domain.Actor) (Result, error) {
	if err := auth.RequireRole(actor, "mark_paid", domain.RoleAdmin); err != nil {
		return Result{}, err
	}
	inv, err := e.Repo.OpenInvoiceTx(ctx, tx, c.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return Result{}, domain.Invalid(CodeNoOpenInvoice, "cannot mark case %s paid without an open invoice", c.TrackNumber)
	}
	if err != nil {
		return Result{}, err
	}
	paidAt := e.now().Format(time.RFC3339)
	ok, err := e.Repo.MarkInvoicePaidTx(ctx, tx, inv.ID, paidAt)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, domain.ConflictError{Reason: fmt.Sprintf("invoice %s was settled concurrently", inv.Number)}
	}
	if err := e.Repo.MarkCasePaidTx(ctx, tx, c.ID, inv.Amount, paidAt, actor.ID); err != nil {
		return Result{}, err
	}
	inv.Status = domain.InvoicePaid
	inv.PaidAt = &paidAt
	amount := inv.Amount
	c.InvoiceAmount = &amount
	c.PaidAt = &paidAt
	paidBy := actor.ID
	c.PaidByStaffID = &paidBy
	e.Metrics.Invoice(ctx, "paid")
	return Result{Note: fmt.Sprintf("invoice %s paid, amount %.2f", inv.Number, inv.Amount), Invoice: &inv, Paid: true}, nil
}

// InvoiceAmount is the recorded invoice amount, else the agreed rate, else zero,
// rounded to cents.
func InvoiceAmount(c domain.Case) float64 {
	switch {
	case c.InvoiceAmount != nil:
		return Round2(*c.InvoiceAmount)
	case c.EffectiveRate != nil:
		return Round2(*c.EffectiveRate)
	default:
		return 0
	}
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// InvoiceNumber formats INV-<yyyymmdd>-<8 hex chars>.
func InvoiceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return "INV-" + now.UTC().Format("20060102") + "-" + suffix
}

func templateValues(c domain.Case, from, to string, amount float64) map[string]string {
	rate := ""
	if c.EffectiveRate != nil {
		rate = fmt.Sprintf("%.2f", Round2(*c.EffectiveRate))
	}
	return map[string]string{
		"request_id":   c.ID,
		"track_number": c.TrackNumber,
		"client_name":  c.ClientName,
		"client_phone": c.ClientPhone,
		"topic_code":   c.TopicCode,
		"from_status":  from,
		"to_status":    to,
		"rate":         rate,
		"amount":       fmt.Sprintf("%.2f", amount),
	}
}

// Render substitutes {name} placeholders. Every placeholder must be in the
// allow-list; the first unknown one rejects the whole template.
func Render(tmpl string, values map[string]string) (string, error) {
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !allowed(m[1]) {
			return "", domain.Invalid(CodeInvalidPlaceholder, "invoice template uses unsupported placeholder {%s}", m[1])
		}
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(s string) string {
		return values[s[1:len(s)-1]]
	}), nil
}

func allowed(name string) bool {
	for _, p := range Placeholders {
		if p == name {
			return true
		}
	}
	return false
}
