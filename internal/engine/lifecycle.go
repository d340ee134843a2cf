package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"caseflow/internal/billing"
	"caseflow/internal/catalog"
	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
)

const CodeUnknownStatus = "unknown_status"

// TransitionRequest asks to move a case to another status.
type TransitionRequest struct {
	CaseID        string
	ToStatus      string
	Comment       string
	ImportantDate *string
	Actor         domain.Actor
}

type TransitionResult struct {
	FromStatus    string          `json:"from_status"`
	ToStatus      string          `json:"to_status"`
	ImportantDate *string         `json:"important_date,omitempty"`
	Note          string          `json:"note,omitempty"`
	Invoice       *domain.Invoice `json:"invoice,omitempty"`
	Noop          bool            `json:"noop,omitempty"`
}

// Applied is what ApplyTransition did inside the caller's transaction.
type Applied struct {
	HistoryID int64
	Billing   billing.Result
	Batch     notify.Batch
}

// ChangeStatus validates and applies a transition in one transaction, then
// relays notifications after commit. Moving to the current status is a no-op.
func (e Engine) ChangeStatus(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	to := strings.TrimSpace(req.ToStatus)
	if to == "" {
		return TransitionResult{}, domain.Invalid(CodeUnknownStatus, "to_status is required")
	}
	importantDate, err := normalizeDate(req.ImportantDate)
	if err != nil {
		return TransitionResult{}, err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, req.CaseID)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := auth.RequireRole(req.Actor, "change_status", domain.RoleAdmin, domain.RoleLawyer); err != nil {
		return TransitionResult{}, err
	}
	if err := canAct(req.Actor, c, "change_status"); err != nil {
		return TransitionResult{}, err
	}
	from := c.Status
	if from == to {
		return TransitionResult{FromStatus: from, ToStatus: to, ImportantDate: c.ImportantDateAt, Noop: true}, nil
	}
	if _, err := e.Repo.GetStatusTx(ctx, tx, to); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return TransitionResult{}, domain.Invalid(CodeUnknownStatus, "status %s does not exist", to)
		}
		return TransitionResult{}, err
	}
	rules, err := e.Repo.ListRulesTx(ctx, tx, c.TopicCode)
	if err != nil {
		return TransitionResult{}, err
	}
	evidence, err := e.Repo.AttachmentMimeTypesTx(ctx, tx, c.ID)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := catalog.New(c.TopicCode, rules).Validate(from, to, c.Data, evidence); err != nil {
		return TransitionResult{}, err
	}

	applied, err := e.ApplyTransition(ctx, tx, &c, from, to, req.Actor, req.Comment, importantDate)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}
	e.Metrics.Transition(ctx, c.TopicCode, to)
	e.Notify.Push(ctx, applied.Batch)
	e.logger().Info("status changed", "case", c.ID, "from", from, "to", to, "actor", req.Actor.Label())
	return TransitionResult{
		FromStatus:    from,
		ToStatus:      to,
		ImportantDate: c.ImportantDateAt,
		Note:          applied.Billing.Note,
		Invoice:       applied.Billing.Invoice,
	}, nil
}

// ApplyTransition applies the side effects of a validated transition inside tx:
// freeze the conversation, append history, run billing, stage the STATUS
// notification and move the status if the case is still in from. It does not
// check legality or prerequisites. The returned batch must be pushed after commit.
func (e Engine) ApplyTransition(ctx context.Context, tx *sqlx.Tx, c *domain.Case, from, to string, actor domain.Actor, comment string, importantDate *string) (Applied, error) {
	var out Applied
	fromStatus, err := e.Repo.GetStatusTx(ctx, tx, from)
	if err != nil {
		return out, fmt.Errorf("status %s: %w", from, err)
	}
	toStatus, err := e.Repo.GetStatusTx(ctx, tx, to)
	if err != nil {
		return out, fmt.Errorf("status %s: %w", to, err)
	}

	if _, _, err := e.Repo.FreezeConversationTx(ctx, tx, c.ID); err != nil {
		return out, fmt.Errorf("freeze conversation: %w", err)
	}

	now := e.stamp()
	prev := from
	out.HistoryID, err = e.Repo.InsertHistoryTx(ctx, tx, domain.HistoryEntry{
		CaseID:     c.ID,
		FromStatus: &prev,
		ToStatus:   to,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Comment:    comment,
		CreatedAt:  now,
	})
	if err != nil {
		return out, fmt.Errorf("insert history: %w", err)
	}

	if out.Billing, err = e.Billing.Apply(ctx, tx, c, fromStatus, toStatus, actor); err != nil {
		return out, err
	}

	out.Batch, err = e.Notify.Stage(ctx, tx, notify.Request{
		Case:         *c,
		Event:        domain.EventStatus,
		ActorRole:    actor.Role,
		ActorID:      actor.ID,
		Body:         statusBody(from, to, out.Billing.Note),
		DedupePrefix: fmt.Sprintf("status:%s:%d", c.ID, out.HistoryID),
	})
	if err != nil {
		return out, err
	}

	ok, err := e.Repo.UpdateCaseStatusTx(ctx, tx, c.ID, from, to, actor.Label(), importantDate, now)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, domain.ConflictError{Reason: fmt.Sprintf("case %s is no longer in status %s", c.ID, from)}
	}
	if err := e.Events.AppendCase(ctx, tx, domain.AuditStatusChange, c.ID, actor.ID, events.Payload{
		"from": from, "to": to, "note": out.Billing.Note,
	}); err != nil {
		return out, err
	}
	c.Status = to
	c.Responsible = actor.Label()
	if importantDate != nil {
		c.ImportantDateAt = importantDate
	}
	c.UpdatedAt = now
	return out, nil
}

// CaseInput is a client intake.
type CaseInput struct {
	TrackNumber string         `json:"track_number,omitempty"`
	ClientName  string         `json:"client_name"`
	ClientPhone string         `json:"client_phone,omitempty"`
	TopicCode   string         `json:"topic_code"`
	Status      string         `json:"status,omitempty"`
	Data        domain.JSONMap `json:"data,omitempty"`
}

// CreateCase records a new case and its first history entry.
func (e Engine) CreateCase(ctx context.Context, in CaseInput, actor domain.Actor) (domain.Case, error) {
	if strings.TrimSpace(in.ClientName) == "" {
		return domain.Case{}, domain.Invalid("client_name_required", "client_name is required")
	}
	if in.Status == "" {
		in.Status = "NEW"
	}
	if in.TrackNumber == "" {
		in.TrackNumber = "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	}
	if in.Data == nil {
		in.Data = domain.JSONMap{}
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetStatusTx(ctx, tx, in.Status); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Case{}, domain.Invalid(CodeUnknownStatus, "status %s does not exist", in.Status)
		}
		return domain.Case{}, err
	}
	now := e.stamp()
	c := domain.Case{
		ID:          uuid.NewString(),
		TrackNumber: in.TrackNumber,
		ClientName:  strings.TrimSpace(in.ClientName),
		ClientPhone: strings.TrimSpace(in.ClientPhone),
		TopicCode:   strings.TrimSpace(in.TopicCode),
		Status:      in.Status,
		Data:        in.Data,
		Responsible: actor.Label(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertCaseTx(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	if _, err := e.Repo.InsertHistoryTx(ctx, tx, domain.HistoryEntry{
		CaseID: c.ID, ToStatus: c.Status, ActorID: actor.ID, ActorRole: actor.Role, Comment: "created", CreatedAt: now,
	}); err != nil {
		return domain.Case{}, fmt.Errorf("insert history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// GetCase loads a case the actor is allowed to see.
func (e Engine) GetCase(ctx context.Context, id string, actor domain.Actor) (domain.Case, error) {
	c, err := e.Repo.GetCase(ctx, id)
	if err != nil {
		return domain.Case{}, err
	}
	if err := CanView(actor, c); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}
