// Package notify decides who hears about a case event, records deduplicated
// notifications in the caller's transaction, and relays them best-effort.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
	"caseflow/internal/repo"
	"caseflow/internal/telemetry"
)

// Pusher relays created notifications to an external channel.
type Pusher interface {
	Push(ctx context.Context, notes []domain.Notification) error
}

type Dispatcher struct {
	DB      *sqlx.DB
	Repo    repo.Repo
	Pusher  Pusher
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Request describes one event on a case.
type Request struct {
	Case      domain.Case
	Event     domain.EventType
	ActorRole domain.Role
	ActorID   string
	Title     string
	Body      string
	// DedupePrefix enables per-recipient deduplication under "<prefix>:<recipient>".
	DedupePrefix string
}

// Batch holds the notifications created inside a transaction, waiting to be pushed.
type Batch struct {
	Event   domain.EventType
	Created []domain.Notification
}

type DispatchResult struct {
	Created int  `json:"created"`
	Pushed  bool `json:"pushed"`
}

type recipient struct {
	kind    domain.RecipientType
	staffID string
	track   string
}

func (r recipient) marker() string {
	if r.kind == domain.RecipientClient {
		return "client:" + r.track
	}
	return "staff:" + r.staffID
}

func (d Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

// recipients selects who must hear about req.
func (d Dispatcher) recipients(ctx context.Context, tx *sqlx.Tx, req Request) ([]recipient, error) {
	client := recipient{kind: domain.RecipientClient, track: req.Case.TrackNumber}
	assignee := req.Case.AssignedTo()
	var out []recipient
	addAssignee := func(skipActor bool) {
		if assignee == "" || (skipActor && assignee == req.ActorID) {
			return
		}
		out = append(out, recipient{kind: domain.RecipientStaff, staffID: assignee})
	}
	addAdmins := func() error {
		admins, err := d.Repo.ListActiveStaffTx(ctx, tx, domain.RoleAdmin)
		if err != nil {
			return err
		}
		for _, a := range admins {
			if a.ID == assignee {
				continue
			}
			out = append(out, recipient{kind: domain.RecipientStaff, staffID: a.ID})
		}
		return nil
	}

	switch req.Event {
	case domain.EventMessage, domain.EventAttachment:
		if req.ActorRole == domain.RoleClient {
			addAssignee(true)
			if err := addAdmins(); err != nil {
				return nil, err
			}
		} else {
			out = append(out, client)
		}
	case domain.EventStatus:
		out = append(out, client)
		if req.ActorRole == domain.RoleAdmin {
			addAssignee(false)
		}
	case domain.EventSLAOverdue:
		addAssignee(false)
		if err := addAdmins(); err != nil {
			return nil, err
		}
	case domain.EventAssignment, domain.EventInvoice:
		out = append(out, client)
		addAssignee(false)
	default:
		return nil, fmt.Errorf("unknown event type %q", req.Event)
	}
	return out, nil
}

// Stage writes the notifications for req inside tx and raises the case's
// unread markers. Keys that already exist are skipped silently.
func (d Dispatcher) Stage(ctx context.Context, tx *sqlx.Tx, req Request) (Batch, error) {
	batch := Batch{Event: req.Event}
	recipients, err := d.recipients(ctx, tx, req)
	if err != nil {
		return batch, err
	}
	title := req.Title
	if title == "" {
		title = DefaultTitle(req.Event)
	}
	now := d.now().Format(time.RFC3339)
	raised := map[domain.RecipientType]bool{}
	for _, rcpt := range recipients {
		n := domain.Notification{
			ID:            uuid.NewString(),
			CaseID:        req.Case.ID,
			RecipientType: rcpt.kind,
			EventType:     req.Event,
			Title:         title,
			Body:          req.Body,
			CreatedAt:     now,
		}
		if rcpt.kind == domain.RecipientClient {
			track := rcpt.track
			n.RecipientTrackNumber = &track
		} else {
			staffID := rcpt.staffID
			n.RecipientStaffID = &staffID
		}
		if req.DedupePrefix != "" {
			key := req.DedupePrefix + ":" + rcpt.marker()
			exists, err := d.Repo.DedupeKeyExistsTx(ctx, tx, key)
			if err != nil {
				return batch, err
			}
			if exists {
				continue
			}
			n.DedupeKey = &key
		}
		created, err := d.Repo.InsertNotificationTx(ctx, tx, n)
		if err != nil {
			return batch, fmt.Errorf("insert notification: %w", err)
		}
		if !created {
			continue
		}
		batch.Created = append(batch.Created, n)
		if !raised[rcpt.kind] {
			if err := d.Repo.SetUnreadTx(ctx, tx, req.Case.ID, rcpt.kind, req.Event); err != nil {
				return batch, err
			}
			raised[rcpt.kind] = true
		}
	}
	d.Metrics.Notifications(ctx, string(req.Event), len(batch.Created))
	return batch, nil
}

// Push relays a committed batch. Failures are logged and reported as false.
func (d Dispatcher) Push(ctx context.Context, b Batch) bool {
	if len(b.Created) == 0 || d.Pusher == nil {
		return false
	}
	if err := d.Pusher.Push(ctx, b.Created); err != nil {
		d.Metrics.PushFailure(ctx)
		d.logger().Warn("push relay failed", "event", b.Event, "count", len(b.Created), "err", err)
		return false
	}
	return true
}

// Notify stages req in its own transaction and pushes after commit.
func (d Dispatcher) Notify(ctx context.Context, req Request) (DispatchResult, error) {
	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return DispatchResult{}, err
	}
	defer tx.Rollback()
	batch, err := d.Stage(ctx, tx, req)
	if err != nil {
		return DispatchResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{Created: len(batch.Created), Pushed: d.Push(ctx, batch)}, nil
}

func DefaultTitle(event domain.EventType) string {
	switch event {
	case domain.EventMessage:
		return "New message"
	case domain.EventAttachment:
		return "New attachment"
	case domain.EventStatus:
		return "Status changed"
	case domain.EventSLAOverdue:
		return "SLA overdue"
	case domain.EventAssignment:
		return "Case assigned"
	case domain.EventInvoice:
		return "Invoice update"
	default:
		return string(event)
	}
}
