package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/notify"
)

// AddMessage appends a message to the case conversation and notifies the other side.
func (e Engine) AddMessage(ctx context.Context, caseID, body string, actor domain.Actor) (domain.Message, notify.DispatchResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, notify.DispatchResult{}, domain.Invalid("empty_message", "message body is required")
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Message{}, notify.DispatchResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Message{}, notify.DispatchResult{}, err
	}
	if err := canAct(actor, c, "add_message"); err != nil {
		return domain.Message{}, notify.DispatchResult{}, err
	}
	m := domain.Message{
		ID:         uuid.NewString(),
		CaseID:     c.ID,
		AuthorID:   actor.ID,
		AuthorRole: actor.Role,
		Body:       body,
		CreatedAt:  e.stamp(),
	}
	if err := e.Repo.InsertMessageTx(ctx, tx, m); err != nil {
		return domain.Message{}, notify.DispatchResult{}, err
	}
	batch, err := e.Notify.Stage(ctx, tx, notify.Request{
		Case:         c,
		Event:        domain.EventMessage,
		ActorRole:    actor.Role,
		ActorID:      actor.ID,
		Body:         preview(body),
		DedupePrefix: "message:" + m.ID,
	})
	if err != nil {
		return domain.Message{}, notify.DispatchResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, notify.DispatchResult{}, err
	}
	return m, notify.DispatchResult{Created: len(batch.Created), Pushed: e.Notify.Push(ctx, batch)}, nil
}

// AttachmentInput describes an uploaded file already placed in storage.
type AttachmentInput struct {
	CaseID     string  `json:"case_id"`
	MessageID  *string `json:"message_id,omitempty"`
	FileName   string  `json:"file_name"`
	MimeType   string  `json:"mime_type"`
	SizeBytes  int64   `json:"size_bytes"`
	StorageKey string  `json:"storage_key"`
}

func (e Engine) AddAttachment(ctx context.Context, in AttachmentInput, actor domain.Actor) (domain.Attachment, notify.DispatchResult, error) {
	if strings.TrimSpace(in.FileName) == "" || strings.TrimSpace(in.MimeType) == "" {
		return domain.Attachment{}, notify.DispatchResult{}, domain.Invalid("invalid_attachment", "file_name and mime_type are required")
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Attachment{}, notify.DispatchResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, in.CaseID)
	if err != nil {
		return domain.Attachment{}, notify.DispatchResult{}, err
	}
	if err := canAct(actor, c, "add_attachment"); err != nil {
		return domain.Attachment{}, notify.DispatchResult{}, err
	}
	a := domain.Attachment{
		ID:         uuid.NewString(),
		CaseID:     c.ID,
		MessageID:  in.MessageID,
		FileName:   strings.TrimSpace(in.FileName),
		MimeType:   strings.ToLower(strings.TrimSpace(in.MimeType)),
		SizeBytes:  in.SizeBytes,
		StorageKey: in.StorageKey,
		UploadedBy: actor.Label(),
		CreatedAt:  e.stamp(),
	}
	if err := e.Repo.InsertAttachmentTx(ctx, tx, a); err != nil {
		return domain.Attachment{}, notify.DispatchResult{}, err
	}
	batch, err := e.Notify.Stage(ctx, tx, notify.Request{
		Case:         c,
		Event:        domain.EventAttachment,
		ActorRole:    actor.Role,
		ActorID:      actor.ID,
		Body:         a.FileName,
		DedupePrefix: "attachment:" + a.ID,
	})
	if err != nil {
		return domain.Attachment{}, notify.DispatchResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Attachment{}, notify.DispatchResult{}, err
	}
	return a, notify.DispatchResult{Created: len(batch.Created), Pushed: e.Notify.Push(ctx, batch)}, nil
}

// UpdateCaseData merges patch into the case data. A nil value removes the key.
func (e Engine) UpdateCaseData(ctx context.Context, caseID string, patch map[string]any, actor domain.Actor) (domain.Case, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := canAct(actor, c, "update_data"); err != nil {
		return domain.Case{}, err
	}
	if c.Data == nil {
		c.Data = domain.JSONMap{}
	}
	for k, v := range patch {
		if v == nil {
			delete(c.Data, k)
			continue
		}
		c.Data[k] = v
	}
	c.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateCaseDataTx(ctx, tx, c.ID, c.Data, c.UpdatedAt); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// MarkRead clears the actor's unread marker on the case and stamps their
// notifications as read. It returns how many notifications changed.
func (e Engine) MarkRead(ctx context.Context, caseID string, actor domain.Actor) (int64, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return 0, err
	}
	if err := CanView(actor, c); err != nil {
		return 0, err
	}
	side, recipient := domain.RecipientStaff, actor.ID
	if actor.Role == domain.RoleClient {
		side, recipient = domain.RecipientClient, c.TrackNumber
	}
	n, err := e.Repo.MarkNotificationsReadTx(ctx, tx, c.ID, side, recipient, e.stamp())
	if err != nil {
		return 0, err
	}
	if actor.Role == domain.RoleClient || c.AssignedTo() == actor.ID {
		if err := e.Repo.ClearUnreadTx(ctx, tx, c.ID, side); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func preview(body string) string {
	const max = 140
	r := []rune(body)
	if len(r) <= max {
		return body
	}
	return string(r[:max]) + "..."
}
