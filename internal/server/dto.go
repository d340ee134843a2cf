package server

import (
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/notify"
)

// Request payloads

type CreateCaseRequest struct {
	TrackNumber string         `json:"track_number,omitempty"`
	ClientName  string         `json:"client_name"`
	ClientPhone string         `json:"client_phone,omitempty"`
	TopicCode   string         `json:"topic_code"`
	Status      string         `json:"status,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

type TransitionRequest struct {
	ToStatus      string  `json:"to_status"`
	Comment       string  `json:"comment,omitempty"`
	ImportantDate *string `json:"important_date,omitempty" example:"2024-03-01"`
}

type ReassignRequest struct {
	TargetStaffID string `json:"target_staff_id"`
}

type MessageRequest struct {
	Body string `json:"body"`
}

type AttachmentRequest struct {
	MessageID  *string `json:"message_id,omitempty"`
	FileName   string  `json:"file_name"`
	MimeType   string  `json:"mime_type"`
	SizeBytes  int64   `json:"size_bytes,omitempty"`
	StorageKey string  `json:"storage_key"`
}

// Response payloads

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

type CaseListResponse struct {
	Items []domain.Case `json:"items"`
}

type HistoryResponse struct {
	Items []domain.HistoryEntry `json:"items"`
}

type InvoiceListResponse struct {
	Items []domain.Invoice `json:"items"`
}

type NotificationListResponse struct {
	Items []domain.Notification `json:"items"`
}

type CatalogResponse struct {
	Topics   []domain.Topic          `json:"topics"`
	Statuses []domain.Status         `json:"statuses"`
	Rules    []domain.TransitionRule `json:"rules"`
}

type SLAResponse struct {
	Defined bool            `json:"defined"`
	SLA     *engine.SLAInfo `json:"sla,omitempty"`
}

type MessageResponse struct {
	Message      domain.Message        `json:"message"`
	Notification notify.DispatchResult `json:"notification"`
}

type AttachmentResponse struct {
	Attachment   domain.Attachment     `json:"attachment"`
	Notification notify.DispatchResult `json:"notification"`
}

type ReadResponse struct {
	Marked int64 `json:"marked"`
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
