package domain

type Case struct {
	ID                string   `json:"id" db:"id"`
	TrackNumber       string   `json:"track_number" db:"track_number"`
	ClientName        string   `json:"client_name" db:"client_name"`
	ClientPhone       string   `json:"client_phone" db:"client_phone"`
	TopicCode         string   `json:"topic_code" db:"topic_code"`
	Status            string   `json:"status" db:"status"`
	Data              JSONMap  `json:"data" db:"data_json"`
	AssignedStaffID   *string  `json:"assigned_staff_id,omitempty" db:"assigned_staff_id"`
	EffectiveRate     *float64 `json:"effective_rate,omitempty" db:"effective_rate"`
	InvoiceAmount     *float64 `json:"invoice_amount,omitempty" db:"invoice_amount"`
	PaidAt            *string  `json:"paid_at,omitempty" db:"paid_at" format:"date-time"`
	PaidByStaffID     *string  `json:"paid_by_staff_id,omitempty" db:"paid_by_staff_id"`
	Responsible       string   `json:"responsible,omitempty" db:"responsible"`
	ImportantDateAt   *string  `json:"important_date_at,omitempty" db:"important_date_at" format:"date-time"`
	ClientHasUnread   bool     `json:"client_has_unread" db:"client_has_unread"`
	ClientUnreadEvent *string  `json:"client_unread_event,omitempty" db:"client_unread_event"`
	StaffHasUnread    bool     `json:"staff_has_unread" db:"staff_has_unread"`
	StaffUnreadEvent  *string  `json:"staff_unread_event,omitempty" db:"staff_unread_event"`
	CreatedAt         string   `json:"created_at" db:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" db:"updated_at" format:"date-time"`
}

// AssignedTo returns the assignee id or "" when the case is unclaimed.
func (c Case) AssignedTo() string {
	if c.AssignedStaffID == nil {
		return ""
	}
	return *c.AssignedStaffID
}

type Status struct {
	Code            string     `json:"code" db:"code"`
	Name            string     `json:"name" db:"name"`
	IsTerminal      bool       `json:"is_terminal" db:"is_terminal"`
	Kind            StatusKind `json:"kind" db:"kind" enum:"DEFAULT,INVOICE,PAID"`
	InvoiceTemplate *string    `json:"invoice_template,omitempty" db:"invoice_template"`
}

type Topic struct {
	Code string `json:"code" db:"code"`
	Name string `json:"name" db:"name"`
}

type TransitionRule struct {
	ID                int64      `json:"id" db:"id"`
	TopicCode         string     `json:"topic_code" db:"topic_code"`
	FromStatus        string     `json:"from_status" db:"from_status"`
	ToStatus          string     `json:"to_status" db:"to_status"`
	Enabled           bool       `json:"enabled" db:"enabled"`
	SLAHours          *int       `json:"sla_hours,omitempty" db:"sla_hours"`
	RequiredDataKeys  StringList `json:"required_data_keys,omitempty" db:"required_data_keys"`
	RequiredMimeTypes StringList `json:"required_mime_types,omitempty" db:"required_mime_types"`
}

// HasRequirements reports whether the rule gates the transition on data or evidence.
func (r TransitionRule) HasRequirements() bool {
	return len(r.RequiredDataKeys) > 0 || len(r.RequiredMimeTypes) > 0
}

type HistoryEntry struct {
	ID         int64   `json:"id" db:"id"`
	CaseID     string  `json:"case_id" db:"case_id"`
	FromStatus *string `json:"from_status,omitempty" db:"from_status"`
	ToStatus   string  `json:"to_status" db:"to_status"`
	ActorID    string  `json:"actor_id" db:"actor_id"`
	ActorRole  Role    `json:"actor_role" db:"actor_role"`
	Comment    string  `json:"comment,omitempty" db:"comment"`
	CreatedAt  string  `json:"created_at" db:"created_at" format:"date-time"`
}

type InvoiceStatus string

const (
	InvoiceWaitingPayment InvoiceStatus = "WAITING_PAYMENT"
	InvoicePaid           InvoiceStatus = "PAID"
)

type Invoice struct {
	ID               string        `json:"id" db:"id"`
	CaseID           string        `json:"case_id" db:"case_id"`
	Number           string        `json:"number" db:"number"`
	Status           InvoiceStatus `json:"status" db:"status" enum:"WAITING_PAYMENT,PAID"`
	Amount           float64       `json:"amount" db:"amount"`
	Currency         string        `json:"currency" db:"currency"`
	PayloadEncrypted string        `json:"-" db:"payload_encrypted"`
	IssuedByID       string        `json:"issued_by_id" db:"issued_by_id"`
	IssuedByRole     Role          `json:"issued_by_role" db:"issued_by_role"`
	IssuedAt         string        `json:"issued_at" db:"issued_at" format:"date-time"`
	PaidAt           *string       `json:"paid_at,omitempty" db:"paid_at" format:"date-time"`
}

type RecipientType string

const (
	RecipientClient RecipientType = "CLIENT"
	RecipientStaff  RecipientType = "STAFF"
)

type Notification struct {
	ID                   string        `json:"id" db:"id"`
	CaseID               string        `json:"case_id" db:"case_id"`
	RecipientType        RecipientType `json:"recipient_type" db:"recipient_type" enum:"CLIENT,STAFF"`
	RecipientTrackNumber *string       `json:"recipient_track_number,omitempty" db:"recipient_track_number"`
	RecipientStaffID     *string       `json:"recipient_staff_id,omitempty" db:"recipient_staff_id"`
	EventType            EventType     `json:"event_type" db:"event_type"`
	Title                string        `json:"title" db:"title"`
	Body                 string        `json:"body,omitempty" db:"body"`
	DedupeKey            *string       `json:"dedupe_key,omitempty" db:"dedupe_key"`
	CreatedAt            string        `json:"created_at" db:"created_at" format:"date-time"`
	ReadAt               *string       `json:"read_at,omitempty" db:"read_at" format:"date-time"`
}

type Staff struct {
	ID           string   `json:"id" db:"id"`
	Name         string   `json:"name" db:"name"`
	Role         Role     `json:"role" db:"role" enum:"ADMIN,LAWYER"`
	Active       bool     `json:"active" db:"active"`
	PrimaryTopic *string  `json:"primary_topic,omitempty" db:"primary_topic"`
	DefaultRate  *float64 `json:"default_rate,omitempty" db:"default_rate"`
	CreatedAt    string   `json:"created_at" db:"created_at" format:"date-time"`
}

// AssignmentEligible reports whether the staff member may hold cases at all.
func (s Staff) AssignmentEligible() bool {
	return s.Active && s.Role == RoleLawyer
}

type Message struct {
	ID         string `json:"id" db:"id"`
	CaseID     string `json:"case_id" db:"case_id"`
	AuthorID   string `json:"author_id" db:"author_id"`
	AuthorRole Role   `json:"author_role" db:"author_role"`
	Body       string `json:"body" db:"body"`
	Immutable  bool   `json:"immutable" db:"immutable"`
	CreatedAt  string `json:"created_at" db:"created_at" format:"date-time"`
}

type Attachment struct {
	ID         string  `json:"id" db:"id"`
	CaseID     string  `json:"case_id" db:"case_id"`
	MessageID  *string `json:"message_id,omitempty" db:"message_id"`
	FileName   string  `json:"file_name" db:"file_name"`
	MimeType   string  `json:"mime_type" db:"mime_type"`
	SizeBytes  int64   `json:"size_bytes" db:"size_bytes"`
	StorageKey string  `json:"storage_key" db:"storage_key"`
	UploadedBy string  `json:"uploaded_by" db:"uploaded_by"`
	Immutable  bool    `json:"immutable" db:"immutable"`
	CreatedAt  string  `json:"created_at" db:"created_at" format:"date-time"`
}

type AuditAction string

const (
	AuditAutoAssign     AuditAction = "AUTO_ASSIGN"
	AuditManualClaim    AuditAction = "MANUAL_CLAIM"
	AuditManualReassign AuditAction = "MANUAL_REASSIGN"
	AuditStatusChange   AuditAction = "STATUS_CHANGE"
)

type AuditEntry struct {
	ID         int64       `json:"id" db:"id"`
	TS         string      `json:"ts" db:"ts" format:"date-time"`
	EntityKind string      `json:"entity_kind" db:"entity_kind"`
	EntityID   string      `json:"entity_id" db:"entity_id"`
	Action     AuditAction `json:"action" db:"action"`
	ActorID    string      `json:"actor_id" db:"actor_id"`
	Payload    string      `json:"payload_json" db:"payload_json"`
}

// Actor is whoever drives an operation: a staff member or the client of a case.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Label is the responsible stamp written onto cases.
func (a Actor) Label() string {
	if a.ID == "" {
		return string(a.Role)
	}
	return string(a.Role) + ":" + a.ID
}

type APIKey struct {
	ID        string `json:"id" db:"id"`
	StaffID   string `json:"staff_id" db:"staff_id"`
	Name      string `json:"name,omitempty" db:"name"`
	KeyHash   string `json:"-" db:"key_hash"`
	CreatedAt string `json:"created_at" db:"created_at" format:"date-time"`
}
