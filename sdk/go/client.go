package caseflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID              string         `json:"id"`
	TrackNumber     string         `json:"track_number"`
	ClientName      string         `json:"client_name"`
	TopicCode       string         `json:"topic_code"`
	Status          string         `json:"status"`
	Data            map[string]any `json:"data"`
	AssignedStaffID *string        `json:"assigned_staff_id,omitempty"`
	InvoiceAmount   *float64       `json:"invoice_amount,omitempty"`
	PaidAt          *string        `json:"paid_at,omitempty"`
	ImportantDateAt *string        `json:"important_date_at,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// HistoryEntry is one status change.
type HistoryEntry struct {
	ID         int64   `json:"id"`
	FromStatus *string `json:"from_status,omitempty"`
	ToStatus   string  `json:"to_status"`
	ActorID    string  `json:"actor_id"`
	ActorRole  string  `json:"actor_role"`
	Comment    string  `json:"comment,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// Invoice is an issued bill; its payload stays sealed server side.
type Invoice struct {
	ID       string  `json:"id"`
	Number   string  `json:"number"`
	Status   string  `json:"status"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	IssuedAt string  `json:"issued_at"`
	PaidAt   *string `json:"paid_at,omitempty"`
}

// TransitionResult reports the outcome of a status change.
type TransitionResult struct {
	FromStatus    string   `json:"from_status"`
	ToStatus      string   `json:"to_status"`
	ImportantDate *string  `json:"important_date,omitempty"`
	Note          string   `json:"note,omitempty"`
	Invoice       *Invoice `json:"invoice,omitempty"`
	Noop          bool     `json:"noop,omitempty"`
}

type ClaimResult struct {
	CaseID     string `json:"case_id"`
	AssigneeID string `json:"assignee_id"`
	Basis      string `json:"basis"`
}

type ReassignResult struct {
	CaseID string `json:"case_id"`
	From   string `json:"from_assignee_id"`
	To     string `json:"to_assignee_id"`
	Basis  string `json:"basis"`
}

// SchedulerResult summarises one assignment pass.
type SchedulerResult struct {
	Checked  int `json:"checked"`
	Assigned int `json:"assigned"`
	Overdue  int `json:"overdue"`
}

type StaffLoad struct {
	StaffID      string   `json:"staff_id"`
	Name         string   `json:"name"`
	PrimaryTopic *string  `json:"primary_topic,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	Active       int      `json:"active_cases"`
}

type Notification struct {
	ID        string  `json:"id"`
	CaseID    string  `json:"case_id"`
	EventType string  `json:"event_type"`
	Title     string  `json:"title"`
	Body      string  `json:"body,omitempty"`
	CreatedAt string  `json:"created_at"`
	ReadAt    *string `json:"read_at,omitempty"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// CreateCase opens a new case.
func (c *Client) CreateCase(ctx context.Context, clientName, topic string, data map[string]any) (Case, error) {
	body := map[string]any{
		"client_name": clientName,
		"topic_code":  topic,
		"data":        data,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "cases", body, &resp)
	return resp, err
}

func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, casePath(id, ""), nil, &resp)
	return resp, err
}

// History returns the status history of a case, oldest first.
func (c *Client) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	var resp struct {
		Items []HistoryEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, casePath(id, "history"), nil, &resp)
	return resp.Items, err
}

func (c *Client) Invoices(ctx context.Context, id string) ([]Invoice, error) {
	var resp struct {
		Items []Invoice `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, casePath(id, "invoices"), nil, &resp)
	return resp.Items, err
}

// Transition moves a case to status. importantDate may be empty.
func (c *Client) Transition(ctx context.Context, id, status, comment, importantDate string) (TransitionResult, error) {
	body := map[string]any{"to_status": status}
	if comment != "" {
		body["comment"] = comment
	}
	if importantDate != "" {
		body["important_date"] = importantDate
	}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, casePath(id, "transition"), body, &resp)
	return resp, err
}

// UpdateData merges patch into the case data; nil values remove keys.
func (c *Client) UpdateData(ctx context.Context, id string, patch map[string]any) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPatch, casePath(id, "data"), patch, &resp)
	return resp, err
}

func (c *Client) Claim(ctx context.Context, id string) (ClaimResult, error) {
	var resp ClaimResult
	err := c.do(ctx, http.MethodPost, casePath(id, "claim"), nil, &resp)
	return resp, err
}

func (c *Client) Reassign(ctx context.Context, id, targetStaffID string) (ReassignResult, error) {
	var resp ReassignResult
	err := c.do(ctx, http.MethodPost, casePath(id, "reassign"), map[string]any{"target_staff_id": targetStaffID}, &resp)
	return resp, err
}

// SendMessage posts a message on the case conversation.
func (c *Client) SendMessage(ctx context.Context, id, text string) error {
	return c.do(ctx, http.MethodPost, casePath(id, "messages"), map[string]any{"body": text}, nil)
}

// RunScheduler triggers one assignment pass. Admin only.
func (c *Client) RunScheduler(ctx context.Context) (SchedulerResult, error) {
	var resp SchedulerResult
	err := c.do(ctx, http.MethodPost, "scheduler/run", nil, &resp)
	return resp, err
}

func (c *Client) StaffLoad(ctx context.Context) ([]StaffLoad, error) {
	var resp []StaffLoad
	err := c.do(ctx, http.MethodGet, "staff/load", nil, &resp)
	return resp, err
}

// Notifications lists the caller's notifications, newest first.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]Notification, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", "true")
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "notifications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Notification `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func casePath(id, sub string) string {
	p := "cases/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
