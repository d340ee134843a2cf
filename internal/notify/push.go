package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"caseflow/internal/domain"
)

const (
	defaultPushTimeout = 5 * time.Second
	defaultPushRetries = 3
)

// HTTPPusher posts notification batches as JSON to a relay endpoint.
type HTTPPusher struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
	// Events limits which event types are relayed; empty relays all.
	Events []string
	Client *http.Client
	// InitialInterval overrides the first retry delay.
	InitialInterval time.Duration
}

type pushEnvelope struct {
	Event         domain.EventType      `json:"event"`
	Notifications []domain.Notification `json:"notifications"`
}

type permanentError struct {
	status int
	body   string
}

func (e permanentError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func (p HTTPPusher) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (p HTTPPusher) backoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	retries := p.MaxRetries
	if retries <= 0 {
		retries = defaultPushRetries
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)
}

// Push delivers the notifications whose event type passes the filter.
func (p HTTPPusher) Push(ctx context.Context, notes []domain.Notification) error {
	if strings.TrimSpace(p.URL) == "" {
		return nil
	}
	filter := newEventFilter(p.Events)
	var selected []domain.Notification
	for _, n := range notes {
		if filter.match(string(n.EventType)) {
			selected = append(selected, n)
		}
	}
	if len(selected) == 0 {
		return nil
	}
	data, err := json.Marshal(pushEnvelope{Event: selected[0].EventType, Notifications: selected})
	if err != nil {
		return err
	}
	client := p.client()
	return backoff.Retry(func() error {
		err := p.post(ctx, client, selected[0], data)
		if pe, ok := err.(permanentError); ok {
			return backoff.Permanent(pe)
		}
		return err
	}, p.backoff(ctx))
}

func (p HTTPPusher) post(ctx context.Context, client *http.Client, first domain.Notification, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(data))
	if err != nil {
		return permanentError{body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseflow-Event", string(first.EventType))
	req.Header.Set("X-Caseflow-Delivery", first.ID)
	req.Header.Set("X-Caseflow-Case", first.CaseID)
	if strings.TrimSpace(p.Secret) != "" {
		req.Header.Set("X-Caseflow-Secret", p.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	body := strings.TrimSpace(string(bodyBytes))
	if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
		return permanentError{status: res.StatusCode, body: body}
	}
	return fmt.Errorf("status %d: %s", res.StatusCode, body)
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.ToUpper(strings.TrimSpace(evt))
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
