package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/billing"
	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
	"caseflow/internal/sealed"
	"caseflow/internal/telemetry"
)

type Engine struct {
	DB      *sqlx.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Billing billing.Engine
	Notify  notify.Dispatcher
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Options carries the collaborators that vary between deployments.
type Options struct {
	Sealer   *sealed.Sealer
	Pusher   notify.Pusher
	Currency string
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

func New(db *sqlx.DB, opts Options) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		Events:  events.Writer{},
		Auth:    auth.Service{Repo: r},
		Billing: billing.Engine{Repo: r, Sealer: opts.Sealer, Currency: opts.Currency, Metrics: opts.Metrics},
		Notify:  notify.Dispatcher{DB: db, Repo: r, Pusher: opts.Pusher, Metrics: opts.Metrics, Logger: opts.Logger},
		Metrics: opts.Metrics,
		Logger:  opts.Logger,
		Now:     time.Now,
	}
}

// WithClock returns a copy whose collaborators all read time from now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Billing.Now = now
	e.Notify.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stamp() string {
	return e.now().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// canAct reports whether actor may change the case: administrators always,
// lawyers when they hold the case, clients when it is theirs.
func canAct(actor domain.Actor, c domain.Case, action string) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleLawyer:
		if actor.ID != "" && c.AssignedTo() == actor.ID {
			return nil
		}
	case domain.RoleClient:
		if actor.ID != "" && actor.ID == c.TrackNumber {
			return nil
		}
	}
	return auth.ForbiddenError{Action: action, Role: actor.Role}
}

// CanView also lets lawyers see unclaimed cases so they can pick them up.
func CanView(actor domain.Actor, c domain.Case) error {
	if actor.Role == domain.RoleLawyer && c.AssignedStaffID == nil {
		return nil
	}
	return canAct(actor, c, "view_case")
}

// normalizeDate accepts RFC3339 timestamps or bare dates and returns RFC3339 UTC.
func normalizeDate(v *string) (*string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	raw := strings.TrimSpace(*v)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			out := t.UTC().Format(time.RFC3339)
			return &out, nil
		}
	}
	return nil, domain.Invalid("invalid_date", "important_date %q must be RFC3339 or YYYY-MM-DD", raw)
}

func statusBody(from, to, note string) string {
	body := fmt.Sprintf("%s -> %s", from, to)
	if note != "" {
		body += "; " + note
	}
	return body
}
