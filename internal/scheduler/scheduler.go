// Package scheduler distributes unassigned cases to qualified lawyers by
// least active load and raises SLA overdue notifications.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/notify"
)

// Actor is recorded as the author of automatic assignments.
const Actor = "scheduler"

type Scheduler struct {
	Engine engine.Engine
	// Terminal overrides the terminal statuses read from the catalog.
	Terminal   []string
	StaleAfter time.Duration
	Interval   time.Duration
	SLASweep   bool
	Logger     *slog.Logger
}

type RunResult struct {
	Checked  int `json:"checked"`
	Assigned int `json:"assigned"`
	Overdue  int `json:"overdue"`
}

func (s Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Scheduler) now() time.Time {
	if s.Engine.Now != nil {
		return s.Engine.Now().UTC()
	}
	return time.Now().UTC()
}

type candidate struct {
	staff domain.Staff
	basis string
}

// snapshot is the state an assignment pass decides on.
type snapshot struct {
	terminal []string
	lawyers  []domain.Staff
	topics   map[string][]string
	loads    map[string]int
	cases    []domain.Case
}

func (s Scheduler) load(ctx context.Context) (snapshot, error) {
	var snap snapshot
	e := s.Engine
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return snap, err
	}
	defer tx.Rollback()

	snap.terminal = s.Terminal
	if len(snap.terminal) == 0 {
		if snap.terminal, err = e.Repo.TerminalStatusCodesTx(ctx, tx); err != nil {
			return snap, err
		}
	}
	if len(snap.terminal) == 0 {
		snap.terminal = domain.DefaultTerminalStatuses
	}
	if snap.lawyers, err = e.Repo.ListActiveStaffTx(ctx, tx, domain.RoleLawyer); err != nil {
		return snap, err
	}
	if snap.topics, err = e.Repo.StaffTopicsTx(ctx, tx); err != nil {
		return snap, err
	}
	if snap.loads, err = e.Repo.ActiveLoadsTx(ctx, tx, snap.terminal); err != nil {
		return snap, err
	}
	cutoff := s.now().Add(-s.StaleAfter).Format(time.RFC3339)
	if snap.cases, err = e.Repo.ListUnassignedTx(ctx, tx, cutoff); err != nil {
		return snap, err
	}
	return snap, nil
}

// candidates returns the primary-qualified lawyers for topic, or the
// secondary-qualified ones when nobody holds it as primary.
func (snap snapshot) candidates(topic string) []candidate {
	var primary, secondary []candidate
	for _, l := range snap.lawyers {
		switch {
		case l.PrimaryTopic != nil && *l.PrimaryTopic == topic:
			primary = append(primary, candidate{staff: l, basis: auth.BasisPrimaryTopic})
		case slices.Contains(snap.topics[l.ID], topic):
			secondary = append(secondary, candidate{staff: l, basis: auth.BasisAdditionalTopic})
		}
	}
	if len(primary) > 0 {
		return primary
	}
	return secondary
}

// pick returns the candidate with the lowest load; ties go to the lowest staff id.
func (snap snapshot) pick(cands []candidate) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		lc, lb := snap.loads[c.staff.ID], snap.loads[best.staff.ID]
		if lc < lb || (lc == lb && c.staff.ID < best.staff.ID) {
			best = c
		}
	}
	return best
}

// RunOnce performs one assignment pass and, when enabled, one SLA sweep.
// Every write is conditional, so overlapping runs are safe.
func (s Scheduler) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult
	snap, err := s.load(ctx)
	if err != nil {
		return res, fmt.Errorf("load scheduler state: %w", err)
	}
	res.Checked = len(snap.cases)
	for _, c := range snap.cases {
		cands := snap.candidates(c.TopicCode)
		if len(cands) == 0 {
			s.logger().Debug("no eligible staff", "case", c.ID, "topic", c.TopicCode)
			continue
		}
		chosen := snap.pick(cands)
		ok, err := s.assign(ctx, c, chosen)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		snap.loads[chosen.staff.ID]++
		res.Assigned++
		s.Engine.Metrics.Assignment(ctx, "auto")
		s.logger().Info("case auto-assigned", "case", c.ID, "staff", chosen.staff.ID, "basis", chosen.basis)
	}
	if s.SLASweep {
		if res.Overdue, err = s.sweep(ctx, snap.terminal); err != nil {
			return res, fmt.Errorf("sla sweep: %w", err)
		}
	}
	return res, nil
}

func (s Scheduler) assign(ctx context.Context, c domain.Case, chosen candidate) (bool, error) {
	e := s.Engine
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	stamp := s.now().Format(time.RFC3339)
	ok, err := e.Repo.AssignIfUnassignedTx(ctx, tx, c.ID, chosen.staff.ID, chosen.staff.DefaultRate, Actor, stamp)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := e.Events.AppendCase(ctx, tx, domain.AuditAutoAssign, c.ID, Actor, events.Payload{
		"topic": c.TopicCode, "assignee_id": chosen.staff.ID, "basis": chosen.basis,
	}); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// sweep notifies about assigned open cases past their SLA deadline, once per
// entry into the current status.
func (s Scheduler) sweep(ctx context.Context, terminal []string) (int, error) {
	e := s.Engine
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	cases, err := e.Repo.ListOpenAssignedTx(ctx, tx, terminal)
	if err != nil {
		return 0, err
	}
	var batches []notify.Batch
	for _, c := range cases {
		info, ok, err := e.SLATx(ctx, tx, c)
		if err != nil {
			return 0, err
		}
		if !ok || !info.Overdue {
			continue
		}
		batch, err := e.Notify.Stage(ctx, tx, notify.Request{
			Case:         c,
			Event:        domain.EventSLAOverdue,
			Body:         fmt.Sprintf("%s in %s since %s, deadline %s", c.TrackNumber, c.Status, info.EnteredAt, info.Deadline),
			DedupePrefix: fmt.Sprintf("sla:%s:%d", c.ID, info.HistoryID),
		})
		if err != nil {
			return 0, err
		}
		if len(batch.Created) > 0 {
			batches = append(batches, batch)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	for _, b := range batches {
		e.Notify.Push(ctx, b)
	}
	return len(batches), nil
}

// Run calls RunOnce every Interval until ctx is done. Failed runs are logged
// and retried on the next tick.
func (s Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if res, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger().Warn("scheduler run failed", "err", err)
		} else if res.Assigned > 0 || res.Overdue > 0 {
			s.logger().Info("scheduler run", "checked", res.Checked, "assigned", res.Assigned, "overdue", res.Overdue)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// StaffLoad is a lawyer's count of assigned non-terminal cases.
type StaffLoad struct {
	StaffID      string   `json:"staff_id"`
	Name         string   `json:"name"`
	PrimaryTopic *string  `json:"primary_topic,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	Active       int      `json:"active_cases"`
}

// Loads reports the load of every active lawyer as the next pass would see it.
func (s Scheduler) Loads(ctx context.Context) ([]StaffLoad, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StaffLoad, 0, len(snap.lawyers))
	for _, l := range snap.lawyers {
		out = append(out, StaffLoad{
			StaffID:      l.ID,
			Name:         l.Name,
			PrimaryTopic: l.PrimaryTopic,
			Topics:       snap.topics[l.ID],
			Active:       snap.loads[l.ID],
		})
	}
	return out, nil
}
