package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/catalog"
	"caseflow/internal/domain"
	"caseflow/internal/repo"
)

// SLAInfo describes the deadline governing a case's current status.
type SLAInfo struct {
	CaseID    string `json:"case_id"`
	Status    string `json:"status"`
	RuleID    int64  `json:"rule_id"`
	Hours     int    `json:"sla_hours"`
	EnteredAt string `json:"entered_at" format:"date-time"`
	Deadline  string `json:"deadline" format:"date-time"`
	Overdue   bool   `json:"overdue"`
	// HistoryID is the entry that moved the case into Status; zero for legacy cases.
	HistoryID int64 `json:"history_id,omitempty"`
}

// SLATx evaluates the SLA of c at the engine's current time. ok is false when
// no rule with an SLA leads into the current status.
func (e Engine) SLATx(ctx context.Context, tx *sqlx.Tx, c domain.Case) (SLAInfo, bool, error) {
	var (
		previous  string
		enteredAt = c.CreatedAt
		historyID int64
	)
	h, err := e.Repo.LatestHistoryTx(ctx, tx, c.ID)
	switch {
	case err == nil:
		if h.ToStatus == c.Status {
			enteredAt = h.CreatedAt
			historyID = h.ID
			if h.FromStatus != nil {
				previous = *h.FromStatus
			}
		}
	case errors.Is(err, repo.ErrNotFound):
	default:
		return SLAInfo{}, false, err
	}
	rules, err := e.Repo.ListRulesTx(ctx, tx, c.TopicCode)
	if err != nil {
		return SLAInfo{}, false, err
	}
	rule, ok := catalog.New(c.TopicCode, rules).SLARule(previous, c.Status)
	if !ok {
		return SLAInfo{}, false, nil
	}
	entered, err := time.Parse(time.RFC3339, enteredAt)
	if err != nil {
		return SLAInfo{}, false, fmt.Errorf("case %s entered_at: %w", c.ID, err)
	}
	deadline := catalog.Deadline(entered, rule)
	return SLAInfo{
		CaseID:    c.ID,
		Status:    c.Status,
		RuleID:    rule.ID,
		Hours:     *rule.SLAHours,
		EnteredAt: entered.UTC().Format(time.RFC3339),
		Deadline:  deadline.UTC().Format(time.RFC3339),
		Overdue:   e.now().After(deadline),
		HistoryID: historyID,
	}, true, nil
}

// SLA reports the deadline of a case the actor may view.
func (e Engine) SLA(ctx context.Context, caseID string, actor domain.Actor) (SLAInfo, bool, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return SLAInfo{}, false, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return SLAInfo{}, false, err
	}
	if err := CanView(actor, c); err != nil {
		return SLAInfo{}, false, err
	}
	return e.SLATx(ctx, tx, c)
}
