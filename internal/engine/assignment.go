package engine

import (
	"context"
	"fmt"

	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
)

const (
	CodeCaseUnassigned   = "case_unassigned"
	CodeAlreadyAssigned  = "already_assigned"
	CodeTargetIneligible = "target_ineligible"
)

type ClaimResult struct {
	CaseID     string `json:"case_id"`
	AssigneeID string `json:"assignee_id"`
	Basis      string `json:"basis"`
}

// Claim assigns an unassigned case to the calling lawyer. Exactly one of
// several concurrent claims succeeds; the others get a ConflictError.
func (e Engine) Claim(ctx context.Context, caseID string, actor domain.Actor) (ClaimResult, error) {
	if err := auth.RequireRole(actor, "claim", domain.RoleLawyer); err != nil {
		return ClaimResult{}, err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return ClaimResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return ClaimResult{}, err
	}
	staff, basis, ok, err := e.Auth.EligibleStaffTx(ctx, tx, actor.ID, c.TopicCode)
	if err != nil {
		return ClaimResult{}, err
	}
	if !ok {
		return ClaimResult{}, auth.ForbiddenError{Action: "claim", Role: actor.Role}
	}
	claimed, err := e.Repo.AssignIfUnassignedTx(ctx, tx, c.ID, staff.ID, staff.DefaultRate, actor.Label(), e.stamp())
	if err != nil {
		return ClaimResult{}, err
	}
	if !claimed {
		exists, err := e.Repo.CaseExistsTx(ctx, tx, c.ID)
		if err != nil {
			return ClaimResult{}, err
		}
		if !exists {
			return ClaimResult{}, repo.ErrNotFound
		}
		return ClaimResult{}, domain.ConflictError{Reason: fmt.Sprintf("case %s is already assigned", c.TrackNumber)}
	}
	if err := e.Events.AppendCase(ctx, tx, domain.AuditManualClaim, c.ID, actor.ID, events.Payload{
		"topic": c.TopicCode, "assignee_id": staff.ID, "basis": basis,
	}); err != nil {
		return ClaimResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ClaimResult{}, err
	}
	e.Metrics.Assignment(ctx, "claim")
	e.logger().Info("case claimed", "case", c.ID, "staff", staff.ID, "basis", basis)
	return ClaimResult{CaseID: c.ID, AssigneeID: staff.ID, Basis: basis}, nil
}

type ReassignResult struct {
	CaseID string `json:"case_id"`
	From   string `json:"from_assignee_id"`
	To     string `json:"to_assignee_id"`
	Basis  string `json:"basis"`
}

// Reassign moves an assigned case to another qualified lawyer. Only
// administrators may reassign.
func (e Engine) Reassign(ctx context.Context, caseID, targetID string, actor domain.Actor) (ReassignResult, error) {
	if err := auth.RequireRole(actor, "reassign", domain.RoleAdmin); err != nil {
		return ReassignResult{}, err
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return ReassignResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return ReassignResult{}, err
	}
	current := c.AssignedTo()
	if current == "" {
		return ReassignResult{}, domain.Invalid(CodeCaseUnassigned, "case %s has no assignee to reassign from", c.TrackNumber)
	}
	if current == targetID {
		return ReassignResult{}, domain.Invalid(CodeAlreadyAssigned, "case %s is already assigned to %s", c.TrackNumber, targetID)
	}
	_, basis, ok, err := e.Auth.EligibleStaffTx(ctx, tx, targetID, c.TopicCode)
	if err != nil {
		return ReassignResult{}, err
	}
	if !ok {
		return ReassignResult{}, domain.Invalid(CodeTargetIneligible, "%s is not an active lawyer qualified for topic %s", targetID, c.TopicCode)
	}
	moved, err := e.Repo.ReassignTx(ctx, tx, c.ID, current, targetID, actor.Label(), e.stamp())
	if err != nil {
		return ReassignResult{}, err
	}
	if !moved {
		return ReassignResult{}, domain.ConflictError{Reason: fmt.Sprintf("case %s changed assignee concurrently", c.TrackNumber)}
	}
	if err := e.Events.AppendCase(ctx, tx, domain.AuditManualReassign, c.ID, actor.ID, events.Payload{
		"topic": c.TopicCode, "from": current, "to": targetID, "basis": basis,
	}); err != nil {
		return ReassignResult{}, err
	}
	c.AssignedStaffID = &targetID
	batch, err := e.Notify.Stage(ctx, tx, notify.Request{
		Case:      c,
		Event:     domain.EventAssignment,
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Body:      fmt.Sprintf("reassigned from %s to %s", current, targetID),
	})
	if err != nil {
		return ReassignResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReassignResult{}, err
	}
	e.Metrics.Assignment(ctx, "reassign")
	e.Notify.Push(ctx, batch)
	e.logger().Info("case reassigned", "case", c.ID, "from", current, "to", targetID)
	return ReassignResult{CaseID: c.ID, From: current, To: targetID, Basis: basis}, nil
}
