package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
	"caseflow/internal/repo"
)

// ForbiddenError indicates the actor's role may not perform the action.
type ForbiddenError struct {
	Action string
	Role   domain.Role
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s not permitted", e.Action)
	}
	return fmt.Sprintf("%s not permitted for role %s", e.Action, e.Role)
}

const (
	BasisPrimaryTopic    = "primary_topic"
	BasisAdditionalTopic = "additional_topic"
)

// RequireRole fails with ForbiddenError unless actor holds one of roles.
func RequireRole(actor domain.Actor, action string, roles ...domain.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return ForbiddenError{Action: action, Role: actor.Role}
}

// Service answers staff eligibility questions against the datastore.
type Service struct {
	Repo repo.Repo
}

// Qualification reports how staff is qualified for topic: its primary topic,
// a secondary topic, or not at all (empty basis).
func (s Service) Qualification(ctx context.Context, tx *sqlx.Tx, staff domain.Staff, topic string) (string, error) {
	if topic == "" {
		return "", nil
	}
	if staff.PrimaryTopic != nil && *staff.PrimaryTopic == topic {
		return BasisPrimaryTopic, nil
	}
	ok, err := s.Repo.HasSecondaryTopicTx(ctx, tx, staff.ID, topic)
	if err != nil {
		return "", err
	}
	if ok {
		return BasisAdditionalTopic, nil
	}
	return "", nil
}

// EligibleStaffTx loads staffID and checks it is an active LAWYER qualified for
// topic. A missing or ineligible staff member yields ok=false.
func (s Service) EligibleStaffTx(ctx context.Context, tx *sqlx.Tx, staffID, topic string) (domain.Staff, string, bool, error) {
	staff, err := s.Repo.GetStaffTx(ctx, tx, staffID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Staff{}, "", false, nil
	}
	if err != nil {
		return domain.Staff{}, "", false, err
	}
	if !staff.AssignmentEligible() {
		return staff, "", false, nil
	}
	basis, err := s.Qualification(ctx, tx, staff, topic)
	if err != nil {
		return staff, "", false, err
	}
	return staff, basis, basis != "", nil
}
