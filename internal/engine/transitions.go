package engine

import (
	"time"

	"inspectline/internal/domain"
	"inspectline/internal/repo"
)

type transitionRule struct {
	// privileged moves need owner or admin regardless of the authorizer.
	privileged   bool
	reinspection bool
}

// transitions is the complete instance lifecycle. Pairs missing here are
// rejected with InvalidTransitionError.
var transitions = map[domain.Status]map[domain.Status]transitionRule{
	domain.StatusPending: {
		domain.StatusInProgress: {},
		domain.StatusVoid:       {privileged: true},
	},
	domain.StatusInProgress: {
		domain.StatusPassed: {},
		domain.StatusFailed: {},
		domain.StatusVoid:   {privileged: true},
	},
	domain.StatusFailed: {
		domain.StatusInProgress: {reinspection: true},
	},
}

// CanTransitionTo reports whether from -> to is a legal lifecycle move.
func CanTransitionTo(from, to domain.Status) bool {
	_, err := ensureInstanceTransition(from, to)
	return err == nil
}

func ensureInstanceTransition(from, to domain.Status) (transitionRule, error) {
	rule, ok := transitions[from][to]
	if !ok {
		return transitionRule{}, domain.InvalidTransitionError{From: from, To: to}
	}
	return rule, nil
}

// statusUpdate stamps the milestones a move sets. Columns left nil keep
// their stored value.
func statusUpdate(inst domain.Instance, to domain.Status, remarks *string, now time.Time) repo.StatusUpdate {
	u := repo.StatusUpdate{
		ID:        inst.ID,
		From:      inst.Status,
		To:        to,
		Remarks:   remarks,
		UpdatedAt: now,
	}
	switch {
	case inst.Status == domain.StatusPending && to == domain.StatusInProgress:
		u.InspectedAt = &now
	case to == domain.StatusPassed:
		u.PassedAt = &now
		u.InspectedAt = &now
	case to == domain.StatusFailed:
		u.FailedAt = &now
		u.InspectedAt = &now
	}
	return u
}
