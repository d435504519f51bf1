package auth

import (
	"fmt"

	"inspectline/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Actor is the resolved caller of an engine operation.
type Actor struct {
	ProfileID   string
	Role        domain.Role
	LocationIDs []string
}

// ActorFromProfile builds an Actor from a stored profile.
func ActorFromProfile(p domain.Profile) Actor {
	return Actor{ProfileID: p.ID, Role: p.Role, LocationIDs: p.LocationIDs}
}

// System acts for scheduled jobs and operator tooling.
var System = Actor{ProfileID: "system", Role: domain.RoleOwner}

func (a Actor) AtLocation(locationID string) bool {
	for _, l := range a.LocationIDs {
		if l == locationID {
			return true
		}
	}
	return false
}

// Authorizer decides who may move an instance to a status.
type Authorizer interface {
	CanTransition(actor Actor, inst domain.Instance, to domain.Status) bool
}

// RoleAuthorizer lets owners and admins do anything. Nurses and inspectors
// may work instances assigned to them or at their locations, but never void.
type RoleAuthorizer struct{}

func (RoleAuthorizer) CanTransition(actor Actor, inst domain.Instance, to domain.Status) bool {
	if actor.Role.Privileged() {
		return true
	}
	if to == domain.StatusVoid {
		return false
	}
	if actor.Role != domain.RoleNurse && actor.Role != domain.RoleInspector {
		return false
	}
	if inst.AssigneeProfileID != nil && *inst.AssigneeProfileID == actor.ProfileID {
		return true
	}
	return actor.AtLocation(inst.LocationID)
}

// CanManageTemplates reports whether actor may create or retire templates.
func CanManageTemplates(actor Actor) bool {
	return actor.Role.Privileged()
}
