package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"inspectline/internal/domain"
)

func TestRoleAuthorizer(t *testing.T) {
	assignee := "insp-1"
	inst := domain.Instance{ID: "i-1", LocationID: "loc-1", AssigneeProfileID: &assignee}
	cases := []struct {
		name  string
		actor Actor
		to    domain.Status
		want  bool
	}{
		{"owner voids", Actor{ProfileID: "o", Role: domain.RoleOwner}, domain.StatusVoid, true},
		{"admin anywhere", Actor{ProfileID: "a", Role: domain.RoleAdmin}, domain.StatusPassed, true},
		{"nurse at location", Actor{ProfileID: "n", Role: domain.RoleNurse, LocationIDs: []string{"loc-1"}}, domain.StatusInProgress, true},
		{"nurse elsewhere", Actor{ProfileID: "n", Role: domain.RoleNurse, LocationIDs: []string{"loc-2"}}, domain.StatusInProgress, false},
		{"nurse cannot void", Actor{ProfileID: "n", Role: domain.RoleNurse, LocationIDs: []string{"loc-1"}}, domain.StatusVoid, false},
		{"assignee elsewhere", Actor{ProfileID: "insp-1", Role: domain.RoleInspector}, domain.StatusFailed, true},
		{"unknown role", Actor{ProfileID: "x", Role: domain.Role("guest"), LocationIDs: []string{"loc-1"}}, domain.StatusPassed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RoleAuthorizer{}.CanTransition(tc.actor, inst, tc.to))
		})
	}
}

func TestActorFromProfile(t *testing.T) {
	a := ActorFromProfile(domain.Profile{ID: "p-1", Role: domain.RoleNurse, LocationIDs: []string{"loc-1", "loc-3"}})
	assert.Equal(t, "p-1", a.ProfileID)
	assert.True(t, a.AtLocation("loc-3"))
	assert.False(t, a.AtLocation("loc-2"))
	assert.False(t, CanManageTemplates(a))
	assert.True(t, CanManageTemplates(System))
	assert.Equal(t, "permission instance.void required", ForbiddenError{Permission: "instance.void"}.Error())
}
