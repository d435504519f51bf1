package server

import (
	"encoding/json"

	"inspectline/internal/domain"
)

// Request payloads

type CreateLocationRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty" example:"America/New_York"`
}

type CreateProfileRequest struct {
	ID          string   `json:"id,omitempty"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name"`
	Role        string   `json:"role" enum:"owner,admin,nurse,inspector"`
	Phone       string   `json:"phone,omitempty" example:"+15550001111"`
	LocationIDs []string `json:"location_ids,omitempty"`
}

type CreateTemplateRequest struct {
	ID                string            `json:"id,omitempty"`
	LocationID        string            `json:"location_id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Frequency         string            `json:"frequency" enum:"daily,weekly,monthly,quarterly,yearly,every_3_years"`
	Anchor            domain.AnchorRule `json:"anchor"`
	AssigneeProfileID string            `json:"assignee_profile_id,omitempty"`
	AssigneeEmail     string            `json:"assignee_email,omitempty"`
}

type TransitionRequest struct {
	Status  string  `json:"status" enum:"pending,in_progress,failed,passed,void"`
	Remarks *string `json:"remarks,omitempty"`
}

// Response payloads

type TemplateCreatedResponse struct {
	Template      domain.Template `json:"template"`
	FirstInstance domain.Instance `json:"first_instance"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	LocationID string          `json:"location_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage(e.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		LocationID: e.LocationID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}
