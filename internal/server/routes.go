package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/engine/auth"
	"inspectline/internal/reminder"
	"inspectline/internal/repo"
)

func registerLocations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-location",
		Method:        http.MethodPost,
		Path:          "/locations",
		Summary:       "Create location",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateLocationRequest `json:"body"`
	}) (*struct {
		Body domain.Location `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		l, err := e.CreateLocation(ctx, engine.LocationCreateOptions{
			ID:       input.Body.ID,
			Name:     input.Body.Name,
			Timezone: input.Body.Timezone,
			Actor:    actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Location `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-locations",
		Method:      http.MethodGet,
		Path:        "/locations",
		Summary:     "List locations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Location `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListLocations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := []domain.Location{}
		for _, l := range items {
			if actor.Role.Privileged() || actor.AtLocation(l.ID) {
				out = append(out, l)
			}
		}
		return &struct {
			Body []domain.Location `json:"body"`
		}{Body: out}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/profiles",
		Summary:       "Create staff profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProfileRequest `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreateProfile(ctx, engine.ProfileCreateOptions{
			ID:          input.Body.ID,
			Email:       input.Body.Email,
			Name:        input.Body.Name,
			Role:        domain.Role(input.Body.Role),
			Phone:       input.Body.Phone,
			LocationIDs: input.Body.LocationIDs,
			Actor:       actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		LocationID string `query:"location_id"`
	}) (*struct {
		Body []domain.Profile `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.Role.Privileged() {
			return nil, handleError(auth.ForbiddenError{Permission: "profile.read"})
		}
		items, err := e.Repo.ListProfiles(ctx, input.LocationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Profile `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current profile",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProfile(ctx, actor.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create recurring inspection template",
		Description:   "Stores the template and generates its first instance in one transaction.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body TemplateCreatedResponse `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		t, inst, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
			ID:                input.Body.ID,
			LocationID:        input.Body.LocationID,
			Name:              input.Body.Name,
			Description:       input.Body.Description,
			Frequency:         domain.Frequency(input.Body.Frequency),
			Anchor:            input.Body.Anchor,
			AssigneeProfileID: input.Body.AssigneeProfileID,
			AssigneeEmail:     input.Body.AssigneeEmail,
			Actor:             actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateCreatedResponse `json:"body"`
		}{Body: TemplateCreatedResponse{Template: t, FirstInstance: inst}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates",
	}, func(ctx context.Context, input *struct {
		LocationID string `query:"location_id"`
		Active     bool   `query:"active"`
	}) (*struct {
		Body []domain.Template `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireLocation(actor, input.LocationID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTemplates(ctx, repo.TemplateFilters{LocationID: input.LocationID, ActiveOnly: input.Active})
		if err != nil {
			return nil, handleError(err)
		}
		out := []domain.Template{}
		for _, t := range items {
			if actor.Role.Privileged() || actor.AtLocation(t.LocationID) {
				out = append(out, t)
			}
		}
		return &struct {
			Body []domain.Template `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get template",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireLocation(actor, t.LocationID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-template",
		Method:      http.MethodPost,
		Path:        "/templates/{template_id}/deactivate",
		Summary:     "Stop generating instances for a template",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body domain.Template `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.DeactivateTemplate(ctx, input.TemplateID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Template `json:"body"`
		}{Body: t}, nil
	})
}

func registerInstances(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-instances",
		Method:      http.MethodGet,
		Path:        "/instances",
		Summary:     "List inspection instances",
	}, func(ctx context.Context, input *struct {
		LocationID string `query:"location_id"`
		TemplateID string `query:"template_id"`
		Status     string `query:"status"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Instance `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireLocation(actor, input.LocationID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListInstances(ctx, repo.InstanceFilters{
			LocationID: input.LocationID,
			TemplateID: input.TemplateID,
			Status:     input.Status,
			AssigneeID: input.AssigneeID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := []domain.Instance{}
		for _, inst := range items {
			if actor.Role.Privileged() || actor.AtLocation(inst.LocationID) {
				out = append(out, inst)
			}
		}
		return &struct {
			Body []domain.Instance `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-instance",
		Method:      http.MethodGet,
		Path:        "/instances/{instance_id}",
		Summary:     "Get instance",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*struct {
		Body domain.Instance `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		inst, err := e.Repo.GetInstance(ctx, input.InstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireLocation(actor, inst.LocationID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{instance_id}/transition",
		Summary:     "Change instance status",
		Description: "Fails with 409 invalid_transition when the move is not allowed from the stored status, including when another writer changed it first.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		InstanceID string            `path:"instance_id"`
		Body       TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Instance `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		inst, err := e.TransitionInstance(ctx, engine.TransitionOptions{
			InstanceID: input.InstanceID,
			To:         domain.Status(input.Body.Status),
			Remarks:    input.Body.Remarks,
			Actor:      actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Instance `json:"body"`
		}{Body: inst}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remind-instance",
		Method:        http.MethodPost,
		Path:          "/instances/{instance_id}/remind",
		Summary:       "Queue a manual reminder to the assignee",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*struct {
		Body domain.Notification `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		n, err := e.Remind(ctx, input.InstanceID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Notification `json:"body"`
		}{Body: n}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List outbox entries",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Category string `query:"category"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.Role.Privileged() {
			return nil, handleError(auth.ForbiddenError{Permission: "notification.list"})
		}
		items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{Status: input.Status, Category: input.Category, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Notification{}
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "requeue-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{notification_id}/requeue",
		Summary:       "Queue a failed notification again",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct {
		Body domain.Notification `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		n, err := e.RequeueNotification(ctx, input.NotificationID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Notification `json:"body"`
		}{Body: n}, nil
	})
}

func registerSettings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-reminder-settings",
		Method:      http.MethodGet,
		Path:        "/settings/reminders",
		Summary:     "Effective reminder settings",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body reminder.Settings `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx, e); err != nil {
			return nil, handleError(err)
		}
		s, err := e.ReminderSettings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body reminder.Settings `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-reminder-settings",
		Method:      http.MethodPut,
		Path:        "/settings/reminders",
		Summary:     "Replace reminder settings",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body reminder.Settings `json:"body"`
	}) (*struct {
		Body reminder.Settings `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.SaveReminderSettings(ctx, input.Body, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body reminder.Settings `json:"body"`
		}{Body: s}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		LocationID string `query:"location_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, err := actorFromContext(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.Role.Privileged() {
			return nil, handleError(auth.ForbiddenError{Permission: "events.read"})
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			LocationID: input.LocationID,
			Limit:      limit + 1,
			Cursor:     cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// requireLocation rejects non-privileged actors filtering on a location
// they are not assigned to. An empty location passes.
func requireLocation(actor auth.Actor, locationID string) error {
	if locationID == "" || actor.Role.Privileged() || actor.AtLocation(locationID) {
		return nil
	}
	return auth.ForbiddenError{Permission: "location.read"}
}
