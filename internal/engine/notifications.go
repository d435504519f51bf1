package engine

import (
	"context"
	"errors"
	"fmt"

	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/notify"
	"inspectline/internal/repo"
	"inspectline/internal/schedule"
)

// ErrNoRecipient is returned when an instance has no email to notify.
var ErrNoRecipient = errors.New("instance has no assignee email")

// ErrInstanceClosed is returned when reminding a passed or void instance.
var ErrInstanceClosed = errors.New("only open instances get reminders")

// AssigneeEmail resolves where an instance's mail goes: the instance email,
// else the assigned profile's email.
func (e Engine) AssigneeEmail(ctx context.Context, inst domain.Instance) (string, error) {
	if inst.AssigneeEmail != nil && *inst.AssigneeEmail != "" {
		return *inst.AssigneeEmail, nil
	}
	if inst.AssigneeProfileID == nil || *inst.AssigneeProfileID == "" {
		return "", nil
	}
	p, err := e.Repo.GetProfile(ctx, *inst.AssigneeProfileID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.Email, nil
}

func (e Engine) enqueueFor(ctx context.Context, category domain.Category, inst domain.Instance, taskName string, loc domain.Location, key string) (string, error) {
	to, err := e.AssigneeEmail(ctx, inst)
	if err != nil {
		return "", err
	}
	if to == "" {
		return "", ErrNoRecipient
	}
	tz, err := schedule.LoadLocation(loc.Timezone)
	if err != nil {
		return "", err
	}
	id, _, err := e.Repo.Enqueue(ctx, repo.NewNotification{
		Category:    category,
		Destination: to,
		Subject:     notify.Subject(category, taskName, loc.Name),
		Payload: domain.NotificationPayload{
			InstanceID:   inst.ID,
			LocationID:   loc.ID,
			LocationName: loc.Name,
			TaskName:     taskName,
			DueAt:        inst.DueAt.In(tz),
			Category:     category,
		},
		IdempotencyKey: key,
		CreatedAt:      e.now(),
	})
	return id, err
}

// notifyAssignment queues the assignee's email off the request path.
func (e Engine) notifyAssignment(inst domain.Instance, t domain.Template, loc domain.Location) {
	if inst.Unassigned() {
		return
	}
	job := func(ctx context.Context) error {
		_, err := e.enqueueFor(ctx, domain.CategoryAssignment, inst, t.Name, loc, "assignment:"+inst.ID)
		if errors.Is(err, ErrNoRecipient) {
			return nil
		}
		return err
	}
	if e.Tasks == nil || !e.Tasks.Submit("assignment:"+inst.ID, job) {
		if err := job(context.Background()); err != nil {
			e.logger().Error("enqueue assignment", "instance", inst.ID, "err", err)
		}
	}
}

// Remind queues a manual reminder to the instance's assignee.
func (e Engine) Remind(ctx context.Context, instanceID string, actor auth.Actor) (domain.Notification, error) {
	inst, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.Notification{}, err
	}
	if !actor.Role.Privileged() && !actor.AtLocation(inst.LocationID) {
		return domain.Notification{}, auth.ForbiddenError{Permission: "instance.remind"}
	}
	if inst.Status != domain.StatusPending && inst.Status != domain.StatusInProgress {
		return domain.Notification{}, fmt.Errorf("instance %s is %s: %w", inst.ID, inst.Status, ErrInstanceClosed)
	}
	t, err := e.Repo.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return domain.Notification{}, err
	}
	loc, err := e.Repo.GetLocation(ctx, inst.LocationID)
	if err != nil {
		return domain.Notification{}, err
	}
	id, err := e.enqueueFor(ctx, domain.CategoryReminder, inst, t.Name, loc, "")
	if err != nil {
		return domain.Notification{}, err
	}
	return e.Repo.GetNotification(ctx, id)
}
