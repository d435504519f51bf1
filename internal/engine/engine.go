package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"inspectline/internal/config"
	"inspectline/internal/domain"
	"inspectline/internal/engine/auth"
	"inspectline/internal/events"
	"inspectline/internal/reminder"
	"inspectline/internal/repo"
	"inspectline/internal/schedule"
)

// Submitter runs work off the request path.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Auth   auth.Authorizer
	Tasks  Submitter
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Auth:   auth.RoleAuthorizer{},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) authorizer() auth.Authorizer {
	if e.Auth != nil {
		return e.Auth
	}
	return auth.RoleAuthorizer{}
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e Engine) defaultTimezone() string {
	if e.Config != nil && e.Config.Timezone != "" {
		return e.Config.Timezone
	}
	return "UTC"
}

// LocationCreateOptions are parameters for creating a location.
type LocationCreateOptions struct {
	ID       string
	Name     string
	Timezone string
	Actor    auth.Actor
}

func (e Engine) CreateLocation(ctx context.Context, opts LocationCreateOptions) (domain.Location, error) {
	if !opts.Actor.Role.Privileged() {
		return domain.Location{}, auth.ForbiddenError{Permission: "location.create"}
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Location{}, errors.New("location name is required")
	}
	if opts.Timezone == "" {
		opts.Timezone = e.defaultTimezone()
	}
	if _, err := schedule.LoadLocation(opts.Timezone); err != nil {
		return domain.Location{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	l := domain.Location{ID: opts.ID, Name: opts.Name, Timezone: opts.Timezone, CreatedAt: e.now().UTC()}
	if err := e.Repo.InsertLocation(ctx, l); err != nil {
		return domain.Location{}, err
	}
	return l, nil
}

// ProfileCreateOptions are parameters for creating a staff profile.
type ProfileCreateOptions struct {
	ID          string
	Email       string
	Name        string
	Role        domain.Role
	Phone       string
	LocationIDs []string
	Actor       auth.Actor
}

func (e Engine) CreateProfile(ctx context.Context, opts ProfileCreateOptions) (domain.Profile, error) {
	if !opts.Actor.Role.Privileged() {
		return domain.Profile{}, auth.ForbiddenError{Permission: "profile.create"}
	}
	if !opts.Role.Valid() {
		return domain.Profile{}, fmt.Errorf("unknown role %q", opts.Role)
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Profile{}, errors.New("profile name is required")
	}
	for _, id := range opts.LocationIDs {
		if _, err := e.Repo.GetLocation(ctx, id); err != nil {
			return domain.Profile{}, err
		}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	p := domain.Profile{
		ID:          opts.ID,
		Email:       opts.Email,
		Name:        opts.Name,
		Role:        opts.Role,
		Phone:       opts.Phone,
		LocationIDs: opts.LocationIDs,
		CreatedAt:   e.now().UTC(),
	}
	if p.LocationIDs == nil {
		p.LocationIDs = []string{}
	}
	if err := e.Repo.InsertProfile(ctx, p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// TemplateCreateOptions are parameters for creating a recurring template.
type TemplateCreateOptions struct {
	ID                string
	LocationID        string
	Name              string
	Description       string
	Frequency         domain.Frequency
	Anchor            domain.AnchorRule
	AssigneeProfileID string
	AssigneeEmail     string
	Actor             auth.Actor
}

// CreateTemplate stores the template and its first instance together.
func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.Template, domain.Instance, error) {
	if !auth.CanManageTemplates(opts.Actor) {
		return domain.Template{}, domain.Instance{}, auth.ForbiddenError{Permission: "template.create"}
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Template{}, domain.Instance{}, domain.ConfigurationError{Field: "name", Reason: "is required"}
	}
	if err := schedule.ValidateAnchor(opts.Frequency, opts.Anchor); err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	loc, err := e.Repo.GetLocation(ctx, opts.LocationID)
	if err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	tz, err := schedule.LoadLocation(loc.Timezone)
	if err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	if opts.AssigneeProfileID != "" {
		if _, err := e.Repo.GetProfile(ctx, opts.AssigneeProfileID); err != nil {
			return domain.Template{}, domain.Instance{}, err
		}
	}
	now := e.now()
	due, err := schedule.NextDueDate(opts.Frequency, opts.Anchor, now.In(tz))
	if err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	t := domain.Template{
		ID:                opts.ID,
		LocationID:        loc.ID,
		Name:              opts.Name,
		Description:       opts.Description,
		Frequency:         opts.Frequency,
		Anchor:            opts.Anchor,
		AssigneeProfileID: optionalString(opts.AssigneeProfileID),
		AssigneeEmail:     optionalString(opts.AssigneeEmail),
		Active:            true,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
	inst := newInstance(t, due, now)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTemplateTx(ctx, tx, t); err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	if err := e.Repo.InsertInstanceTx(ctx, tx, inst); err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: events.TemplateCreated, EntityKind: "template", EntityID: t.ID, LocationID: t.LocationID, ActorID: opts.Actor.ProfileID,
	}, events.EventPayload{"frequency": t.Frequency, "name": t.Name}); err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	if err := e.appendInstanceCreated(ctx, tx, inst, opts.Actor.ProfileID, "template"); err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, domain.Instance{}, err
	}
	e.notifyAssignment(inst, t, loc)
	return t, inst, nil
}

func newInstance(t domain.Template, due, now time.Time) domain.Instance {
	return domain.Instance{
		ID:                uuid.NewString(),
		TemplateID:        t.ID,
		LocationID:        t.LocationID,
		DueAt:             due.UTC(),
		AssigneeProfileID: t.AssigneeProfileID,
		AssigneeEmail:     t.AssigneeEmail,
		Status:            domain.StatusPending,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
}

func (e Engine) appendInstanceCreated(ctx context.Context, tx *sql.Tx, inst domain.Instance, actorID, reason string) error {
	return e.Events.Append(ctx, tx, events.Entry{
		Type: events.InstanceCreated, EntityKind: "instance", EntityID: inst.ID, LocationID: inst.LocationID, ActorID: actorID,
	}, events.EventPayload{"template_id": inst.TemplateID, "due_at": inst.DueAt, "reason": reason})
}

// DeactivateTemplate stops recurrence. Existing instances are kept.
func (e Engine) DeactivateTemplate(ctx context.Context, id string, actor auth.Actor) (domain.Template, error) {
	if !auth.CanManageTemplates(actor) {
		return domain.Template{}, auth.ForbiddenError{Permission: "template.deactivate"}
	}
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return t, err
	}
	if !t.Active {
		return t, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	changed, err := e.Repo.DeactivateTemplateTx(ctx, tx, id, e.now())
	if err != nil {
		return t, err
	}
	if changed {
		if err := e.Events.Append(ctx, tx, events.Entry{
			Type: events.TemplateDeactivated, EntityKind: "template", EntityID: id, LocationID: t.LocationID, ActorID: actor.ProfileID,
		}, nil); err != nil {
			return t, err
		}
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTemplate(ctx, id)
}

// TransitionOptions describe a requested status change.
type TransitionOptions struct {
	InstanceID string
	To         domain.Status
	Remarks    *string
	Actor      auth.Actor
}

// TransitionInstance moves an instance through its lifecycle. The stored
// status must still match what was read, otherwise the caller gets an
// InvalidTransitionError naming the current status and must re-fetch.
func (e Engine) TransitionInstance(ctx context.Context, opts TransitionOptions) (domain.Instance, error) {
	inst, err := e.Repo.GetInstance(ctx, opts.InstanceID)
	if err != nil {
		return inst, err
	}
	rule, err := ensureInstanceTransition(inst.Status, opts.To)
	if err != nil {
		return inst, err
	}
	if rule.privileged && !opts.Actor.Role.Privileged() {
		return inst, auth.ForbiddenError{Permission: "instance." + string(opts.To)}
	}
	if !e.authorizer().CanTransition(opts.Actor, inst, opts.To) {
		return inst, auth.ForbiddenError{Permission: "instance.transition"}
	}

	now := e.now().UTC()
	u := statusUpdate(inst, opts.To, opts.Remarks, now)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return inst, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.CompareAndSetStatusTx(ctx, tx, u)
	if err != nil {
		return inst, err
	}
	if !ok {
		current, err := e.Repo.GetInstanceTx(ctx, tx, inst.ID)
		if err != nil {
			return inst, err
		}
		return current, domain.InvalidTransitionError{From: current.Status, To: opts.To}
	}
	eventType := events.InstanceTransitioned
	if rule.reinspection {
		eventType = events.InstanceReinspection
	}
	payload := events.EventPayload{"from": inst.Status, "to": opts.To}
	if opts.Remarks != nil {
		payload["remarks"] = *opts.Remarks
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: eventType, EntityKind: "instance", EntityID: inst.ID, LocationID: inst.LocationID, ActorID: opts.Actor.ProfileID,
	}, payload); err != nil {
		return inst, err
	}
	if err := tx.Commit(); err != nil {
		return inst, err
	}
	return e.Repo.GetInstance(ctx, inst.ID)
}

// ReminderSettings returns the stored settings, or the deployment defaults
// when nothing valid is stored.
func (e Engine) ReminderSettings(ctx context.Context) (reminder.Settings, error) {
	s, err := e.Repo.GetReminderSettings(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return e.FallbackSettings(), nil
	}
	if err != nil {
		return reminder.Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return e.FallbackSettings(), nil
	}
	return s, nil
}

// FallbackSettings are used when the stored row is missing or invalid.
func (e Engine) FallbackSettings() reminder.Settings {
	if e.Config != nil && e.Config.Reminders.Validate() == nil {
		return e.Config.Reminders
	}
	return reminder.Defaults()
}

func (e Engine) SaveReminderSettings(ctx context.Context, s reminder.Settings, actor auth.Actor) (reminder.Settings, error) {
	if !actor.Role.Privileged() {
		return reminder.Settings{}, auth.ForbiddenError{Permission: "settings.update"}
	}
	if err := s.Validate(); err != nil {
		return reminder.Settings{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return reminder.Settings{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveReminderSettingsTx(ctx, tx, s, e.now()); err != nil {
		return reminder.Settings{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type: events.ReminderSettingsSaved, EntityKind: "reminder_settings", EntityID: "1", ActorID: actor.ProfileID,
	}, events.EventPayload{"settings": s}); err != nil {
		return reminder.Settings{}, err
	}
	if err := tx.Commit(); err != nil {
		return reminder.Settings{}, err
	}
	return s, nil
}

// RequeueNotification puts a copy of a failed notification back in the queue.
func (e Engine) RequeueNotification(ctx context.Context, id string, actor auth.Actor) (domain.Notification, error) {
	if !actor.Role.Privileged() {
		return domain.Notification{}, auth.ForbiddenError{Permission: "notification.requeue"}
	}
	n, err := e.Repo.Requeue(ctx, id, e.now())
	if err != nil {
		return n, err
	}
	if err := e.Events.AppendNow(ctx, events.Entry{
		Type: events.NotificationRequeued, EntityKind: "notification", EntityID: n.ID, ActorID: actor.ProfileID,
	}, events.EventPayload{"requeued_from": id}); err != nil {
		return n, err
	}
	return n, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
