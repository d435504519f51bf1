// Package sweep is the periodic reminder job: it classifies open instances,
// queues and delivers their notifications, and escalates unassigned overdue
// work.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"inspectline/internal/domain"
	"inspectline/internal/events"
	"inspectline/internal/notify"
	"inspectline/internal/reminder"
	"inspectline/internal/repo"
	"inspectline/internal/schedule"
)

// Store is everything a sweep reads and writes.
type Store interface {
	GetReminderSettings(ctx context.Context) (reminder.Settings, error)
	OpenInstancesDueBy(ctx context.Context, cutoff time.Time, limit int) ([]domain.Instance, error)
	GetTemplate(ctx context.Context, id string) (domain.Template, error)
	GetLocation(ctx context.Context, id string) (domain.Location, error)
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	Enqueue(ctx context.Context, n repo.NewNotification) (string, bool, error)
	Drain(ctx context.Context, limit int) ([]domain.Notification, error)
	GetNotification(ctx context.Context, id string) (domain.Notification, error)
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	ClaimPush(ctx context.Context, key, profileID string, at time.Time) (bool, error)
}

type EventAppender interface {
	AppendNow(ctx context.Context, e events.Entry, payload events.EventPayload) error
}

type Options struct {
	BatchSize   int
	DrainLimit  int
	Concurrency int
	// EscalationEmail is used when the stored settings name no destination.
	EscalationEmail string
	AppURL          string
	// Zone decides the calendar day of escalation digests.
	Zone *time.Location
}

type Sweeper struct {
	Store    Store
	Events   EventAppender
	Mailer   notify.Mailer
	Pusher   notify.Pusher
	Logger   *slog.Logger
	Options  Options
	Fallback reminder.Settings
	Now      func() time.Time
}

type Counts struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type Reminders struct {
	ByCategory map[domain.Category]int `json:"byCategory"`
}

type Escalation struct {
	Sent            bool `json:"sent"`
	UnassignedCount int  `json:"unassignedCount"`
}

// Result is what every trigger returns.
type Result struct {
	Queued     int        `json:"queued"`
	Processed  Counts     `json:"processed"`
	Push       Counts     `json:"push"`
	Reminders  Reminders  `json:"reminders"`
	Escalation Escalation `json:"escalation"`
	Timestamp  time.Time  `json:"timestamp"`
}

type decision struct {
	inst     domain.Instance
	category domain.Category
	payload  domain.NotificationPayload
	period   string
}

func (s Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s Sweeper) opts() Options {
	o := s.Options
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.DrainLimit <= 0 {
		o.DrainLimit = 100
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.Zone == nil {
		o.Zone = time.UTC
	}
	return o
}

// Run performs one sweep. Only a failure to fetch instances is returned as
// an error; every per-item failure is logged and counted instead.
func (s Sweeper) Run(ctx context.Context) (Result, error) {
	now := s.now()
	opts := s.opts()
	log := s.logger()
	res := Result{
		Reminders: Reminders{ByCategory: map[domain.Category]int{}},
		Timestamp: now.UTC(),
	}

	settings := s.loadSettings(ctx)
	cutoff := now.AddDate(0, settings.LookaheadMonths(), 0)
	insts, err := s.Store.OpenInstancesDueBy(ctx, cutoff, opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("fetch open instances: %w", err)
	}

	c := newCache(s.Store)
	var decisions []decision
	var unassigned []decision
	for _, inst := range insts {
		tmpl, loc, tz, err := c.context(ctx, inst)
		if err != nil {
			log.Warn("skipping instance", "instance", inst.ID, "err", err)
			continue
		}
		local := now.In(tz)
		cat := reminder.Classify(inst.DueAt, tmpl.Frequency, settings, local)
		if cat == reminder.None {
			continue
		}
		res.Reminders.ByCategory[cat]++
		d := decision{
			inst:     inst,
			category: cat,
			payload: domain.NotificationPayload{
				InstanceID:   inst.ID,
				LocationID:   loc.ID,
				LocationName: loc.Name,
				TaskName:     tmpl.Name,
				DueAt:        inst.DueAt.In(tz),
				Category:     cat,
			},
			period: period(cat, inst.DueAt.In(tz), local),
		}
		decisions = append(decisions, d)
		if cat == domain.CategoryOverdue && inst.Unassigned() {
			unassigned = append(unassigned, d)
		}
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, d := range decisions {
		g.Go(func() error {
			push, queued := s.deliver(ctx, c, d, now, opts)
			mu.Lock()
			res.Push.Sent += push.Sent
			res.Push.Failed += push.Failed
			if queued {
				res.Queued++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res.Processed = s.drain(ctx, now, opts)
	res.Escalation = s.escalate(ctx, unassigned, settings, now, opts)

	if s.Events != nil {
		if err := s.Events.AppendNow(ctx, events.Entry{Type: events.SweepCompleted, EntityKind: "sweep"}, events.EventPayload{
			"queued":     res.Queued,
			"processed":  res.Processed,
			"push":       res.Push,
			"reminders":  res.Reminders.ByCategory,
			"escalation": res.Escalation,
		}); err != nil {
			log.Warn("record sweep event", "err", err)
		}
	}
	log.Info("sweep finished", "instances", len(insts), "queued", res.Queued,
		"sent", res.Processed.Sent, "failed", res.Processed.Failed, "unassigned_overdue", res.Escalation.UnassignedCount)
	return res, nil
}

func (s Sweeper) loadSettings(ctx context.Context) reminder.Settings {
	fallback := s.Fallback
	if fallback.Validate() != nil {
		fallback = reminder.Defaults()
	}
	settings, err := s.Store.GetReminderSettings(ctx)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return fallback
	case err != nil:
		s.logger().Warn("reminder settings unavailable, using defaults", "err", err)
		return fallback
	}
	if err := settings.Validate(); err != nil {
		s.logger().Warn("stored reminder settings invalid, using defaults", "err", err)
		return fallback
	}
	return settings
}

// period scopes an idempotency key so a reminder fires once per period.
func period(cat domain.Category, due, now time.Time) string {
	switch cat {
	case domain.CategoryOverdue:
		return now.Format("2006-01-02")
	case domain.CategoryMonthlyWarning:
		return now.Format("2006-01")
	}
	return due.Format("2006-01-02")
}

func (s Sweeper) deliver(ctx context.Context, c *cache, d decision, now time.Time, opts Options) (notify.PushResult, bool) {
	log := s.logger()
	key := fmt.Sprintf("%s:%s:%s", d.category, d.inst.ID, d.period)
	var push notify.PushResult
	if s.Pusher != nil && d.inst.AssigneeProfileID != nil && *d.inst.AssigneeProfileID != "" {
		push = s.push(ctx, *d.inst.AssigneeProfileID, "push:"+key, d, now, opts)
	}

	to, err := c.email(ctx, d.inst)
	if err != nil {
		log.Warn("resolve assignee email", "instance", d.inst.ID, "err", err)
		return push, false
	}
	if to == "" {
		return push, false
	}
	_, inserted, err := s.Store.Enqueue(ctx, repo.NewNotification{
		Category:       d.category,
		Destination:    to,
		Subject:        notify.Subject(d.category, d.payload.TaskName, d.payload.LocationName),
		Payload:        d.payload,
		IdempotencyKey: key,
		CreatedAt:      now,
	})
	if err != nil {
		log.Warn("enqueue notification", "instance", d.inst.ID, "category", d.category, "err", err)
		return push, false
	}
	return push, inserted
}

// push sends at most once per idempotency key. A failed send keeps its
// claim; the email copy still goes through the outbox.
func (s Sweeper) push(ctx context.Context, profileID, key string, d decision, now time.Time, opts Options) notify.PushResult {
	claimed, err := s.Store.ClaimPush(ctx, key, profileID, now)
	if err != nil {
		s.logger().Warn("claim push", "instance", d.inst.ID, "err", err)
		return notify.PushResult{}
	}
	if !claimed {
		return notify.PushResult{}
	}
	r, err := s.Pusher.SendToAssignee(ctx, profileID, notify.PushFor(d.category, d.payload, opts.AppURL))
	if err != nil {
		s.logger().Warn("push failed", "instance", d.inst.ID, "err", err)
	}
	return r
}

func (s Sweeper) drain(ctx context.Context, now time.Time, opts Options) Counts {
	var counts Counts
	batch, err := s.Store.Drain(ctx, opts.DrainLimit)
	if err != nil {
		s.logger().Error("drain outbox", "err", err)
		return counts
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, n := range batch {
		g.Go(func() error {
			sent, changed := s.send(ctx, n, now, opts)
			if !changed {
				return nil
			}
			mu.Lock()
			if sent {
				counts.Sent++
			} else {
				counts.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return counts
}

// send delivers one queued notification and records the outcome. changed
// is false when another sweep already settled the record.
func (s Sweeper) send(ctx context.Context, n domain.Notification, now time.Time, opts Options) (sent, changed bool) {
	log := s.logger()
	body, err := notify.RenderBody(n, now, opts.AppURL)
	if err == nil {
		err = s.Mailer.Send(ctx, n.Destination, n.Subject, body)
	}
	if err != nil {
		log.Warn("notification failed", "id", n.ID, "category", n.Category, "err", err)
		changed, merr := s.Store.MarkFailed(ctx, n.ID, err.Error())
		if merr != nil {
			log.Error("mark notification failed", "id", n.ID, "err", merr)
		}
		return false, changed
	}
	changed, err = s.Store.MarkSent(ctx, n.ID, now)
	if err != nil {
		log.Error("mark notification sent", "id", n.ID, "err", err)
	}
	return true, changed
}

type cache struct {
	store Store

	mu        sync.Mutex
	templates map[string]domain.Template
	locations map[string]domain.Location
	zones     map[string]*time.Location
	emails    map[string]string
}

func newCache(store Store) *cache {
	return &cache{
		store:     store,
		templates: map[string]domain.Template{},
		locations: map[string]domain.Location{},
		zones:     map[string]*time.Location{},
		emails:    map[string]string{},
	}
}

func (c *cache) context(ctx context.Context, inst domain.Instance) (domain.Template, domain.Location, *time.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.templates[inst.TemplateID]
	if !ok {
		var err error
		if t, err = c.store.GetTemplate(ctx, inst.TemplateID); err != nil {
			return t, domain.Location{}, nil, err
		}
		c.templates[inst.TemplateID] = t
	}
	l, ok := c.locations[inst.LocationID]
	if !ok {
		var err error
		if l, err = c.store.GetLocation(ctx, inst.LocationID); err != nil {
			return t, l, nil, err
		}
		tz, err := schedule.LoadLocation(l.Timezone)
		if err != nil {
			return t, l, nil, err
		}
		c.locations[inst.LocationID] = l
		c.zones[inst.LocationID] = tz
	}
	return t, l, c.zones[inst.LocationID], nil
}

// email is the instance email, else the assigned profile's email.
func (c *cache) email(ctx context.Context, inst domain.Instance) (string, error) {
	if inst.AssigneeEmail != nil && *inst.AssigneeEmail != "" {
		return *inst.AssigneeEmail, nil
	}
	if inst.AssigneeProfileID == nil || *inst.AssigneeProfileID == "" {
		return "", nil
	}
	id := *inst.AssigneeProfileID
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.emails[id]; ok {
		return e, nil
	}
	p, err := c.store.GetProfile(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		c.emails[id] = ""
		return "", nil
	}
	if err != nil {
		return "", err
	}
	c.emails[id] = p.Email
	return p.Email, nil
}
