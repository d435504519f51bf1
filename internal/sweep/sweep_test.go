package sweep_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/migrate"
	"inspectline/internal/notify"
	"inspectline/internal/reminder"
	"inspectline/internal/repo"
	"inspectline/internal/sweep"
)

// Tuesday 2024-06-11 10:00 UTC
var now = time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC)

type outbox struct {
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (o *outbox) Send(_ context.Context, to, subject, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail[to] {
		return notify.TransportError{Channel: "test", Err: errors.New("mailbox unavailable")}
	}
	o.sent = append(o.sent, to+"|"+subject)
	return nil
}

type pusher struct {
	mu    sync.Mutex
	calls []string
}

func (p *pusher) SendToAssignee(_ context.Context, profileID string, msg notify.PushMessage) (notify.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, profileID+"|"+msg.Tag)
	return notify.PushResult{Sent: 1}, nil
}

type testEnv struct {
	Ctx     context.Context
	Repo    repo.Repo
	Mail    *outbox
	Push    *pusher
	Sweeper sweep.Sweeper
	seq     int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	env := &testEnv{Ctx: context.Background(), Repo: r, Mail: &outbox{fail: map[string]bool{}}, Push: &pusher{}}
	env.Sweeper = sweep.Sweeper{
		Store:    r,
		Mailer:   env.Mail,
		Pusher:   env.Push,
		Options:  sweep.Options{Concurrency: 4},
		Fallback: reminder.Defaults(),
		Now:      func() time.Time { return now },
	}
	return env
}

func (env *testEnv) location(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, env.Repo.InsertLocation(env.Ctx, domain.Location{ID: id, Name: name, Timezone: "UTC", CreatedAt: now}))
}

type seed struct {
	location  string
	freq      domain.Frequency
	due       time.Time
	email     string
	profileID string
}

func (env *testEnv) instance(t *testing.T, s seed) domain.Instance {
	t.Helper()
	env.seq++
	if s.freq == "" {
		s.freq = domain.FrequencyWeekly
	}
	tmpl := domain.Template{
		ID:         fmt.Sprintf("tmpl-%d", env.seq),
		LocationID: s.location,
		Name:       fmt.Sprintf("Task %d", env.seq),
		Frequency:  s.freq,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	inst := domain.Instance{
		ID:         fmt.Sprintf("inst-%d", env.seq),
		TemplateID: tmpl.ID,
		LocationID: s.location,
		DueAt:      s.due,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if s.email != "" {
		inst.AssigneeEmail = &s.email
	}
	if s.profileID != "" {
		inst.AssigneeProfileID = &s.profileID
	}
	tx, err := env.Repo.DB.BeginTx(env.Ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, env.Repo.InsertTemplateTx(env.Ctx, tx, tmpl))
	require.NoError(t, env.Repo.InsertInstanceTx(env.Ctx, tx, inst))
	require.NoError(t, tx.Commit())
	return inst
}

func TestOverdueInstanceQueuesOneEmail(t *testing.T) {
	env := newTestEnv(t)
	env.location(t, "loc-1", "North Clinic")
	inst := env.instance(t, seed{location: "loc-1", due: now.Add(-25 * time.Hour), email: "nurse@example.com"})

	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
	assert.Equal(t, sweep.Counts{Sent: 1}, res.Processed)
	assert.Equal(t, 1, res.Reminders.ByCategory[domain.CategoryOverdue])
	assert.Equal(t, now, res.Timestamp)

	list, err := env.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.CategoryOverdue, list[0].Category)
	assert.Equal(t, domain.NotificationSent, list[0].Status)

	stored, err := env.Repo.GetInstance(env.Ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	// A second sweep the same day does not queue again.
	res, err = env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Queued)
	assert.Equal(t, 1, res.Reminders.ByCategory[domain.CategoryOverdue])
	assert.Len(t, env.Mail.sent, 1)
}

func TestUnassignedOverdueEscalatesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.Sweeper.Options.EscalationEmail = "ops@example.com"
	locs := []struct {
		id, name string
		n        int
	}{
		{"loc-a", "Alpha Clinic", 50},
		{"loc-b", "Bravo Clinic", 30},
		{"loc-c", "Charlie Clinic", 20},
	}
	for _, l := range locs {
		env.location(t, l.id, l.name)
		for i := 0; i < l.n; i++ {
			env.instance(t, seed{location: l.id, due: now.Add(-time.Duration(i+1) * time.Hour)})
		}
	}

	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Escalation.UnassignedCount)
	assert.True(t, res.Escalation.Sent)
	assert.Equal(t, 0, res.Queued)

	list, err := env.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{Category: string(domain.CategoryEscalation)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ops@example.com", list[0].Destination)
	assert.Equal(t, domain.NotificationSent, list[0].Status)

	var d notify.Digest
	require.NoError(t, json.Unmarshal([]byte(list[0].Payload), &d))
	assert.Equal(t, 100, d.Total)
	require.Len(t, d.Locations, 3)
	for i, l := range locs {
		assert.Equal(t, l.name, d.Locations[i].LocationName)
		assert.Len(t, d.Locations[i].Instances, l.n)
	}

	res, err = env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.False(t, res.Escalation.Sent)
	list, err = env.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{Category: string(domain.CategoryEscalation)})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEscalationWithoutDestination(t *testing.T) {
	env := newTestEnv(t)
	env.location(t, "loc-1", "North Clinic")
	env.instance(t, seed{location: "loc-1", due: now.Add(-time.Hour)})
	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Escalation{UnassignedCount: 1}, res.Escalation)
}

func TestFailingMailIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.location(t, "loc-1", "North Clinic")
	env.instance(t, seed{location: "loc-1", due: now.Add(-time.Hour), email: "good@example.com"})
	env.instance(t, seed{location: "loc-1", due: now.Add(-2 * time.Hour), email: "bad@example.com"})
	env.Mail.fail["bad@example.com"] = true

	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Queued)
	assert.Equal(t, sweep.Counts{Sent: 1, Failed: 1}, res.Processed)

	failed, err := env.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{Status: string(domain.NotificationFailed)})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad@example.com", failed[0].Destination)
	require.NotNil(t, failed[0].Error)
	assert.Contains(t, *failed[0].Error, "mailbox unavailable")
}

func TestPushAndProfileEmail(t *testing.T) {
	env := newTestEnv(t)
	env.location(t, "loc-1", "North Clinic")
	require.NoError(t, env.Repo.InsertProfile(env.Ctx, domain.Profile{
		ID: "p1", Name: "Nia", Email: "nia@example.com", Role: domain.RoleNurse, Phone: "+15550001", CreatedAt: now,
	}))
	inst := env.instance(t, seed{location: "loc-1", due: now.Add(-time.Hour), profileID: "p1"})

	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Counts{Sent: 1}, res.Push)
	assert.Equal(t, []string{"p1|overdue:" + inst.ID}, env.Push.calls)
	assert.Equal(t, 1, res.Queued)
	require.Len(t, env.Mail.sent, 1)
	assert.Contains(t, env.Mail.sent[0], "nia@example.com|Overdue:")
	assert.Equal(t, 0, res.Escalation.UnassignedCount)
}

func TestPushSentOncePerPeriod(t *testing.T) {
	env := newTestEnv(t)
	env.location(t, "loc-1", "North Clinic")
	require.NoError(t, env.Repo.InsertProfile(env.Ctx, domain.Profile{
		ID: "p1", Name: "Nia", Role: domain.RoleNurse, Phone: "+15550001", CreatedAt: now,
	}))
	inst := env.instance(t, seed{location: "loc-1", due: now.Add(-time.Hour), profileID: "p1"})

	for i := 0; i < 4; i++ {
		_, err := env.Sweeper.Run(env.Ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"p1|overdue:" + inst.ID}, env.Push.calls)

	// Overdue reminders repeat daily.
	env.Sweeper.Now = func() time.Time { return now.Add(24 * time.Hour) }
	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Counts{Sent: 1}, res.Push)
	assert.Len(t, env.Push.calls, 2)
}

func TestCategoriesAcrossFrequencies(t *testing.T) {
	env := newTestEnv(t)
	env.location(t, "loc-1", "North Clinic")
	// due today, later this morning
	env.instance(t, seed{location: "loc-1", due: time.Date(2024, 6, 11, 17, 0, 0, 0, time.UTC), email: "a@example.com"})
	// monthly, five days out
	env.instance(t, seed{location: "loc-1", freq: domain.FrequencyMonthly, due: time.Date(2024, 6, 16, 9, 0, 0, 0, time.UTC), email: "b@example.com"})
	// yearly inside its lead window, but the 11th is past the first week
	env.instance(t, seed{location: "loc-1", freq: domain.FrequencyYearly, due: time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC), email: "c@example.com"})
	// weekly, four days out: nothing
	env.instance(t, seed{location: "loc-1", due: time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC), email: "d@example.com"})

	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Category]int{
		domain.CategoryDueToday: 1,
		domain.CategoryUpcoming: 1,
	}, res.Reminders.ByCategory)
	assert.Equal(t, 2, res.Queued)
}

func TestInvalidStoredSettingsFallBack(t *testing.T) {
	env := newTestEnv(t)
	env.location(t, "loc-1", "North Clinic")
	env.instance(t, seed{location: "loc-1", freq: domain.FrequencyMonthly, due: time.Date(2024, 6, 16, 9, 0, 0, 0, time.UTC), email: "b@example.com"})

	bad := reminder.Defaults()
	bad.MonthlyDaysBefore = 0
	tx, err := env.Repo.DB.BeginTx(env.Ctx, nil)
	require.NoError(t, err)
	require.NoError(t, env.Repo.SaveReminderSettingsTx(env.Ctx, tx, bad, now))
	require.NoError(t, tx.Commit())

	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reminders.ByCategory[domain.CategoryUpcoming])
}

type brokenStore struct {
	repo.Repo
}

func (brokenStore) OpenInstancesDueBy(context.Context, time.Time, int) ([]domain.Instance, error) {
	return nil, errors.New("database is locked")
}

func TestFetchFailureAbortsSweep(t *testing.T) {
	env := newTestEnv(t)
	env.Sweeper.Store = brokenStore{Repo: env.Repo}
	_, err := env.Sweeper.Run(env.Ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch open instances")
}

type missingTemplate struct {
	repo.Repo
	id string
}

func (m missingTemplate) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	if id == m.id {
		return domain.Template{}, domain.NotFoundError{Entity: "template", ID: id}
	}
	return m.Repo.GetTemplate(ctx, id)
}

func TestMissingTemplateSkipsOnlyThatInstance(t *testing.T) {
	env := newTestEnv(t)
	env.location(t, "loc-1", "North Clinic")
	gone := env.instance(t, seed{location: "loc-1", due: now.Add(-time.Hour), email: "a@example.com"})
	env.instance(t, seed{location: "loc-1", due: now.Add(-time.Hour), email: "b@example.com"})
	env.Sweeper.Store = missingTemplate{Repo: env.Repo, id: gone.TemplateID}

	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
	assert.Equal(t, 1, res.Reminders.ByCategory[domain.CategoryOverdue])
}

func TestDrainPicksUpEarlierQueuedEntries(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Repo.Enqueue(env.Ctx, repo.NewNotification{
		Category:    domain.CategoryReminder,
		Destination: "x@example.com",
		Subject:     "Reminder: Task (North Clinic)",
		Payload:     domain.NotificationPayload{TaskName: "Task", LocationName: "North Clinic", DueAt: now},
		CreatedAt:   now.Add(-time.Hour),
	})
	require.NoError(t, err)
	res, err := env.Sweeper.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Counts{Sent: 1}, res.Processed)
}
