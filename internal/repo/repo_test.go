package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/migrate"
	"inspectline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

var t0 = time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)

func TestEnqueueIsIdempotentOnKey(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	n := repo.NewNotification{
		Category:       domain.CategoryOverdue,
		Destination:    "nurse@example.com",
		Subject:        "Overdue",
		Payload:        domain.NotificationPayload{InstanceID: "inst-1", Category: domain.CategoryOverdue},
		IdempotencyKey: "overdue:inst-1:2024-06-05",
		CreatedAt:      t0,
	}
	id, inserted, err := r.Enqueue(ctx, n)
	require.NoError(t, err)
	assert.True(t, inserted)

	again, inserted, err := r.Enqueue(ctx, n)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id, again)

	counts, err := r.CountNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.NotificationQueued])
}

func TestEnqueueWithoutKeyAlwaysInserts(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, inserted, err := r.Enqueue(ctx, repo.NewNotification{Category: domain.CategoryReminder, Destination: "a@example.com", CreatedAt: t0})
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	_, _, err := r.Enqueue(ctx, repo.NewNotification{Category: domain.CategoryReminder, Destination: " "})
	assert.Error(t, err)
}

func TestDrainOldestFirstAndOnlyQueued(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	var ids []string
	for i, dest := range []string{"c@example.com", "a@example.com", "b@example.com"} {
		id, _, err := r.Enqueue(ctx, repo.NewNotification{
			Category:    domain.CategoryUpcoming,
			Destination: dest,
			CreatedAt:   t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	ok, err := r.MarkSent(ctx, ids[0], t0)
	require.NoError(t, err)
	require.True(t, ok)

	batch, err := r.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, ids[1], batch[0].ID)
	assert.Equal(t, ids[2], batch[1].ID)

	limited, err := r.Drain(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := r.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMarkSentAndFailedOnlyFromQueued(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, _, err := r.Enqueue(ctx, repo.NewNotification{Category: domain.CategoryDueToday, Destination: "a@example.com", CreatedAt: t0})
	require.NoError(t, err)

	ok, err := r.MarkSent(ctx, id, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.MarkSent(ctx, id, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.MarkFailed(ctx, id, "smtp down")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := r.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationSent, n.Status)
	require.NotNil(t, n.SentAt)
	assert.True(t, n.SentAt.Equal(t0.Add(time.Minute)))
	assert.Nil(t, n.Error)
}

func TestRequeueCopiesFailedNotification(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, _, err := r.Enqueue(ctx, repo.NewNotification{
		Category:       domain.CategoryOverdue,
		Destination:    "a@example.com",
		Subject:        "Overdue",
		IdempotencyKey: "overdue:inst-1:2024-06-05",
		CreatedAt:      t0,
	})
	require.NoError(t, err)

	_, err = r.Requeue(ctx, id, t0)
	assert.ErrorIs(t, err, repo.ErrNotFailed)

	ok, err := r.MarkFailed(ctx, id, "mailbox full")
	require.NoError(t, err)
	require.True(t, ok)

	fresh, err := r.Requeue(ctx, id, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh.ID)
	assert.Equal(t, domain.NotificationQueued, fresh.Status)
	assert.Equal(t, "Overdue", fresh.Subject)
	require.NotNil(t, fresh.RequeuedFrom)
	assert.Equal(t, id, *fresh.RequeuedFrom)
	assert.Nil(t, fresh.IdempotencyKey)

	orig, err := r.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, orig.Status)
	require.NotNil(t, orig.Error)
	assert.Equal(t, "mailbox full", *orig.Error)

	_, err = r.Requeue(ctx, "missing", t0)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAPIKeyLifecycle(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertProfile(ctx, domain.Profile{ID: "p-1", Name: "Ops", Role: domain.RoleAdmin, CreatedAt: t0}))

	hash := repo.HashAPIKey("il_secret")
	assert.Equal(t, hash, repo.HashAPIKey("  il_secret "))
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k-1", ProfileID: "p-1", Name: "cron box", KeyHash: hash, CreatedAt: t0}))
	assert.Error(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k-2", ProfileID: "p-1", KeyHash: hash, CreatedAt: t0}))

	k, err := r.GetAPIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "p-1", k.ProfileID)
	assert.Equal(t, "cron box", k.Name)
	assert.Nil(t, k.LastUsedAt)

	require.NoError(t, r.TouchAPIKey(ctx, "k-1", t0.Add(time.Hour)))
	keys, err := r.ListAPIKeys(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotNil(t, keys[0].LastUsedAt)
	assert.True(t, keys[0].LastUsedAt.Equal(t0.Add(time.Hour)))

	require.NoError(t, r.DeleteAPIKey(ctx, "k-1"))
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "k-1"), repo.ErrNotFound)
	_, err = r.GetAPIKeyByHash(ctx, hash)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestClaimPushOncePerKey(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	ok, err := r.ClaimPush(ctx, "push:overdue:inst-1:2024-06-05", "p-1", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ClaimPush(ctx, "push:overdue:inst-1:2024-06-05", "p-1", t0.Add(15*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.ClaimPush(ctx, "push:overdue:inst-1:2024-06-06", "p-1", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}
