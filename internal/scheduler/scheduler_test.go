package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddValidatesSpecs(t *testing.T) {
	s := New(time.UTC, nil)
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add("sweep", "*/15 * * * *", noop))
	require.NoError(t, s.Add("disabled", "", noop))
	assert.Error(t, s.Add("broken", "not a schedule", noop))
	assert.Equal(t, 1, s.Len())
}

func TestScheduledJobRuns(t *testing.T) {
	s := New(time.UTC, nil)
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop(context.Background())
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}
