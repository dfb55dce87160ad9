package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/postbox/internal/testutil"
)

// instantClock never sleeps and records every requested wait.
type instantClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *instantClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- testutil.Epoch.Add(d)
	return ch
}

func (c *instantClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func newTestScheduler(c *instantClock) *Scheduler {
	clock := testutil.NewFixedClock()
	return New(WithClock(clock.Now, c.after))
}

func noop(context.Context) error { return nil }

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("@daily"))
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("every minute"))
	assert.Error(t, Validate("61 * * * *"))
}

func TestAdd(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Job{Name: "ingest", Spec: "* * * * *", Run: noop}))

	assert.Error(t, s.Add(Job{Name: "ingest", Spec: "* * * * *", Run: noop}), "duplicate name")
	assert.Error(t, s.Add(Job{Name: "", Spec: "* * * * *", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "publish", Spec: "bogus", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "publish", Spec: "0 * * * *"}))

	assert.Equal(t, []string{"ingest"}, s.Jobs())
}

func TestNext(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Job{Name: "publish", Spec: "*/15 * * * *", Run: noop}))

	next, err := s.Next("publish", testutil.Epoch)
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(15*time.Minute), next)

	_, err = s.Next("missing", testutil.Epoch)
	assert.Error(t, err)
}

func TestRun_FiresJobsUntilCancelled(t *testing.T) {
	c := &instantClock{}
	s := newTestScheduler(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	runs := 0
	require.NoError(t, s.Add(Job{Name: "publish", Spec: "*/15 * * * *", Run: func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		if runs == 3 {
			cancel()
		}
		return errors.New("failures are logged, not fatal")
	}}))

	require.NoError(t, s.Run(ctx))

	mu.Lock()
	assert.Equal(t, 3, runs)
	mu.Unlock()
	waits := c.recorded()
	require.GreaterOrEqual(t, len(waits), 3)
	assert.Equal(t, 15*time.Minute, waits[0])
}

func TestRun_RequiresJobs(t *testing.T) {
	assert.Error(t, New().Run(context.Background()))
}

func TestRunNow_RecoversPanics(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Job{Name: "bad", Spec: "@hourly", Run: func(context.Context) error {
		panic("boom")
	}}))

	err := s.RunNow(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	assert.Error(t, s.RunNow(context.Background(), "missing"))
}
