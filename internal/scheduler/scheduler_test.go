package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/normanking/cortexvoice/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(logging.Nop(), time.Second)

	var calls atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}))
	assert.Equal(t, []string{"tick"}, s.Jobs())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	<-done
}

func TestScheduler_BadSpec(t *testing.T) {
	s := New(logging.Nop(), time.Second)
	err := s.Add("bad", "not a spec", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Empty(t, s.Jobs())
}

func TestScheduler_RunBoundsJobs(t *testing.T) {
	s := New(logging.Nop(), time.Second)
	s.run("failing", func(context.Context) error { return errors.New("boom") })

	var ran bool
	s.run("ok", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		ran = hasDeadline
		return nil
	})
	assert.True(t, ran, "jobs run under a deadline")
}

type fakeRefresher struct{ n int }

func (f *fakeRefresher) Refresh(context.Context) { f.n++ }

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) error { return f.err }

func TestHealthJob(t *testing.T) {
	r := &fakeRefresher{}
	job := HealthJob(r, map[string]HealthChecker{
		"tts":    fakeHealth{},
		"vision": fakeHealth{err: errors.New("down")},
		"nil":    nil,
	}, logging.Nop())

	assert.NoError(t, job(context.Background()))
	assert.Equal(t, 1, r.n)

	assert.NoError(t, HealthJob(nil, nil, logging.Nop())(context.Background()))
}

type fakePruner struct {
	before time.Time
	n      int
	err    error
}

func (f *fakePruner) PruneCompleted(_ context.Context, before time.Time) (int, error) {
	f.before = before
	return f.n, f.err
}

func TestPruneJob(t *testing.T) {
	now := time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC)
	p := &fakePruner{n: 3}
	job := PruneJob(p, 7*24*time.Hour, func() time.Time { return now }, logging.Nop())

	require.NoError(t, job(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -7), p.before)

	p.err = errors.New("disk full")
	assert.EqualError(t, job(context.Background()), "disk full")

	assert.Error(t, PruneJob(nil, time.Hour, nil, logging.Nop())(context.Background()))
}
