package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ticketwatch/internal/logger"
)

func noopWork(context.Context) error { return nil }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(logger.NewNop(), WithTickInterval(10*time.Millisecond))
}

// forceDue rewinds a job's next-run time so the next tick fires it.
func forceDue(m *Manager, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[name].NextRun = time.Now().Add(-time.Second)
}

func waitForRuns(t *testing.T, m *Manager, name string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := m.JobInfo(name); ok && info.RunCount >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	info, _ := m.JobInfo(name)
	t.Fatalf("job %q reached %d runs, wanted %d", name, info.RunCount, want)
}

func TestAddJob_ComputesFirstNextRun(t *testing.T) {
	m := newTestManager(t)

	before := time.Now()
	require.NoError(t, m.AddJob("fetch", noopWork, 4*time.Hour, "uniform"))

	info, ok := m.JobInfo("fetch")
	require.True(t, ok)
	assert.Equal(t, StatusScheduled, info.Status)

	// Uniform strategy with default factors keeps the first run within
	// [base*0.7, base*1.3] of registration time.
	assert.True(t, info.NextRun.After(before.Add(time.Duration(float64(4*time.Hour)*0.7)-time.Second)))
	assert.True(t, info.NextRun.Before(before.Add(time.Duration(float64(4*time.Hour)*1.3)+time.Second)))
}

func TestAddJob_Validation(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.AddJob("", noopWork, time.Hour, "uniform"))
	assert.Error(t, m.AddJob("x", nil, time.Hour, "uniform"))
	assert.Error(t, m.AddJob("x", noopWork, 0, "uniform"))

	require.NoError(t, m.AddJob("x", noopWork, time.Hour, "uniform"))
	assert.Error(t, m.AddJob("x", noopWork, time.Hour, "uniform"), "duplicate name")
}

func TestManager_ExecutesDueJob(t *testing.T) {
	m := newTestManager(t)
	var runs atomic.Int32
	require.NoError(t, m.AddJob("fetch", func(context.Context) error {
		runs.Add(1)
		return nil
	}, time.Hour, "uniform"))

	m.Start(context.Background())
	defer m.Stop()

	forceDue(m, "fetch")
	waitForRuns(t, m, "fetch", 1)

	assert.Equal(t, int32(1), runs.Load())

	info, _ := m.JobInfo("fetch")
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Empty(t, info.LastError)
	assert.True(t, info.NextRun.After(time.Now()), "job rescheduled into the future")

	metrics := m.Metrics()
	assert.Equal(t, int64(1), metrics.SuccessfulRuns)
}

func TestManager_FailedJobIsStillRescheduled(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddJob("broken", func(context.Context) error {
		return errors.New("upstream unreachable")
	}, time.Hour, "poisson"))

	m.Start(context.Background())
	defer m.Stop()

	forceDue(m, "broken")
	waitForRuns(t, m, "broken", 1)

	info, _ := m.JobInfo("broken")
	assert.Equal(t, StatusFailed, info.Status)
	assert.Equal(t, "upstream unreachable", info.LastError)
	assert.True(t, info.NextRun.After(time.Now()),
		"a failing job must never be left with a past next_run")
	assert.Equal(t, int64(1), m.Metrics().FailedRuns)

	// And it keeps coming back.
	forceDue(m, "broken")
	waitForRuns(t, m, "broken", 2)
}

func TestManager_PanickingJobIsContained(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddJob("panicky", func(context.Context) error {
		panic("boom")
	}, time.Hour, "uniform"))

	m.Start(context.Background())
	defer m.Stop()

	forceDue(m, "panicky")
	waitForRuns(t, m, "panicky", 1)

	info, _ := m.JobInfo("panicky")
	assert.Equal(t, StatusFailed, info.Status)
	assert.Contains(t, info.LastError, "boom")
	assert.True(t, info.NextRun.After(time.Now()))
}

func TestManager_NoConcurrentReentry(t *testing.T) {
	m := newTestManager(t)

	var concurrent, maxConcurrent atomic.Int32
	require.NoError(t, m.AddJob("slow", func(context.Context) error {
		cur := concurrent.Add(1)
		if cur > maxConcurrent.Load() {
			maxConcurrent.Store(cur)
		}
		time.Sleep(100 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	}, time.Hour, "uniform"))

	m.Start(context.Background())
	defer m.Stop()

	// Keep the job permanently due for several ticks while it runs.
	for i := 0; i < 5; i++ {
		forceDue(m, "slow")
		time.Sleep(20 * time.Millisecond)
	}
	waitForRuns(t, m, "slow", 1)

	assert.Equal(t, int32(1), maxConcurrent.Load(),
		"a running job must not be re-entered")
}

func TestManager_IndependentJobsInterleave(t *testing.T) {
	m := newTestManager(t)

	release := make(chan struct{})
	var fastRan atomic.Bool
	require.NoError(t, m.AddJob("blocking", func(context.Context) error {
		<-release
		return nil
	}, time.Hour, "uniform"))
	require.NoError(t, m.AddJob("fast", func(context.Context) error {
		fastRan.Store(true)
		return nil
	}, time.Hour, "uniform"))

	m.Start(context.Background())

	forceDue(m, "blocking")
	time.Sleep(30 * time.Millisecond)
	forceDue(m, "fast")
	waitForRuns(t, m, "fast", 1)

	assert.True(t, fastRan.Load(), "one blocked job must not stall others")
	close(release)
	m.Stop()
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddJob("fetch", noopWork, time.Hour, "uniform"))

	m.Start(context.Background())

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within the grace period")
	}
}

func TestManager_RemoveJob(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddJob("fetch", noopWork, time.Hour, "uniform"))

	assert.True(t, m.RemoveJob("fetch"))
	assert.False(t, m.RemoveJob("fetch"))
	assert.Empty(t, m.Jobs())
}
