package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/ticketwatch/internal/logger"
	"github.com/jonesrussell/ticketwatch/internal/randomizer"
)

const defaultTickInterval = time.Second

// Manager owns the job registry and the polling loop that fires due
// jobs. Jobs run on their own goroutines so a slow job never blocks the
// others; a per-job running flag prevents concurrent re-entry.
type Manager struct {
	logger     logger.Logger
	randomizer *randomizer.Randomizer

	mu   sync.RWMutex
	jobs map[string]*Job

	tickInterval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	metrics *Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTickInterval overrides the polling period. Tests use a short one.
func WithTickInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.tickInterval = d }
}

// WithRandomizer injects a randomizer, for deterministic tests.
func WithRandomizer(r *randomizer.Randomizer) ManagerOption {
	return func(m *Manager) { m.randomizer = r }
}

// NewManager creates a job manager.
func NewManager(log logger.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:       log,
		randomizer:   randomizer.New(),
		jobs:         make(map[string]*Job),
		tickInterval: defaultTickInterval,
		metrics:      NewMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddJob registers a recurring job and computes its first next-run time
// immediately. Names must be unique.
func (m *Manager) AddJob(name string, work WorkFunc, baseInterval time.Duration, strategy string) error {
	if name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if work == nil {
		return fmt.Errorf("job %q has no work function", name)
	}
	if baseInterval <= 0 {
		return fmt.Errorf("job %q interval must be positive, got %v", name, baseInterval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	job := &Job{
		Name:         name,
		BaseInterval: baseInterval,
		Strategy:     strategy,
		Status:       StatusScheduled,
		NextRun:      time.Now().Add(m.randomizer.NextInterval(baseInterval, strategy)),
		work:         work,
	}
	m.jobs[name] = job

	m.logger.Info("Job registered",
		logger.String("job", name),
		logger.Duration("base_interval", baseInterval),
		logger.String("strategy", strategy),
		logger.Time("next_run", job.NextRun))
	return nil
}

// RemoveJob unregisters a job. A running execution finishes normally but
// is not rescheduled.
func (m *Manager) RemoveJob(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[name]; !ok {
		return false
	}
	delete(m.jobs, name)
	m.logger.Info("Job removed", logger.String("job", name))
	return true
}

// Jobs returns a snapshot of all registered jobs.
func (m *Manager) Jobs() []JobInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]JobInfo, 0, len(m.jobs))
	for _, job := range m.jobs {
		infos = append(infos, job.info())
	}
	return infos
}

// JobInfo returns the snapshot of one job.
func (m *Manager) JobInfo(name string) (JobInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[name]
	if !ok {
		return JobInfo{}, false
	}
	return job.info(), true
}

// Metrics returns a snapshot of the execution counters.
func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// Start launches the polling loop. Starting twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	m.logger.Info("Scheduler started", logger.Duration("tick_interval", m.tickInterval))
}

// Stop terminates the polling loop and waits for in-flight jobs.
// It is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("Scheduler stopped")
}

func (m *Manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.tick(time.Now())
		}
	}
}

// tick fires every due job that is not already running.
func (m *Manager) tick(now time.Time) {
	m.mu.Lock()
	var due []*Job
	for _, job := range m.jobs {
		if job.running || job.NextRun.After(now) {
			continue
		}
		job.running = true
		job.Status = StatusRunning
		due = append(due, job)
	}
	m.mu.Unlock()

	for _, job := range due {
		m.wg.Add(1)
		go func(job *Job) {
			defer m.wg.Done()
			m.execute(job)
		}(job)
	}
}

// execute runs one job and always computes a fresh next-run time, even
// after a failure, so a bad run can never stall the schedule.
func (m *Manager) execute(job *Job) {
	started := time.Now()
	m.logger.Info("Job starting", logger.String("job", job.Name))

	err := m.invoke(job)

	next := time.Now().Add(m.randomizer.NextInterval(job.BaseInterval, job.Strategy))

	m.mu.Lock()
	job.running = false
	job.LastRun = started
	job.RunCount++
	job.NextRun = next
	if err != nil {
		job.Status = StatusFailed
		job.LastError = err.Error()
	} else {
		job.Status = StatusCompleted
		job.LastError = ""
	}
	m.mu.Unlock()

	if err != nil {
		m.metrics.RecordFailure(time.Since(started))
		m.logger.Error("Job failed",
			logger.String("job", job.Name),
			logger.Error(err),
			logger.Time("next_run", next))
		return
	}
	m.metrics.RecordSuccess(time.Since(started))
	m.logger.Info("Job completed",
		logger.String("job", job.Name),
		logger.Duration("duration", time.Since(started)),
		logger.Time("next_run", next))
}

// invoke calls the work function, converting a panic into an error so
// one misbehaving job cannot take the scheduler down.
func (m *Manager) invoke(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.work(m.ctx)
}
