package scheduler

import (
	"sync"
	"time"
)

// Metrics tracks job execution counters. Safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	totalExecutions  int64
	successfulRuns   int64
	failedRuns       int64
	totalRunDuration time.Duration
	lastExecutionAt  time.Time
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalExecutions int64         `json:"total_executions"`
	SuccessfulRuns  int64         `json:"successful_runs"`
	FailedRuns      int64         `json:"failed_runs"`
	AvgRunDuration  time.Duration `json:"avg_run_duration"`
	LastExecutionAt time.Time     `json:"last_execution_at"`
}

// NewMetrics creates a metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordSuccess records a successful job run.
func (m *Metrics) RecordSuccess(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalExecutions++
	m.successfulRuns++
	m.totalRunDuration += duration
	m.lastExecutionAt = time.Now()
}

// RecordFailure records a failed job run.
func (m *Metrics) RecordFailure(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalExecutions++
	m.failedRuns++
	m.totalRunDuration += duration
	m.lastExecutionAt = time.Now()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		TotalExecutions: m.totalExecutions,
		SuccessfulRuns:  m.successfulRuns,
		FailedRuns:      m.failedRuns,
		LastExecutionAt: m.lastExecutionAt,
	}
	if m.totalExecutions > 0 {
		snap.AvgRunDuration = m.totalRunDuration / time.Duration(m.totalExecutions)
	}
	return snap
}
