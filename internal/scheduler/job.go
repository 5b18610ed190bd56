// Package scheduler executes named recurring jobs on independently
// randomized intervals.
package scheduler

import (
	"context"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// StatusScheduled means the job is waiting for its next run time.
	StatusScheduled JobStatus = "scheduled"
	// StatusRunning means the job's work function is executing.
	StatusRunning JobStatus = "running"
	// StatusCompleted means the last run finished without error.
	StatusCompleted JobStatus = "completed"
	// StatusFailed means the last run returned an error.
	StatusFailed JobStatus = "failed"
)

// WorkFunc is the unit of work a job executes. It must be idempotent;
// the scheduler retries nothing itself, it just reschedules.
type WorkFunc func(ctx context.Context) error

// Job is a named recurring unit of work. All fields are guarded by the
// manager's lock; the running flag prevents concurrent re-entry.
type Job struct {
	Name         string
	BaseInterval time.Duration
	Strategy     string

	Status    JobStatus
	LastRun   time.Time
	NextRun   time.Time
	RunCount  int
	LastError string

	work    WorkFunc
	running bool
}

// JobInfo is a point-in-time copy of a job's observable state.
type JobInfo struct {
	Name         string        `json:"name"`
	BaseInterval time.Duration `json:"base_interval"`
	Strategy     string        `json:"strategy"`
	Status       JobStatus     `json:"status"`
	LastRun      time.Time     `json:"last_run"`
	NextRun      time.Time     `json:"next_run"`
	RunCount     int           `json:"run_count"`
	LastError    string        `json:"last_error,omitempty"`
}

func (j *Job) info() JobInfo {
	return JobInfo{
		Name:         j.Name,
		BaseInterval: j.BaseInterval,
		Strategy:     j.Strategy,
		Status:       j.Status,
		LastRun:      j.LastRun,
		NextRun:      j.NextRun,
		RunCount:     j.RunCount,
		LastError:    j.LastError,
	}
}
