// Package health aggregates component health checks for the service.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the aggregate health of the service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc probes one component and returns an error if it is unhealthy.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// ComponentResult is the outcome of one component probe.
type ComponentResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Checker runs registered component checks.
type Checker struct {
	mu     sync.RWMutex
	checks []namedCheck
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a critical component check. A failing critical check
// makes the aggregate status unhealthy.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.register(name, true, fn)
}

// RegisterOptional adds a non-critical check. A failing optional check
// degrades the aggregate status but keeps the service usable.
func (c *Checker) RegisterOptional(name string, fn CheckFunc) {
	c.register(name, false, fn)
}

func (c *Checker) register(name string, critical bool, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, critical: critical, fn: fn})
}

// Check probes every registered component.
func (c *Checker) Check(ctx context.Context) (Status, map[string]ComponentResult) {
	c.mu.RLock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make(map[string]ComponentResult, len(checks))
	status := StatusHealthy

	for _, check := range checks {
		start := time.Now()
		err := check.fn(ctx)
		result := ComponentResult{
			Status:    "ok",
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Status = "error"
			result.Error = fmt.Sprintf("%v", err)
			if check.critical {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		}
		results[check.name] = result
	}

	return status, results
}
