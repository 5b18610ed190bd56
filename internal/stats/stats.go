// Package stats tracks request outcomes and runtime resource usage for
// the operational stats endpoint.
package stats

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// latencyWindow caps how many recent response times feed the rolling average.
const latencyWindow = 100

// Collector accumulates fetch request counters, a rolling latency window
// and hourly request buckets. It satisfies the fetch pipeline's Recorder.
type Collector struct {
	mu        sync.RWMutex
	startedAt time.Time

	totalRequests  int64
	failedRequests int64

	latencies []time.Duration
	hourly    map[string]int64

	now func() time.Time
}

// NewCollector creates a Collector. The clock defaults to time.Now.
func NewCollector() *Collector {
	return &Collector{
		startedAt: time.Now(),
		hourly:    make(map[string]int64),
		now:       time.Now,
	}
}

// RecordRequest registers one fetch attempt and its latency.
func (c *Collector) RecordRequest(success bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if !success {
		c.failedRequests++
	}

	c.latencies = append(c.latencies, latency)
	if len(c.latencies) > latencyWindow {
		c.latencies = c.latencies[len(c.latencies)-latencyWindow:]
	}

	bucket := c.now().UTC().Format("2006-01-02T15")
	c.hourly[bucket]++
	c.pruneBucketsLocked()
}

// pruneBucketsLocked keeps only the last 24 hourly buckets.
func (c *Collector) pruneBucketsLocked() {
	if len(c.hourly) <= 24 {
		return
	}
	cutoff := c.now().UTC().Add(-24 * time.Hour).Format("2006-01-02T15")
	for bucket := range c.hourly {
		if bucket < cutoff {
			delete(c.hourly, bucket)
		}
	}
}

// RequestStats is a point-in-time view of the request counters.
type RequestStats struct {
	TotalRequests   int64            `json:"total_requests"`
	FailedRequests  int64            `json:"failed_requests"`
	SuccessRate     float64          `json:"success_rate"`
	AvgResponseMs   float64          `json:"avg_response_ms"`
	RequestsPerHour map[string]int64 `json:"requests_per_hour"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
}

// Requests returns a snapshot of the counters.
func (c *Collector) Requests() RequestStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := RequestStats{
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		RequestsPerHour: make(map[string]int64, len(c.hourly)),
		UptimeSeconds:   time.Since(c.startedAt).Seconds(),
	}
	for bucket, count := range c.hourly {
		stats.RequestsPerHour[bucket] = count
	}
	if c.totalRequests > 0 {
		stats.SuccessRate = float64(c.totalRequests-c.failedRequests) / float64(c.totalRequests)
	}
	if len(c.latencies) > 0 {
		var total time.Duration
		for _, l := range c.latencies {
			total += l
		}
		stats.AvgResponseMs = float64(total.Milliseconds()) / float64(len(c.latencies))
	}
	return stats
}

// ResourceStats reports process and host resource usage.
type ResourceStats struct {
	AllocatedMB    uint64  `json:"allocated_mb"`
	SystemMB       uint64  `json:"system_mb"`
	HostUsedMB     uint64  `json:"host_used_mb"`
	HostPercent    float64 `json:"host_percent"`
	CPUPercent     float64 `json:"cpu_percent"`
	GoroutineCount int     `json:"goroutine_count"`
	NumGC          uint32  `json:"num_gc"`
}

// Resources samples current memory and CPU usage. CPU sampling is
// non-blocking; the first call after startup may report zero.
func Resources() ResourceStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := ResourceStats{
		AllocatedMB:    memStats.Alloc / 1024 / 1024,
		SystemMB:       memStats.Sys / 1024 / 1024,
		GoroutineCount: runtime.NumGoroutine(),
		NumGC:          memStats.NumGC,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.HostUsedMB = vm.Used / 1024 / 1024
		stats.HostPercent = vm.UsedPercent
	}
	if usage, err := cpu.Percent(0, false); err == nil && len(usage) > 0 {
		stats.CPUPercent = usage[0]
	}

	return stats
}
