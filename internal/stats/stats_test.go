package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordRequestCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRequest(true, 100*time.Millisecond)
	c.RecordRequest(true, 200*time.Millisecond)
	c.RecordRequest(false, 300*time.Millisecond)

	got := c.Requests()
	assert.Equal(t, int64(3), got.TotalRequests)
	assert.Equal(t, int64(1), got.FailedRequests)
	assert.InDelta(t, 2.0/3.0, got.SuccessRate, 0.001)
	assert.InDelta(t, 200.0, got.AvgResponseMs, 0.001)
}

func TestEmptyCollector(t *testing.T) {
	c := NewCollector()

	got := c.Requests()
	assert.Zero(t, got.TotalRequests)
	assert.Zero(t, got.SuccessRate)
	assert.Zero(t, got.AvgResponseMs)
	assert.Empty(t, got.RequestsPerHour)
}

func TestLatencyWindowIsBounded(t *testing.T) {
	c := NewCollector()

	// Fill the window with slow samples, then push them out with fast ones.
	for i := 0; i < latencyWindow; i++ {
		c.RecordRequest(true, time.Second)
	}
	for i := 0; i < latencyWindow; i++ {
		c.RecordRequest(true, 10*time.Millisecond)
	}

	got := c.Requests()
	assert.InDelta(t, 10.0, got.AvgResponseMs, 0.001)
}

func TestHourlyBuckets(t *testing.T) {
	c := NewCollector()
	now := time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.RecordRequest(true, time.Millisecond)
	c.RecordRequest(true, time.Millisecond)
	now = now.Add(time.Hour)
	c.RecordRequest(true, time.Millisecond)

	got := c.Requests()
	assert.Equal(t, int64(2), got.RequestsPerHour["2026-03-14T15"])
	assert.Equal(t, int64(1), got.RequestsPerHour["2026-03-14T16"])
}

func TestOldBucketsArePruned(t *testing.T) {
	c := NewCollector()
	now := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 30; i++ {
		c.RecordRequest(true, time.Millisecond)
		now = now.Add(time.Hour)
	}

	got := c.Requests()
	assert.LessOrEqual(t, len(got.RequestsPerHour), 25)
	assert.NotContains(t, got.RequestsPerHour, "2026-03-14T00")
}

func TestResourcesSampling(t *testing.T) {
	got := Resources()
	assert.Greater(t, got.GoroutineCount, 0)
	assert.Greater(t, got.SystemMB, uint64(0))
}
