package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/ticketwatch/internal/logger"
)

// nightlySpec runs maintenance at 03:00 local time, well outside the
// randomized fetch windows.
const nightlySpec = "0 3 * * *"

// Maintenance runs housekeeping tasks on a fixed cron schedule, separate
// from the randomized job manager: cleanup work should be predictable,
// not jittered.
type Maintenance struct {
	cron   *cron.Cron
	logger logger.Logger
}

// NewMaintenance creates the maintenance runner.
func NewMaintenance(log logger.Logger) *Maintenance {
	return &Maintenance{
		cron:   cron.New(),
		logger: log,
	}
}

// AddNightly registers a task to run every night.
func (m *Maintenance) AddNightly(name string, task func() error) error {
	_, err := m.cron.AddFunc(nightlySpec, func() {
		if err := task(); err != nil {
			m.logger.Error("Maintenance task failed",
				logger.String("task", name), logger.Error(err))
			return
		}
		m.logger.Info("Maintenance task completed", logger.String("task", name))
	})
	if err != nil {
		return fmt.Errorf("register maintenance task %q: %w", name, err)
	}
	return nil
}

// Start begins the cron schedule.
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop halts the schedule and waits for running tasks.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}
