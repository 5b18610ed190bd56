// Package common provides shared initialization for command implementations.
package common

import (
	"errors"
	"fmt"

	"github.com/jonesrussell/ticketwatch/internal/config"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

var (
	// ErrLoggerRequired is returned when Deps.Logger is nil.
	ErrLoggerRequired = errors.New("logger is required")
	// ErrConfigRequired is returned when Deps.Config is nil.
	ErrConfigRequired = errors.New("config is required")
)

// Deps holds the dependencies every command starts from.
type Deps struct {
	Config *config.Config
	Logger logger.Logger
}

// Validate ensures all required dependencies are present.
func (d Deps) Validate() error {
	if d.Logger == nil {
		return ErrLoggerRequired
	}
	if d.Config == nil {
		return ErrConfigRequired
	}
	return nil
}

// NewDeps loads configuration and builds the logger. debug forces the
// log level down regardless of configuration.
func NewDeps(configPath string, debug bool) (Deps, error) {
	cfg, err := config.Load(config.GetConfigPath(configPath))
	if err != nil {
		return Deps{}, fmt.Errorf("load config: %w", err)
	}

	logCfg := cfg.Log
	if debug {
		logCfg.Level = "debug"
		logCfg.Development = true
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return Deps{}, fmt.Errorf("create logger: %w", err)
	}

	return Deps{Config: cfg, Logger: log}, nil
}
