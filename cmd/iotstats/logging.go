package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ThisIsMelika/statistical-analysis/pkg/config"
)

// newLogger builds the process logger. Logs go to stderr so reports on
// stdout stay clean.
func newLogger(cfg config.LogConfig, verbose, quiet bool) (*zap.Logger, error) {
	if quiet {
		return zap.NewNop(), nil
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development || verbose {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zcfg.Level = level

	return zcfg.Build()
}
