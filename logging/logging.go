// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/martinemde/gitpilot/config"
)

// New returns a production JSON logger at cfg.Level writing to cfg.File.
// An empty File means stderr.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	output := cfg.File
	if output == "" {
		output = "stderr"
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{output}
	zc.DisableStacktrace = !level.Enabled(zap.DebugLevel)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("gitpilot"), nil
}
