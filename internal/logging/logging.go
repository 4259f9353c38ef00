// Package logging builds the pipeline logger: console output plus a
// structured log file inside the run directory.
package logging

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PipelineLogFileName is the structured log inside the logs area.
const PipelineLogFileName = "pipeline.log"

// New builds a production logger writing JSON to logs/pipeline.log and
// the console. Callers own the returned logger and must Sync it on
// shutdown.
func New(logsDir string, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.OutputPaths = []string{
		"stderr",
		filepath.Join(logsDir, PipelineLogFileName),
	}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return logger, nil
}
