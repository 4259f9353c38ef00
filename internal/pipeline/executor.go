package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nuketools/burnup/internal/element"
	"github.com/nuketools/burnup/internal/health"
	"github.com/nuketools/burnup/internal/rundir"
	"github.com/nuketools/burnup/internal/scale"
)

// Executor runs the external solver for one element. Implementations
// report unit failures as classified *health.Failure errors so the
// stage executor can count hard failures.
type Executor interface {
	Execute(ctx context.Context, dir rundir.Dir, el *element.Element) error
}

// ScaleExecutor invokes the configured SCALE command per element.
type ScaleExecutor struct {
	CommandTemplate string
	Timeout         time.Duration
	Warn            func(string)
}

// Execute resolves the command for the element's deck, runs it with the
// per-unit timeout, classifies the outcome from the message companion,
// and verifies the output artifact is complete.
func (x ScaleExecutor) Execute(ctx context.Context, dir rundir.Dir, el *element.Element) error {
	command, err := scale.ResolveCommand(x.CommandTemplate, el.DeckFile(), dir.Inputs)
	if err != nil {
		return health.NewFailure(health.HardFailure, err.Error())
	}

	unitName := strings.TrimSuffix(el.DeckFile(), filepath.Ext(el.DeckFile()))
	result, err := scale.Run(ctx, scale.RunInput{
		Command:  command,
		WorkDir:  dir.Inputs,
		LogsDir:  dir.Logs,
		UnitName: unitName,
		Timeout:  x.Timeout,
		Warn:     x.Warn,
	})
	if err != nil {
		// The process never started; the binary or work dir is broken
		// for every unit, not just this one.
		return health.NewFailure(health.HardFailure, err.Error())
	}

	outcome := scale.Classify(result, filepath.Join(dir.Inputs, el.MessageFile()))
	if outcome != health.Success {
		detail := fmt.Sprintf("exit code %d", result.ExitCode)
		if result.TimedOut {
			detail = fmt.Sprintf("timed out after %s", x.Timeout)
		}
		return health.NewFailure(outcome, detail)
	}

	outPath := filepath.Join(dir.Inputs, el.OutputFile())
	completeness, err := health.ScanArtifact(outPath)
	if err != nil {
		return health.NewFailure(health.TransientFailure, err.Error())
	}
	if !completeness.Complete() {
		return health.NewFailure(health.TransientFailure,
			fmt.Sprintf("output %s missing terminal summary", el.OutputFile()))
	}
	return nil
}
