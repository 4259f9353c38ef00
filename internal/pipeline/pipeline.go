package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nuketools/burnup/internal/aggregate"
	"github.com/nuketools/burnup/internal/audit"
	"github.com/nuketools/burnup/internal/config"
	"github.com/nuketools/burnup/internal/deck"
	"github.com/nuketools/burnup/internal/element"
	"github.com/nuketools/burnup/internal/naming"
	"github.com/nuketools/burnup/internal/parse"
	"github.com/nuketools/burnup/internal/pool"
	"github.com/nuketools/burnup/internal/rundir"
)

// Pipeline sequences the stages of one run over a fixed element set.
type Pipeline struct {
	Config    config.Config
	Dir       rundir.Dir
	RunName   string
	Sources   []element.Source
	Generator deck.Generator
	Executor  Executor
	Parser    parse.Parser
	Logger    *zap.Logger
	Audit     *audit.Logger

	state     State
	startedAt time.Time
	stages    []aggregate.StageSummary
	parsed    map[int]parse.Result
}

// Report is the outcome of one pipeline invocation.
type Report struct {
	State   State
	Summary aggregate.Summary
}

// New validates the collaborators and returns a pipeline in the
// not-started state.
func New(cfg config.Config, dir rundir.Dir, runName string) (*Pipeline, error) {
	if runName == "" {
		return nil, errors.New("run name is required")
	}
	p := &Pipeline{
		Config:  cfg,
		Dir:     dir,
		RunName: runName,
		Logger:  zap.NewNop(),
		state:   StateNotStarted,
	}
	return p, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return p.state
}

// transition moves the lifecycle forward, enforcing the table.
func (p *Pipeline) transition(to State) error {
	if err := ValidateTransition(p.state, to); err != nil {
		return err
	}
	p.Logger.Info("pipeline state change",
		zap.String("from", string(p.state)), zap.String("to", string(to)))
	p.state = to
	return nil
}

// Run executes the pipeline from its configured entry point. Unit
// failures below the abort threshold are carried into the summary; a
// stage whose hard-failure fraction crosses the threshold aborts the
// run after the summary is written.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	p.startedAt = time.Now()

	switch p.Config.ResumeFrom {
	case config.ResumeNone:
		return p.runFresh(ctx)
	case config.ResumeExecution, config.ResumeAggregation:
		return p.runResumed(ctx)
	default:
		return nil, fmt.Errorf("unknown resume point %q", p.Config.ResumeFrom)
	}
}

// runFresh runs all three stages over a newly enumerated element set.
func (p *Pipeline) runFresh(ctx context.Context) (*Report, error) {
	if p.Generator == nil {
		return nil, errors.New("deck generator is required")
	}
	if p.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if p.Parser == nil {
		return nil, errors.New("output parser is required")
	}
	if len(p.Sources) == 0 {
		return nil, errors.New("no elements to process")
	}

	// Every sequence is assigned here, before any filename or deck
	// exists, so decks and filenames can never disagree.
	counter := naming.NewCounter()
	units := element.Enumerate(p.Sources, counter)

	p.auditRunStart(len(units))
	if err := element.WriteMapping(p.Dir.Inputs, units); err != nil {
		p.Logger.Warn("element mapping not written", zap.Error(err))
	}

	if err := p.transition(StateGenerating); err != nil {
		return nil, err
	}
	genResult, err := p.runPoolStage(ctx, "generation", units, p.generateWork(), p.Config.Workers.Generate)
	if err != nil {
		return nil, err
	}
	if abort := p.checkAbort(genResult); abort != nil {
		return p.abort(units, abort)
	}

	return p.executeAndAggregate(ctx, units, survivors(units))
}

// executeAndAggregate runs the execution and aggregation stages over
// the given unit sets. toExecute may be a subset of units when resume
// skipped complete artifacts.
func (p *Pipeline) executeAndAggregate(ctx context.Context, units []*element.Element, toExecute []*element.Element) (*Report, error) {
	if err := p.transition(StateExecuting); err != nil {
		return nil, err
	}
	execResult, err := p.runPoolStage(ctx, "execution", toExecute, p.executeWork(), p.Config.Workers.Execute)
	if err != nil {
		return nil, err
	}
	if abort := p.checkAbort(execResult); abort != nil {
		return p.abort(units, abort)
	}

	return p.aggregateAndFinish(ctx, units)
}

// aggregateAndFinish runs the aggregation stage over every unit with a
// complete output, writes the summary, and applies cleanup.
func (p *Pipeline) aggregateAndFinish(ctx context.Context, units []*element.Element) (*Report, error) {
	if err := p.transition(StateAggregating); err != nil {
		return nil, err
	}

	parseable := survivors(units)
	p.auditStageStart("aggregation", len(parseable), p.Config.Workers.Parse)
	output, err := aggregate.Run(ctx, aggregate.Input{
		Dir:     p.Dir,
		Units:   parseable,
		Parser:  p.Parser,
		Workers: p.Config.Workers.Parse,
		OnDone:  p.unitDone("aggregation"),
	})
	if err != nil {
		summaryErr := p.writeSummary(units, StateFailed, err.Error())
		if summaryErr != nil {
			p.Logger.Error("summary not written", zap.Error(summaryErr))
		}
		_ = p.transition(StateFailed)
		return nil, err
	}
	p.recordStage(output.Stage)
	p.auditStageComplete(output.Stage)
	p.parsed = make(map[int]parse.Result, len(output.Results))
	for _, result := range output.Results {
		p.parsed[result.Element.Seq] = result.Parsed
	}
	if abort := p.checkAbort(output.Stage); abort != nil {
		return p.abort(units, abort)
	}

	if err := p.writeSummary(units, StateCompleted, ""); err != nil {
		return nil, err
	}
	if err := p.transition(StateCompleted); err != nil {
		return nil, err
	}
	p.cleanup(units)

	summary, err := aggregate.ReadSummary(p.Dir.SummaryPath())
	if err != nil {
		return nil, err
	}
	return &Report{State: p.state, Summary: summary}, nil
}

// runPoolStage runs one bounded stage with audit bracketing.
func (p *Pipeline) runPoolStage(ctx context.Context, stage string, units []*element.Element, work pool.WorkFunc, workers int) (pool.StageResult, error) {
	p.auditStageStart(stage, len(units), workers)
	result, err := pool.RunStage(ctx, stage, units, work, workers, p.unitDone(stage))
	if err != nil {
		return pool.StageResult{}, err
	}
	p.recordStage(result)
	p.auditStageComplete(result)
	p.Logger.Info("stage complete",
		zap.String("stage", stage),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("hard_failures", result.HardFailures),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// generateWork adapts the deck generator to the pool contract.
func (p *Pipeline) generateWork() pool.WorkFunc {
	return func(ctx context.Context, el *element.Element) error {
		return p.Generator.Generate(p.Dir.Inputs, *el)
	}
}

// executeWork adapts the executor to the pool contract.
func (p *Pipeline) executeWork() pool.WorkFunc {
	return func(ctx context.Context, el *element.Element) error {
		return p.Executor.Execute(ctx, p.Dir, el)
	}
}

// checkAbort returns a StageAbortError when the stage's hard-failure
// fraction crosses the configured threshold.
func (p *Pipeline) checkAbort(result pool.StageResult) error {
	if result.Total == 0 {
		return nil
	}
	fraction := float64(result.HardFailures) / float64(result.Total)
	if fraction > p.Config.AbortThreshold {
		return &StageAbortError{
			Stage:        result.Stage,
			HardFailures: result.HardFailures,
			Total:        result.Total,
			Threshold:    p.Config.AbortThreshold,
		}
	}
	return nil
}

// abort writes the partial summary, records the abort, and fails the
// run. The summary always lands before the error surfaces.
func (p *Pipeline) abort(units []*element.Element, abortErr error) (*Report, error) {
	var stageAbort *StageAbortError
	if errors.As(abortErr, &stageAbort) && p.Audit != nil {
		_ = p.Audit.LogRunAbort(p.RunName, stageAbort.Stage, stageAbort.HardFailures, stageAbort.Total)
	}
	p.Logger.Error("run aborted", zap.Error(abortErr))

	if err := p.writeSummary(units, StateFailed, abortErr.Error()); err != nil {
		p.Logger.Error("summary not written", zap.Error(err))
	}
	_ = p.transition(StateFailed)
	return nil, abortErr
}

// writeSummary assembles and atomically writes the run summary.
func (p *Pipeline) writeSummary(units []*element.Element, state State, abortReason string) error {
	ordered := make([]*element.Element, len(units))
	copy(ordered, units)
	element.SortBySeq(ordered)

	summary := aggregate.Summary{
		RunName:    p.RunName,
		State:      string(state),
		StartedAt:  p.startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
		Command:    p.Config.ScaleCommand,
		Workers: map[string]int{
			"generate": p.Config.Workers.Generate,
			"execute":  p.Config.Workers.Execute,
			"parse":    p.Config.Workers.Parse,
		},
		Cleanup:     p.Config.CleanupLevel,
		Total:       len(units),
		Aborted:     abortReason != "",
		AbortReason: abortReason,
		Stages:      p.stages,
	}
	for _, el := range ordered {
		unit := aggregate.UnitSummary{
			Seq:             el.Seq,
			Name:            el.Name,
			Assembly:        el.Assembly,
			Status:          el.Status,
			Error:           el.Err,
			Hard:            el.Hard,
			DurationSeconds: el.Duration.Seconds(),
		}
		if parsed, ok := p.parsed[el.Seq]; ok {
			unit.TotalMassGrams = parsed.TotalMassGrams
			unit.DensityGPerCC = parsed.DensityGPerCC
			unit.NuclideCount = parsed.NuclideCount()
		}
		summary.Units = append(summary.Units, unit)
		switch el.Status {
		case element.StatusSucceeded, element.StatusSkipped:
			summary.Succeeded++
		case element.StatusFailed:
			summary.Failed++
		}
	}
	return aggregate.WriteSummary(p.Dir.SummaryPath(), summary)
}

// recordStage appends a stage summary for the run summary document.
func (p *Pipeline) recordStage(result pool.StageResult) {
	p.stages = append(p.stages, aggregate.StageSummary{
		Stage:           result.Stage,
		Total:           result.Total,
		Dispatched:      result.Dispatched,
		Succeeded:       result.Succeeded,
		Failed:          result.Failed,
		HardFailures:    result.HardFailures,
		DurationSeconds: result.Duration.Seconds(),
	})
}

// cleanup applies the configured cleanup level after the summary is
// durable. Cleanup problems are logged, never fatal.
func (p *Pipeline) cleanup(units []*element.Element) {
	level, err := rundir.ParseCleanupLevel(p.Config.CleanupLevel)
	if err != nil {
		p.Logger.Warn("cleanup skipped", zap.Error(err))
		return
	}
	if err := p.Dir.Cleanup(level); err != nil {
		p.Logger.Warn("cleanup incomplete, originals kept", zap.Error(err))
		return
	}
	if p.Audit != nil {
		_ = p.Audit.LogCleanup(p.RunName, string(level), len(units))
	}
}

// unitDone returns the per-unit completion hook for audit logging.
func (p *Pipeline) unitDone(stage string) pool.UnitDoneFunc {
	return func(el *element.Element, err error) {
		if p.Audit != nil {
			_ = p.Audit.LogUnitOutcome(p.RunName, stage, el.Seq, el.Name, string(el.Status), el.Err)
		}
		if err != nil {
			p.Logger.Warn("unit failed",
				zap.String("stage", stage),
				zap.Int("seq", el.Seq),
				zap.String("name", el.Name),
				zap.Error(err))
		}
	}
}

// auditRunStart records the run header.
func (p *Pipeline) auditRunStart(total int) {
	if p.Audit != nil {
		_ = p.Audit.LogRunStart(p.RunName, total, p.Config.ScaleCommand)
	}
}

// auditStageStart records a stage entry.
func (p *Pipeline) auditStageStart(stage string, units int, workers int) {
	if p.Audit != nil {
		_ = p.Audit.LogStageStart(p.RunName, stage, units, workers)
	}
}

// auditStageComplete records a stage exit.
func (p *Pipeline) auditStageComplete(result pool.StageResult) {
	if p.Audit != nil {
		_ = p.Audit.LogStageComplete(p.RunName, result.Stage, result.Succeeded, result.Failed, result.HardFailures)
	}
}

// survivors returns the units that have not failed so far, preserving
// order.
func survivors(units []*element.Element) []*element.Element {
	kept := make([]*element.Element, 0, len(units))
	for _, el := range units {
		if el.Status != element.StatusFailed {
			kept = append(kept, el)
		}
	}
	return kept
}
