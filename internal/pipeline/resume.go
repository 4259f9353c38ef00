package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nuketools/burnup/internal/aggregate"
	"github.com/nuketools/burnup/internal/config"
	"github.com/nuketools/burnup/internal/element"
	"github.com/nuketools/burnup/internal/health"
)

// resumePlan is the unit partition reconstructed from the run directory.
type resumePlan struct {
	units    []*element.Element
	requeued []*element.Element
	skipped  int
}

// runResumed re-enters the pipeline at the configured point. The plan
// is reconstructed purely from on-disk artifacts: deck filenames define
// the unit set, and the completeness predicate decides which units
// still need work. Prior failure records are never consulted.
func (p *Pipeline) runResumed(ctx context.Context) (*Report, error) {
	if p.Executor == nil && p.Config.ResumeFrom == config.ResumeExecution {
		return nil, fmt.Errorf("executor is required to resume from %s", config.ResumeExecution)
	}
	if p.Parser == nil {
		return nil, fmt.Errorf("output parser is required to resume")
	}

	plan, err := p.planResume()
	if err != nil {
		return nil, err
	}
	if p.Audit != nil {
		_ = p.Audit.LogResume(p.RunName, p.Config.ResumeFrom, plan.skipped, len(plan.requeued))
	}
	p.Logger.Info("resuming run",
		zap.String("from", p.Config.ResumeFrom),
		zap.Int("units", len(plan.units)),
		zap.Int("skipped", plan.skipped),
		zap.Int("requeued", len(plan.requeued)))

	if p.Config.ResumeFrom == config.ResumeExecution && len(plan.requeued) == 0 {
		// Nothing to execute. If the run already completed, report the
		// existing summary untouched.
		if summary, err := aggregate.ReadSummary(p.Dir.SummaryPath()); err == nil &&
			summary.State == string(StateCompleted) {
			p.state = StateCompleted
			return &Report{State: p.state, Summary: summary}, nil
		}
	}

	switch p.Config.ResumeFrom {
	case config.ResumeExecution:
		return p.executeAndAggregate(ctx, plan.units, plan.requeued)
	case config.ResumeAggregation:
		return p.aggregateAndFinish(ctx, plan.units)
	default:
		return nil, fmt.Errorf("unknown resume point %q", p.Config.ResumeFrom)
	}
}

// planResume rebuilds the unit set from deck filenames and partitions
// it by artifact completeness.
func (p *Pipeline) planResume() (resumePlan, error) {
	filenames, err := p.Dir.ListInputFiles()
	if err != nil {
		return resumePlan{}, err
	}
	units, err := element.FromDeckFiles(filenames)
	if err != nil {
		return resumePlan{}, err
	}
	if len(units) == 0 {
		return resumePlan{}, &ResumeInconsistencyError{
			From:    p.Config.ResumeFrom,
			Missing: []string{"element input decks"},
		}
	}
	if err := element.RestoreAssemblies(p.Dir.Inputs, units); err != nil {
		// Advisory only: summaries fall back to blank assembly labels.
		p.Logger.Warn("element mapping not usable", zap.Error(err))
	}

	plan := resumePlan{units: units}
	var missing []string
	for _, el := range units {
		completeness, err := health.ScanArtifact(filepath.Join(p.Dir.Inputs, el.OutputFile()))
		if err != nil {
			return resumePlan{}, err
		}
		if completeness.Complete() {
			el.Status = element.StatusSkipped
			plan.skipped++
			continue
		}
		switch p.Config.ResumeFrom {
		case config.ResumeExecution:
			plan.requeued = append(plan.requeued, el)
		case config.ResumeAggregation:
			// Aggregation needs every output already on disk.
			missing = append(missing, el.OutputFile())
		}
	}
	if len(missing) > 0 {
		return resumePlan{}, &ResumeInconsistencyError{From: p.Config.ResumeFrom, Missing: missing}
	}
	return plan, nil
}
