// Package pipeline provides tests for pipeline orchestration and resume.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nuketools/burnup/internal/aggregate"
	"github.com/nuketools/burnup/internal/config"
	"github.com/nuketools/burnup/internal/element"
	"github.com/nuketools/burnup/internal/health"
	"github.com/nuketools/burnup/internal/naming"
	"github.com/nuketools/burnup/internal/parse"
	"github.com/nuketools/burnup/internal/rundir"
)

// completeOutput is a minimal solver output satisfying the completeness
// predicate and the stub parser.
const completeOutput = "case ran\n------------------ end summary ------------------\n"

// stubGenerator writes a one-line deck per element.
type stubGenerator struct{}

func (stubGenerator) Generate(inputsDir string, el element.Element) error {
	deck := fmt.Sprintf("case %d\n", el.Seq)
	return os.WriteFile(filepath.Join(inputsDir, el.DeckFile()), []byte(deck), 0o644)
}

// stubExecutor writes a complete output for every element except those
// in hardFail or transientFail, which fail with the matching class.
type stubExecutor struct {
	hardFail      map[string]bool
	transientFail map[string]bool
}

func (x stubExecutor) Execute(ctx context.Context, dir rundir.Dir, el *element.Element) error {
	if x.hardFail[el.Name] {
		return health.NewFailure(health.HardFailure, "unable to obtain a license")
	}
	if x.transientFail[el.Name] {
		return health.NewFailure(health.TransientFailure, "exit code 137")
	}
	path := filepath.Join(dir.Inputs, el.OutputFile())
	return os.WriteFile(path, []byte(completeOutput), 0o644)
}

// stubPipelineParser returns a fixed composition per output file.
type stubPipelineParser struct{}

func (stubPipelineParser) Parse(outPath string, materialID int) (parse.Result, error) {
	completeness, err := health.ScanArtifact(outPath)
	if err != nil {
		return parse.Result{}, err
	}
	if !completeness.Complete() {
		return parse.Result{}, fmt.Errorf("output %s is incomplete", filepath.Base(outPath))
	}
	return parse.Result{
		TimeColumn:     "2.50E+05min",
		TotalMassGrams: 100,
		DensityGPerCC:  10.2,
		MaterialCard:   fmt.Sprintf("M%d nlib=00c\n     92235 -1.000000e+00\n", materialID),
	}, nil
}

// testSources builds n sources across two assemblies.
func testSources(n int) []element.Source {
	sources := make([]element.Source, n)
	for i := range sources {
		assembly := "core-1"
		if i%2 == 1 {
			assembly = "core-2"
		}
		sources[i] = element.Source{Assembly: assembly, Name: fmt.Sprintf("rod %03d", i+1)}
	}
	return sources
}

// newTestPipeline wires a pipeline with stub collaborators over a fresh
// run directory.
func newTestPipeline(t *testing.T, sources []element.Source, executor Executor) *Pipeline {
	t.Helper()
	dir, err := rundir.CreateLayout(t.TempDir(), "test-run")
	if err != nil {
		t.Fatalf("CreateLayout failed: %v", err)
	}

	cfg := config.Defaults()
	cfg.Workers = config.WorkersConfig{Generate: 4, Execute: 4, Parse: 4}

	p, err := New(cfg, dir, "test-run")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Sources = sources
	p.Generator = stubGenerator{}
	p.Executor = executor
	p.Parser = stubPipelineParser{}
	return p
}

// TestRunHappyPath drives 18 units through all three stages.
func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, testSources(18), stubExecutor{})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.State != StateCompleted {
		t.Fatalf("state = %s, want completed", report.State)
	}
	if report.Summary.Total != 18 || report.Summary.Succeeded != 18 || report.Summary.Failed != 0 {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if got := report.Summary.Units[0].TotalMassGrams; got != 100 {
		t.Fatalf("unit mass = %g, want 100 from the parser", got)
	}
	if len(report.Summary.Stages) != 3 {
		t.Fatalf("stages = %+v, want 3", report.Summary.Stages)
	}

	// Combined cards and summary must exist on disk.
	if _, err := os.Stat(filepath.Join(p.Dir.Cards, aggregate.CombinedCardsFileName)); err != nil {
		t.Fatalf("combined cards missing: %v", err)
	}
	if _, err := os.Stat(p.Dir.SummaryPath()); err != nil {
		t.Fatalf("run summary missing: %v", err)
	}

	// Sequences must be unique and contiguous from 1.
	seen := map[int]bool{}
	for _, u := range report.Summary.Units {
		if seen[u.Seq] {
			t.Fatalf("duplicate sequence %d", u.Seq)
		}
		seen[u.Seq] = true
	}
	for seq := 1; seq <= 18; seq++ {
		if !seen[seq] {
			t.Fatalf("missing sequence %d", seq)
		}
	}
}

// TestRunBelowThresholdCarriesFailures completes a large run with a few
// hard failures.
func TestRunBelowThresholdCarriesFailures(t *testing.T) {
	t.Parallel()

	sources := testSources(252)
	executor := stubExecutor{hardFail: map[string]bool{
		"rod 010": true, "rod 100": true, "rod 200": true,
	}}

	p := newTestPipeline(t, sources, executor)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.State != StateCompleted {
		t.Fatalf("state = %s, want completed", report.State)
	}
	if report.Summary.Failed != 3 || report.Summary.Succeeded != 249 {
		t.Fatalf("summary = total %d succeeded %d failed %d",
			report.Summary.Total, report.Summary.Succeeded, report.Summary.Failed)
	}

	hard := 0
	for _, u := range report.Summary.Units {
		if u.Hard {
			hard++
		}
	}
	if hard != 3 {
		t.Fatalf("hard failures in summary = %d, want 3", hard)
	}
}

// TestRunAbortsOnHardFailureThreshold fails the run when 60% of units
// fail hard, skipping aggregation entirely.
func TestRunAbortsOnHardFailureThreshold(t *testing.T) {
	t.Parallel()

	sources := testSources(10)
	hardFail := map[string]bool{}
	for i := 1; i <= 6; i++ {
		hardFail[fmt.Sprintf("rod %03d", i)] = true
	}

	p := newTestPipeline(t, sources, stubExecutor{hardFail: hardFail})
	_, err := p.Run(context.Background())

	var abort *StageAbortError
	if !errors.As(err, &abort) {
		t.Fatalf("err = %v, want StageAbortError", err)
	}
	if abort.Stage != "execution" || abort.HardFailures != 6 || abort.Total != 10 {
		t.Fatalf("abort = %+v", abort)
	}
	if p.State() != StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}

	// The partial summary is still written; aggregation artifacts are not.
	summary, err := aggregate.ReadSummary(p.Dir.SummaryPath())
	if err != nil {
		t.Fatalf("ReadSummary failed: %v", err)
	}
	if !summary.Aborted || summary.State != string(StateFailed) {
		t.Fatalf("summary = %+v, want aborted", summary)
	}
	if _, err := os.Stat(filepath.Join(p.Dir.Cards, aggregate.CombinedCardsFileName)); !os.IsNotExist(err) {
		t.Fatal("aggregation artifact should not exist after abort")
	}
}

// seedRunDir generates decks (and optionally complete outputs) for a
// resumable run directory.
func seedRunDir(t *testing.T, n int, withOutputs bool) rundir.Dir {
	t.Helper()
	dir, err := rundir.CreateLayout(t.TempDir(), "seeded")
	if err != nil {
		t.Fatalf("CreateLayout failed: %v", err)
	}
	sources := testSources(n)

	p, err := New(config.Defaults(), dir, "seeded")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Sources = sources
	p.Generator = stubGenerator{}
	p.Executor = stubExecutor{}
	p.Parser = stubPipelineParser{}

	if withOutputs {
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("seeding run failed: %v", err)
		}
		return dir
	}

	// Decks only: enumerate and generate without executing.
	units := element.Enumerate(sources, naming.NewCounter())
	for _, el := range units {
		if err := (stubGenerator{}).Generate(dir.Inputs, *el); err != nil {
			t.Fatalf("seed deck: %v", err)
		}
	}
	if err := element.WriteMapping(dir.Inputs, units); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
	return dir
}

// TestResumeExecutionRedispatchesIncomplete re-runs only units without
// complete outputs.
func TestResumeExecutionRedispatchesIncomplete(t *testing.T) {
	t.Parallel()

	dir := seedRunDir(t, 6, false)

	// Pre-complete two units' outputs.
	filenames, err := dir.ListInputFiles()
	if err != nil {
		t.Fatalf("ListInputFiles failed: %v", err)
	}
	units, err := element.FromDeckFiles(filenames)
	if err != nil {
		t.Fatalf("FromDeckFiles failed: %v", err)
	}
	for _, el := range units[:2] {
		path := filepath.Join(dir.Inputs, el.OutputFile())
		if err := os.WriteFile(path, []byte(completeOutput), 0o644); err != nil {
			t.Fatalf("seed output: %v", err)
		}
	}

	cfg := config.Defaults()
	cfg.ResumeFrom = config.ResumeExecution
	cfg.RunDir = dir.Root

	executed := map[string]bool{}
	executor := countingExecutor{executed: executed}

	p, err := New(cfg, dir, "seeded")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Executor = executor
	p.Parser = stubPipelineParser{}

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != StateCompleted {
		t.Fatalf("state = %s, want completed", report.State)
	}
	if len(executed) != 4 {
		t.Fatalf("executed %d units, want only the 4 incomplete ones: %v", len(executed), executed)
	}
	for _, el := range units[:2] {
		if executed[el.Name] {
			t.Fatalf("unit %s has a complete artifact and must not re-run", el.Name)
		}
	}
	for _, unit := range report.Summary.Units {
		if unit.Assembly == "" {
			t.Fatalf("unit %s lost its assembly label on resume", unit.Name)
		}
	}
}

// countingExecutor records which units it ran and writes complete
// outputs.
type countingExecutor struct {
	executed map[string]bool
}

func (x countingExecutor) Execute(ctx context.Context, dir rundir.Dir, el *element.Element) error {
	x.executed[el.Name] = true
	path := filepath.Join(dir.Inputs, el.OutputFile())
	return os.WriteFile(path, []byte(completeOutput), 0o644)
}

// TestResumeCompletedRunIsNoOp reports the existing summary untouched.
func TestResumeCompletedRunIsNoOp(t *testing.T) {
	t.Parallel()

	dir := seedRunDir(t, 4, true)
	before, err := os.ReadFile(filepath.Join(dir.Root, rundir.SummaryFileName))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}

	cfg := config.Defaults()
	cfg.ResumeFrom = config.ResumeExecution
	cfg.RunDir = dir.Root

	executed := map[string]bool{}
	p, err := New(cfg, dir, "seeded")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Executor = countingExecutor{executed: executed}
	p.Parser = stubPipelineParser{}

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(executed) != 0 {
		t.Fatalf("completed run must not re-execute units: %v", executed)
	}
	if report.State != StateCompleted {
		t.Fatalf("state = %s, want completed", report.State)
	}

	after, err := os.ReadFile(filepath.Join(dir.Root, rundir.SummaryFileName))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("summary must be untouched when resuming a completed run")
	}
}

// TestResumeAggregationRequiresOutputs reports inconsistency when any
// output is missing.
func TestResumeAggregationRequiresOutputs(t *testing.T) {
	t.Parallel()

	dir := seedRunDir(t, 3, false)

	cfg := config.Defaults()
	cfg.ResumeFrom = config.ResumeAggregation
	cfg.RunDir = dir.Root

	p, err := New(cfg, dir, "seeded")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Parser = stubPipelineParser{}

	_, err = p.Run(context.Background())
	var inconsistency *ResumeInconsistencyError
	if !errors.As(err, &inconsistency) {
		t.Fatalf("err = %v, want ResumeInconsistencyError", err)
	}
	if inconsistency.From != config.ResumeAggregation || len(inconsistency.Missing) != 3 {
		t.Fatalf("inconsistency = %+v", inconsistency)
	}
}

// TestResumeEmptyRunDirIsInconsistent rejects directories without decks.
func TestResumeEmptyRunDirIsInconsistent(t *testing.T) {
	t.Parallel()

	dir, err := rundir.CreateLayout(t.TempDir(), "empty")
	if err != nil {
		t.Fatalf("CreateLayout failed: %v", err)
	}

	cfg := config.Defaults()
	cfg.ResumeFrom = config.ResumeExecution
	cfg.RunDir = dir.Root

	p, err := New(cfg, dir, "empty")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Executor = stubExecutor{}
	p.Parser = stubPipelineParser{}

	_, err = p.Run(context.Background())
	var inconsistency *ResumeInconsistencyError
	if !errors.As(err, &inconsistency) {
		t.Fatalf("err = %v, want ResumeInconsistencyError", err)
	}
}

// TestScaleExecutorEndToEnd runs a fake solver script through the real
// executor.
func TestScaleExecutorEndToEnd(t *testing.T) {
	t.Parallel()

	dir, err := rundir.CreateLayout(t.TempDir(), "exec")
	if err != nil {
		t.Fatalf("CreateLayout failed: %v", err)
	}

	// The fake solver writes a complete .out next to the deck it was
	// given, like scalerte does.
	script := filepath.Join(t.TempDir(), "fake_scale.sh")
	body := `#!/bin/sh
deck="$1"
out="${deck%.inp}.out"
printf 'ok\n------------------ end summary ------------------\n' > "$out"
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake solver: %v", err)
	}

	el := &element.Element{Name: "rod 001", Seq: 1, Token: "rod_s_001"}
	deckPath := filepath.Join(dir.Inputs, el.DeckFile())
	if err := os.WriteFile(deckPath, []byte("case 1\n"), 0o644); err != nil {
		t.Fatalf("write deck: %v", err)
	}

	executor := ScaleExecutor{
		CommandTemplate: "sh " + script + " {input}",
		Timeout:         10 * time.Second,
	}
	if err := executor.Execute(context.Background(), dir, el); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir.Inputs, el.OutputFile())); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

// TestScaleExecutorIncompleteOutputIsTransient flags outputs without a
// terminal marker.
func TestScaleExecutorIncompleteOutputIsTransient(t *testing.T) {
	t.Parallel()

	dir, err := rundir.CreateLayout(t.TempDir(), "exec-bad")
	if err != nil {
		t.Fatalf("CreateLayout failed: %v", err)
	}

	script := filepath.Join(t.TempDir(), "truncating_scale.sh")
	body := `#!/bin/sh
deck="$1"
out="${deck%.inp}.out"
printf 'started but never finished\n' > "$out"
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake solver: %v", err)
	}

	el := &element.Element{Name: "rod 002", Seq: 2, Token: "rod_s_002"}
	if err := os.WriteFile(filepath.Join(dir.Inputs, el.DeckFile()), []byte("case 2\n"), 0o644); err != nil {
		t.Fatalf("write deck: %v", err)
	}

	executor := ScaleExecutor{
		CommandTemplate: "sh " + script + " {input}",
		Timeout:         10 * time.Second,
	}
	err = executor.Execute(context.Background(), dir, el)

	var failure *health.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want *health.Failure", err)
	}
	if failure.Outcome != health.TransientFailure {
		t.Fatalf("outcome = %v, want transient", failure.Outcome)
	}
}
