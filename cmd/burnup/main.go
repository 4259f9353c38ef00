// Command burnup provides the CLI entrypoint for the burnup pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nuketools/burnup/internal/audit"
	"github.com/nuketools/burnup/internal/buildinfo"
	"github.com/nuketools/burnup/internal/config"
	"github.com/nuketools/burnup/internal/deck"
	"github.com/nuketools/burnup/internal/logging"
	"github.com/nuketools/burnup/internal/parse"
	"github.com/nuketools/burnup/internal/pipeline"
	"github.com/nuketools/burnup/internal/rundir"
	"github.com/nuketools/burnup/internal/runlock"
	"github.com/nuketools/burnup/internal/status"
	"github.com/nuketools/burnup/internal/tui"
)

const usage = `burnup - fuel burnup analysis pipeline

USAGE:
    burnup <command> [command options]

COMMANDS:
    run              Generate decks, run the solver, and aggregate material cards
    resume           Re-enter an existing run directory at a chosen stage
    status           Inspect a run directory and print its on-disk state
    version          Print version and build information

Run 'burnup <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "resume":
		runResume(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		runVersion()
	case "-h", "--help", "help":
		fmt.Fprint(os.Stderr, usage)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "burnup: unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// commonFlags registers the flags shared by run and resume. Values are
// applied onto the loaded config only when the flag was set explicitly.
type commonFlags struct {
	configPath   string
	scaleCommand string
	genWorkers   int
	execWorkers  int
	parseWorkers int
	cleanup      string
	timeout      time.Duration
	verbose      bool
}

func (cf *commonFlags) register(flags *flag.FlagSet) {
	flags.StringVar(&cf.configPath, "config", "burnup.yaml", "")
	flags.StringVar(&cf.scaleCommand, "scale-cmd", "", "")
	flags.IntVar(&cf.genWorkers, "gen-workers", 0, "")
	flags.IntVar(&cf.execWorkers, "exec-workers", 0, "")
	flags.IntVar(&cf.parseWorkers, "parse-workers", 0, "")
	flags.StringVar(&cf.cleanup, "cleanup", "", "")
	flags.DurationVar(&cf.timeout, "timeout", 0, "")
	flags.BoolVar(&cf.verbose, "v", false, "")
}

func (cf *commonFlags) apply(flags *flag.FlagSet, cfg *config.Config) {
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scale-cmd":
			cfg.ScaleCommand = cf.scaleCommand
		case "gen-workers":
			cfg.Workers.Generate = cf.genWorkers
		case "exec-workers":
			cfg.Workers.Execute = cf.execWorkers
		case "parse-workers":
			cfg.Workers.Parse = cf.parseWorkers
		case "cleanup":
			cfg.CleanupLevel = cf.cleanup
		case "timeout":
			cfg.UnitTimeout = cf.timeout
		}
	})
}

func runRun(args []string) {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	var common commonFlags
	common.register(flags)
	name := flags.String("name", "", "")
	fluxPath := flags.String("flux", "", "")
	powerPath := flags.String("power", "", "")
	rootDir := flags.String("root", "", "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    burnup run [options]

DESCRIPTION:
    Run the full pipeline: enumerate fuel elements from the flux data,
    generate one depletion input deck per element, run the solver over
    the decks in parallel, parse the outputs, and write the combined
    material cards, database, and run summary.

OPTIONS:
    -config path      Config file (default burnup.yaml; missing is fine)
    -name s           Run name suffix for the run directory
    -flux path        Flux JSON file (required unless set in config)
    -power path       Power history cards file (required unless set in config)
    -root dir         Parent directory for run directories
    -scale-cmd tmpl   Solver command template, must contain {input}
    -gen-workers n    Generation pool size
    -exec-workers n   Execution pool size
    -parse-workers n  Parse pool size
    -cleanup level    minimal, moderate, or aggressive
    -timeout d        Per-unit solver timeout (e.g. 90m)
    -v                Verbose logging
    -h, --help        Show this help message
`)
	}
	flags.Parse(args)
	rejectExtraArgs(flags, "run")

	cfg, err := config.Load(common.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	common.apply(flags, &cfg)
	if *name != "" {
		cfg.RunName = *name
	}
	if *fluxPath != "" {
		cfg.FluxPath = *fluxPath
	}
	if *powerPath != "" {
		cfg.PowerCardsPath = *powerPath
	}
	if *rootDir != "" {
		cfg.RootDir = *rootDir
	}
	cfg = config.Normalize(cfg, warnToStderr)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		flags.Usage()
		os.Exit(2)
	}

	runName := rundir.RunName(cfg.RunName, time.Now())
	dir, err := rundir.CreateLayout(cfg.RootDir, runName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	flux, err := deck.LoadFlux(cfg.FluxPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	history, err := deck.LoadHistory(cfg.PowerCardsPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	generator, err := deck.NewOrigenGenerator(history, flux.Flux, cfg.Library)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	p, err := buildPipeline(cfg, dir, runName, common.verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	p.Sources = flux.Sources
	p.Generator = generator

	dispatch(p, dir)
}

func runResume(args []string) {
	flags := flag.NewFlagSet("resume", flag.ExitOnError)
	var common commonFlags
	common.register(flags)
	runDir := flags.String("run-dir", "", "")
	from := flags.String("from", config.ResumeExecution, "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    burnup resume -run-dir <dir> [options]

DESCRIPTION:
    Re-enter an existing run directory. Units are reconstructed from the
    input decks on disk; units with a complete output artifact are
    skipped and the rest are dispatched again from the chosen stage.

OPTIONS:
    -run-dir dir      Existing run directory (required)
    -from stage       execution or aggregation (default execution)
    -config path      Config file (default burnup.yaml; missing is fine)
    -scale-cmd tmpl   Solver command template, must contain {input}
    -gen-workers n    Generation pool size
    -exec-workers n   Execution pool size
    -parse-workers n  Parse pool size
    -cleanup level    minimal, moderate, or aggressive
    -timeout d        Per-unit solver timeout (e.g. 90m)
    -v                Verbose logging
    -h, --help        Show this help message
`)
	}
	flags.Parse(args)
	rejectExtraArgs(flags, "resume")

	cfg, err := config.Load(common.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	common.apply(flags, &cfg)
	cfg.RunDir = *runDir
	cfg.ResumeFrom = *from
	cfg = config.Normalize(cfg, warnToStderr)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		flags.Usage()
		os.Exit(2)
	}

	dir, err := rundir.Open(cfg.RunDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	p, err := buildPipeline(cfg, dir, filepath.Base(dir.Root), common.verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	dispatch(p, dir)
}

func runStatus(args []string) {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	runDir := flags.String("run-dir", "", "")
	watch := flags.Bool("watch", false, "")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, `USAGE:
    burnup status -run-dir <dir> [-watch]

DESCRIPTION:
    Inspect a run directory and print a per-element table built purely
    from the files on disk. Works on live, finished, and abandoned runs.

OPTIONS:
    -run-dir dir      Run directory to inspect (required)
    -watch            Interactive view that refreshes every two seconds
    -h, --help        Show this help message
`)
	}
	flags.Parse(args)
	rejectExtraArgs(flags, "status")

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "burnup status: -run-dir is required")
		flags.Usage()
		os.Exit(2)
	}
	if *watch {
		if err := tui.Run(*runDir); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		return
	}
	report, err := status.Collect(*runDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println(report.String())
}

func runVersion() {
	fmt.Println(buildinfo.String())
}

// buildPipeline wires the collaborators every pipeline invocation needs:
// structured logging, the audit trail, the solver executor, and the
// output parser. Stage-specific collaborators are set by the caller.
func buildPipeline(cfg config.Config, dir rundir.Dir, runName string, verbose bool) (*pipeline.Pipeline, error) {
	logger, err := logging.New(dir.Logs, verbose)
	if err != nil {
		return nil, err
	}
	auditLogger, err := audit.NewLogger(dir.Logs, os.Stderr)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(cfg, dir, runName)
	if err != nil {
		return nil, err
	}
	p.Logger = logger
	p.Audit = auditLogger
	p.Executor = pipeline.ScaleExecutor{
		CommandTemplate: cfg.ScaleCommand,
		Timeout:         cfg.UnitTimeout,
		Warn:            warnToStderr,
	}
	p.Parser = parse.OrigenParser{VolumeCC: cfg.VolumeCC}
	return p, nil
}

// dispatch runs the pipeline under signal cancellation and translates
// the outcome into an exit code. The run directory is locked for the
// duration so a second process cannot work the same run.
func dispatch(p *pipeline.Pipeline, dir rundir.Dir) {
	lock, err := runlock.Acquire(dir.Root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := p.Run(ctx)
	stop()
	if releaseErr := lock.Release(); releaseErr != nil {
		fmt.Fprintln(os.Stderr, releaseErr.Error())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		fmt.Fprintf(os.Stderr, "run directory preserved at %s\n", dir.Root)
		os.Exit(1)
	}

	summary := report.Summary
	fmt.Printf("run %s %s: %d/%d elements succeeded (%d failed)\n",
		summary.RunName, summary.State, summary.Succeeded, summary.Total, summary.Failed)
	fmt.Printf("artifacts in %s\n", dir.Root)
}

func rejectExtraArgs(flags *flag.FlagSet, command string) {
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "burnup %s: unexpected arguments\n\n", command)
		flags.Usage()
		os.Exit(2)
	}
}

func warnToStderr(message string) {
	fmt.Fprintln(os.Stderr, "warning: "+message)
}
