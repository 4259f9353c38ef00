package scale

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nuketools/burnup/internal/health"
)

const (
	// logFileMode is the file mode for captured log files.
	logFileMode = 0o644
	// logDirMode is the directory mode for the logs area.
	logDirMode = 0o755
)

// RunInput defines the inputs required for one solver invocation.
type RunInput struct {
	Command  []string
	WorkDir  string
	LogsDir  string
	UnitName string
	Timeout  time.Duration
	EnvVars  map[string]string
	Warn     func(string)
}

// RunResult captures a single solver invocation.
type RunResult struct {
	ExitCode   int
	TimedOut   bool
	StdoutPath string
	StderrPath string
	Duration   time.Duration
}

// runLogFiles groups log paths and handles for one invocation.
type runLogFiles struct {
	stdoutPath string
	stderrPath string
	stdoutFile *os.File
	stderrFile *os.File
}

// Run executes the solver for one deck with timeout and log capture.
// The returned error is non-nil only when the invocation could not be
// attempted; a completed run that produced a failing outcome is
// reported through the result and classified by the caller.
func Run(ctx context.Context, input RunInput) (RunResult, error) {
	if len(input.Command) == 0 {
		return RunResult{}, errors.New("command is required")
	}
	if strings.TrimSpace(input.WorkDir) == "" {
		return RunResult{}, errors.New("work directory is required")
	}
	if strings.TrimSpace(input.UnitName) == "" {
		return RunResult{}, errors.New("unit name is required")
	}
	if input.Timeout <= 0 {
		return RunResult{}, errors.New("timeout must be positive")
	}

	logFiles, err := createRunLogFiles(input.LogsDir, input.UnitName)
	if err != nil {
		return RunResult{}, err
	}
	defer logFiles.stdoutFile.Close()
	defer logFiles.stderrFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, input.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, input.Command[0], input.Command[1:]...)
	cmd.Dir = input.WorkDir
	cmd.Stdout = logFiles.stdoutFile
	cmd.Stderr = logFiles.stderrFile

	if len(input.EnvVars) > 0 {
		env := os.Environ()
		for key, value := range input.EnvVars {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
		cmd.Env = env
	}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := RunResult{
		StdoutPath: logFiles.stdoutPath,
		StderrPath: logFiles.stderrPath,
		Duration:   duration,
	}

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			emitWarning(input.Warn, fmt.Sprintf("unit %s timed out after %s", input.UnitName, input.Timeout))
		} else if exitError, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitError.ExitCode()
		} else {
			return result, fmt.Errorf("start solver process: %w", runErr)
		}
	} else {
		result.ExitCode = 0
	}

	return result, nil
}

// Classify maps a completed invocation to a health outcome, consulting
// the companion message file when one was produced and the captured
// process output otherwise.
func Classify(result RunResult, messagePath string) health.Outcome {
	if result.TimedOut {
		return health.TransientFailure
	}

	messages, err := os.ReadFile(messagePath)
	if err != nil {
		// No message file: diagnostics may still be in the process logs.
		messages = capturedOutput(result)
	}
	return health.Classify(result.ExitCode, string(messages))
}

// capturedOutput concatenates the stdout and stderr log captures.
func capturedOutput(result RunResult) []byte {
	var combined []byte
	for _, path := range []string{result.StdoutPath, result.StderrPath} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		combined = append(combined, data...)
	}
	return combined
}

// emitWarning sends a warning to the configured sink.
func emitWarning(warn func(string), message string) {
	if warn == nil {
		return
	}
	warn(message)
}

// createRunLogFiles creates stdout/stderr capture files for one invocation.
func createRunLogFiles(logsDir string, unitName string) (runLogFiles, error) {
	if err := os.MkdirAll(logsDir, logDirMode); err != nil {
		return runLogFiles{}, fmt.Errorf("create logs directory %s: %w", logsDir, err)
	}

	stdoutPath := filepath.Join(logsDir, fmt.Sprintf("%s-stdout.log", unitName))
	stderrPath := filepath.Join(logsDir, fmt.Sprintf("%s-stderr.log", unitName))

	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return runLogFiles{}, fmt.Errorf("create stdout log %s: %w", stdoutPath, err)
	}

	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		stdoutFile.Close()
		return runLogFiles{}, fmt.Errorf("create stderr log %s: %w", stderrPath, err)
	}

	return runLogFiles{
		stdoutPath: stdoutPath,
		stderrPath: stderrPath,
		stdoutFile: stdoutFile,
		stderrFile: stderrFile,
	}, nil
}
