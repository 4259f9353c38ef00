// Package scale provides tests for solver invocation.
package scale

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nuketools/burnup/internal/health"
)

// TestResolveCommandFillsTokens ensures template tokens are substituted.
func TestResolveCommandFillsTokens(t *testing.T) {
	t.Parallel()

	command, err := ResolveCommand("scalerte -m {input}", "element_fuel_E0001.inp", "/tmp/run")
	if err != nil {
		t.Fatalf("ResolveCommand failed: %v", err)
	}
	want := []string{"scalerte", "-m", "element_fuel_E0001.inp"}
	if len(command) != len(want) {
		t.Fatalf("command = %v, want %v", command, want)
	}
	for i := range want {
		if command[i] != want[i] {
			t.Fatalf("command[%d] = %q, want %q", i, command[i], want[i])
		}
	}
}

// TestResolveCommandWorkdirToken ensures {workdir} is substituted.
func TestResolveCommandWorkdirToken(t *testing.T) {
	t.Parallel()

	command, err := ResolveCommand("solver --cwd={workdir} {input}", "a.inp", "/runs/x")
	if err != nil {
		t.Fatalf("ResolveCommand failed: %v", err)
	}
	if command[1] != "--cwd=/runs/x" {
		t.Fatalf("workdir token not substituted: %q", command[1])
	}
}

// TestResolveCommandRequiresInputToken rejects templates without {input}.
func TestResolveCommandRequiresInputToken(t *testing.T) {
	t.Parallel()

	if _, err := ResolveCommand("scalerte -batch", "a.inp", ""); err == nil {
		t.Fatal("expected error for template without {input}")
	}
	if _, err := ResolveCommand("", "a.inp", ""); err == nil {
		t.Fatal("expected error for empty template")
	}
	if _, err := ResolveCommand("scalerte {input}", "", ""); err == nil {
		t.Fatal("expected error for empty input file")
	}
}

// TestRunHappyPath ensures a clean invocation captures stdout.
func TestRunHappyPath(t *testing.T) {
	t.Parallel()
	workDir := t.TempDir()

	input := RunInput{
		Command:  []string{"echo", "hello from solver"},
		WorkDir:  workDir,
		LogsDir:  filepath.Join(workDir, "logs"),
		UnitName: "element_fuel_E0001",
		Timeout:  5 * time.Second,
		EnvVars: map[string]string{
			"SCALE_TEST_VAR": "test_value",
		},
	}

	result, err := Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if result.TimedOut {
		t.Fatal("process should not have timed out")
	}
	if result.Duration <= 0 {
		t.Fatal("duration should be positive")
	}

	stdoutContent, err := os.ReadFile(result.StdoutPath)
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if !strings.Contains(string(stdoutContent), "hello from solver") {
		t.Fatalf("stdout log missing expected content: %s", string(stdoutContent))
	}
	if !strings.Contains(result.StdoutPath, "element_fuel_E0001") {
		t.Fatalf("stdout path %q should embed the unit name", result.StdoutPath)
	}
}

// TestRunTimeout ensures a long-running process is killed and flagged.
func TestRunTimeout(t *testing.T) {
	t.Parallel()
	workDir := t.TempDir()

	var warnings []string
	warn := func(msg string) {
		warnings = append(warnings, msg)
	}

	input := RunInput{
		Command:  []string{"sleep", "10"},
		WorkDir:  workDir,
		LogsDir:  filepath.Join(workDir, "logs"),
		UnitName: "element_slow_E0002",
		Timeout:  250 * time.Millisecond,
		Warn:     warn,
	}

	result, err := Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.TimedOut {
		t.Fatal("expected timeout flag")
	}
	if result.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", result.ExitCode)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one timeout warning", warnings)
	}
}

// TestRunNonZeroExit ensures failing exit codes surface in the result.
func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()
	workDir := t.TempDir()

	input := RunInput{
		Command:  []string{"sh", "-c", "echo oops >&2; exit 3"},
		WorkDir:  workDir,
		LogsDir:  filepath.Join(workDir, "logs"),
		UnitName: "element_bad_E0003",
		Timeout:  5 * time.Second,
	}

	result, err := Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}

	stderrContent, err := os.ReadFile(result.StderrPath)
	if err != nil {
		t.Fatalf("read stderr log: %v", err)
	}
	if !strings.Contains(string(stderrContent), "oops") {
		t.Fatalf("stderr log missing expected content: %s", string(stderrContent))
	}
}

// TestRunMissingBinary reports an invocation error, not an outcome.
func TestRunMissingBinary(t *testing.T) {
	t.Parallel()
	workDir := t.TempDir()

	input := RunInput{
		Command:  []string{"definitely-not-a-real-binary-xyz"},
		WorkDir:  workDir,
		LogsDir:  filepath.Join(workDir, "logs"),
		UnitName: "element_missing_E0004",
		Timeout:  5 * time.Second,
	}

	if _, err := Run(context.Background(), input); err == nil {
		t.Fatal("expected invocation error for missing binary")
	}
}

// TestRunValidation covers required-input checks.
func TestRunValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input RunInput
	}{
		{"missing command", RunInput{WorkDir: "/tmp", UnitName: "u", Timeout: time.Second}},
		{"missing workdir", RunInput{Command: []string{"true"}, UnitName: "u", Timeout: time.Second}},
		{"missing unit name", RunInput{Command: []string{"true"}, WorkDir: "/tmp", Timeout: time.Second}},
		{"zero timeout", RunInput{Command: []string{"true"}, WorkDir: "/tmp", UnitName: "u"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Run(context.Background(), tc.input); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// TestClassifyTimeoutIsTransient maps timeouts to transient failures.
func TestClassifyTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	outcome := Classify(RunResult{TimedOut: true}, "/nonexistent.msg")
	if outcome != health.TransientFailure {
		t.Fatalf("outcome = %v, want transient failure", outcome)
	}
}

// TestClassifyConsultsMessageFile reads the companion message file.
func TestClassifyConsultsMessageFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	msgPath := filepath.Join(dir, "element_fuel_E0001.msg")
	content := "SCALE message file\nError: unable to obtain a license\n"
	if err := os.WriteFile(msgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write message file: %v", err)
	}

	outcome := Classify(RunResult{ExitCode: 0}, msgPath)
	if outcome != health.HardFailure {
		t.Fatalf("outcome = %v, want hard failure", outcome)
	}
}

// TestClassifyMissingMessageFallsBackToExit uses exit status alone.
func TestClassifyMissingMessageFallsBackToExit(t *testing.T) {
	t.Parallel()

	if outcome := Classify(RunResult{ExitCode: 0}, "/nonexistent.msg"); outcome != health.Success {
		t.Fatalf("outcome = %v, want success", outcome)
	}
	if outcome := Classify(RunResult{ExitCode: 2}, "/nonexistent.msg"); outcome != health.TransientFailure {
		t.Fatalf("outcome = %v, want transient failure", outcome)
	}
}

// TestClassifyMissingMessageReadsCapturedLogs consults the stdout and
// stderr captures when no message file was produced, so a hard error
// printed only to the console still classifies as non-retryable.
func TestClassifyMissingMessageReadsCapturedLogs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stdoutPath := filepath.Join(dir, "element_fuel_E0001-stdout.log")
	if err := os.WriteFile(stdoutPath, []byte("Error: unable to obtain a license\n"), 0o644); err != nil {
		t.Fatalf("write stdout capture: %v", err)
	}

	result := RunResult{ExitCode: 3, StdoutPath: stdoutPath}
	if outcome := Classify(result, filepath.Join(dir, "absent.msg")); outcome != health.HardFailure {
		t.Fatalf("outcome = %v, want hard failure from stdout capture", outcome)
	}
}

// TestClassifyMissingMessageReadsStderrCapture covers the stderr side.
func TestClassifyMissingMessageReadsStderrCapture(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stderrPath := filepath.Join(dir, "element_fuel_E0002-stderr.log")
	if err := os.WriteFile(stderrPath, []byte("Fatal input error in composition block\n"), 0o644); err != nil {
		t.Fatalf("write stderr capture: %v", err)
	}

	result := RunResult{ExitCode: 1, StderrPath: stderrPath}
	if outcome := Classify(result, filepath.Join(dir, "absent.msg")); outcome != health.HardFailure {
		t.Fatalf("outcome = %v, want hard failure from stderr capture", outcome)
	}
}
