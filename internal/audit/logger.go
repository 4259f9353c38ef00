// Package audit provides append-only audit logging for pipeline runs.
package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// auditLogFileName is the filename used for audit logging.
	auditLogFileName = "audit.log"
	// auditLogFileMode defines the permissions for the audit log file.
	auditLogFileMode = 0o644
	// auditLogDirMode defines the permissions for the audit log directory.
	auditLogDirMode = 0o755
)

const (
	// EventRunStart records the start of a pipeline run.
	EventRunStart = "run.start"
	// EventStageStart records a stage entering execution.
	EventStageStart = "stage.start"
	// EventStageComplete records a stage finishing with its counts.
	EventStageComplete = "stage.complete"
	// EventUnitOutcome records one element finishing a stage.
	EventUnitOutcome = "unit.outcome"
	// EventRunAbort records a run aborted on the hard-failure threshold.
	EventRunAbort = "run.abort"
	// EventCleanup records the cleanup level applied at run end.
	EventCleanup = "cleanup.level"
	// EventResume records a resume entry point and its unit counts.
	EventResume = "run.resume"
)

// Logger appends audit entries to a log file inside the run directory.
type Logger struct {
	path     string
	warnings io.Writer
	now      func() time.Time
	mu       sync.Mutex
}

// Field represents a logfmt key/value pair.
type Field struct {
	Key   string
	Value string
}

// Entry captures the required audit log fields and any optional fields.
type Entry struct {
	Run    string
	Event  string
	Fields []Field
}

// NewLogger builds an audit logger writing to audit.log under the given
// logs directory.
func NewLogger(logsDir string, warnings io.Writer) (*Logger, error) {
	if logsDir == "" {
		return nil, errors.New("logs directory is required")
	}
	if warnings == nil {
		warnings = os.Stderr
	}
	return &Logger{
		path:     filepath.Join(logsDir, auditLogFileName),
		warnings: warnings,
		now:      time.Now,
	}, nil
}

// Log writes a generic audit entry to the log file.
func (logger *Logger) Log(entry Entry) error {
	if logger == nil {
		return errors.New("audit logger is nil")
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()

	line, err := logger.formatEntry(entry)
	if err != nil {
		logger.warnf("audit log entry rejected: %v", err)
		return err
	}

	if err := logger.appendLine(line); err != nil {
		logger.warnf("audit log write failed for %s: %v", logger.path, err)
		return err
	}
	return nil
}

// LogRunStart records the start of a run.
func (logger *Logger) LogRunStart(run string, total int, command string) error {
	return logger.Log(Entry{
		Run:   run,
		Event: EventRunStart,
		Fields: []Field{
			{Key: "total", Value: strconv.Itoa(total)},
			{Key: "command", Value: command},
		},
	})
}

// LogStageStart records a stage entering execution.
func (logger *Logger) LogStageStart(run string, stage string, units int, workers int) error {
	return logger.Log(Entry{
		Run:   run,
		Event: EventStageStart,
		Fields: []Field{
			{Key: "stage", Value: stage},
			{Key: "units", Value: strconv.Itoa(units)},
			{Key: "workers", Value: strconv.Itoa(workers)},
		},
	})
}

// LogStageComplete records a stage finishing with its counts.
func (logger *Logger) LogStageComplete(run string, stage string, succeeded int, failed int, hard int) error {
	return logger.Log(Entry{
		Run:   run,
		Event: EventStageComplete,
		Fields: []Field{
			{Key: "stage", Value: stage},
			{Key: "succeeded", Value: strconv.Itoa(succeeded)},
			{Key: "failed", Value: strconv.Itoa(failed)},
			{Key: "hard_failures", Value: strconv.Itoa(hard)},
		},
	})
}

// LogUnitOutcome records one element finishing a stage. It is called
// from the stage executor's completion hook, so the record is durable
// as each unit finishes rather than at stage end.
func (logger *Logger) LogUnitOutcome(run string, stage string, seq int, name string, status string, detail string) error {
	return logger.Log(Entry{
		Run:   run,
		Event: EventUnitOutcome,
		Fields: []Field{
			{Key: "stage", Value: stage},
			{Key: "seq", Value: strconv.Itoa(seq)},
			{Key: "name", Value: name},
			{Key: "status", Value: status},
			{Key: "detail", Value: detail},
		},
	})
}

// LogRunAbort records a run aborted on the hard-failure threshold.
func (logger *Logger) LogRunAbort(run string, stage string, hardFailures int, total int) error {
	return logger.Log(Entry{
		Run:   run,
		Event: EventRunAbort,
		Fields: []Field{
			{Key: "stage", Value: stage},
			{Key: "hard_failures", Value: strconv.Itoa(hardFailures)},
			{Key: "total", Value: strconv.Itoa(total)},
		},
	})
}

// LogCleanup records the cleanup level applied at run end.
func (logger *Logger) LogCleanup(run string, level string, archived int) error {
	return logger.Log(Entry{
		Run:   run,
		Event: EventCleanup,
		Fields: []Field{
			{Key: "level", Value: level},
			{Key: "archived", Value: strconv.Itoa(archived)},
		},
	})
}

// LogResume records a resume entry point and its unit counts.
func (logger *Logger) LogResume(run string, from string, skipped int, requeued int) error {
	return logger.Log(Entry{
		Run:   run,
		Event: EventResume,
		Fields: []Field{
			{Key: "from", Value: from},
			{Key: "skipped", Value: strconv.Itoa(skipped)},
			{Key: "requeued", Value: strconv.Itoa(requeued)},
		},
	})
}

// formatEntry renders an audit entry in logfmt-style order.
func (logger *Logger) formatEntry(entry Entry) (string, error) {
	if entry.Run == "" {
		return "", errors.New("run name is required")
	}
	if entry.Event == "" {
		return "", errors.New("event is required")
	}
	now := logger.now
	if now == nil {
		now = time.Now
	}

	ts := now().UTC().Format(time.RFC3339)
	fields := []string{
		formatField("ts", ts),
		formatField("run", entry.Run),
		formatField("event", entry.Event),
	}

	for _, field := range entry.Fields {
		if field.Value == "" {
			continue
		}
		if field.Key == "" {
			return "", errors.New("field key is required")
		}
		fields = append(fields, formatField(field.Key, field.Value))
	}
	return strings.Join(fields, " "), nil
}

// formatField encodes a logfmt key/value pair.
func formatField(key string, value string) string {
	encoded := sanitizeValue(value)
	if needsQuoting(encoded) {
		return fmt.Sprintf(`%s="%s"`, key, escapeLogfmt(encoded))
	}
	return fmt.Sprintf("%s=%s", key, encoded)
}

// sanitizeValue ensures values stay single-line.
func sanitizeValue(value string) string {
	value = strings.ReplaceAll(value, "\n", `\n`)
	return strings.ReplaceAll(value, "\r", `\r`)
}

// needsQuoting reports whether the value needs logfmt quoting.
func needsQuoting(value string) bool {
	if value == "" {
		return true
	}
	for _, r := range value {
		if r == ' ' || r == '\t' || r == '\n' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}

// escapeLogfmt escapes characters that must be quoted in logfmt values.
func escapeLogfmt(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

// appendLine writes the log entry to the audit log file.
func (logger *Logger) appendLine(line string) error {
	if logger.path == "" {
		return errors.New("audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(logger.path), auditLogDirMode); err != nil {
		return fmt.Errorf("create audit log directory %s: %w", filepath.Dir(logger.path), err)
	}
	file, err := os.OpenFile(logger.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditLogFileMode)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", logger.path, err)
	}
	if _, err := file.WriteString(line + "\n"); err != nil {
		_ = file.Close()
		return fmt.Errorf("write audit log %s: %w", logger.path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close audit log %s: %w", logger.path, err)
	}
	return nil
}

// warnf writes a warning message to the configured warnings writer.
func (logger *Logger) warnf(format string, args ...any) {
	if logger == nil || logger.warnings == nil {
		return
	}
	_, _ = fmt.Fprintf(logger.warnings, format+"\n", args...)
}
