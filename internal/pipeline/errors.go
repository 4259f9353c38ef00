package pipeline

import (
	"fmt"
	"strings"
)

// StageAbortError reports a stage whose hard-failure fraction crossed
// the configured threshold. Later stages never run; the summary written
// before the abort records every unit outcome.
type StageAbortError struct {
	Stage        string
	HardFailures int
	Total        int
	Threshold    float64
}

// Error describes the abort with the fraction that tripped it.
func (e *StageAbortError) Error() string {
	return fmt.Sprintf("stage %s aborted: %d of %d units failed hard (threshold %.0f%%)",
		e.Stage, e.HardFailures, e.Total, e.Threshold*100)
}

// ResumeInconsistencyError reports a run directory whose artifacts do
// not support the requested resume point.
type ResumeInconsistencyError struct {
	From    string
	Missing []string
}

// Error names the resume point and what was expected on disk.
func (e *ResumeInconsistencyError) Error() string {
	detail := strings.Join(e.Missing, ", ")
	if len(e.Missing) > 3 {
		detail = fmt.Sprintf("%s, and %d more", strings.Join(e.Missing[:3], ", "), len(e.Missing)-3)
	}
	return fmt.Sprintf("cannot resume from %s: required artifacts missing: %s", e.From, detail)
}
