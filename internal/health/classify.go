// Package health classifies external SCALE invocations as success,
// transient failure, or hard failure from their exit status and emitted
// message text.
package health

import "regexp"

// Outcome is the classification of one external invocation.
type Outcome int

const (
	// Success indicates a clean exit with no recognized failure marker.
	Success Outcome = iota
	// TransientFailure indicates a failure eligible for resume-and-retry.
	TransientFailure
	// HardFailure indicates a systemic failure that retrying cannot fix.
	HardFailure
)

// String returns a human-friendly label for the outcome.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient-failure"
	case HardFailure:
		return "hard-failure"
	default:
		return "unknown"
	}
}

// marker is one declarative failure pattern. Patterns are anchored to
// the start of a line and match whole tokens, never bare substrings, so
// incidental occurrences of failure-adjacent words inside filenames,
// tables, or "no errors" phrasing cannot trip the classifier.
type marker struct {
	pattern *regexp.Regexp
	outcome Outcome
}

// hardMarkers identify failures the external tool cannot recover from on
// retry: license exhaustion and input decks it rejects outright.
var hardMarkers = []marker{
	{regexp.MustCompile(`(?im)^\s*\**\s*error: unable to obtain (?:a )?license\b`), HardFailure},
	{regexp.MustCompile(`(?im)^\s*\**\s*error: license (?:server|checkout) unavailable\b`), HardFailure},
	{regexp.MustCompile(`(?im)^\s*input file named \S+ does not exist\b`), HardFailure},
	{regexp.MustCompile(`(?im)^\s*fatal input error\b`), HardFailure},
	{regexp.MustCompile(`(?im)^\s*\**\s*error: malformed (?:input|deck)\b`), HardFailure},
}

// transientMarkers identify per-unit failures worth re-running later.
var transientMarkers = []marker{
	{regexp.MustCompile(`(?im)^\s*scale job .+ terminated abnormally\b`), TransientFailure},
	{regexp.MustCompile(`(?im)^\s*segmentation fault\b`), TransientFailure},
	{regexp.MustCompile(`(?im)^\s*process finished with [1-9]\d* return code\b`), TransientFailure},
	{regexp.MustCompile(`(?im)^\s*\**\s*error: (?:i/o|io) failure\b`), TransientFailure},
}

// Classify determines the outcome of one invocation from its exit code
// and the text of its message file (or captured output when the message
// file is absent). A non-zero exit code is always at least a transient
// failure; hard markers dominate regardless of exit code.
func Classify(exitCode int, logText string) Outcome {
	for _, m := range hardMarkers {
		if m.pattern.MatchString(logText) {
			return m.outcome
		}
	}
	for _, m := range transientMarkers {
		if m.pattern.MatchString(logText) {
			return m.outcome
		}
	}
	if exitCode != 0 {
		return TransientFailure
	}
	return Success
}
