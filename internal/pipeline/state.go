// Package pipeline sequences the generation, execution, and aggregation
// stages of a burnup run and owns the run lifecycle state machine.
package pipeline

import "fmt"

// State labels the lifecycle state of a pipeline run.
type State string

const (
	// StateNotStarted indicates the run has not begun any stage.
	StateNotStarted State = "not-started"
	// StateGenerating indicates input decks are being written.
	StateGenerating State = "generating"
	// StateExecuting indicates SCALE invocations are in flight.
	StateExecuting State = "executing"
	// StateAggregating indicates outputs are being parsed and combined.
	StateAggregating State = "aggregating"
	// StateCompleted indicates the run finished and the summary is durable.
	StateCompleted State = "completed"
	// StateFailed indicates the run aborted; a partial summary exists.
	StateFailed State = "failed"
)

// allowedTransitions defines the permitted lifecycle state changes.
// Progress is strictly forward; a failed run is re-entered only through
// the resume subcommand, never by looping within one invocation.
var allowedTransitions = map[State]map[State]struct{}{
	StateNotStarted: {
		StateGenerating:  {},
		StateExecuting:   {}, // resume-from=execution
		StateAggregating: {}, // resume-from=aggregation
		StateFailed:      {},
	},
	StateGenerating: {
		StateExecuting: {},
		StateFailed:    {},
	},
	StateExecuting: {
		StateAggregating: {},
		StateFailed:      {},
	},
	StateAggregating: {
		StateCompleted: {},
		StateFailed:    {},
	},
	StateCompleted: {},
	StateFailed:    {},
}

// IsValidTransition reports whether the lifecycle allows the requested
// change.
func IsValidTransition(from State, to State) bool {
	if from == "" || to == "" {
		return false
	}
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// ValidateTransition returns an error when a lifecycle change is not
// allowed.
func ValidateTransition(from State, to State) error {
	if !IsValidTransition(from, to) {
		return fmt.Errorf("invalid pipeline state transition from %q to %q", from, to)
	}
	return nil
}
