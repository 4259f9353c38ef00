// Package pipeline provides tests for the run lifecycle state machine.
package pipeline

import "testing"

// TestValidTransitions enumerates the allowed forward path.
func TestValidTransitions(t *testing.T) {
	t.Parallel()

	valid := [][2]State{
		{StateNotStarted, StateGenerating},
		{StateNotStarted, StateExecuting},
		{StateNotStarted, StateAggregating},
		{StateGenerating, StateExecuting},
		{StateExecuting, StateAggregating},
		{StateAggregating, StateCompleted},
		{StateGenerating, StateFailed},
		{StateExecuting, StateFailed},
		{StateAggregating, StateFailed},
		{StateNotStarted, StateFailed},
	}
	for _, pair := range valid {
		if !IsValidTransition(pair[0], pair[1]) {
			t.Fatalf("transition %s -> %s should be valid", pair[0], pair[1])
		}
	}
}

// TestInvalidTransitions rejects backward and out-of-order moves.
func TestInvalidTransitions(t *testing.T) {
	t.Parallel()

	invalid := [][2]State{
		{StateExecuting, StateGenerating},
		{StateAggregating, StateExecuting},
		{StateCompleted, StateGenerating},
		{StateCompleted, StateFailed},
		{StateFailed, StateGenerating},
		{StateFailed, StateExecuting},
		{StateGenerating, StateCompleted},
		{StateGenerating, StateAggregating},
		{"", StateGenerating},
		{StateNotStarted, ""},
	}
	for _, pair := range invalid {
		if IsValidTransition(pair[0], pair[1]) {
			t.Fatalf("transition %q -> %q should be invalid", pair[0], pair[1])
		}
	}
	if err := ValidateTransition(StateCompleted, StateGenerating); err == nil {
		t.Fatal("ValidateTransition should reject completed -> generating")
	}
}
