// Package element defines the per-element work unit carried through the
// generation, execution, and aggregation stages.
package element

import (
	"time"

	"github.com/nuketools/burnup/internal/naming"
)

// Status labels the lifecycle state for an element within a stage.
type Status string

const (
	// StatusPending indicates the element has not been dispatched yet.
	StatusPending Status = "pending"
	// StatusRunning indicates a worker currently owns the element.
	StatusRunning Status = "running"
	// StatusSucceeded indicates the element completed the stage.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the element failed the stage.
	StatusFailed Status = "failed"
	// StatusSkipped indicates resume found a complete artifact on disk.
	StatusSkipped Status = "skipped"
)

// Element is one independently processed work item. It is created when
// the generation stage enumerates source elements and retained for the
// lifetime of the run for auditing; stages mutate only Status, Err, and
// Duration.
type Element struct {
	// Name is the stable source name; it may contain spaces and slashes.
	Name string
	// Assembly is the source assembly the element belongs to.
	Assembly string
	// Seq is the global sequence number, assigned once and never reused.
	Seq int
	// Token is the encoded, filesystem-safe form of Name.
	Token string
	// Status tracks the element through the current stage.
	Status Status
	// Err holds the failure detail when Status is failed.
	Err string
	// Hard marks a failure classified as non-retryable.
	Hard bool
	// Duration is the wall-clock time the last stage spent on the element.
	Duration time.Duration
}

// DeckFile returns the element's input deck filename.
func (el Element) DeckFile() string {
	return naming.DeckFileName(el.Token, el.Seq)
}

// OutputFile returns the element's expected SCALE output filename.
func (el Element) OutputFile() string {
	return naming.OutputFileName(el.Token, el.Seq)
}

// MessageFile returns the element's SCALE message companion filename.
func (el Element) MessageFile() string {
	return naming.MessageFileName(el.Token, el.Seq)
}
