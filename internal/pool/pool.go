// Package pool provides the bounded-concurrency stage executor shared by
// the generation, execution, and aggregation stages.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nuketools/burnup/internal/element"
	"github.com/nuketools/burnup/internal/health"
)

// WorkFunc processes one element. Implementations must be
// failure-isolated: an error (or panic, which the executor recovers)
// marks only that element as failed. The element's artifact or failure
// record must be on disk before the function returns so a crash of the
// orchestrator leaves an accurate partial record.
type WorkFunc func(ctx context.Context, el *element.Element) error

// UnitDoneFunc is invoked as each element finishes, in completion order,
// for durable per-unit status logging. Calls are serialized.
type UnitDoneFunc func(el *element.Element, err error)

// UnitFailure records one failed element for the stage summary.
type UnitFailure struct {
	Seq    int
	Name   string
	Detail string
	Hard   bool
}

// StageResult is the outcome of running one stage over a set of
// elements. Failures are ordered by sequence number, not completion
// order, so derived artifacts are deterministic.
type StageResult struct {
	Stage        string
	Total        int
	Dispatched   int
	Succeeded    int
	Failed       int
	HardFailures int
	Failures     []UnitFailure
	Duration     time.Duration
}

// RunStage dispatches each element to a pool of at most maxWorkers
// concurrent workers. One element's failure never terminates sibling
// elements or the pool. Cancellation of ctx stops submission of further
// elements but lets in-flight work finish.
func RunStage(ctx context.Context, stage string, elements []*element.Element, work WorkFunc, maxWorkers int, onDone UnitDoneFunc) (StageResult, error) {
	if stage == "" {
		return StageResult{}, errors.New("stage name is required")
	}
	if work == nil {
		return StageResult{}, errors.New("work function is required")
	}
	if maxWorkers < 1 {
		return StageResult{}, fmt.Errorf("max workers must be at least 1, got %d", maxWorkers)
	}

	result := StageResult{Stage: stage, Total: len(elements)}
	start := time.Now()

	var doneMu sync.Mutex
	group := &errgroup.Group{}
	group.SetLimit(maxWorkers)

	for _, el := range elements {
		// Stop submission once the stage is cancelled; elements not yet
		// dispatched stay pending.
		if ctx.Err() != nil {
			break
		}
		result.Dispatched++

		el := el
		group.Go(func() error {
			err := runUnit(ctx, el, work)
			if onDone != nil {
				doneMu.Lock()
				onDone(el, err)
				doneMu.Unlock()
			}
			// Unit failures are captured on the element, never raised to
			// the group, so siblings keep running.
			return nil
		})
	}

	// Wait never returns an error here; unit outcomes live on the elements.
	_ = group.Wait()
	result.Duration = time.Since(start)

	dispatched := elements[:min(result.Dispatched, len(elements))]
	ordered := make([]*element.Element, len(dispatched))
	copy(ordered, dispatched)
	element.SortBySeq(ordered)

	for _, el := range ordered {
		switch el.Status {
		case element.StatusSucceeded:
			result.Succeeded++
		case element.StatusFailed:
			result.Failed++
			failure := UnitFailure{Seq: el.Seq, Name: el.Name, Detail: el.Err, Hard: el.Hard}
			if el.Hard {
				result.HardFailures++
			}
			result.Failures = append(result.Failures, failure)
		}
	}
	return result, nil
}

// runUnit executes the work function for one element with panic
// isolation and records the outcome on the element.
func runUnit(ctx context.Context, el *element.Element, work WorkFunc) (err error) {
	el.Status = element.StatusRunning
	start := time.Now()

	defer func() {
		el.Duration = time.Since(start)
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("work function panicked: %v", recovered)
		}
		if err != nil {
			el.Status = element.StatusFailed
			el.Err = err.Error()
			var failure *health.Failure
			el.Hard = errors.As(err, &failure) && failure.Outcome == health.HardFailure
			return
		}
		el.Status = element.StatusSucceeded
		el.Err = ""
		el.Hard = false
	}()

	err = work(ctx, el)
	return err
}
