package naming

import "sync"

// SequenceBase is the first sequence number assigned in a fresh run.
const SequenceBase = 1

// Counter assigns the global element sequence numbers. Numbers are
// strictly increasing and never reused within a run; the counter is the
// single owner of the sequence so parallel enumeration cannot race.
type Counter struct {
	mu   sync.Mutex
	next int
}

// NewCounter returns a counter starting at the fixed sequence base.
func NewCounter() *Counter {
	return &Counter{next: SequenceBase}
}

// Next assigns and returns the next sequence number.
func (counter *Counter) Next() int {
	counter.mu.Lock()
	defer counter.mu.Unlock()
	seq := counter.next
	counter.next++
	return seq
}
