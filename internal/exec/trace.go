package exec

import (
	"sort"
	"sync"
	"time"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

// Event records one transaction's execution for the linearizability prover:
// who ran it, when (logical and wall time), and what it wrote. Events for
// excluded transactions carry the exclusion reason and no writes.
type Event struct {
	TxID   string
	Index  int
	Worker int

	// StartSeq and EndSeq are logical clock stamps; they define the
	// trace's canonical order.
	StartSeq int64
	EndSeq   int64

	// Start and End are wall-clock readings, kept for metrics only.
	Start time.Time
	End   time.Time

	// Writes the transaction produced. Empty when excluded.
	Writes []ledger.Write

	// Excluded is true when the transaction was dropped (guard or verify
	// failure, or an evaluation error); Reason says why.
	Excluded bool
	Reason   string
}

// Trace is the ordered evidence of one batch execution. It is batch-scoped:
// populated by the executor, consumed by the prover, then discarded.
//
// Recording is safe from concurrent workers.
type Trace struct {
	mu     sync.Mutex
	events []Event
}

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

// Record appends one event.
func (t *Trace) Record(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

// Events returns the events ordered by start sequence.
func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Event, len(t.events))
	copy(out, t.events)
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartSeq < out[j].StartSeq
	})
	return out
}

// ExcludedIDs returns the IDs of excluded transactions, in trace order.
func (t *Trace) ExcludedIDs() []string {
	var ids []string
	for _, ev := range t.Events() {
		if ev.Excluded {
			ids = append(ids, ev.TxID)
		}
	}
	return ids
}

// IncludedIndices returns the submission indices of transactions whose
// effects survived, in trace order.
func (t *Trace) IncludedIndices() []int {
	var idx []int
	for _, ev := range t.Events() {
		if !ev.Excluded {
			idx = append(idx, ev.Index)
		}
	}
	return idx
}

// Len returns the number of recorded events.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
