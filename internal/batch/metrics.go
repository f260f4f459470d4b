package batch

import (
	"sync"
	"time"
)

// Metrics describes one batch execution. Exposed unconditionally on every
// BatchResult, whichever path the batch took.
type Metrics struct {
	// WallTime is the end-to-end batch duration, submission to outcome.
	WallTime time.Duration

	// ProofTime is the total time spent in solver queries.
	ProofTime time.Duration

	// Workers is the pool size the batch ran with.
	Workers int

	// Transactions and Excluded count the batch members and how many were
	// dropped by guard or verify failures.
	Transactions int
	Excluded     int

	// Layers is the number of dependency layers; zero on the serial path.
	Layers int

	// Parallelism is the mean number of transactions per layer, the
	// parallelism the schedule actually achieved. 1.0 on the serial path.
	Parallelism float64
}

// MetricsRecorder receives every finished batch. Implementations must be
// safe for concurrent use; the processor calls it once per batch, after the
// outcome is final.
type MetricsRecorder interface {
	RecordBatch(res *BatchResult)
}

// Collector is the default in-memory recorder: outcome counters plus the
// last observed metrics.
type Collector struct {
	mu         sync.Mutex
	committed  int
	rolledBack int
	fallbacks  int
	last       Metrics
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordBatch implements MetricsRecorder.
func (c *Collector) RecordBatch(res *BatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch res.Status {
	case StatusCommitted:
		c.committed++
	case StatusFallbackSerial:
		c.fallbacks++
	case StatusRolledBack:
		c.rolledBack++
	}
	c.last = res.Metrics
}

// Counts returns the per-outcome totals.
func (c *Collector) Counts() (committed, rolledBack, fallbacks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed, c.rolledBack, c.fallbacks
}

// Last returns the metrics of the most recently recorded batch.
func (c *Collector) Last() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
