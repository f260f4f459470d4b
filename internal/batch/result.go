package batch

import (
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

// Status is the batch outcome.
type Status string

const (
	// StatusCommitted: the parallel execution was proved safe and applied.
	StatusCommitted Status = "committed"

	// StatusFallbackSerial: the parallel attempt was abandoned (timeout or
	// unprovable schedule) and the batch was re-executed serially and
	// committed.
	StatusFallbackSerial Status = "fallback_serial"

	// StatusRolledBack: the batch was rejected; the ledger holds the exact
	// pre-batch values.
	StatusRolledBack Status = "rolled_back"
)

// BatchResult is the single outcome record a batch produces, whichever path
// it took.
type BatchResult struct {
	// BatchID is the UUID assigned at submission.
	BatchID string

	Status Status

	// Explanation is always set, success included: what happened, and for
	// fallback or rollback, why.
	Explanation string

	// Err carries the coded error: the rejection reason for rolled-back
	// batches, or the diagnostic that forced the serial fallback (TIMEOUT,
	// LINEARIZABILITY_FAILURE). Nil on a clean parallel commit.
	Err *BatchError

	// Deltas are the committed per-account changes. Empty on rollback.
	Deltas []ledger.Delta

	// StateHash is the content hash of the full ledger after the batch
	// (post-commit values, or the restored pre-batch values on rollback).
	// Downstream replication compares this hash.
	StateHash string

	// WitnessOrder is the proved (or fallback-constructed) serial order of
	// the committed transactions, the batch's canonical audit trail.
	WitnessOrder []string

	// LinearizabilityProved and ConservationProved report which proofs were
	// discharged. The serial fallback path sets LinearizabilityProved: it is
	// serial by construction.
	LinearizabilityProved bool
	ConservationProved    bool

	// ExcludedTxs lists transactions dropped by guard or verify failures.
	ExcludedTxs []string

	Metrics Metrics
}
