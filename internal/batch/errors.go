package batch

import (
	"errors"
	"fmt"
	"strings"
)

// BatchError is the coded error surface of the processor.
//
// Batch errors include:
//   - Circular dependency: declared predecessors form a cycle
//   - Guard violation: an excluded transaction surfaced at commit
//   - Linearizability failure: no witnessing serial order exists
//   - Conservation violation: the batch nets value into or out of existence
//   - Timeout: a pool or solver budget expired
//   - Oracle rejection: an external validator refused the batch
//
// BatchError carries structured fields for diagnostics; helpers below use
// errors.As so wrapped errors still match.
type BatchError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// BatchID identifies the affected batch.
	BatchID string

	// TxIDs identifies the implicated transactions (cycle members,
	// excluded transactions), when known.
	TxIDs []string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes batch errors.
type ErrorCode string

const (
	// ErrCodeCircularDependency indicates the dependency graph has a cycle.
	// Fatal, raised before any execution.
	ErrCodeCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"

	// ErrCodeGuardViolation indicates a guard failure surfaced at commit
	// rather than as a per-transaction exclusion.
	ErrCodeGuardViolation ErrorCode = "GUARD_VIOLATION"

	// ErrCodeLinearizabilityFailure indicates no serial order reproduces the
	// parallel outcome. Triggers the serial fallback.
	ErrCodeLinearizabilityFailure ErrorCode = "LINEARIZABILITY_FAILURE"

	// ErrCodeConservationViolation indicates the batch created or destroyed
	// undeclared value. Always batch-fatal.
	ErrCodeConservationViolation ErrorCode = "CONSERVATION_VIOLATION"

	// ErrCodeTimeout indicates a pool or solver budget expired. Triggers the
	// serial fallback; batch-fatal only when the fallback path's own
	// conservation check cannot finish either.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeOracleRejection indicates an external validator refused the
	// batch at commit time.
	ErrCodeOracleRejection ErrorCode = "ORACLE_REJECTION"
)

// Error implements the error interface.
func (e *BatchError) Error() string {
	if len(e.TxIDs) > 0 {
		return fmt.Sprintf("%s: %s (batch=%s, txs=[%s])",
			e.Code, e.Message, e.BatchID, strings.Join(e.TxIDs, ", "))
	}
	if e.BatchID != "" {
		return fmt.Sprintf("%s: %s (batch=%s)", e.Code, e.Message, e.BatchID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code ErrorCode) bool {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsCircularDependency reports whether the error is a dependency cycle.
func IsCircularDependency(err error) bool {
	return hasCode(err, ErrCodeCircularDependency)
}

// IsGuardViolation reports whether the error is a commit-time guard failure.
func IsGuardViolation(err error) bool {
	return hasCode(err, ErrCodeGuardViolation)
}

// IsLinearizabilityFailure reports whether the error is a failed
// linearizability proof.
func IsLinearizabilityFailure(err error) bool {
	return hasCode(err, ErrCodeLinearizabilityFailure)
}

// IsConservationViolation reports whether the error is a conservation
// violation.
func IsConservationViolation(err error) bool {
	return hasCode(err, ErrCodeConservationViolation)
}

// IsTimeout reports whether the error is an expired budget.
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsOracleRejection reports whether the error is an external validator
// rejection.
func IsOracleRejection(err error) bool {
	return hasCode(err, ErrCodeOracleRejection)
}
