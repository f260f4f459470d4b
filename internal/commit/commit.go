// Package commit finalizes a proved batch against the shared arena. The
// manager runs every registered validator while the batch is still Pending,
// applies all writes in one step under the arena commit lock, and restores
// the exact pre-batch snapshot when anything fails after the Committing
// transition.
package commit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/apd/v3"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// State is the commit lifecycle position of a batch.
type State int

const (
	StatePending State = iota
	StateCommitting
	StateCommitted
	StateRollingBack
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateRollingBack:
		return "rolling_back"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request carries everything the manager needs to finalize one batch: the
// immutable pre-batch snapshot (the rollback target), the accumulated writes,
// and the execution outcome the validators inspect.
type Request struct {
	BatchID  string
	Pre      *ledger.Snapshot
	Touched  []string
	Writes   []ledger.Write
	Included []*tx.Transaction
	Final    map[string]*apd.Decimal
}

// Validator is a pre-commit check. All registered validators must pass
// before the batch transitions to Committing; a failing validator rejects
// the batch with nothing to undo.
type Validator interface {
	Name() string
	Validate(ctx context.Context, req *Request) error
}

// ValidatorFunc adapts a named function to the Validator interface.
func ValidatorFunc(name string, fn func(ctx context.Context, req *Request) error) Validator {
	return funcValidator{name: name, fn: fn}
}

type funcValidator struct {
	name string
	fn   func(ctx context.Context, req *Request) error
}

func (v funcValidator) Name() string { return v.name }

func (v funcValidator) Validate(ctx context.Context, req *Request) error {
	return v.fn(ctx, req)
}

// ValidationError wraps a validator rejection with the validator's name.
type ValidationError struct {
	Validator string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validator %s rejected batch: %v", e.Validator, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Persister receives the applied deltas while the batch is Committing. A
// persister error triggers a full rollback; the arena is restored before the
// outcome is returned.
type Persister interface {
	PersistCommit(req *Request, deltas []ledger.Delta) error
}

// Outcome reports how the commit ended. Reason is set when the batch was
// rolled back and says why.
type Outcome struct {
	State  State
	Deltas []ledger.Delta
	Reason error
}

// Manager drives the commit state machine for one arena. Safe for concurrent
// use; the arena commit lock serializes the Committing phase across batches.
type Manager struct {
	arena      *ledger.Arena
	validators []Validator
	persister  Persister
	log        *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithValidator registers a pre-commit validator. Validators run in
// registration order.
func WithValidator(v Validator) Option {
	return func(m *Manager) { m.validators = append(m.validators, v) }
}

// WithPersister sets the durable sink for applied deltas.
func WithPersister(p Persister) Option {
	return func(m *Manager) { m.persister = p }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a commit manager over the arena.
func NewManager(arena *ledger.Arena, opts ...Option) *Manager {
	m := &Manager{arena: arena, log: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Commit finalizes the batch:
//
//	Pending → Committing → Committed
//	                     ↘ RollingBack → RolledBack
//
// Validators run in the Pending state; a rejection returns RolledBack with
// nothing applied. Once Committing begins the operation runs to completion
// regardless of ctx: a batch is never left half-applied because a caller
// cancelled. The only mid-commit failure is the persister, and it rolls the
// arena back to the exact pre-batch snapshot, deleting accounts the batch
// created.
func (m *Manager) Commit(ctx context.Context, req *Request) (*Outcome, error) {
	if req.Pre == nil {
		return nil, fmt.Errorf("commit batch %s: nil pre-batch snapshot", req.BatchID)
	}

	for _, v := range m.validators {
		if err := v.Validate(ctx, req); err != nil {
			m.log.Warn("batch rejected before commit",
				"batch", req.BatchID,
				"validator", v.Name(),
				"error", err,
			)
			return &Outcome{
				State:  StateRolledBack,
				Reason: &ValidationError{Validator: v.Name(), Err: err},
			}, nil
		}
	}

	m.arena.LockCommit()
	defer m.arena.UnlockCommit()

	deltas := m.arena.Apply(req.Writes)

	if m.persister != nil {
		if err := m.persister.PersistCommit(req, deltas); err != nil {
			m.arena.Restore(req.Pre, req.Touched)
			m.log.Error("commit persistence failed, batch rolled back",
				"batch", req.BatchID,
				"error", err,
			)
			return &Outcome{
				State:  StateRolledBack,
				Reason: fmt.Errorf("persist commit: %w", err),
			}, nil
		}
	}

	m.log.Info("batch committed",
		"batch", req.BatchID,
		"accounts", len(deltas),
	)
	return &Outcome{State: StateCommitted, Deltas: deltas}, nil
}
