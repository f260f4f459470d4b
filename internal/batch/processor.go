// Package batch orchestrates the full pipeline for one transaction batch:
// dependency analysis, layering, conflict-aware parallel execution,
// linearizability and conservation proofs, and the atomic commit. Any
// timeout or unprovable schedule sends the batch down the serial fallback
// path; a conservation violation or validator rejection rolls it back. One
// BatchResult comes out regardless of path.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"github.com/diotec-barros/diotec360-sub006/internal/commit"
	"github.com/diotec-barros/diotec360-sub006/internal/config"
	"github.com/diotec-barros/diotec360-sub006/internal/depgraph"
	"github.com/diotec-barros/diotec360-sub006/internal/exec"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/prove"
	"github.com/diotec-barros/diotec360-sub006/internal/solve"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// Processor executes batches against one shared arena.
type Processor struct {
	arena         *ledger.Arena
	solver        solve.Solver
	workers       int
	poolTimeout   time.Duration
	solverTimeout time.Duration
	epsilon       *apd.Decimal
	oracle        commit.Validator
	persister     commit.Persister
	metrics       MetricsRecorder
	log           *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the parallel executor pool size.
func WithWorkers(n int) Option {
	return func(p *Processor) { p.workers = n }
}

// WithPoolTimeout bounds the parallel phase of each batch.
func WithPoolTimeout(d time.Duration) Option {
	return func(p *Processor) { p.poolTimeout = d }
}

// WithSolverTimeout bounds each solver query.
func WithSolverTimeout(d time.Duration) Option {
	return func(p *Processor) { p.solverTimeout = d }
}

// WithEpsilon sets the conservation tolerance.
func WithEpsilon(eps *apd.Decimal) Option {
	return func(p *Processor) { p.epsilon = eps }
}

// WithSolver replaces the built-in solver.
func WithSolver(s solve.Solver) Option {
	return func(p *Processor) { p.solver = s }
}

// WithOracle registers an external commit validator. A rejection rolls the
// batch back with code ORACLE_REJECTION.
func WithOracle(v commit.Validator) Option {
	return func(p *Processor) { p.oracle = v }
}

// WithPersister sets the durable sink for committed deltas.
func WithPersister(per commit.Persister) Option {
	return func(p *Processor) { p.persister = per }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r MetricsRecorder) Option {
	return func(p *Processor) { p.metrics = r }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) { p.log = log }
}

// WithConfig applies a full configuration in one option. Epsilon must have
// passed config.Validate; a malformed value falls back to the default.
func WithConfig(cfg config.Config) Option {
	return func(p *Processor) {
		p.workers = cfg.Workers
		p.poolTimeout = cfg.PoolTimeout
		p.solverTimeout = cfg.SolverTimeout
		if eps, err := ledger.ParseDecimal(cfg.Epsilon); err == nil {
			p.epsilon = eps
		}
	}
}

// NewProcessor creates a processor over the arena with documented defaults:
// config.Default() tunables and the built-in solver.
func NewProcessor(arena *ledger.Arena, opts ...Option) *Processor {
	cfg := config.Default()
	p := &Processor{
		arena:         arena,
		solver:        solve.NewBacktracker(),
		workers:       cfg.Workers,
		poolTimeout:   cfg.PoolTimeout,
		solverTimeout: cfg.SolverTimeout,
		epsilon:       ledger.MustDecimal(config.DefaultEpsilon),
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	return p
}

// ExecuteBatch is the engine's sole entry point. It runs the pipeline and
// returns one BatchResult whatever path the batch took.
//
// The returned error is non-nil in two cases only: a dependency cycle (the
// batch is rejected before execution; the error is the coded
// CIRCULAR_DEPENDENCY BatchError, also carried on the result) and
// infrastructure failures (solver fault, caller-cancelled context). Domain
// outcomes - rollback, fallback - are reported on the result, not as errors.
func (p *Processor) ExecuteBatch(ctx context.Context, txs []*tx.Transaction) (*BatchResult, error) {
	started := time.Now()
	res := &BatchResult{
		BatchID: uuid.NewString(),
		Metrics: Metrics{Workers: p.workers, Transactions: len(txs)},
	}

	if len(txs) == 0 {
		res.Status = StatusCommitted
		res.Explanation = "empty batch: nothing to execute"
		res.LinearizabilityProved = true
		res.ConservationProved = true
		p.finish(res, started)
		return res, nil
	}

	touched := tx.TouchedByAll(txs)
	pre := p.arena.Snapshot(touched)

	edges := depgraph.Analyze(txs)
	layers, err := depgraph.Build(txs, edges).Layers()
	if err != nil {
		var cyc *depgraph.CircularDependencyError
		be := &BatchError{
			Code:    ErrCodeCircularDependency,
			Message: "dependency cycle, batch rejected before execution",
			BatchID: res.BatchID,
		}
		if errors.As(err, &cyc) {
			be.TxIDs = cyc.TxIDs
		}
		res.Status = StatusRolledBack
		res.Err = be
		res.Explanation = be.Error()
		p.finish(res, started)
		return res, be
	}
	res.Metrics.Layers = len(layers)

	working := ledger.NewWorking(pre)
	pool := exec.NewPool(p.workers, p.poolTimeout)
	trace, execErr := pool.ExecuteLayers(ctx, layers, working)
	if execErr != nil {
		if exec.IsTimeout(execErr) {
			p.log.Warn("parallel pool timed out, falling back to serial",
				"batch", res.BatchID, "budget", p.poolTimeout)
			return p.fallback(ctx, res, txs, pre, touched, working, started, &BatchError{
				Code:    ErrCodeTimeout,
				Message: fmt.Sprintf("parallel pool timed out after %s", p.poolTimeout),
				BatchID: res.BatchID,
			})
		}
		return nil, fmt.Errorf("parallel execution: %w", execErr)
	}

	final := working.Final(touched)
	included := includedTxs(txs, trace)
	res.ExcludedTxs = trace.ExcludedIDs()
	res.Metrics.Excluded = len(res.ExcludedTxs)
	res.Metrics.Parallelism = parallelism(len(txs), len(layers))

	lin := prove.NewLinearizability(p.solver, p.solverTimeout)
	lproof, err := lin.Prove(ctx, txs, edges, pre, final, trace)
	if err != nil {
		return nil, err
	}
	res.Metrics.ProofTime += lproof.ProofTime
	if lproof.TimedOut {
		p.log.Warn("linearizability proof timed out, falling back to serial",
			"batch", res.BatchID, "budget", p.solverTimeout)
		return p.fallback(ctx, res, txs, pre, touched, working, started, &BatchError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("linearizability proof timed out after %s", p.solverTimeout),
			BatchID: res.BatchID,
		})
	}
	if !lproof.Proved {
		p.log.Warn("linearizability proof failed, falling back to serial",
			"batch", res.BatchID, "counterexample", lproof.Counterexample)
		return p.fallback(ctx, res, txs, pre, touched, working, started, &BatchError{
			Code:    ErrCodeLinearizabilityFailure,
			Message: lproof.Counterexample.String(),
			BatchID: res.BatchID,
		})
	}
	res.LinearizabilityProved = true
	res.WitnessOrder = lproof.SerialOrder

	cons := prove.NewConservation(p.solver, p.epsilon, p.solverTimeout)
	cproof, err := cons.Validate(ctx, included, pre, final, touched)
	if err != nil {
		return nil, err
	}
	res.Metrics.ProofTime += cproof.ProofTime
	if cproof.TimedOut {
		p.log.Warn("conservation check timed out, falling back to serial",
			"batch", res.BatchID, "budget", p.solverTimeout)
		return p.fallback(ctx, res, txs, pre, touched, working, started, &BatchError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("conservation check timed out after %s", p.solverTimeout),
			BatchID: res.BatchID,
		})
	}
	if !cproof.Proved {
		return p.reject(res, started, &BatchError{
			Code:    ErrCodeConservationViolation,
			Message: fmt.Sprintf("batch nets %s of undeclared value", cproof.Delta),
			BatchID: res.BatchID,
			Details: map[string]string{"delta": cproof.Delta.String()},
		})
	}
	res.ConservationProved = true

	outcome, err := p.commitBatch(ctx, res.BatchID, pre, touched, working, included, final, cproof.Proved)
	if err != nil {
		return nil, err
	}
	p.applyOutcome(res, outcome, StatusCommitted,
		fmt.Sprintf("parallel execution proved linearizable, witness [%s]",
			joinIDs(res.WitnessOrder)))
	p.finish(res, started)
	return res, nil
}

// fallback abandons the parallel attempt, re-executes the batch serially in
// submission order, and commits. Serial execution is correct by
// construction, so no linearizability proof is needed. Every proof-budget
// overrun routes here, the conservation query included: the serial path
// re-derives the included set, so its conservation sums can differ from the
// parallel attempt's. Conservation is still validated on this path, and its
// failure or timeout here is what rolls the batch back.
//
// cause is the coded reason the parallel attempt was abandoned; a committed
// fallback carries it as a diagnostic on the result.
func (p *Processor) fallback(
	ctx context.Context,
	res *BatchResult,
	txs []*tx.Transaction,
	pre *ledger.Snapshot,
	touched []string,
	working *ledger.Working,
	started time.Time,
	cause *BatchError,
) (*BatchResult, error) {
	working.Reset()
	res.Metrics.Layers = 0
	res.Metrics.Parallelism = 1.0

	trace, err := exec.ExecuteSerial(ctx, txs, working, exec.NewClock())
	if err != nil {
		return nil, fmt.Errorf("serial fallback: %w", err)
	}

	final := working.Final(touched)
	included := includedTxs(txs, trace)
	res.ExcludedTxs = trace.ExcludedIDs()
	res.Metrics.Excluded = len(res.ExcludedTxs)

	// Serial by construction.
	res.LinearizabilityProved = true
	res.WitnessOrder = tx.IDs(included)

	cons := prove.NewConservation(p.solver, p.epsilon, p.solverTimeout)
	cproof, err := cons.Validate(ctx, included, pre, final, touched)
	if err != nil {
		return nil, err
	}
	res.Metrics.ProofTime += cproof.ProofTime
	if cproof.TimedOut {
		return p.reject(res, started, &BatchError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("conservation check timed out after %s, refusing to commit", p.solverTimeout),
			BatchID: res.BatchID,
		})
	}
	if !cproof.Proved {
		return p.reject(res, started, &BatchError{
			Code:    ErrCodeConservationViolation,
			Message: fmt.Sprintf("batch nets %s of undeclared value", cproof.Delta),
			BatchID: res.BatchID,
			Details: map[string]string{"delta": cproof.Delta.String()},
		})
	}
	res.ConservationProved = true

	outcome, err := p.commitBatch(ctx, res.BatchID, pre, touched, working, included, final, cproof.Proved)
	if err != nil {
		return nil, err
	}
	p.applyOutcome(res, outcome, StatusFallbackSerial,
		fmt.Sprintf("serial fallback (%s), committed in submission order", cause.Message))
	if res.Status == StatusFallbackSerial {
		res.Err = cause
	}
	p.finish(res, started)
	return res, nil
}

// commitBatch builds the commit request and runs the manager with the
// standard validator chain: guard, conservation, then the external oracle if
// registered.
func (p *Processor) commitBatch(
	ctx context.Context,
	batchID string,
	pre *ledger.Snapshot,
	touched []string,
	working *ledger.Working,
	included []*tx.Transaction,
	final map[string]*apd.Decimal,
	conservationProved bool,
) (*commit.Outcome, error) {
	opts := []commit.Option{
		commit.WithLogger(p.log),
		commit.WithValidator(commit.ValidatorFunc("guard", func(_ context.Context, req *commit.Request) error {
			allowed := make(map[string]bool)
			for _, txn := range req.Included {
				for acct := range txn.WriteSet() {
					allowed[acct] = true
				}
			}
			for _, w := range req.Writes {
				if !allowed[w.Account] {
					return fmt.Errorf("write to %s survives from an excluded transaction", w.Account)
				}
			}
			return nil
		})),
		commit.WithValidator(commit.ValidatorFunc("conservation", func(context.Context, *commit.Request) error {
			if !conservationProved {
				return fmt.Errorf("conservation not proved")
			}
			return nil
		})),
	}
	if p.oracle != nil {
		opts = append(opts, commit.WithValidator(p.oracle))
	}
	if p.persister != nil {
		opts = append(opts, commit.WithPersister(p.persister))
	}

	mgr := commit.NewManager(p.arena, opts...)
	return mgr.Commit(ctx, &commit.Request{
		BatchID:  batchID,
		Pre:      pre,
		Touched:  touched,
		Writes:   working.Writes(),
		Included: included,
		Final:    final,
	})
}

// applyOutcome translates a commit outcome onto the result. successStatus is
// the status a committed outcome gets (committed, or fallback_serial).
func (p *Processor) applyOutcome(res *BatchResult, outcome *commit.Outcome, successStatus Status, successExplanation string) {
	if outcome.State == commit.StateCommitted {
		res.Status = successStatus
		res.Explanation = successExplanation
		res.Deltas = outcome.Deltas
		return
	}

	res.Status = StatusRolledBack
	res.WitnessOrder = nil

	var vErr *commit.ValidationError
	if errors.As(outcome.Reason, &vErr) {
		code := ErrCodeOracleRejection
		switch vErr.Validator {
		case "guard":
			code = ErrCodeGuardViolation
		case "conservation":
			code = ErrCodeConservationViolation
		}
		res.Err = &BatchError{
			Code:    code,
			Message: vErr.Error(),
			BatchID: res.BatchID,
		}
		res.Explanation = res.Err.Error()
		return
	}
	res.Explanation = fmt.Sprintf("commit failed, rolled back: %v", outcome.Reason)
}

// reject finalizes a batch that failed before any write reached the arena.
func (p *Processor) reject(res *BatchResult, started time.Time, be *BatchError) (*BatchResult, error) {
	p.log.Warn("batch rejected", "batch", res.BatchID, "code", be.Code, "reason", be.Message)
	res.Status = StatusRolledBack
	res.Err = be
	res.Explanation = be.Error()
	res.WitnessOrder = nil
	p.finish(res, started)
	return res, nil
}

// finish stamps the wall time and state hash and records metrics.
func (p *Processor) finish(res *BatchResult, started time.Time) {
	res.Metrics.WallTime = time.Since(started)
	res.StateHash = ledger.StateHash(p.arena.Balances())
	if p.metrics != nil {
		p.metrics.RecordBatch(res)
	}
	p.log.Info("batch finished",
		"batch", res.BatchID,
		"status", res.Status,
		"transactions", res.Metrics.Transactions,
		"excluded", res.Metrics.Excluded,
		"wall_time", res.Metrics.WallTime,
	)
}

// includedTxs maps the trace's surviving submission indices back to
// transactions, in trace order.
func includedTxs(txs []*tx.Transaction, trace *exec.Trace) []*tx.Transaction {
	byIndex := make(map[int]*tx.Transaction, len(txs))
	for _, txn := range txs {
		byIndex[txn.Index] = txn
	}
	var included []*tx.Transaction
	for _, idx := range trace.IncludedIndices() {
		if txn, ok := byIndex[idx]; ok {
			included = append(included, txn)
		}
	}
	return included
}

func parallelism(txs, layers int) float64 {
	if layers == 0 {
		return 1.0
	}
	return float64(txs) / float64(layers)
}

func joinIDs(ids []string) string {
	return strings.Join(ids, " ")
}
