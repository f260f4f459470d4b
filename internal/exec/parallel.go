// Package exec runs a batch's transactions: concurrently across a bounded
// worker pool when a layer is conflict-free, serially otherwise. Both paths
// produce an execution trace for the provers and share single-transaction
// semantics through ApplyTransaction.
package exec

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diotec-barros/diotec360-sub006/internal/conflict"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// Pool executes dependency layers against a batch's working state with a
// fixed number of workers.
type Pool struct {
	workers int
	timeout time.Duration
	clock   *Clock
}

// NewPool creates a pool. workers must be >= 1; timeout bounds the whole
// parallel phase of one batch.
func NewPool(workers int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, timeout: timeout, clock: NewClock()}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// ExecuteLayers runs the layers in topological order against the working
// overlay and returns the execution trace.
//
// Per layer: the conflict detector splits members into a conflict-free
// parallel subset and a deterministically ordered residue. The parallel
// subset runs across the worker pool, each transaction against an isolated
// view of only its declared accounts; surviving writes merge into the
// working state in one finalization step after every worker has finished.
// The ordered residue then runs sequentially in the imposed order.
//
// A guard or verify failure excludes only that transaction; the event is
// recorded and siblings proceed. Exceeding the pool timeout returns a
// TimeoutError and leaves the caller to fall back to serial execution.
func (p *Pool) ExecuteLayers(ctx context.Context, layers [][]*tx.Transaction, working *ledger.Working) (*Trace, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	trace := NewTrace()
	for li, layer := range layers {
		if ctx.Err() != nil {
			return trace, &TimeoutError{Stage: "pool", Budget: p.timeout}
		}

		res := conflict.Resolve(layer)
		if !res.Safe {
			slog.Debug("layer has residual conflicts",
				"layer", li,
				"parallel", len(res.Parallel),
				"ordered", len(res.Ordered),
			)
		}

		if err := p.runParallel(ctx, res.Parallel, working, trace); err != nil {
			return trace, err
		}
		if err := p.runOrdered(ctx, res.Ordered, working, trace); err != nil {
			return trace, err
		}
	}
	return trace, nil
}

// runParallel executes a conflict-free set across the worker pool and
// merges the surviving writes in a single step.
func (p *Pool) runParallel(ctx context.Context, txs []*tx.Transaction, working *ledger.Working, trace *Trace) error {
	if len(txs) == 0 {
		return nil
	}

	// Views are captured before any worker starts, so no transaction can
	// observe a sibling's writes regardless of scheduling.
	tasks := make(chan *tx.Transaction)
	results := make([]layerResult, 0, len(txs))
	collect := make(chan layerResult, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < p.workers; w++ {
		worker := w
		g.Go(func() error {
			for txn := range tasks {
				view := working.View(txn.Touched())
				ev := p.execute(worker, txn, view)
				select {
				case collect <- ev:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(tasks)
		for _, txn := range txs {
			select {
			case tasks <- txn:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return &TimeoutError{Stage: "pool", Budget: p.timeout}
		}
		return err
	}
	close(collect)
	for r := range collect {
		results = append(results, r)
	}

	// Single finalization step: no partial visibility between siblings.
	var merged []ledger.Write
	for _, r := range results {
		trace.Record(r.event)
		if !r.event.Excluded {
			merged = append(merged, r.event.Writes...)
		}
	}
	working.Merge(merged)
	return nil
}

type layerResult struct {
	event Event
}

// execute runs one transaction on one worker and builds its trace event.
func (p *Pool) execute(worker int, txn *tx.Transaction, view *ledger.View) layerResult {
	ev := Event{
		TxID:     txn.ID,
		Index:    txn.Index,
		Worker:   worker,
		StartSeq: p.clock.Next(),
		Start:    time.Now(),
	}

	writes, err := ApplyTransaction(txn, view)
	ev.EndSeq = p.clock.Next()
	ev.End = time.Now()

	if err != nil {
		ev.Excluded = true
		ev.Reason = err.Error()
		slog.Debug("transaction excluded", "tx", txn.ID, "reason", ev.Reason)
		return layerResult{event: ev}
	}
	ev.Writes = writes
	return layerResult{event: ev}
}

// runOrdered executes the conflicting residue sequentially in the imposed
// order. Each member sees its predecessors' writes; this is serial
// execution embedded in the parallel phase, so merging per transaction is
// the correct visibility.
func (p *Pool) runOrdered(ctx context.Context, txs []*tx.Transaction, working *ledger.Working, trace *Trace) error {
	for _, txn := range txs {
		if ctx.Err() != nil {
			return &TimeoutError{Stage: "pool", Budget: p.timeout}
		}

		view := working.View(txn.Touched())
		ev := Event{
			TxID:     txn.ID,
			Index:    txn.Index,
			Worker:   0,
			StartSeq: p.clock.Next(),
			Start:    time.Now(),
		}
		writes, err := ApplyTransaction(txn, view)
		ev.EndSeq = p.clock.Next()
		ev.End = time.Now()

		if err != nil {
			ev.Excluded = true
			ev.Reason = err.Error()
			trace.Record(ev)
			continue
		}
		ev.Writes = writes
		trace.Record(ev)
		working.Merge(writes)
	}
	return nil
}
