package exec

import (
	"context"
	"time"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// ExecuteSerial runs the transactions one at a time in the given order
// against the working overlay. This is the fallback path: correct by
// construction, needing no proof, and also what the prover uses to check a
// hypothesized serial order.
//
// Guard failures exclude the individual transaction (recorded, not
// dropped); every other transaction still applies. The context is checked
// between transactions for external cancellation, but the path has no
// internal timeout - it is the safety net.
func ExecuteSerial(ctx context.Context, txs []*tx.Transaction, working *ledger.Working, clock *Clock) (*Trace, error) {
	trace := NewTrace()
	for _, txn := range txs {
		if err := ctx.Err(); err != nil {
			return trace, err
		}

		view := working.View(txn.Touched())
		ev := Event{
			TxID:     txn.ID,
			Index:    txn.Index,
			Worker:   0,
			StartSeq: clock.Next(),
			Start:    time.Now(),
		}
		writes, err := ApplyTransaction(txn, view)
		ev.EndSeq = clock.Next()
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
	return trace, nil
}
