package exec

import (
	"errors"
	"fmt"
	"time"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// ApplyTransaction runs one transaction against an isolated view: evaluate
// the guard over pre-state, compute the writes, evaluate verify over the
// post-state. Returns the writes, or a GuardViolationError describing why
// the transaction must be excluded.
//
// The same function backs the parallel executor, the serial fallback, and
// the prover's re-execution of serial hypotheses, so all three agree on
// transaction semantics by construction.
func ApplyTransaction(txn *tx.Transaction, view *ledger.View) ([]ledger.Write, error) {
	if txn.Guard != nil {
		ok, err := txn.Guard.Eval(view)
		if err != nil {
			return nil, &GuardViolationError{TxID: txn.ID, Stage: "guard", Detail: err.Error()}
		}
		if !ok {
			return nil, &GuardViolationError{
				TxID:   txn.ID,
				Stage:  "guard",
				Detail: fmt.Sprintf("guard %s not satisfied", txn.Guard),
			}
		}
	}

	// All write expressions evaluate against pre-state; effects only become
	// visible to each other through the post view below.
	writes := make([]ledger.Write, 0, len(txn.Writes))
	for _, spec := range txn.Writes {
		val, err := spec.Value.Eval(view)
		if err != nil {
			return nil, &GuardViolationError{TxID: txn.ID, Stage: "effect", Detail: err.Error()}
		}
		writes = append(writes, ledger.Write{Account: spec.Account, Value: val})
	}

	if txn.Verify != nil {
		post := postView(view, writes)
		ok, err := txn.Verify.Eval(post)
		if err != nil {
			return nil, &GuardViolationError{TxID: txn.ID, Stage: "verify", Detail: err.Error()}
		}
		if !ok {
			return nil, &GuardViolationError{
				TxID:   txn.ID,
				Stage:  "verify",
				Detail: fmt.Sprintf("verify %s not satisfied", txn.Verify),
			}
		}
	}

	return writes, nil
}

// postView overlays the transaction's own writes on its pre-state view.
func postView(pre *ledger.View, writes []ledger.Write) *ledger.View {
	post := pre.Clone()
	for _, w := range writes {
		post.Set(w.Account, w.Value)
	}
	return post
}

// GuardViolationError marks a transaction excluded from the batch: its
// guard, verify, or an effect evaluation failed. Local to the transaction;
// siblings are unaffected during parallel execution.
type GuardViolationError struct {
	TxID   string
	Stage  string // "guard", "effect", or "verify"
	Detail string
}

func (e *GuardViolationError) Error() string {
	return fmt.Sprintf("transaction %s excluded at %s: %s", e.TxID, e.Stage, e.Detail)
}

// IsGuardViolation reports whether err is a GuardViolationError.
func IsGuardViolation(err error) bool {
	var ge *GuardViolationError
	return errors.As(err, &ge)
}

// TimeoutError reports that a bounded stage exceeded its budget. The
// pipeline answers it with the serial fallback path, never a hang.
type TimeoutError struct {
	Stage  string // "pool" or "solver"
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s stage exceeded %s budget", e.Stage, e.Budget)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
