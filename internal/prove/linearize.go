// Package prove turns a finished parallel execution into discharged proof
// obligations: linearizability (the parallel outcome equals some serial
// order) and conservation (the batch nets out to its declared mints and
// burns). Both encode their obligation as a solve.Problem and delegate to
// the solver oracle under a configured timeout.
package prove

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/diotec-barros/diotec360-sub006/internal/depgraph"
	"github.com/diotec-barros/diotec360-sub006/internal/exec"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/solve"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// Linearizability proves that a parallel trace is observationally
// equivalent to some serial execution of the same transactions.
type Linearizability struct {
	solver  solve.Solver
	timeout time.Duration
}

// NewLinearizability creates a prover over the given solver. The timeout
// bounds each proof attempt.
func NewLinearizability(solver solve.Solver, timeout time.Duration) *Linearizability {
	return &Linearizability{solver: solver, timeout: timeout}
}

// Proof is the linearizability verdict. Exactly one of Proved,
// Counterexample, or TimedOut describes the outcome:
//
//   - Proved: SerialOrder is a witnessing permutation whose sequential
//     execution reproduces the parallel final state. It is the batch's
//     canonical audit trail.
//   - Counterexample non-nil: the solver exhausted the permutation space;
//     the diverging accounts are named.
//   - TimedOut: the budget expired before either answer.
type Proof struct {
	Proved         bool
	SerialOrder    []string
	ProofTime      time.Duration
	TimedOut       bool
	Counterexample *Counterexample
}

// Counterexample names what diverged when no witnessing order exists.
type Counterexample struct {
	Accounts []string
}

func (c *Counterexample) String() string {
	return fmt.Sprintf("no serial order reproduces accounts [%s]", strings.Join(c.Accounts, ", "))
}

// Prove asks: does a permutation of the batch, executed one transaction at
// a time from the pre-batch state, yield exactly the parallel trace's final
// account values?
//
// The permutation variables are constrained by the batch's dependency
// edges, and the trace's own completion order is passed as the hint - for a
// correct parallel run the hint is typically the witness, checked first.
func (l *Linearizability) Prove(
	ctx context.Context,
	txs []*tx.Transaction,
	edges []depgraph.Edge,
	pre *ledger.Snapshot,
	parallelFinal map[string]*apd.Decimal,
	trace *exec.Trace,
) (*Proof, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	vars := make([]string, len(txs))
	for i := range txs {
		vars[i] = strconv.Itoa(i)
	}

	precedences := make([]solve.Precedence, 0, len(edges))
	for _, e := range edges {
		precedences = append(precedences, solve.Precedence{
			Before: vars[e.From],
			After:  vars[e.To],
		})
	}

	// Hint: the order transactions finished in the actual parallel run.
	hint := make([]string, 0, len(txs))
	for _, ev := range trace.Events() {
		hint = append(hint, strconv.Itoa(ev.Index))
	}

	touched := tx.TouchedByAll(txs)
	problem := &solve.Problem{
		Vars:        vars,
		Precedences: precedences,
		Hint:        hint,
		Check: func(order []string) (bool, []string) {
			return replayMatches(ctx, txs, order, pre, parallelFinal, touched)
		},
	}

	res, err := l.solver.Solve(ctx, problem)
	if err != nil {
		return nil, fmt.Errorf("linearizability query: %w", err)
	}

	proof := &Proof{ProofTime: res.Elapsed}
	switch res.Status {
	case solve.StatusSat:
		proof.Proved = true
		proof.SerialOrder = make([]string, len(res.Order))
		for i, v := range res.Order {
			idx, convErr := strconv.Atoi(v)
			if convErr != nil {
				return nil, fmt.Errorf("malformed solver model variable %q", v)
			}
			proof.SerialOrder[i] = txs[idx].ID
		}
		slog.Debug("linearizability proved",
			"witness", proof.SerialOrder,
			"explored", res.Explored,
			"proof_time", res.Elapsed,
		)
	case solve.StatusUnsat:
		proof.Counterexample = &Counterexample{Accounts: res.Core}
	case solve.StatusUnknown:
		proof.TimedOut = true
	}
	return proof, nil
}

// replayMatches executes a candidate order serially from the pre-batch
// snapshot and diffs the outcome against the parallel final state.
func replayMatches(
	ctx context.Context,
	txs []*tx.Transaction,
	order []string,
	pre *ledger.Snapshot,
	parallelFinal map[string]*apd.Decimal,
	touched []string,
) (bool, []string) {
	ordered := make([]*tx.Transaction, len(order))
	for pos, v := range order {
		idx, err := strconv.Atoi(v)
		if err != nil || idx < 0 || idx >= len(txs) {
			return false, []string{"malformed-order"}
		}
		ordered[pos] = txs[idx]
	}

	w := ledger.NewWorking(pre)
	if _, err := exec.ExecuteSerial(ctx, ordered, w, exec.NewClock()); err != nil {
		return false, []string{"replay-aborted"}
	}

	final := w.Final(touched)
	var diverging []string
	for _, acct := range touched {
		want, ok := parallelFinal[acct]
		if !ok {
			continue
		}
		if !ledger.Equal(want, final[acct]) {
			diverging = append(diverging, acct)
		}
	}
	return len(diverging) == 0, diverging
}
