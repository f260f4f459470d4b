package prove

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diotec-barros/diotec360-sub006/internal/depgraph"
	"github.com/diotec-barros/diotec360-sub006/internal/exec"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/solve"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

func snapshot(t *testing.T, balances map[string]string) *ledger.Snapshot {
	t.Helper()
	vals := make(map[string]*apd.Decimal, len(balances))
	for k, v := range balances {
		vals[k] = ledger.MustDecimal(v)
	}
	return ledger.SnapshotOf(vals)
}

// runParallel executes the batch the way the processor would and returns
// the trace plus the final balances of every touched account.
func runParallel(t *testing.T, txs []*tx.Transaction, pre *ledger.Snapshot) (*exec.Trace, map[string]*apd.Decimal) {
	t.Helper()
	edges := depgraph.Analyze(txs)
	layers, err := depgraph.Build(txs, edges).Layers()
	require.NoError(t, err)

	w := ledger.NewWorking(pre)
	trace, err := exec.NewPool(4, time.Second).ExecuteLayers(context.Background(), layers, w)
	require.NoError(t, err)
	return trace, w.Final(tx.TouchedByAll(txs))
}

func TestLinearizability_IndependentTransfersProved(t *testing.T) {
	txs := []*tx.Transaction{
		tx.Transfer("t1", 0, "a", "b", tx.Amount("10")),
		tx.Transfer("t2", 1, "c", "d", tx.Amount("5")),
	}
	pre := snapshot(t, map[string]string{"a": "100", "b": "0", "c": "50", "d": "0"})
	trace, final := runParallel(t, txs, pre)

	prover := NewLinearizability(solve.NewBacktracker(), time.Second)
	proof, err := prover.Prove(context.Background(), txs, depgraph.Analyze(txs), pre, final, trace)
	require.NoError(t, err)

	assert.True(t, proof.Proved)
	assert.Len(t, proof.SerialOrder, 2)
	assert.ElementsMatch(t, []string{"t1", "t2"}, proof.SerialOrder)
	assert.Nil(t, proof.Counterexample)
}

func TestLinearizability_WitnessReproducesParallelState(t *testing.T) {
	// Dependent chain through account b.
	txs := []*tx.Transaction{
		tx.Transfer("t1", 0, "a", "b", tx.Amount("10")),
		tx.Transfer("t2", 1, "b", "c", tx.Amount("5")),
		tx.Transfer("t3", 2, "c", "a", tx.Amount("1")),
	}
	pre := snapshot(t, map[string]string{"a": "100", "b": "0", "c": "0"})
	trace, final := runParallel(t, txs, pre)

	prover := NewLinearizability(solve.NewBacktracker(), time.Second)
	proof, err := prover.Prove(context.Background(), txs, depgraph.Analyze(txs), pre, final, trace)
	require.NoError(t, err)
	require.True(t, proof.Proved)

	// Independently re-execute the witness order and diff: this is the
	// property the proof certifies.
	byID := make(map[string]*tx.Transaction)
	for _, txn := range txs {
		byID[txn.ID] = txn
	}
	ordered := make([]*tx.Transaction, 0, len(proof.SerialOrder))
	for _, id := range proof.SerialOrder {
		ordered = append(ordered, byID[id])
	}
	w := ledger.NewWorking(pre)
	_, err = exec.ExecuteSerial(context.Background(), ordered, w, exec.NewClock())
	require.NoError(t, err)

	for acct, want := range final {
		got := w.Balance(acct)
		assert.True(t, ledger.Equal(want, got),
			"account %s: witness produced %s, parallel produced %s", acct, got, want)
	}
}

func TestLinearizability_ForgedFinalStateYieldsCounterexample(t *testing.T) {
	txs := []*tx.Transaction{
		tx.Transfer("t1", 0, "a", "b", tx.Amount("10")),
	}
	pre := snapshot(t, map[string]string{"a": "100", "b": "0"})
	trace, _ := runParallel(t, txs, pre)

	// Forge a final state no serial execution can reach.
	forged := map[string]*apd.Decimal{
		"a": ledger.MustDecimal("90"),
		"b": ledger.MustDecimal("999"),
	}

	prover := NewLinearizability(solve.NewBacktracker(), time.Second)
	proof, err := prover.Prove(context.Background(), txs, depgraph.Analyze(txs), pre, forged, trace)
	require.NoError(t, err)

	assert.False(t, proof.Proved)
	require.NotNil(t, proof.Counterexample)
	assert.Contains(t, proof.Counterexample.Accounts, "b", "counterexample names the diverging account")
}

func TestConservation_TransfersConserve(t *testing.T) {
	txs := []*tx.Transaction{
		tx.Transfer("t1", 0, "a", "b", tx.Amount("10")),
		tx.Transfer("t2", 1, "c", "d", tx.Amount("5")),
	}
	pre := snapshot(t, map[string]string{"a": "100", "b": "0", "c": "50", "d": "0"})
	_, final := runParallel(t, txs, pre)

	v := NewConservation(solve.NewBacktracker(), ledger.MustDecimal("1e-10"), time.Second)
	proof, err := v.Validate(context.Background(), txs, pre, final, tx.TouchedByAll(txs))
	require.NoError(t, err)

	assert.True(t, proof.Proved)
	assert.Nil(t, proof.Delta)
}

func TestConservation_DeclaredMintBalances(t *testing.T) {
	txs := []*tx.Transaction{
		tx.Mint("issue", 0, "treasury", tx.Amount("1000")),
	}
	pre := snapshot(t, map[string]string{"treasury": "0"})
	_, final := runParallel(t, txs, pre)

	v := NewConservation(solve.NewBacktracker(), ledger.MustDecimal("1e-10"), time.Second)
	proof, err := v.Validate(context.Background(), txs, pre, final, tx.TouchedByAll(txs))
	require.NoError(t, err)

	assert.True(t, proof.Proved, "declared mint accounts for the created value")
}

func TestConservation_PhantomValueReportsDelta(t *testing.T) {
	// Credit with no mint declaration: $100 appears from nowhere.
	txs := []*tx.Transaction{
		tx.Credit("phantom", 0, "x", tx.Amount("100")),
	}
	pre := snapshot(t, map[string]string{"x": "5"})
	_, final := runParallel(t, txs, pre)

	v := NewConservation(solve.NewBacktracker(), ledger.MustDecimal("1e-10"), time.Second)
	proof, err := v.Validate(context.Background(), txs, pre, final, tx.TouchedByAll(txs))
	require.NoError(t, err)

	assert.False(t, proof.Proved)
	require.NotNil(t, proof.Delta)
	assert.True(t, ledger.Equal(ledger.MustDecimal("100"), proof.Delta),
		"delta is the phantom amount, got %s", proof.Delta)
}

func TestConservation_ExcludedTxContributesNothing(t *testing.T) {
	// The guarded transfer fails its guard and is excluded; the batch
	// still conserves because its effects and declarations drop together.
	txs := []*tx.Transaction{
		tx.Transfer("broke", 0, "poor", "x", tx.Amount("10")),
		tx.Transfer("fine", 1, "a", "b", tx.Amount("10")),
	}
	pre := snapshot(t, map[string]string{"poor": "1", "x": "0", "a": "100", "b": "0"})
	trace, final := runParallel(t, txs, pre)

	require.Equal(t, []string{"broke"}, trace.ExcludedIDs())

	included := []*tx.Transaction{txs[1]}
	v := NewConservation(solve.NewBacktracker(), ledger.MustDecimal("1e-10"), time.Second)
	proof, err := v.Validate(context.Background(), included, pre, final, tx.TouchedByAll(txs))
	require.NoError(t, err)

	assert.True(t, proof.Proved)
}
