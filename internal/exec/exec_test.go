package exec

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

func working(t *testing.T, balances map[string]string) *ledger.Working {
	t.Helper()
	vals := make(map[string]*apd.Decimal, len(balances))
	for k, v := range balances {
		vals[k] = ledger.MustDecimal(v)
	}
	return ledger.NewWorking(ledger.SnapshotOf(vals))
}

func requireBalance(t *testing.T, w *ledger.Working, account, want string) {
	t.Helper()
	got := w.Balance(account)
	require.True(t, ledger.Equal(ledger.MustDecimal(want), got),
		"account %s: want %s, got %s", account, want, got.String())
}

func TestApplyTransaction_TransferWrites(t *testing.T) {
	w := working(t, map[string]string{"alice": "100", "bob": "0"})
	txn := tx.Transfer("t1", 0, "alice", "bob", tx.Amount("10"))

	writes, err := ApplyTransaction(txn, w.View(txn.Touched()))
	require.NoError(t, err)
	require.Len(t, writes, 2)
}

func TestApplyTransaction_GuardFailure(t *testing.T) {
	w := working(t, map[string]string{"alice": "5", "bob": "0"})
	txn := tx.Transfer("t1", 0, "alice", "bob", tx.Amount("10"))

	_, err := ApplyTransaction(txn, w.View(txn.Touched()))
	require.Error(t, err)
	assert.True(t, IsGuardViolation(err))

	var ge *GuardViolationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "t1", ge.TxID)
	assert.Equal(t, "guard", ge.Stage)
}

func TestApplyTransaction_VerifyFailure(t *testing.T) {
	txn := tx.Credit("t1", 0, "x", tx.Amount("10"))
	// Post-state check that cannot hold: x == 0 after crediting 10 to 5.
	txn.Verify = tx.EQ(tx.Ref("x"), tx.Lit(tx.Amount("0")))

	w := working(t, map[string]string{"x": "5"})
	_, err := ApplyTransaction(txn, w.View(txn.Touched()))
	require.Error(t, err)

	var ge *GuardViolationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "verify", ge.Stage)
}

func TestPool_DisjointTransfersExecuteAndMerge(t *testing.T) {
	w := working(t, map[string]string{"a": "100", "b": "0", "c": "50", "d": "0"})
	layers := [][]*tx.Transaction{{
		tx.Transfer("t1", 0, "a", "b", tx.Amount("10")),
		tx.Transfer("t2", 1, "c", "d", tx.Amount("5")),
	}}

	pool := NewPool(4, time.Second)
	trace, err := pool.ExecuteLayers(context.Background(), layers, w)
	require.NoError(t, err)

	assert.Equal(t, 2, trace.Len())
	assert.Empty(t, trace.ExcludedIDs())
	requireBalance(t, w, "a", "90")
	requireBalance(t, w, "b", "10")
	requireBalance(t, w, "c", "45")
	requireBalance(t, w, "d", "5")
}

func TestPool_GuardFailureDoesNotBlockSiblings(t *testing.T) {
	w := working(t, map[string]string{"poor": "1", "x": "0", "a": "100", "b": "0"})
	layers := [][]*tx.Transaction{{
		tx.Transfer("broke", 0, "poor", "x", tx.Amount("10")),
		tx.Transfer("fine", 1, "a", "b", tx.Amount("10")),
	}}

	pool := NewPool(2, time.Second)
	trace, err := pool.ExecuteLayers(context.Background(), layers, w)
	require.NoError(t, err)

	assert.Equal(t, []string{"broke"}, trace.ExcludedIDs())
	requireBalance(t, w, "poor", "1")
	requireBalance(t, w, "a", "90")
	requireBalance(t, w, "b", "10")
}

func TestPool_OrderedResidueAppliesSequentially(t *testing.T) {
	// Both write x with no order established by the layer itself; the
	// conflict detector imposes t1 before t2, and sequential semantics
	// means both effects land.
	w := working(t, map[string]string{"x": "100"})
	layers := [][]*tx.Transaction{{
		tx.Credit("t2", 0, "x", tx.Amount("10")),
		tx.Burn("t1", 1, "x", tx.Amount("10")),
	}}

	pool := NewPool(2, time.Second)
	trace, err := pool.ExecuteLayers(context.Background(), layers, w)
	require.NoError(t, err)

	assert.Equal(t, 2, trace.Len())
	requireBalance(t, w, "x", "100")
}

func TestPool_ManyLayersManyWorkers(t *testing.T) {
	balances := make(map[string]string)
	var layer []*tx.Transaction
	for i := 0; i < 50; i++ {
		from := fmt.Sprintf("src%02d", i)
		to := fmt.Sprintf("dst%02d", i)
		balances[from] = "100"
		balances[to] = "0"
		layer = append(layer, tx.Transfer(fmt.Sprintf("t%02d", i), i, from, to, tx.Amount("7")))
	}
	w := working(t, balances)

	pool := NewPool(8, 5*time.Second)
	trace, err := pool.ExecuteLayers(context.Background(), [][]*tx.Transaction{layer}, w)
	require.NoError(t, err)

	assert.Equal(t, 50, trace.Len())
	for i := 0; i < 50; i++ {
		requireBalance(t, w, fmt.Sprintf("src%02d", i), "93")
		requireBalance(t, w, fmt.Sprintf("dst%02d", i), "7")
	}
}

func TestPool_SiblingsDoNotSeePartialMerges(t *testing.T) {
	// Two readers of the same account in one layer: both must observe the
	// pre-layer value regardless of scheduling, because views are captured
	// before any worker starts and merges happen once per layer.
	w := working(t, map[string]string{"x": "5", "out1": "0", "out2": "0"})
	mk := func(id string, index int, out string) *tx.Transaction {
		txn := &tx.Transaction{
			ID:    id,
			Index: index,
			Writes: []tx.WriteSpec{
				{Account: out, Value: tx.Ref("x")},
			},
		}
		return txn.Normalize()
	}
	layers := [][]*tx.Transaction{{mk("r1", 0, "out1"), mk("r2", 1, "out2")}}

	pool := NewPool(2, time.Second)
	_, err := pool.ExecuteLayers(context.Background(), layers, w)
	require.NoError(t, err)

	requireBalance(t, w, "out1", "5")
	requireBalance(t, w, "out2", "5")
}

func TestPool_ExpiredContextReportsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// All members conflict, so the pool goes through the ordered path,
	// which checks the context before each transaction.
	w := working(t, map[string]string{"x": "100"})
	layers := [][]*tx.Transaction{{
		tx.Credit("t1", 0, "x", tx.Amount("1")),
		tx.Credit("t2", 1, "x", tx.Amount("1")),
	}}

	pool := NewPool(2, time.Second)
	_, err := pool.ExecuteLayers(ctx, layers, w)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestExecuteSerial_SubmissionOrderAndIdempotence(t *testing.T) {
	txs := []*tx.Transaction{
		tx.Transfer("t1", 0, "a", "b", tx.Amount("10")),
		tx.Transfer("t2", 1, "b", "c", tx.Amount("5")),
	}

	run := func() map[string]string {
		w := working(t, map[string]string{"a": "100", "b": "0", "c": "0"})
		trace, err := ExecuteSerial(context.Background(), txs, w, NewClock())
		require.NoError(t, err)
		require.Equal(t, 2, trace.Len())
		out := make(map[string]string)
		for _, k := range []string{"a", "b", "c"} {
			out[k] = ledger.CanonicalString(w.Balance(k))
		}
		return out
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "serial execution from the same pre-state is idempotent")
	assert.Equal(t, map[string]string{"a": "90", "b": "5", "c": "5"}, first)
}

func TestExecuteSerial_GuardFailureRecordedAndSkipped(t *testing.T) {
	w := working(t, map[string]string{"a": "5", "b": "0", "c": "100", "d": "0"})
	txs := []*tx.Transaction{
		tx.Transfer("broke", 0, "a", "b", tx.Amount("10")),
		tx.Transfer("fine", 1, "c", "d", tx.Amount("10")),
	}

	trace, err := ExecuteSerial(context.Background(), txs, w, NewClock())
	require.NoError(t, err)

	assert.Equal(t, []string{"broke"}, trace.ExcludedIDs())
	requireBalance(t, w, "a", "5")
	requireBalance(t, w, "d", "10")
}
