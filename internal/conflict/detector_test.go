package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

func TestResolve_DisjointLayerIsSafe(t *testing.T) {
	layer := []*tx.Transaction{
		tx.Transfer("t1", 0, "a", "b", tx.Amount("10")),
		tx.Transfer("t2", 1, "c", "d", tx.Amount("5")),
	}

	res := Resolve(layer)

	assert.True(t, res.Safe)
	assert.Len(t, res.Parallel, 2)
	assert.Empty(t, res.Ordered)
	assert.Empty(t, res.Conflicts)
}

func TestResolve_SharedWriteImposesDeterministicOrder(t *testing.T) {
	// Both write x; submitted in reverse lexicographic order on purpose.
	layer := []*tx.Transaction{
		tx.Credit("t2", 0, "x", tx.Amount("10")),
		tx.Credit("t1", 1, "x", tx.Amount("5")),
	}

	res := Resolve(layer)

	assert.False(t, res.Safe)
	assert.Empty(t, res.Parallel)
	require.Len(t, res.Ordered, 2)
	assert.Equal(t, "t1", res.Ordered[0].ID, "imposed order is lexicographic by ID")
	assert.Equal(t, "t2", res.Ordered[1].ID)
	assert.NotEmpty(t, res.Conflicts)
}

func TestResolve_ReadersOnlyAreSafe(t *testing.T) {
	// Both read x, neither writes it.
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
	layer := []*tx.Transaction{mk("t1", 0, "out1"), mk("t2", 1, "out2")}

	res := Resolve(layer)

	assert.True(t, res.Safe, "shared reads without writes are not a conflict")
	assert.Len(t, res.Parallel, 2)
}

func TestResolve_MixedLayerSplits(t *testing.T) {
	layer := []*tx.Transaction{
		tx.Credit("w1", 0, "x", tx.Amount("1")),
		tx.Credit("w2", 1, "x", tx.Amount("2")),
		tx.Transfer("free", 2, "a", "b", tx.Amount("3")),
	}

	res := Resolve(layer)

	assert.False(t, res.Safe)
	require.Len(t, res.Parallel, 1)
	assert.Equal(t, "free", res.Parallel[0].ID)
	require.Len(t, res.Ordered, 2)
	assert.Equal(t, "w1", res.Ordered[0].ID)
	assert.Equal(t, "w2", res.Ordered[1].ID)
}

func TestResolve_IdenticalIDsFallBackToSubmissionIndex(t *testing.T) {
	a := tx.Credit("dup", 0, "x", tx.Amount("1"))
	b := tx.Credit("dup", 1, "x", tx.Amount("2"))

	res := Resolve([]*tx.Transaction{b, a})

	require.Len(t, res.Ordered, 2)
	assert.Equal(t, 0, res.Ordered[0].Index, "submission index breaks ID ties")
	assert.Equal(t, 1, res.Ordered[1].Index)
}

func TestResolve_Deterministic(t *testing.T) {
	layer := []*tx.Transaction{
		tx.Credit("t3", 0, "x", tx.Amount("1")),
		tx.Credit("t1", 1, "x", tx.Amount("2")),
		tx.Credit("t2", 2, "y", tx.Amount("3")),
		tx.Credit("t4", 3, "y", tx.Amount("4")),
	}

	first := Resolve(layer)
	for i := 0; i < 20; i++ {
		again := Resolve(layer)
		assert.Equal(t, tx.IDs(first.Ordered), tx.IDs(again.Ordered))
		assert.Equal(t, tx.IDs(first.Parallel), tx.IDs(again.Parallel))
	}
}
