package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diotec-barros/diotec360-sub006/internal/batch"
	"github.com/diotec-barros/diotec360-sub006/internal/commit"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesPragmasAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := Open(path)
	require.NoError(t, err)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
	require.NoError(t, s.Close())

	// Reopening is idempotent.
	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestAccounts_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccounts(ctx, []ledger.Account{
		{Key: "alice", Balance: ledger.MustDecimal("100.50"), Version: 1},
		{Key: "bob", Balance: ledger.MustDecimal("0.1"), Version: 1},
	}))

	accounts, err := s.LoadAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "alice", accounts[0].Key)
	assert.True(t, ledger.Equal(ledger.MustDecimal("100.50"), accounts[0].Balance))
	assert.Equal(t, "bob", accounts[1].Key)
	assert.True(t, ledger.Equal(ledger.MustDecimal("0.1"), accounts[1].Balance))
}

func TestPersistCommit_UpsertsAndBumpsVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccounts(ctx, []ledger.Account{
		{Key: "a", Balance: ledger.MustDecimal("100"), Version: 1},
	}))

	req := &commit.Request{BatchID: "batch-1"}
	require.NoError(t, s.PersistCommit(req, []ledger.Delta{
		{Account: "a", Before: ledger.MustDecimal("100"), After: ledger.MustDecimal("90")},
		{Account: "fresh", After: ledger.MustDecimal("10"), Created: true},
	}))

	accounts, err := s.LoadAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.True(t, ledger.Equal(ledger.MustDecimal("90"), accounts[0].Balance))
	assert.Equal(t, int64(2), accounts[0].Version, "existing account version bumps")
	assert.Equal(t, "fresh", accounts[1].Key)
	assert.Equal(t, int64(1), accounts[1].Version)
}

func TestSaveBatch_RoundTripAndIdempotency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res := &batch.BatchResult{
		BatchID:               "batch-7",
		Status:                batch.StatusCommitted,
		Explanation:           "parallel execution proved linearizable",
		StateHash:             "abc123",
		WitnessOrder:          []string{"t1", "t2"},
		ExcludedTxs:           []string{"broke"},
		LinearizabilityProved: true,
		ConservationProved:    true,
		Deltas: []ledger.Delta{
			{Account: "a", Before: ledger.MustDecimal("100"), After: ledger.MustDecimal("90")},
			{Account: "b", After: ledger.MustDecimal("10"), Created: true},
		},
		Metrics: batch.Metrics{
			Transactions: 3,
			Workers:      4,
			WallTime:     5 * time.Millisecond,
			ProofTime:    time.Millisecond,
		},
	}

	require.NoError(t, s.SaveBatch(ctx, res))
	// Writing the same batch twice is a no-op.
	require.NoError(t, s.SaveBatch(ctx, res))

	rec, err := s.GetBatch(ctx, "batch-7")
	require.NoError(t, err)
	assert.Equal(t, "committed", rec.Status)
	assert.Equal(t, []string{"t1", "t2"}, rec.WitnessOrder)
	assert.Equal(t, []string{"broke"}, rec.ExcludedTxs)
	assert.True(t, rec.LinearizabilityProved)
	assert.Equal(t, "abc123", rec.StateHash)
	assert.Equal(t, 3, rec.Transactions)
	assert.Equal(t, 5*time.Millisecond, rec.WallTime)

	deltas, err := s.GetDeltas(ctx, "batch-7")
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, "a", deltas[0].Account)
	assert.Equal(t, "100", deltas[0].Before)
	assert.Equal(t, "90", deltas[0].After)
	assert.True(t, deltas[1].Created)
}

func TestSaveBatch_RolledBackCarriesErrorCode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res := &batch.BatchResult{
		BatchID:     "batch-bad",
		Status:      batch.StatusRolledBack,
		Explanation: "batch nets 100 of undeclared value",
		StateHash:   "def456",
		Err: &batch.BatchError{
			Code:    batch.ErrCodeConservationViolation,
			Message: "batch nets 100 of undeclared value",
		},
	}
	require.NoError(t, s.SaveBatch(ctx, res))

	rec, err := s.GetBatch(ctx, "batch-bad")
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", rec.Status)
	assert.Equal(t, "CONSERVATION_VIOLATION", rec.ErrorCode)
	assert.Empty(t, rec.WitnessOrder)
}

func TestGetBatch_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetBatch(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListBatches_Limit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2", "b3"} {
		require.NoError(t, s.SaveBatch(ctx, &batch.BatchResult{
			BatchID:     id,
			Status:      batch.StatusCommitted,
			Explanation: "ok",
			StateHash:   "h",
		}))
	}

	recs, err := s.ListBatches(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	all, err := s.ListBatches(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
