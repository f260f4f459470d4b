package commit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

func seededArena(t *testing.T, balances map[string]string) *ledger.Arena {
	t.Helper()
	arena := ledger.NewArena()
	accounts := make([]ledger.Account, 0, len(balances))
	for k, v := range balances {
		accounts = append(accounts, ledger.Account{Key: k, Balance: ledger.MustDecimal(v)})
	}
	arena.Seed(accounts)
	return arena
}

func transferRequest(arena *ledger.Arena) *Request {
	touched := []string{"a", "b"}
	return &Request{
		BatchID: "batch-1",
		Pre:     arena.Snapshot(touched),
		Touched: touched,
		Writes: []ledger.Write{
			{Account: "a", Value: ledger.MustDecimal("90")},
			{Account: "b", Value: ledger.MustDecimal("10")},
		},
	}
}

func requireArenaBalance(t *testing.T, arena *ledger.Arena, key, want string) {
	t.Helper()
	acct, ok := arena.Get(key)
	require.True(t, ok, "account %s must exist", key)
	assert.True(t, ledger.Equal(ledger.MustDecimal(want), acct.Balance),
		"account %s: want %s, got %s", key, want, acct.Balance)
}

func TestCommit_AppliesAllWritesAtomically(t *testing.T) {
	arena := seededArena(t, map[string]string{"a": "100", "b": "0"})
	m := NewManager(arena)

	outcome, err := m.Commit(context.Background(), transferRequest(arena))
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, outcome.State)
	assert.Nil(t, outcome.Reason)
	require.Len(t, outcome.Deltas, 2)
	requireArenaBalance(t, arena, "a", "90")
	requireArenaBalance(t, arena, "b", "10")
}

func TestCommit_ValidatorRejectionLeavesArenaUntouched(t *testing.T) {
	arena := seededArena(t, map[string]string{"a": "100", "b": "0"})

	sentinel := errors.New("external oracle said no")
	var secondRan bool
	m := NewManager(arena,
		WithValidator(ValidatorFunc("oracle", func(context.Context, *Request) error {
			return sentinel
		})),
		WithValidator(ValidatorFunc("never", func(context.Context, *Request) error {
			secondRan = true
			return nil
		})),
	)

	outcome, err := m.Commit(context.Background(), transferRequest(arena))
	require.NoError(t, err)

	assert.Equal(t, StateRolledBack, outcome.State)
	assert.False(t, secondRan, "validators after a rejection must not run")

	var vErr *ValidationError
	require.ErrorAs(t, outcome.Reason, &vErr)
	assert.Equal(t, "oracle", vErr.Validator)
	assert.ErrorIs(t, outcome.Reason, sentinel)

	requireArenaBalance(t, arena, "a", "100")
	requireArenaBalance(t, arena, "b", "0")
}

func TestCommit_ValidatorsRunInRegistrationOrder(t *testing.T) {
	arena := seededArena(t, map[string]string{"a": "100", "b": "0"})

	var order []string
	record := func(name string) Validator {
		return ValidatorFunc(name, func(context.Context, *Request) error {
			order = append(order, name)
			return nil
		})
	}
	m := NewManager(arena,
		WithValidator(record("guard")),
		WithValidator(record("conservation")),
		WithValidator(record("oracle")),
	)

	outcome, err := m.Commit(context.Background(), transferRequest(arena))
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, outcome.State)
	assert.Equal(t, []string{"guard", "conservation", "oracle"}, order)
}

func TestCommit_PersistFailureRestoresSnapshot(t *testing.T) {
	arena := seededArena(t, map[string]string{"a": "100"})

	touched := []string{"a", "fresh"}
	req := &Request{
		BatchID: "batch-2",
		Pre:     arena.Snapshot(touched),
		Touched: touched,
		Writes: []ledger.Write{
			{Account: "a", Value: ledger.MustDecimal("60")},
			{Account: "fresh", Value: ledger.MustDecimal("40")},
		},
	}

	m := NewManager(arena, WithPersister(failingPersister{}))
	outcome, err := m.Commit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StateRolledBack, outcome.State)
	require.Error(t, outcome.Reason)

	requireArenaBalance(t, arena, "a", "100")
	_, ok := arena.Get("fresh")
	assert.False(t, ok, "batch-created account must be deleted on rollback")
}

func TestCommit_PersisterSeesAppliedDeltas(t *testing.T) {
	arena := seededArena(t, map[string]string{"a": "100", "b": "0"})

	p := &capturingPersister{}
	m := NewManager(arena, WithPersister(p))

	outcome, err := m.Commit(context.Background(), transferRequest(arena))
	require.NoError(t, err)
	require.Equal(t, StateCommitted, outcome.State)

	require.Len(t, p.deltas, 2)
	assert.Equal(t, "batch-1", p.batchID)
	for _, d := range p.deltas {
		assert.NotNil(t, d.After)
	}
}

func TestCommit_NilSnapshotIsHardError(t *testing.T) {
	arena := seededArena(t, map[string]string{"a": "100"})
	m := NewManager(arena)

	_, err := m.Commit(context.Background(), &Request{BatchID: "broken"})
	require.Error(t, err)
}

type failingPersister struct{}

func (failingPersister) PersistCommit(*Request, []ledger.Delta) error {
	return fmt.Errorf("disk full")
}

type capturingPersister struct {
	batchID string
	deltas  []ledger.Delta
}

func (p *capturingPersister) PersistCommit(req *Request, deltas []ledger.Delta) error {
	p.batchID = req.BatchID
	p.deltas = deltas
	return nil
}
