package ledger

import "github.com/cockroachdb/apd/v3"

// Account is one entry in the arena: a stable key, an exact decimal balance,
// and bookkeeping metadata. Accounts are mutated only through committed
// batch effects, never directly.
type Account struct {
	// Key is the stable account address.
	Key string

	// Balance is the current committed balance.
	Balance *apd.Decimal

	// Version counts committed batches that wrote this account.
	Version int64

	// CreatedSeq is the commit sequence that created the account.
	// Used by rollback to distinguish pre-existing accounts from ones the
	// batch itself created.
	CreatedSeq int64
}

// Clone returns a deep copy. Balances are never shared between the arena
// and batch-scoped state.
func (a Account) Clone() Account {
	bal := new(apd.Decimal)
	bal.Set(a.Balance)
	return Account{
		Key:        a.Key,
		Balance:    bal,
		Version:    a.Version,
		CreatedSeq: a.CreatedSeq,
	}
}

// Write is a single account mutation produced by transaction execution:
// the account ends up holding Value.
type Write struct {
	Account string
	Value   *apd.Decimal
}

// Delta describes the committed change to one account, for downstream
// consumers (replication, audit log).
type Delta struct {
	Account string
	Before  *apd.Decimal // nil if the account did not exist
	After   *apd.Decimal
	Created bool
}
