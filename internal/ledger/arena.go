package ledger

import (
	"sort"
	"sync"

	"github.com/cockroachdb/apd/v3"
)

// Arena is the shared account map. It is safe for concurrent use.
//
// Two locks with distinct roles:
//
//   - mu guards the map itself for readers and the apply step.
//   - commitMu serializes batches in the Committing state. Only one batch
//     may apply or roll back against the arena at a time; batches touching
//     disjoint accounts still serialize here, which is deliberate - the
//     apply step is a handful of map writes and contention is not worth a
//     per-account lock table.
type Arena struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	commitMu sync.Mutex
	seq      int64 // commit sequence, incremented per apply
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{accounts: make(map[string]*Account)}
}

// Seed loads initial account values. Intended for startup and tests;
// not for use while batches are in flight.
func (a *Arena) Seed(accounts []Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, acct := range accounts {
		c := acct.Clone()
		a.accounts[c.Key] = &c
	}
}

// Get returns a copy of the account, if it exists.
func (a *Arena) Get(key string) (Account, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.accounts[key]
	if !ok {
		return Account{}, false
	}
	return acct.Clone(), true
}

// Keys returns all account keys in sorted order.
func (a *Arena) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.accounts))
	for k := range a.accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of accounts.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.accounts)
}

// Snapshot captures the current values of the given keys. The result is the
// batch's immutable pre-state: both the execution baseline and the rollback
// target.
func (a *Arena) Snapshot(keys []string) *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := newSnapshot()
	for _, k := range keys {
		if acct, ok := a.accounts[k]; ok {
			bal := new(apd.Decimal)
			bal.Set(acct.Balance)
			snap.values[k] = bal
		} else {
			snap.missing[k] = true
		}
	}
	return snap
}

// LockCommit acquires the arena commit lock. Exactly one batch holds it
// through its entire Committing (or RollingBack) phase.
func (a *Arena) LockCommit() {
	a.commitMu.Lock()
}

// UnlockCommit releases the arena commit lock.
func (a *Arena) UnlockCommit() {
	a.commitMu.Unlock()
}

// Apply installs a set of writes in one step and returns the resulting
// deltas. Callers must hold the commit lock. No reader observes a partial
// apply: the arena map lock is held for the whole step.
func (a *Arena) Apply(writes []Write) []Delta {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	deltas := make([]Delta, 0, len(writes))
	for _, w := range writes {
		after := new(apd.Decimal)
		after.Set(w.Value)

		if acct, ok := a.accounts[w.Account]; ok {
			before := new(apd.Decimal)
			before.Set(acct.Balance)
			acct.Balance = after
			acct.Version++
			deltas = append(deltas, Delta{Account: w.Account, Before: before, After: after})
		} else {
			a.accounts[w.Account] = &Account{
				Key:        w.Account,
				Balance:    after,
				Version:    1,
				CreatedSeq: a.seq,
			}
			deltas = append(deltas, Delta{Account: w.Account, After: after, Created: true})
		}
	}
	return deltas
}

// Restore reverts the effect of a previous Apply using the snapshot taken at
// batch start. Accounts the batch created are deleted; all other touched
// accounts are set back to their exact snapshot balance. Callers must hold
// the commit lock.
func (a *Arena) Restore(snap *Snapshot, touched []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, k := range touched {
		pre, existed := snap.lookup(k)
		if !existed {
			delete(a.accounts, k)
			continue
		}
		if acct, ok := a.accounts[k]; ok {
			bal := new(apd.Decimal)
			bal.Set(pre)
			acct.Balance = bal
		} else {
			// Deleted since the snapshot; recreate with the snapshot value.
			bal := new(apd.Decimal)
			bal.Set(pre)
			a.accounts[k] = &Account{Key: k, Balance: bal, Version: 1}
		}
	}
}

// Balances returns a copy of every account balance. Used for state hashing
// and the accounts CLI command.
func (a *Arena) Balances() map[string]*apd.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]*apd.Decimal, len(a.accounts))
	for k, acct := range a.accounts {
		bal := new(apd.Decimal)
		bal.Set(acct.Balance)
		out[k] = bal
	}
	return out
}
