package ledger

import (
	"sort"

	"github.com/cockroachdb/apd/v3"
)

// Snapshot is an immutable capture of specific account balances at batch
// start. A key captured as missing stays recorded, so rollback knows to
// delete accounts the batch created.
type Snapshot struct {
	values  map[string]*apd.Decimal
	missing map[string]bool
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		values:  make(map[string]*apd.Decimal),
		missing: make(map[string]bool),
	}
}

// SnapshotOf builds a snapshot directly from balances. Used by tests and by
// the serial replay path, where there is no arena.
func SnapshotOf(balances map[string]*apd.Decimal) *Snapshot {
	snap := newSnapshot()
	for k, v := range balances {
		bal := new(apd.Decimal)
		bal.Set(v)
		snap.values[k] = bal
	}
	return snap
}

// Balance returns the captured balance. Missing accounts read as zero,
// matching execution semantics; use Existed to distinguish.
func (s *Snapshot) Balance(key string) *apd.Decimal {
	if v, ok := s.values[key]; ok {
		out := new(apd.Decimal)
		out.Set(v)
		return out
	}
	return Zero()
}

// Existed reports whether the account existed when the snapshot was taken.
func (s *Snapshot) Existed(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns every captured key (existing or recorded-missing), sorted.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values)+len(s.missing))
	for k := range s.values {
		keys = append(keys, k)
	}
	for k := range s.missing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lookup returns the captured value and whether the account existed.
func (s *Snapshot) lookup(key string) (*apd.Decimal, bool) {
	v, ok := s.values[key]
	return v, ok
}
