// Package tx defines the immutable transaction record and the small
// expression language its guards, verifies, and write effects are stated in.
//
// A transaction is created when a batch is submitted and never mutated.
// Everything the engine needs for scheduling - the read set, the write set,
// the deterministic total order - is derivable from the record itself, not
// from execution timing.
package tx

import (
	"sort"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Transaction is a guarded state transition over named accounts.
type Transaction struct {
	// ID is the stable transaction identifier. IDs are normally unique
	// within a batch; the submission Index breaks ties if they are not.
	ID string

	// Index is the submission position within the batch.
	Index int

	// Reads lists the accounts the transaction reads. Normalize() extends
	// this with every account referenced by expressions, so the declared
	// set always covers actual access.
	Reads []string

	// Writes lists the account effects. Each value expression is evaluated
	// against the transaction's isolated pre-state view.
	Writes []WriteSpec

	// Guard must hold over the pre-state for the effects to apply.
	// A nil guard always passes.
	Guard Predicate

	// Verify must hold over the transaction's post-state.
	// A nil verify always passes.
	Verify Predicate

	// Mint and Burn are the declared value creation/destruction amounts,
	// consumed by the conservation validator. Nil means zero.
	Mint *apd.Decimal
	Burn *apd.Decimal

	// After lists transaction IDs this transaction declares it must follow,
	// independent of any data dependency. Batch metadata can use this to
	// impose ordering the account footprint alone would not; inconsistent
	// declarations are how a batch ends up cyclic and rejected.
	After []string
}

// WriteSpec is one account effect: the account ends up holding the value of
// the expression evaluated over pre-state.
type WriteSpec struct {
	Account string
	Value   Expr
}

// Normalize folds expression references into the declared read set and
// sorts the declared sets. Returns the transaction for chaining.
func (t *Transaction) Normalize() *Transaction {
	seen := make(map[string]bool, len(t.Reads))
	for _, r := range t.Reads {
		seen[r] = true
	}
	addRefs := func(refs []string) {
		for _, r := range refs {
			if !seen[r] {
				seen[r] = true
				t.Reads = append(t.Reads, r)
			}
		}
	}
	for _, w := range t.Writes {
		if w.Value != nil {
			addRefs(w.Value.Refs())
		}
	}
	if t.Guard != nil {
		addRefs(t.Guard.Refs())
	}
	if t.Verify != nil {
		addRefs(t.Verify.Refs())
	}
	sort.Strings(t.Reads)
	return t
}

// ReadSet returns the declared read accounts as a set.
func (t *Transaction) ReadSet() map[string]bool {
	set := make(map[string]bool, len(t.Reads))
	for _, r := range t.Reads {
		set[r] = true
	}
	return set
}

// WriteSet returns the written accounts as a set.
func (t *Transaction) WriteSet() map[string]bool {
	set := make(map[string]bool, len(t.Writes))
	for _, w := range t.Writes {
		set[w.Account] = true
	}
	return set
}

// Touched returns every account the transaction reads or writes, sorted.
func (t *Transaction) Touched() []string {
	set := t.ReadSet()
	for _, w := range t.Writes {
		set[w.Account] = true
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compare defines the engine's deterministic total order: lexicographic by
// ID, with the submission index breaking ties between identical IDs. Every
// tie-break in the pipeline goes through this single definition.
func Compare(a, b *Transaction) int {
	if c := strings.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	return a.Index - b.Index
}

// SortDeterministic sorts transactions in place by Compare.
func SortDeterministic(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return Compare(txs[i], txs[j]) < 0
	})
}

// TouchedByAll returns the union of Touched over all transactions, sorted.
func TouchedByAll(txs []*Transaction) []string {
	set := make(map[string]bool)
	for _, t := range txs {
		for _, k := range t.Touched() {
			set[k] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IDs extracts the transaction IDs in slice order.
func IDs(txs []*Transaction) []string {
	ids := make([]string, len(txs))
	for i, t := range txs {
		ids[i] = t.ID
	}
	return ids
}
