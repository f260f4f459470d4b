// Package conflict performs the residual safety check on an independent
// layer before it is handed to the parallel executor.
//
// The dependency graph only captures account-level conflicts between pairs
// it has ordered into different layers. The detector re-derives the account
// footprint of a single layer from scratch and, if any two members still
// overlap on an account one of them writes, imposes the engine's
// deterministic total order on the conflicting subset instead of running it
// concurrently.
//
// Resolution is pure: no clocks, no randomness, no state. Re-running the
// detector on an identical layer always yields the same split and the same
// order, which the linearizability prover relies on to construct a
// reproducible serial hypothesis.
package conflict

import (
	"sort"

	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// Resolution is the detector's verdict on one layer.
type Resolution struct {
	// Safe is true when the whole layer may execute in any relative order.
	Safe bool

	// Parallel holds the members free of residual conflicts.
	Parallel []*tx.Transaction

	// Ordered holds the conflicting subset in the imposed deterministic
	// order (lexicographic by ID, submission index breaking ties). The
	// executor runs these sequentially after the parallel subset.
	Ordered []*tx.Transaction

	// Conflicts lists the account overlaps that forced the ordering.
	Conflicts []Conflict
}

// Conflict is one residual overlap between two layer members.
type Conflict struct {
	TxA     string
	TxB     string
	Account string
}

// Resolve splits a layer into a conflict-free parallel subset and a
// deterministically ordered conflicting subset.
func Resolve(layer []*tx.Transaction) Resolution {
	n := len(layer)
	reads := make([]map[string]bool, n)
	writes := make([]map[string]bool, n)
	for i, t := range layer {
		reads[i] = t.ReadSet()
		writes[i] = t.WriteSet()
	}

	conflicting := make([]bool, n)
	var conflicts []Conflict
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			overlap := make(map[string]bool)
			for acct := range writes[i] {
				if writes[j][acct] || reads[j][acct] {
					overlap[acct] = true
				}
			}
			for acct := range writes[j] {
				if reads[i][acct] {
					overlap[acct] = true
				}
			}
			if len(overlap) == 0 {
				continue
			}
			conflicting[i], conflicting[j] = true, true
			accounts := make([]string, 0, len(overlap))
			for acct := range overlap {
				accounts = append(accounts, acct)
			}
			sort.Strings(accounts)
			for _, acct := range accounts {
				conflicts = append(conflicts, Conflict{
					TxA: layer[i].ID, TxB: layer[j].ID, Account: acct,
				})
			}
		}
	}

	res := Resolution{Conflicts: conflicts}
	for i, t := range layer {
		if conflicting[i] {
			res.Ordered = append(res.Ordered, t)
		} else {
			res.Parallel = append(res.Parallel, t)
		}
	}
	tx.SortDeterministic(res.Ordered)
	res.Safe = len(res.Ordered) == 0
	return res
}
