// Package depgraph derives happens-before edges between transactions and
// layers them into independent sets for parallel scheduling.
//
// This is the only place in the engine where ordering is derived from data
// (declared read/write sets), never from execution timing. The analyzer
// produces RAW/WAW/WAR edges; the graph layers them with Kahn's algorithm
// and rejects cyclic batches outright.
package depgraph

import (
	"sort"

	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// Kind classifies a data dependency between two transactions on a shared
// account.
type Kind int

const (
	// RAW: the earlier transaction writes an account the later one reads.
	RAW Kind = iota
	// WAW: both transactions write the same account.
	WAW
	// WAR: the earlier transaction reads an account the later one writes.
	WAR
	// DECL: an ordering the batch declared explicitly (Transaction.After).
	DECL
)

func (k Kind) String() string {
	switch k {
	case RAW:
		return "RAW"
	case WAW:
		return "WAW"
	case WAR:
		return "WAR"
	case DECL:
		return "DECL"
	default:
		return "UNKNOWN"
	}
}

// Edge is a directed happens-before relation: the transaction at submission
// index From must fully execute before the one at To, because of the named
// account. Edges are computed once per batch and never mutated.
type Edge struct {
	From    int
	To      int
	Kind    Kind
	Account string
}

// Analyze derives the full edge set for a batch. For every pair with A
// submitted before B:
//
//	A writes an account B reads  -> RAW A->B
//	A and B write the same account -> WAW A->B (submission order)
//	A reads an account B writes  -> WAR A->B
//
// Transactions with disjoint account sets produce no edge.
func Analyze(txs []*tx.Transaction) []Edge {
	reads := make([]map[string]bool, len(txs))
	writes := make([]map[string]bool, len(txs))
	for i, t := range txs {
		reads[i] = t.ReadSet()
		writes[i] = t.WriteSet()
	}

	var edges []Edge
	for i := 0; i < len(txs); i++ {
		for j := i + 1; j < len(txs); j++ {
			for acct := range writes[i] {
				if reads[j][acct] {
					edges = append(edges, Edge{From: i, To: j, Kind: RAW, Account: acct})
				}
				if writes[j][acct] {
					edges = append(edges, Edge{From: i, To: j, Kind: WAW, Account: acct})
				}
			}
			for acct := range reads[i] {
				if writes[j][acct] {
					edges = append(edges, Edge{From: i, To: j, Kind: WAR, Account: acct})
				}
			}
		}
	}

	// Declared predecessors (Transaction.After) become DECL edges. Unlike
	// derived edges these are not tie-broken by submission order, so an
	// inconsistent set of declarations can make the graph cyclic.
	byID := make(map[string][]int, len(txs))
	for i, t := range txs {
		byID[t.ID] = append(byID[t.ID], i)
	}
	for i, t := range txs {
		for _, predID := range t.After {
			for _, p := range byID[predID] {
				if p != i {
					edges = append(edges, Edge{From: p, To: i, Kind: DECL})
				}
			}
		}
	}

	// Map iteration above is unordered; sort for a reproducible edge list.
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].From != edges[b].From {
			return edges[a].From < edges[b].From
		}
		if edges[a].To != edges[b].To {
			return edges[a].To < edges[b].To
		}
		if edges[a].Kind != edges[b].Kind {
			return edges[a].Kind < edges[b].Kind
		}
		return edges[a].Account < edges[b].Account
	})
	return edges
}
