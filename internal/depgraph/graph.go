package depgraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// Graph is the dependency DAG for one batch. Nodes are submission indices;
// the transaction slice the graph was built from gives them identity.
// Immutable after Build.
type Graph struct {
	txs   []*tx.Transaction
	edges []Edge
	succ  [][]int
	pred  [][]int
}

// Build assembles the pairwise edges into a graph over the batch.
func Build(txs []*tx.Transaction, edges []Edge) *Graph {
	g := &Graph{
		txs:   txs,
		edges: edges,
		succ:  make([][]int, len(txs)),
		pred:  make([][]int, len(txs)),
	}

	// Multiple edges between a pair (different kinds or accounts) collapse
	// into one adjacency entry.
	type pair struct{ from, to int }
	seen := make(map[pair]bool, len(edges))
	for _, e := range edges {
		p := pair{e.From, e.To}
		if seen[p] {
			continue
		}
		seen[p] = true
		g.succ[e.From] = append(g.succ[e.From], e.To)
		g.pred[e.To] = append(g.pred[e.To], e.From)
	}
	return g
}

// Edges returns the full edge set.
func (g *Graph) Edges() []Edge { return g.edges }

// Dependencies returns the submission indices that must run before node i.
func (g *Graph) Dependencies(i int) []int { return g.pred[i] }

// Dependants returns the submission indices that must run after node i.
func (g *Graph) Dependants(i int) []int { return g.succ[i] }

// Layers topologically layers the graph with Kahn's algorithm. Every layer
// is a set of mutually independent transactions (no edges among them) that
// may run concurrently, subject to the conflict detector's residual check.
//
// Transactions within a layer are returned in the engine's deterministic
// order, so layering is reproducible for identical input.
//
// A cycle is a fatal input error: Layers returns a CircularDependencyError
// naming the transactions involved, and the batch must be rejected before
// any execution.
func (g *Graph) Layers() ([][]*tx.Transaction, error) {
	n := len(g.txs)
	indeg := make([]int, n)
	for i := 0; i < n; i++ {
		indeg[i] = len(g.pred[i])
	}

	var layers [][]*tx.Transaction
	placed := 0

	frontier := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			frontier = append(frontier, i)
		}
	}

	for len(frontier) > 0 {
		layer := make([]*tx.Transaction, 0, len(frontier))
		for _, i := range frontier {
			layer = append(layer, g.txs[i])
		}
		tx.SortDeterministic(layer)
		layers = append(layers, layer)
		placed += len(frontier)

		next := make([]int, 0)
		for _, i := range frontier {
			for _, j := range g.succ[i] {
				indeg[j]--
				if indeg[j] == 0 {
					next = append(next, j)
				}
			}
		}
		frontier = next
	}

	if placed != n {
		var cyclic []string
		for i := 0; i < n; i++ {
			if indeg[i] > 0 {
				cyclic = append(cyclic, g.txs[i].ID)
			}
		}
		sort.Strings(cyclic)
		return nil, &CircularDependencyError{TxIDs: cyclic}
	}

	return layers, nil
}

// CircularDependencyError reports a dependency cycle in the batch. Fatal:
// the batch is rejected before any execution and never retried.
type CircularDependencyError struct {
	// TxIDs names the transactions that could not be ordered.
	TxIDs []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency among transactions [%s]", strings.Join(e.TxIDs, ", "))
}

// IsCircularDependency reports whether err is a CircularDependencyError.
// Uses errors.As to handle wrapped errors.
func IsCircularDependency(err error) bool {
	var ce *CircularDependencyError
	return errors.As(err, &ce)
}
