package prove

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/solve"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// Conservation validates the global value-conservation invariant for a
// whole batch:
//
//	Σ(balances before) + Σ(declared mints) - Σ(declared burns) == Σ(balances after)
//
// Per-transaction guards and verifies are local; this is the global check
// that no combination of individually valid transactions nets value into or
// out of existence. Arithmetic is exact decimal; the epsilon tolerance only
// matters when inputs originated as floats.
type Conservation struct {
	solver  solve.Solver
	epsilon *apd.Decimal
	timeout time.Duration
}

// NewConservation creates a validator. epsilon is the configured tolerance
// (config.DefaultEpsilon unless overridden).
func NewConservation(solver solve.Solver, epsilon *apd.Decimal, timeout time.Duration) *Conservation {
	return &Conservation{solver: solver, epsilon: epsilon, timeout: timeout}
}

// ConservationProof is the validator's verdict. On failure Delta carries
// the net amount created (positive) or destroyed (negative); a violation
// is always batch-fatal.
type ConservationProof struct {
	Proved    bool
	Delta     *apd.Decimal
	ProofTime time.Duration
	TimedOut  bool
}

// Validate encodes the batch-wide conservation sum and delegates to the
// solver. included must be the transactions whose effects survived
// execution; excluded transactions contribute neither effects nor declared
// mints/burns.
func (c *Conservation) Validate(
	ctx context.Context,
	included []*tx.Transaction,
	pre *ledger.Snapshot,
	final map[string]*apd.Decimal,
	touched []string,
) (*ConservationProof, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Signs folded so the constraint reads |Σ| <= epsilon:
	// Σpost - Σpre - Σmints + Σburns == 0.
	var terms []*apd.Decimal
	for _, acct := range touched {
		if v, ok := final[acct]; ok {
			terms = append(terms, v)
		}
		neg := new(apd.Decimal)
		neg.Neg(pre.Balance(acct))
		terms = append(terms, neg)
	}
	for _, txn := range included {
		if txn.Mint != nil {
			neg := new(apd.Decimal)
			neg.Neg(txn.Mint)
			terms = append(terms, neg)
		}
		if txn.Burn != nil {
			terms = append(terms, txn.Burn)
		}
	}

	res, err := c.solver.Solve(ctx, &solve.Problem{
		Sums: []solve.SumConstraint{{
			Name:      "conservation",
			Terms:     terms,
			Tolerance: c.epsilon,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("conservation query: %w", err)
	}

	proof := &ConservationProof{ProofTime: res.Elapsed}
	switch res.Status {
	case solve.StatusSat:
		proof.Proved = true
	case solve.StatusUnsat:
		proof.Delta = res.Delta
	case solve.StatusUnknown:
		proof.TimedOut = true
	}
	return proof, nil
}
