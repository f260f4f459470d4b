// Package solve defines the constraint-solver contract the provers delegate
// to, plus a built-in bounded-search oracle that satisfies it.
//
// The engine treats the solver as an external oracle: the provers build a
// Problem, hand it over with a caller-supplied timeout on the context, and
// consume a sat/unsat/unknown Result. Any solver supporting permutation
// search under precedence constraints and exact linear-sum checks can be
// slotted in behind the Solver interface; the built-in Backtracker is the
// default implementation.
package solve

import (
	"context"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Status is the solver's verdict.
type Status int

const (
	// StatusSat: a model satisfying every constraint was found.
	StatusSat Status = iota
	// StatusUnsat: no model exists; Result carries an explanation core.
	StatusUnsat
	// StatusUnknown: the search exhausted its time budget.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusSat:
		return "sat"
	case StatusUnsat:
		return "unsat"
	case StatusUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Problem is a conjunction of constraints over an ordering of named
// variables and a set of exact linear sums.
type Problem struct {
	// Vars names the permutation variables; the model assigns each a
	// distinct position. Empty means there is no ordering component.
	Vars []string

	// Precedences constrains the permutation: Before must receive a
	// smaller position than After.
	Precedences []Precedence

	// Check accepts or rejects a complete permutation on semantic grounds
	// the solver cannot express arithmetically. It must be pure. The
	// second return names the items that diverged, for the unsat core.
	// Nil means any precedence-respecting permutation is a model.
	Check CheckFunc

	// Hint is a permutation to try first. A good hint usually makes the
	// first candidate the model.
	Hint []string

	// Sums are exact linear-sum constraints checked up front.
	Sums []SumConstraint
}

// Precedence is one ordering constraint.
type Precedence struct {
	Before string
	After  string
}

// CheckFunc evaluates a complete candidate permutation.
type CheckFunc func(order []string) (ok bool, diverging []string)

// SumConstraint asserts |Σ Terms| <= Tolerance, in exact decimal
// arithmetic. Callers fold signs into the terms.
type SumConstraint struct {
	Name      string
	Terms     []*apd.Decimal
	Tolerance *apd.Decimal
}

// Result is the solver's answer.
type Result struct {
	Status Status

	// Order is the witnessing permutation when Status is sat and the
	// problem had an ordering component.
	Order []string

	// Core explains unsat: the violated sum constraint's name, or the
	// diverging items reported by the last Check.
	Core []string

	// Delta is the violating amount for a failed sum constraint.
	Delta *apd.Decimal

	// Explored counts candidate permutations examined.
	Explored int

	Elapsed time.Duration
}

// Solver is the oracle interface. Implementations must honor context
// cancellation and deadlines by returning StatusUnknown.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (Result, error)
}
