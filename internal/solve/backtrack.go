package solve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Backtracker is the built-in oracle: exact evaluation for sum constraints
// and depth-first search over precedence-respecting permutations for the
// ordering component.
//
// The search enumerates topological orders of the precedence graph,
// steering each branch by the hint first, so a well-chosen hint is checked
// as the very first candidate. The context deadline is polled between
// candidates and between search nodes.
type Backtracker struct{}

// NewBacktracker creates the default solver.
func NewBacktracker() *Backtracker {
	return &Backtracker{}
}

var _ Solver = (*Backtracker)(nil)

// deadlinePollInterval bounds how many search nodes may pass between
// context checks.
const deadlinePollInterval = 256

// Solve evaluates the problem. See the package comment for the contract.
func (b *Backtracker) Solve(ctx context.Context, p *Problem) (Result, error) {
	started := time.Now()

	for _, sum := range p.Sums {
		delta, ok, err := evalSum(sum)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{
				Status:  StatusUnsat,
				Core:    []string{sum.Name},
				Delta:   delta,
				Elapsed: time.Since(started),
			}, nil
		}
	}

	if len(p.Vars) == 0 {
		return Result{Status: StatusSat, Elapsed: time.Since(started)}, nil
	}

	s, err := newSearch(p)
	if err != nil {
		return Result{}, err
	}
	res := s.run(ctx)
	res.Elapsed = time.Since(started)
	return res, nil
}

// evalSum checks |Σ terms| <= tolerance exactly. Returns the signed sum and
// whether the constraint holds.
func evalSum(sum SumConstraint) (*apd.Decimal, bool, error) {
	ctx := apd.BaseContext.WithPrecision(50)
	total := apd.New(0, 0)
	for _, term := range sum.Terms {
		if _, err := ctx.Add(total, total, term); err != nil {
			return nil, false, fmt.Errorf("sum %s: %w", sum.Name, err)
		}
	}

	abs := new(apd.Decimal)
	abs.Abs(total)
	tol := sum.Tolerance
	if tol == nil {
		tol = apd.New(0, 0)
	}
	return total, abs.Cmp(tol) <= 0, nil
}

// search holds the DFS state for the permutation component.
type search struct {
	vars     []string
	index    map[string]int
	succ     [][]int
	indeg    []int
	priority []int // lower runs earlier among available vars

	order    []int
	explored int
	nodes    int
	lastCore []string
	check    CheckFunc
}

func newSearch(p *Problem) (*search, error) {
	n := len(p.Vars)
	s := &search{
		vars:     p.Vars,
		index:    make(map[string]int, n),
		succ:     make([][]int, n),
		indeg:    make([]int, n),
		priority: make([]int, n),
		check:    p.Check,
	}
	for i, v := range p.Vars {
		if _, dup := s.index[v]; dup {
			return nil, fmt.Errorf("duplicate variable %q", v)
		}
		s.index[v] = i
	}
	for _, pr := range p.Precedences {
		from, ok := s.index[pr.Before]
		if !ok {
			return nil, fmt.Errorf("precedence references unknown variable %q", pr.Before)
		}
		to, ok := s.index[pr.After]
		if !ok {
			return nil, fmt.Errorf("precedence references unknown variable %q", pr.After)
		}
		s.succ[from] = append(s.succ[from], to)
		s.indeg[to]++
	}

	// Hint positions become branch priorities; unhinted vars keep their
	// declaration position after all hinted ones.
	for i := range s.priority {
		s.priority[i] = len(p.Hint) + i
	}
	for pos, v := range p.Hint {
		if i, ok := s.index[v]; ok {
			s.priority[i] = pos
		}
	}
	return s, nil
}

func (s *search) run(ctx context.Context) Result {
	n := len(s.vars)
	s.order = make([]int, 0, n)

	available := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if s.indeg[i] == 0 {
			available = append(available, i)
		}
	}

	switch s.dfs(ctx, available) {
	case searchFound:
		order := make([]string, n)
		for pos, i := range s.order {
			order[pos] = s.vars[i]
		}
		return Result{Status: StatusSat, Order: order, Explored: s.explored}
	case searchDeadline:
		return Result{Status: StatusUnknown, Explored: s.explored}
	default:
		// A cyclic precedence set never completes a permutation; report
		// the stuck variables so the caller can name them.
		core := s.lastCore
		if s.explored == 0 && core == nil {
			for i := 0; i < n; i++ {
				if s.indeg[i] > 0 {
					core = append(core, s.vars[i])
				}
			}
			sort.Strings(core)
		}
		return Result{Status: StatusUnsat, Core: core, Explored: s.explored}
	}
}

type searchOutcome int

const (
	searchExhausted searchOutcome = iota
	searchFound
	searchDeadline
)

func (s *search) dfs(ctx context.Context, available []int) searchOutcome {
	s.nodes++
	if s.nodes%deadlinePollInterval == 0 && ctx.Err() != nil {
		return searchDeadline
	}

	if len(s.order) == len(s.vars) {
		s.explored++
		if s.check == nil {
			return searchFound
		}
		candidate := make([]string, len(s.order))
		for pos, i := range s.order {
			candidate[pos] = s.vars[i]
		}
		ok, core := s.check(candidate)
		if ok {
			return searchFound
		}
		s.lastCore = core
		if ctx.Err() != nil {
			return searchDeadline
		}
		return searchExhausted
	}

	// Branch in priority order for a deterministic, hint-first search.
	branches := make([]int, len(available))
	copy(branches, available)
	sort.Slice(branches, func(a, b int) bool {
		return s.priority[branches[a]] < s.priority[branches[b]]
	})

	for _, pick := range branches {
		s.order = append(s.order, pick)

		next := make([]int, 0, len(available))
		for _, v := range available {
			if v != pick {
				next = append(next, v)
			}
		}
		for _, succ := range s.succ[pick] {
			s.indeg[succ]--
			if s.indeg[succ] == 0 {
				next = append(next, succ)
			}
		}

		outcome := s.dfs(ctx, next)
		if outcome == searchFound || outcome == searchDeadline {
			return outcome
		}

		for _, succ := range s.succ[pick] {
			s.indeg[succ]++
		}
		s.order = s.order[:len(s.order)-1]
	}
	return searchExhausted
}
