package tx

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/apd/v3"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

// StateReader is the read surface expressions evaluate against. Satisfied
// by *ledger.View.
type StateReader interface {
	Balance(account string) (*apd.Decimal, error)
}

// Expr is a numeric expression over account balances.
type Expr interface {
	Eval(st StateReader) (*apd.Decimal, error)
	Refs() []string
	String() string
}

// Predicate is a boolean expression over account balances.
type Predicate interface {
	Eval(st StateReader) (bool, error)
	Refs() []string
	String() string
}

// Lit returns a constant expression.
func Lit(d *apd.Decimal) Expr { return litExpr{d} }

// Ref returns an expression reading one account balance.
func Ref(account string) Expr { return refExpr{account} }

// Add returns l+r.
func Add(l, r Expr) Expr { return binExpr{"+", l, r} }

// Sub returns l-r.
func Sub(l, r Expr) Expr { return binExpr{"-", l, r} }

// Mul returns l*r.
func Mul(l, r Expr) Expr { return binExpr{"*", l, r} }

type litExpr struct{ v *apd.Decimal }

func (e litExpr) Eval(StateReader) (*apd.Decimal, error) {
	out := new(apd.Decimal)
	out.Set(e.v)
	return out, nil
}
func (e litExpr) Refs() []string { return nil }
func (e litExpr) String() string { return e.v.String() }

type refExpr struct{ account string }

func (e refExpr) Eval(st StateReader) (*apd.Decimal, error) {
	return st.Balance(e.account)
}
func (e refExpr) Refs() []string { return []string{e.account} }
func (e refExpr) String() string { return e.account }

type binExpr struct {
	op   string
	l, r Expr
}

func (e binExpr) Eval(st StateReader) (*apd.Decimal, error) {
	l, err := e.l.Eval(st)
	if err != nil {
		return nil, err
	}
	r, err := e.r.Eval(st)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case "+":
		return ledger.Add(l, r)
	case "-":
		return ledger.Sub(l, r)
	case "*":
		return ledger.Mul(l, r)
	default:
		return nil, fmt.Errorf("unknown operator %q", e.op)
	}
}
func (e binExpr) Refs() []string { return mergeRefs(e.l.Refs(), e.r.Refs()) }
func (e binExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.l, e.op, e.r)
}

// Cmp operators for predicates.
const (
	CmpEQ = "=="
	CmpNE = "!="
	CmpLT = "<"
	CmpLE = "<="
	CmpGT = ">"
	CmpGE = ">="
)

// Cmp returns the comparison predicate l op r.
func Cmp(op string, l, r Expr) Predicate { return cmpPred{op, l, r} }

// GE is shorthand for Cmp(CmpGE, l, r), the most common guard shape
// (sufficient balance checks).
func GE(l, r Expr) Predicate { return cmpPred{CmpGE, l, r} }

// EQ is shorthand for Cmp(CmpEQ, l, r).
func EQ(l, r Expr) Predicate { return cmpPred{CmpEQ, l, r} }

// And returns the conjunction of the given predicates.
func And(ps ...Predicate) Predicate { return boolPred{"and", ps} }

// Or returns the disjunction of the given predicates.
func Or(ps ...Predicate) Predicate { return boolPred{"or", ps} }

// Not negates a predicate.
func Not(p Predicate) Predicate { return notPred{p} }

type cmpPred struct {
	op   string
	l, r Expr
}

func (p cmpPred) Eval(st StateReader) (bool, error) {
	l, err := p.l.Eval(st)
	if err != nil {
		return false, err
	}
	r, err := p.r.Eval(st)
	if err != nil {
		return false, err
	}
	c := l.Cmp(r)
	switch p.op {
	case CmpEQ:
		return c == 0, nil
	case CmpNE:
		return c != 0, nil
	case CmpLT:
		return c < 0, nil
	case CmpLE:
		return c <= 0, nil
	case CmpGT:
		return c > 0, nil
	case CmpGE:
		return c >= 0, nil
	default:
		return false, fmt.Errorf("unknown comparison %q", p.op)
	}
}
func (p cmpPred) Refs() []string { return mergeRefs(p.l.Refs(), p.r.Refs()) }
func (p cmpPred) String() string {
	return fmt.Sprintf("(%s %s %s)", p.l, p.op, p.r)
}

type boolPred struct {
	op string
	ps []Predicate
}

func (p boolPred) Eval(st StateReader) (bool, error) {
	for _, sub := range p.ps {
		ok, err := sub.Eval(st)
		if err != nil {
			return false, err
		}
		if p.op == "and" && !ok {
			return false, nil
		}
		if p.op == "or" && ok {
			return true, nil
		}
	}
	return p.op == "and", nil
}
func (p boolPred) Refs() []string {
	var refs []string
	for _, sub := range p.ps {
		refs = mergeRefs(refs, sub.Refs())
	}
	return refs
}
func (p boolPred) String() string {
	out := "(" + p.op
	for _, sub := range p.ps {
		out += " " + sub.String()
	}
	return out + ")"
}

type notPred struct{ p Predicate }

func (p notPred) Eval(st StateReader) (bool, error) {
	ok, err := p.p.Eval(st)
	if err != nil {
		return false, err
	}
	return !ok, nil
}
func (p notPred) Refs() []string { return p.p.Refs() }
func (p notPred) String() string { return "(not " + p.p.String() + ")" }

func mergeRefs(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
