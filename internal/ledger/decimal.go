package ledger

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// decCtx is the shared arithmetic context for all balance math.
// 50 digits of precision is far beyond any realistic ledger value; the
// point is that additions and subtractions of monetary amounts are exact.
var decCtx = apd.BaseContext.WithPrecision(50)

// ParseDecimal parses a decimal balance or amount string.
func ParseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustDecimal is ParseDecimal for literals known to be valid.
// Panics on malformed input; use only in tests and constants.
func MustDecimal(s string) *apd.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns a fresh zero decimal. Callers may mutate the result.
func Zero() *apd.Decimal {
	return apd.New(0, 0)
}

// Add returns a+b as a new decimal.
func Add(a, b *apd.Decimal) (*apd.Decimal, error) {
	res := new(apd.Decimal)
	if _, err := decCtx.Add(res, a, b); err != nil {
		return nil, fmt.Errorf("decimal add: %w", err)
	}
	return res, nil
}

// Sub returns a-b as a new decimal.
func Sub(a, b *apd.Decimal) (*apd.Decimal, error) {
	res := new(apd.Decimal)
	if _, err := decCtx.Sub(res, a, b); err != nil {
		return nil, fmt.Errorf("decimal sub: %w", err)
	}
	return res, nil
}

// Mul returns a*b as a new decimal.
func Mul(a, b *apd.Decimal) (*apd.Decimal, error) {
	res := new(apd.Decimal)
	if _, err := decCtx.Mul(res, a, b); err != nil {
		return nil, fmt.Errorf("decimal mul: %w", err)
	}
	return res, nil
}

// Abs returns |a| as a new decimal.
func Abs(a *apd.Decimal) *apd.Decimal {
	res := new(apd.Decimal)
	res.Abs(a)
	return res
}

// Equal reports numeric equality (ignores representation).
func Equal(a, b *apd.Decimal) bool {
	return a.Cmp(b) == 0
}

// CanonicalString renders a decimal in a representation-independent form:
// reduced (no trailing zeros) and in plain notation. Two numerically equal
// decimals always render identically, which the state hash depends on.
func CanonicalString(d *apd.Decimal) string {
	var reduced apd.Decimal
	reduced.Reduce(d)
	return reduced.Text('f')
}
