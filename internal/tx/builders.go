package tx

import (
	"github.com/cockroachdb/apd/v3"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

// Transfer builds the canonical guarded transfer: move amount from one
// account to another, guarded by sufficient balance.
func Transfer(id string, index int, from, to string, amount *apd.Decimal) *Transaction {
	t := &Transaction{
		ID:    id,
		Index: index,
		Reads: []string{from, to},
		Writes: []WriteSpec{
			{Account: from, Value: Sub(Ref(from), Lit(amount))},
			{Account: to, Value: Add(Ref(to), Lit(amount))},
		},
		Guard: GE(Ref(from), Lit(amount)),
	}
	return t.Normalize()
}

// Mint builds a declared value-creation transaction: credit amount to an
// account with a matching mint declaration, keeping conservation intact.
func Mint(id string, index int, to string, amount *apd.Decimal) *Transaction {
	mint := new(apd.Decimal)
	mint.Set(amount)
	t := &Transaction{
		ID:    id,
		Index: index,
		Reads: []string{to},
		Writes: []WriteSpec{
			{Account: to, Value: Add(Ref(to), Lit(amount))},
		},
		Mint: mint,
	}
	return t.Normalize()
}

// Burn builds a declared value-destruction transaction: debit amount from
// an account with a matching burn declaration.
func Burn(id string, index int, from string, amount *apd.Decimal) *Transaction {
	burn := new(apd.Decimal)
	burn.Set(amount)
	t := &Transaction{
		ID:    id,
		Index: index,
		Reads: []string{from},
		Writes: []WriteSpec{
			{Account: from, Value: Sub(Ref(from), Lit(amount))},
		},
		Guard: GE(Ref(from), Lit(amount)),
		Burn:  burn,
	}
	return t.Normalize()
}

// Credit builds an unguarded credit with no mint declaration. Such a
// transaction is individually well-formed but violates conservation; the
// conservation validator exists to catch exactly this shape.
func Credit(id string, index int, to string, amount *apd.Decimal) *Transaction {
	t := &Transaction{
		ID:    id,
		Index: index,
		Reads: []string{to},
		Writes: []WriteSpec{
			{Account: to, Value: Add(Ref(to), Lit(amount))},
		},
	}
	return t.Normalize()
}

// Amount parses a decimal amount literal. Panics on malformed input;
// intended for builders and tests.
func Amount(s string) *apd.Decimal {
	return ledger.MustDecimal(s)
}
