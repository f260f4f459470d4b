// Package harness runs declarative YAML batch scenarios through the real
// processor and compares the outcome, both against the scenario's expect
// clause and against golden trace snapshots.
//
// Each scenario runs on a fresh arena, so scenarios are isolated and
// repeatable. Snapshots contain only deterministic fields: the witness order
// of a conflict-free batch depends on worker scheduling, so the snapshot
// records the committed set, not the discovered order.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/cockroachdb/apd/v3"

	"github.com/diotec-barros/diotec360-sub006/internal/batch"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// Result is the outcome of one scenario run.
type Result struct {
	// Batch is the processor's result record.
	Batch *batch.BatchResult

	// Balances are the final arena balances of the scenario's accounts.
	Balances map[string]*apd.Decimal

	// Failures lists every expectation the run violated. Empty means pass.
	Failures []string
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// Run executes a scenario against a fresh arena and evaluates its expect
// clause. The processor error for a rejected batch (dependency cycle) is
// folded into the result rather than returned: the scenario's expectations
// decide whether that outcome is a pass.
func Run(scenario *Scenario) (*Result, error) {
	arena := ledger.NewArena()
	accounts := make([]ledger.Account, 0, len(scenario.Accounts))
	for key, bal := range scenario.Accounts {
		parsed, err := ledger.ParseDecimal(bal)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: account %s: %w", scenario.Name, key, err)
		}
		accounts = append(accounts, ledger.Account{Key: key, Balance: parsed})
	}
	arena.Seed(accounts)

	txs, err := buildTransactions(scenario.Transactions)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	p := batch.NewProcessor(arena,
		batch.WithWorkers(4),
		batch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	res, execErr := p.ExecuteBatch(context.Background(), txs)
	if res == nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, execErr)
	}

	result := &Result{
		Batch:    res,
		Balances: make(map[string]*apd.Decimal, len(scenario.Accounts)),
	}
	for key := range scenario.Accounts {
		if acct, ok := arena.Get(key); ok {
			result.Balances[key] = acct.Balance
		}
	}

	evaluate(scenario, result)
	return result, nil
}

// buildTransactions turns the declarative specs into engine transactions.
func buildTransactions(specs []TxSpec) ([]*tx.Transaction, error) {
	txs := make([]*tx.Transaction, 0, len(specs))
	for i, spec := range specs {
		amount, err := ledger.ParseDecimal(spec.Amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: amount: %w", spec.ID, err)
		}

		var txn *tx.Transaction
		switch spec.Kind {
		case KindTransfer:
			txn = tx.Transfer(spec.ID, i, spec.From, spec.To, amount)
		case KindMint:
			txn = tx.Mint(spec.ID, i, spec.To, amount)
		case KindBurn:
			txn = tx.Burn(spec.ID, i, spec.From, amount)
		case KindCredit:
			txn = tx.Credit(spec.ID, i, spec.To, amount)
		default:
			return nil, fmt.Errorf("transaction %s: unknown kind %q", spec.ID, spec.Kind)
		}
		txn.After = append(txn.After, spec.After...)
		txs = append(txs, txn)
	}
	return txs, nil
}

// evaluate checks the expect clause and collects failures.
func evaluate(scenario *Scenario, result *Result) {
	expect := scenario.Expect
	res := result.Batch

	if string(res.Status) != expect.Status {
		result.Failures = append(result.Failures,
			fmt.Sprintf("status: want %s, got %s (%s)", expect.Status, res.Status, res.Explanation))
	}

	if expect.ErrorCode != "" {
		got := ""
		if res.Err != nil {
			got = string(res.Err.Code)
		}
		if got != expect.ErrorCode {
			result.Failures = append(result.Failures,
				fmt.Sprintf("error code: want %s, got %q", expect.ErrorCode, got))
		}
	}

	for acct, want := range expect.Balances {
		wantDec, err := ledger.ParseDecimal(want)
		if err != nil {
			result.Failures = append(result.Failures,
				fmt.Sprintf("expected balance for %s is malformed: %v", acct, err))
			continue
		}
		got, ok := result.Balances[acct]
		if !ok {
			result.Failures = append(result.Failures,
				fmt.Sprintf("balance %s: account missing from final state", acct))
			continue
		}
		if !ledger.Equal(wantDec, got) {
			result.Failures = append(result.Failures,
				fmt.Sprintf("balance %s: want %s, got %s", acct, want, ledger.CanonicalString(got)))
		}
	}

	wantExcluded := append([]string(nil), expect.Excluded...)
	gotExcluded := append([]string(nil), res.ExcludedTxs...)
	sort.Strings(wantExcluded)
	sort.Strings(gotExcluded)
	if !equalStrings(wantExcluded, gotExcluded) {
		result.Failures = append(result.Failures,
			fmt.Sprintf("excluded: want %v, got %v", wantExcluded, gotExcluded))
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
