package harness

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
)

// TraceSnapshot is the deterministic projection of a scenario outcome used
// for golden comparison. Scheduling-dependent fields (witness order, worker
// assignment, timings, hashes over metadata) are deliberately absent; the
// witness set and final balances pin the semantics.
type TraceSnapshot struct {
	Scenario              string         `json:"scenario"`
	Status                string         `json:"status"`
	ErrorCode             string         `json:"error_code,omitempty"`
	LinearizabilityProved bool           `json:"linearizability_proved"`
	ConservationProved    bool           `json:"conservation_proved"`
	WitnessTxs            []string       `json:"witness_txs"`
	ExcludedTxs           []string       `json:"excluded_txs"`
	Balances              []BalanceEntry `json:"balances"`
}

// BalanceEntry is one final account balance, canonically rendered.
type BalanceEntry struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// Snapshot builds the deterministic projection of a result.
func Snapshot(scenario *Scenario, result *Result) TraceSnapshot {
	res := result.Batch

	snap := TraceSnapshot{
		Scenario:              scenario.Name,
		Status:                string(res.Status),
		LinearizabilityProved: res.LinearizabilityProved,
		ConservationProved:    res.ConservationProved,
		WitnessTxs:            []string{},
		ExcludedTxs:           []string{},
		Balances:              []BalanceEntry{},
	}
	if res.Err != nil {
		snap.ErrorCode = string(res.Err.Code)
	}

	if res.Status != "rolled_back" {
		snap.WitnessTxs = append(snap.WitnessTxs, res.WitnessOrder...)
		sort.Strings(snap.WitnessTxs)
	}
	snap.ExcludedTxs = append(snap.ExcludedTxs, res.ExcludedTxs...)
	sort.Strings(snap.ExcludedTxs)

	accounts := make([]string, 0, len(result.Balances))
	for k := range result.Balances {
		accounts = append(accounts, k)
	}
	sort.Strings(accounts)
	for _, acct := range accounts {
		snap.Balances = append(snap.Balances, BalanceEntry{
			Account: acct,
			Balance: ledger.CanonicalString(result.Balances[acct]),
		})
	}
	return snap
}

// RunWithGolden executes a scenario, requires its expect clause to pass, and
// compares the trace snapshot against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, failure := range result.Failures {
		t.Errorf("scenario %s: %s", scenario.Name, failure)
	}

	snap := Snapshot(scenario, result)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		t.Fatalf("scenario %s: marshal snapshot: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	data = append(data, '\n')
	g.Assert(t, scenario.Name, data)
}
