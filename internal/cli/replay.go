package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/spf13/cobra"

	"github.com/diotec-barros/diotec360-sub006/internal/exec"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/store"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	BatchID  string
}

// ReplayReport is the outcome of re-executing a recorded witness order.
type ReplayReport struct {
	BatchID      string   `json:"batch_id"`
	WitnessOrder []string `json:"witness_order"`
	Accounts     int      `json:"accounts"`
	Matched      bool     `json:"matched"`
	Mismatches   []string `json:"mismatches,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <batch-file>",
		Short: "Re-execute a recorded batch and check it against the audit log",
		Long: `Replay a committed batch serially in its recorded witness order and
compare the result against the balances the audit log recorded.

The audit log stores the witness order and per-account deltas, not the
transaction definitions, so the original batch file is required. Pre-batch
balances are reconstructed from the recorded deltas; the witness order is
then executed one transaction at a time and every resulting balance is
checked against the recorded post-state. A divergence means the batch file
no longer matches what was committed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (required)")
	cmd.Flags().StringVar(&opts.BatchID, "batch", "", "batch ID to replay (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("batch")

	return cmd
}

func runReplay(opts *ReplayOptions, batchPath string, cmd *cobra.Command) error {
	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	rec, err := st.GetBatch(ctx, opts.BatchID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load batch record", err)
	}
	if rec.Status == "rolled_back" {
		return NewExitError(ExitFailure,
			fmt.Sprintf("batch %s was rolled back and left no witness to replay", rec.ID))
	}
	deltas, err := st.GetDeltas(ctx, opts.BatchID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load batch deltas", err)
	}

	bf, err := LoadBatchFile(batchPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load batch file", err)
	}
	txs, err := bf.BuildTransactions()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transactions", err)
	}
	byID := make(map[string]*tx.Transaction, len(txs))
	for _, txn := range txs {
		byID[txn.ID] = txn
	}

	ordered := make([]*tx.Transaction, 0, len(rec.WitnessOrder))
	for _, id := range rec.WitnessOrder {
		txn, ok := byID[id]
		if !ok {
			return NewExitError(ExitFailure,
				fmt.Sprintf("witness transaction %s is not in the batch file", id))
		}
		ordered = append(ordered, txn)
	}

	working, err := replayPreState(bf, deltas, ordered)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reconstruct pre-state", err)
	}

	trace, err := exec.ExecuteSerial(ctx, ordered, working, exec.NewClock())
	if err != nil {
		return WrapExitError(ExitFailure, "replay execution failed", err)
	}

	report := &ReplayReport{
		BatchID:      rec.ID,
		WitnessOrder: rec.WitnessOrder,
		Accounts:     len(deltas),
		Matched:      true,
	}

	// Every recorded delta must reproduce exactly.
	final := working.Final(tx.TouchedByAll(ordered))
	for _, d := range deltas {
		got, ok := final[d.Account]
		if !ok {
			report.Mismatches = append(report.Mismatches,
				fmt.Sprintf("account %s: recorded but untouched by replay", d.Account))
			continue
		}
		if ledger.CanonicalString(got) != d.After {
			report.Mismatches = append(report.Mismatches,
				fmt.Sprintf("account %s: replay %s, recorded %s",
					d.Account, ledger.CanonicalString(got), d.After))
		}
	}

	// The replay must exclude exactly the transactions the run excluded.
	// Serial-fallback batches record a witness order without the excluded
	// transactions, so only recorded exclusions inside the witness count.
	inWitness := make(map[string]bool, len(rec.WitnessOrder))
	for _, id := range rec.WitnessOrder {
		inWitness[id] = true
	}
	gotExcluded := append([]string(nil), trace.ExcludedIDs()...)
	var wantExcluded []string
	for _, id := range rec.ExcludedTxs {
		if inWitness[id] {
			wantExcluded = append(wantExcluded, id)
		}
	}
	sort.Strings(gotExcluded)
	sort.Strings(wantExcluded)
	if strings.Join(gotExcluded, ",") != strings.Join(wantExcluded, ",") {
		report.Mismatches = append(report.Mismatches,
			fmt.Sprintf("excluded set: replay [%s], recorded [%s]",
				strings.Join(gotExcluded, " "), strings.Join(wantExcluded, " ")))
	}

	report.Matched = len(report.Mismatches) == 0

	if err := printReplayReport(f, report); err != nil {
		return err
	}
	if !report.Matched {
		return NewExitError(ExitFailure, fmt.Sprintf("replay of batch %s diverged", rec.ID))
	}
	return nil
}

// replayPreState rebuilds the balances the batch saw before it ran. The
// batch file seeds the baseline; recorded before-balances override it, since
// the durable ledger may have moved between seeding and the recorded run.
// Accounts the batch created are left out so the replay recreates them.
func replayPreState(bf *BatchFile, deltas []store.DeltaRecord, ordered []*tx.Transaction) (*ledger.Working, error) {
	seeds, err := bf.SeedAccounts()
	if err != nil {
		return nil, err
	}
	balances := make(map[string]*apd.Decimal, len(seeds))
	for _, acct := range seeds {
		balances[acct.Key] = acct.Balance
	}

	for _, d := range deltas {
		if d.Created {
			delete(balances, d.Account)
			continue
		}
		before, err := ledger.ParseDecimal(d.Before)
		if err != nil {
			return nil, fmt.Errorf("account %s: malformed recorded balance %q: %w", d.Account, d.Before, err)
		}
		balances[d.Account] = before
	}

	return ledger.NewWorking(ledger.SnapshotOf(balances)), nil
}

func printReplayReport(f *OutputFormatter, report *ReplayReport) error {
	if f.Format == "json" {
		return f.Success(report)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "batch %s replay: ", report.BatchID)
	if report.Matched {
		fmt.Fprintf(&b, "matched\n")
	} else {
		fmt.Fprintf(&b, "DIVERGED\n")
	}
	fmt.Fprintf(&b, "  witness order: %s\n", strings.Join(report.WitnessOrder, " "))
	fmt.Fprintf(&b, "  %d recorded accounts checked", report.Accounts)
	for _, m := range report.Mismatches {
		fmt.Fprintf(&b, "\n  %s", m)
	}
	return f.Success(b.String())
}
