package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diotec-barros/diotec360-sub006/internal/batch"
	"github.com/diotec-barros/diotec360-sub006/internal/config"
	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	ConfigPath string
	Workers    int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <batch-file>",
		Short: "Execute a batch file against the ledger",
		Long: `Execute a declarative YAML batch against the ledger.

The batch runs through the full pipeline: dependency analysis, parallel
execution, linearizability and conservation proofs, then an atomic commit.
With --db, the ledger is loaded from and persisted to a SQLite database and
the batch result is appended to the audit log.

Example:
  diotec360 run --db ./ledger.db ./batch.yaml
  diotec360 run ./batch.yaml --workers 8 --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (omit for in-memory run)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker pool size (0 = config default)")

	return cmd
}

func runBatch(opts *RunOptions, batchPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}

	bf, err := LoadBatchFile(batchPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load batch file", err)
	}
	txs, err := bf.BuildTransactions()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transactions", err)
	}
	seeds, err := bf.SeedAccounts()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to parse seed accounts", err)
	}

	arena := ledger.NewArena()
	arena.Seed(seeds)

	procOpts := []batch.Option{batch.WithConfig(cfg)}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()

		// Stored balances win over batch-file seeds.
		stored, err := st.LoadAccounts(cmd.Context())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load ledger", err)
		}
		arena.Seed(stored)
		f.VerboseLog("loaded %d accounts from %s", len(stored), opts.Database)

		procOpts = append(procOpts, batch.WithPersister(st))
	}

	p := batch.NewProcessor(arena, procOpts...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, execErr := p.ExecuteBatch(ctx, txs)
	if res == nil {
		return WrapExitError(ExitFailure, "batch execution failed", execErr)
	}

	if st != nil {
		if err := st.SaveBatch(ctx, res); err != nil {
			return WrapExitError(ExitCommandError, "failed to record batch", err)
		}
	}

	if err := printBatchResult(f, res); err != nil {
		return err
	}
	if res.Status == batch.StatusRolledBack {
		return NewExitError(ExitFailure, res.Explanation)
	}
	return nil
}

// printBatchResult renders a batch result in the configured format.
func printBatchResult(f *OutputFormatter, res *batch.BatchResult) error {
	if f.Format == "json" {
		return f.Success(res)
	}

	p := f.Printer()
	var b strings.Builder
	fmt.Fprintf(&b, "batch %s: %s\n", res.BatchID, res.Status)
	fmt.Fprintf(&b, "  %s\n", res.Explanation)
	fmt.Fprintf(&b, "  linearizability proved: %t, conservation proved: %t\n",
		res.LinearizabilityProved, res.ConservationProved)
	if len(res.WitnessOrder) > 0 {
		fmt.Fprintf(&b, "  witness order: %s\n", strings.Join(res.WitnessOrder, " "))
	}
	if len(res.ExcludedTxs) > 0 {
		fmt.Fprintf(&b, "  excluded: %s\n", strings.Join(res.ExcludedTxs, " "))
	}
	for _, d := range res.Deltas {
		if d.Created {
			fmt.Fprintf(&b, "  %s: (new) -> %s\n", d.Account, p.Sprintf("%v", ledger.CanonicalString(d.After)))
			continue
		}
		fmt.Fprintf(&b, "  %s: %s -> %s\n", d.Account,
			ledger.CanonicalString(d.Before), ledger.CanonicalString(d.After))
	}
	fmt.Fprintf(&b, "  state hash: %s\n", res.StateHash)
	fmt.Fprintf(&b, "  %s", p.Sprintf("%d transactions, %d excluded, parallelism %.1f, wall time %v",
		res.Metrics.Transactions, res.Metrics.Excluded, res.Metrics.Parallelism, res.Metrics.WallTime))

	return f.Success(b.String())
}

// setupLogging configures the default slog handler from the verbose flag.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
