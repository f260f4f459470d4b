package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diotec-barros/diotec360-sub006/internal/depgraph"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// ValidationReport summarizes static analysis of a batch file.
type ValidationReport struct {
	Transactions int        `json:"transactions"`
	Edges        int        `json:"edges"`
	Layers       [][]string `json:"layers"`
	Parallelism  float64    `json:"parallelism"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <batch-file>",
		Short: "Check a batch file without executing it",
		Long: `Parse a batch file, derive its dependency graph, and layer it.

Nothing executes and no ledger is touched. The command reports the schedule
the engine would attempt: dependency edges, layers, and the theoretical
parallelism. Declared orderings that form a cycle are reported as an error,
exactly as the engine would reject them at run time.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	bf, err := LoadBatchFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load batch file", err)
	}
	txs, err := bf.BuildTransactions()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transactions", err)
	}

	edges := depgraph.Analyze(txs)
	layers, err := depgraph.Build(txs, edges).Layers()
	if err != nil {
		if f.Format == "json" {
			_ = f.Error("CIRCULAR_DEPENDENCY", err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "batch is not schedulable", err)
	}

	report := &ValidationReport{
		Transactions: len(txs),
		Edges:        len(edges),
		Layers:       make([][]string, len(layers)),
		Parallelism:  float64(len(txs)) / float64(len(layers)),
	}
	for i, layer := range layers {
		report.Layers[i] = tx.IDs(layer)
	}

	if f.Format == "json" {
		return f.Success(report)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: ok\n", path)
	fmt.Fprintf(&b, "  %d transactions, %d dependency edges, %d layers, parallelism %.1f\n",
		report.Transactions, report.Edges, len(report.Layers), report.Parallelism)
	for i, ids := range report.Layers {
		fmt.Fprintf(&b, "  layer %d: %s\n", i, strings.Join(ids, " "))
	}
	return f.Success(strings.TrimRight(b.String(), "\n"))
}
