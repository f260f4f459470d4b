package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/store"
)

// AccountsOptions holds flags for the accounts command.
type AccountsOptions struct {
	*RootOptions
	Database string
	Batches  int
}

// AccountEntry is one row of the accounts listing.
type AccountEntry struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
	Version int64  `json:"version"`
}

// AccountsReport is the accounts command output.
type AccountsReport struct {
	Accounts []AccountEntry       `json:"accounts"`
	Batches  []*store.BatchRecord `json:"batches,omitempty"`
}

// NewAccountsCommand creates the accounts command.
func NewAccountsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List committed accounts in a ledger database",
		Long: `List every account in the durable ledger with its committed balance
and version. With --batches N, also show the N most recent entries of the
batch audit log.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccounts(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (required)")
	cmd.Flags().IntVar(&opts.Batches, "batches", 0, "also list the N most recent batches")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runAccounts(opts *AccountsOptions, cmd *cobra.Command) error {
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
	accounts, err := st.LoadAccounts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load accounts", err)
	}

	report := &AccountsReport{Accounts: make([]AccountEntry, 0, len(accounts))}
	for _, acct := range accounts {
		report.Accounts = append(report.Accounts, AccountEntry{
			Account: acct.Key,
			Balance: ledger.CanonicalString(acct.Balance),
			Version: acct.Version,
		})
	}

	if opts.Batches > 0 {
		batches, err := st.ListBatches(ctx, opts.Batches)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list batches", err)
		}
		report.Batches = batches
	}

	if f.Format == "json" {
		return f.Success(report)
	}

	p := f.Printer()
	var b strings.Builder
	if len(report.Accounts) == 0 {
		b.WriteString("no accounts")
	}
	for _, e := range report.Accounts {
		fmt.Fprintf(&b, "%-24s %20s  v%d\n", e.Account, e.Balance, e.Version)
	}
	for _, rec := range report.Batches {
		fmt.Fprintf(&b, "%s\n", p.Sprintf("batch %s  %s  %d txs  %s",
			rec.ID, rec.Status, rec.Transactions, rec.CreatedAt))
	}
	return f.Success(strings.TrimRight(b.String(), "\n"))
}
