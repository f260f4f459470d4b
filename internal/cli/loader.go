package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/diotec-barros/diotec360-sub006/internal/ledger"
	"github.com/diotec-barros/diotec360-sub006/internal/tx"
)

// BatchFile is the declarative batch format. It is semantically identical
// to programmatic submission: the loader produces the same Transaction list
// the engine API takes.
type BatchFile struct {
	// Accounts seeds balances before the batch runs. Existing ledger
	// accounts keep their stored balance; entries here only fill gaps.
	Accounts map[string]string `yaml:"accounts,omitempty"`

	// Transactions is the batch, in submission order.
	Transactions []TxSpec `yaml:"transactions"`
}

// TxSpec is one declarative transaction.
type TxSpec struct {
	ID string `yaml:"id"`

	// Kind is one of "transfer", "mint", or "burn".
	Kind string `yaml:"kind"`

	From   string `yaml:"from,omitempty"`
	To     string `yaml:"to,omitempty"`
	Amount string `yaml:"amount"`

	// After lists IDs this transaction declares it must follow.
	After []string `yaml:"after,omitempty"`
}

// LoadBatchFile reads and parses a batch YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var bf BatchFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&bf); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateBatchFile(&bf); err != nil {
		return nil, fmt.Errorf("invalid batch file: %w", err)
	}
	return &bf, nil
}

// SeedAccounts parses the batch file's account seeds.
func (bf *BatchFile) SeedAccounts() ([]ledger.Account, error) {
	accounts := make([]ledger.Account, 0, len(bf.Accounts))
	for key, bal := range bf.Accounts {
		parsed, err := ledger.ParseDecimal(bal)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", key, err)
		}
		accounts = append(accounts, ledger.Account{Key: key, Balance: parsed})
	}
	return accounts, nil
}

// BuildTransactions turns the declarative specs into engine transactions.
func (bf *BatchFile) BuildTransactions() ([]*tx.Transaction, error) {
	txs := make([]*tx.Transaction, 0, len(bf.Transactions))
	for i, spec := range bf.Transactions {
		amount, err := ledger.ParseDecimal(spec.Amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: amount: %w", spec.ID, err)
		}

		var txn *tx.Transaction
		switch spec.Kind {
		case "transfer":
			txn = tx.Transfer(spec.ID, i, spec.From, spec.To, amount)
		case "mint":
			txn = tx.Mint(spec.ID, i, spec.To, amount)
		case "burn":
			txn = tx.Burn(spec.ID, i, spec.From, amount)
		default:
			return nil, fmt.Errorf("transaction %s: unknown kind %q", spec.ID, spec.Kind)
		}
		txn.After = append(txn.After, spec.After...)
		txs = append(txs, txn)
	}
	return txs, nil
}

func validateBatchFile(bf *BatchFile) error {
	if len(bf.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(bf.Transactions))
	for i, spec := range bf.Transactions {
		if spec.ID == "" {
			return fmt.Errorf("transactions[%d]: id is required", i)
		}
		if seen[spec.ID] {
			return fmt.Errorf("transactions[%d]: duplicate id %q", i, spec.ID)
		}
		seen[spec.ID] = true
		if spec.Amount == "" {
			return fmt.Errorf("transactions[%d]: amount is required", i)
		}

		switch spec.Kind {
		case "transfer":
			if spec.From == "" || spec.To == "" {
				return fmt.Errorf("transactions[%d]: transfer requires from and to", i)
			}
		case "mint":
			if spec.To == "" {
				return fmt.Errorf("transactions[%d]: mint requires to", i)
			}
		case "burn":
			if spec.From == "" {
				return fmt.Errorf("transactions[%d]: burn requires from", i)
			}
		default:
			return fmt.Errorf("transactions[%d]: unknown kind %q", i, spec.Kind)
		}
	}

	for _, bal := range bf.Accounts {
		if _, err := ledger.ParseDecimal(bal); err != nil {
			return fmt.Errorf("account balance %q: %w", bal, err)
		}
	}
	return nil
}
