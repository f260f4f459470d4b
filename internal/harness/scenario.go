package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one declarative batch test: initial balances, the
// transactions to submit, and the expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario; it is also the golden file
	// name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Accounts holds the initial balances as decimal strings.
	Accounts map[string]string `yaml:"accounts"`

	// Transactions is the batch, in submission order.
	Transactions []TxSpec `yaml:"transactions"`

	// Expect is the outcome to assert.
	Expect Expect `yaml:"expect"`
}

// TxSpec is one declarative transaction. Kind selects the builder shape.
type TxSpec struct {
	ID string `yaml:"id"`

	// Kind is one of "transfer", "mint", "burn", or "credit" (an unguarded
	// credit with no mint declaration, used to provoke conservation
	// violations).
	Kind string `yaml:"kind"`

	From   string `yaml:"from,omitempty"`
	To     string `yaml:"to,omitempty"`
	Amount string `yaml:"amount"`

	// After lists IDs this transaction declares it must follow.
	After []string `yaml:"after,omitempty"`
}

// Transaction kinds.
const (
	KindTransfer = "transfer"
	KindMint     = "mint"
	KindBurn     = "burn"
	KindCredit   = "credit"
)

// Expect is the asserted outcome of a scenario.
type Expect struct {
	// Status is the expected batch status: committed, fallback_serial, or
	// rolled_back.
	Status string `yaml:"status"`

	// ErrorCode is the expected coded error for rolled-back batches.
	ErrorCode string `yaml:"error_code,omitempty"`

	// Balances are the expected final balances. Subset match - only listed
	// accounts are checked.
	Balances map[string]string `yaml:"balances,omitempty"`

	// Excluded lists the transactions expected to be dropped by guard
	// failures. Exact match.
	Excluded []string `yaml:"excluded,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and consistent.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Transactions))
	for i, spec := range s.Transactions {
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
		case KindTransfer:
			if spec.From == "" || spec.To == "" {
				return fmt.Errorf("transactions[%d]: transfer requires from and to", i)
			}
		case KindMint, KindCredit:
			if spec.To == "" {
				return fmt.Errorf("transactions[%d]: %s requires to", i, spec.Kind)
			}
		case KindBurn:
			if spec.From == "" {
				return fmt.Errorf("transactions[%d]: burn requires from", i)
			}
		default:
			return fmt.Errorf("transactions[%d]: unknown kind %q", i, spec.Kind)
		}
	}

	switch s.Expect.Status {
	case "committed", "fallback_serial", "rolled_back":
	case "":
		return fmt.Errorf("expect.status is required")
	default:
		return fmt.Errorf("expect.status must be committed, fallback_serial, or rolled_back, got %q", s.Expect.Status)
	}

	return nil
}
