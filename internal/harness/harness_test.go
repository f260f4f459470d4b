package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		path := path
		scenario, err := LoadScenario(path)
		require.NoError(t, err, "load %s", path)

		t.Run(scenario.Name, func(t *testing.T) {
			RunWithGolden(t, scenario)
		})
	}
}

func TestRun_ReportsExpectationFailures(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong-expectation",
		Description: "deliberately wrong expected balance",
		Accounts:    map[string]string{"a": "100", "b": "0"},
		Transactions: []TxSpec{
			{ID: "t1", Kind: KindTransfer, From: "a", To: "b", Amount: "10"},
		},
		Expect: Expect{
			Status:   "committed",
			Balances: map[string]string{"b": "999"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "balance b")
}

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: has a typo'd key
accounts:
  a: "1"
transactions:
  - id: t1
    kind: credit
    to: a
    amount: "1"
expectt:
  status: committed
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestLoadScenario_RejectsDuplicateIDs(t *testing.T) {
	path := writeScenario(t, `
name: dup
description: two transactions share an id
accounts:
  a: "1"
transactions:
  - id: t1
    kind: credit
    to: a
    amount: "1"
  - id: t1
    kind: credit
    to: a
    amount: "2"
expect:
  status: committed
`)
	_, err := LoadScenario(path)
	require.ErrorContains(t, err, "duplicate id")
}

func TestLoadScenario_RejectsUnknownKind(t *testing.T) {
	path := writeScenario(t, `
name: badkind
description: unknown transaction kind
accounts:
  a: "1"
transactions:
  - id: t1
    kind: teleport
    to: a
    amount: "1"
expect:
  status: committed
`)
	_, err := LoadScenario(path)
	require.ErrorContains(t, err, "unknown kind")
}

func TestLoadScenario_RequiresStatus(t *testing.T) {
	path := writeScenario(t, `
name: nostatus
description: expect clause without status
accounts:
  a: "1"
transactions:
  - id: t1
    kind: credit
    to: a
    amount: "1"
expect:
  balances:
    a: "2"
`)
	_, err := LoadScenario(path)
	require.ErrorContains(t, err, "expect.status")
}
