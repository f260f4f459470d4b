package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/apd/v3"
)

// Working is the batch-private overlay on the pre-batch snapshot. Parallel
// workers never touch it directly: each transaction executes against an
// isolated View, and the executor merges the surviving writes back in a
// single Merge call per layer.
type Working struct {
	base *Snapshot

	mu    sync.Mutex
	dirty map[string]*apd.Decimal
}

// NewWorking creates a working overlay on the given snapshot.
func NewWorking(base *Snapshot) *Working {
	return &Working{
		base:  base,
		dirty: make(map[string]*apd.Decimal),
	}
}

// Balance returns the current working value: overlay first, then snapshot,
// then zero for accounts that do not exist yet.
func (w *Working) Balance(key string) *apd.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balanceLocked(key)
}

func (w *Working) balanceLocked(key string) *apd.Decimal {
	if v, ok := w.dirty[key]; ok {
		out := new(apd.Decimal)
		out.Set(v)
		return out
	}
	return w.base.Balance(key)
}

// View captures an isolated read surface over exactly the declared accounts.
// The copy is taken eagerly, so sibling merges cannot leak into a
// transaction that is still running.
func (w *Working) View(accounts []string) *View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := &View{values: make(map[string]*apd.Decimal, len(accounts))}
	for _, k := range accounts {
		v.values[k] = w.balanceLocked(k)
	}
	return v
}

// Merge applies a set of writes in one finalization step.
func (w *Working) Merge(writes []Write) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, wr := range writes {
		val := new(apd.Decimal)
		val.Set(wr.Value)
		w.dirty[wr.Account] = val
	}
}

// Reset discards every uncommitted write. Used when the pipeline abandons
// the parallel attempt and falls back to serial execution.
func (w *Working) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = make(map[string]*apd.Decimal)
}

// Writes returns the accumulated writes, sorted by account, ready for the
// commit manager's single apply step.
func (w *Working) Writes() []Write {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]string, 0, len(w.dirty))
	for k := range w.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writes := make([]Write, 0, len(keys))
	for _, k := range keys {
		val := new(apd.Decimal)
		val.Set(w.dirty[k])
		writes = append(writes, Write{Account: k, Value: val})
	}
	return writes
}

// Final returns the final balance of every account the batch touched:
// written accounts at their written value, read-only accounts at their
// snapshot value.
func (w *Working) Final(touched []string) map[string]*apd.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]*apd.Decimal, len(touched))
	for _, k := range touched {
		out[k] = w.balanceLocked(k)
	}
	return out
}

// View is a per-transaction read surface restricted to declared accounts.
// Not safe for concurrent use; each transaction owns its own view.
type View struct {
	values map[string]*apd.Decimal
}

// ViewOf builds a view from explicit balances. Used by the provers when
// re-executing a hypothesized serial order.
func ViewOf(values map[string]*apd.Decimal) *View {
	v := &View{values: make(map[string]*apd.Decimal, len(values))}
	for k, val := range values {
		c := new(apd.Decimal)
		c.Set(val)
		v.values[k] = c
	}
	return v
}

// Balance returns the balance of a declared account. Reading an account the
// transaction did not declare is a hard error: the dependency analysis is
// only sound if declared sets cover actual access.
func (v *View) Balance(account string) (*apd.Decimal, error) {
	val, ok := v.values[account]
	if !ok {
		return nil, fmt.Errorf("account %q not in declared read/write set", account)
	}
	out := new(apd.Decimal)
	out.Set(val)
	return out, nil
}

// Clone returns an independent copy of the view.
func (v *View) Clone() *View {
	out := &View{values: make(map[string]*apd.Decimal, len(v.values))}
	for k, val := range v.values {
		c := new(apd.Decimal)
		c.Set(val)
		out.values[k] = c
	}
	return out
}

// Set overwrites a value in the view. Used to build post-state views when
// evaluating verify predicates.
func (v *View) Set(account string, value *apd.Decimal) {
	c := new(apd.Decimal)
	c.Set(value)
	v.values[account] = c
}
