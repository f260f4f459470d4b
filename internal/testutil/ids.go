package testutil

import (
	"fmt"
	"sync"
)

// IDGen produces sequential, deterministic identifiers ("tx-1", "tx-2", ...)
// so tests never depend on random UUIDs.
type IDGen struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDGen creates a generator with the given prefix.
func NewIDGen(prefix string) *IDGen {
	return &IDGen{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGen) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Count returns how many identifiers have been issued.
func (g *IDGen) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
