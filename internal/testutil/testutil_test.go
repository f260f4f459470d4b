package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_MonotonicAndResettable(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ConcurrentNextIsUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	seen := make(chan int64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seen <- clock.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for v := range seen {
		assert.False(t, unique[v], "sequence %d issued twice", v)
		unique[v] = true
	}
	assert.Len(t, unique, goroutines*calls)
}

func TestIDGen_Sequential(t *testing.T) {
	gen := NewIDGen("tx")
	assert.Equal(t, "tx-1", gen.Next())
	assert.Equal(t, "tx-2", gen.Next())
	assert.Equal(t, "tx-3", gen.Next())
	assert.Equal(t, 3, gen.Count())
}
