package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRecordAccumulatesTokensAndCost(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	tr.Record("task-1", "gpt-4o-mini", 1000, 500)
	tr.Record("task-1", "gpt-4o-mini", 2000, 1000)

	snap := tr.Snapshot("task-1")
	assert.Equal(t, int64(4500), snap.Tokens)
	assert.Equal(t, int64(2), snap.Calls)
	assert.InDelta(t, CostForSplit("gpt-4o-mini", 3000, 1500), snap.CostUSD, 1e-9)
}

func TestConcurrentIncrementsAreVisible(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Record("task-2", "claude-haiku", 10, 5)
			}
		}()
	}
	wg.Wait()

	snap := tr.Snapshot("task-2")
	assert.Equal(t, int64(16*100*15), snap.Tokens)
	assert.Equal(t, int64(1600), snap.Calls)
}

func TestUnknownModelFallsBackToDefaultPricing(t *testing.T) {
	cost := CostForSplit("some-experimental-model", 1000, 1000)
	assert.Greater(t, cost, 0.0)
}

func TestReleaseResetsTask(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Record("task-3", "gpt-4o", 100, 100)
	tr.Release("task-3")
	assert.Equal(t, int64(0), tr.Snapshot("task-3").Tokens)
}
