package embeddings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalLRUEvictsOldest(t *testing.T) {
	lru := NewLocalLRU(2)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)
	lru.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok := lru.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted")
	if v, ok := lru.Get(ctx, "c"); assert.True(t, ok) {
		assert.Equal(t, []float32{3}, v)
	}
}

func TestLocalLRUExpiry(t *testing.T) {
	lru := NewLocalLRU(4)
	ctx := context.Background()
	lru.Set(ctx, "k", []float32{1}, -time.Second)
	_, ok := lru.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity(nil, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestMakeKeyIsStablePerModelAndText(t *testing.T) {
	assert.Equal(t, MakeKey("m", "text"), MakeKey("m", "text"))
	assert.NotEqual(t, MakeKey("m1", "text"), MakeKey("m2", "text"))
}
