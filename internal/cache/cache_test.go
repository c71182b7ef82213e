package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorhome/anchor/pkg/models"
)

func TestKeyIsDeterministic(t *testing.T) {
	k1, err := Key("document", "classify this letter", models.TaskOptions{MaxTokens: 100})
	require.NoError(t, err)
	k2, err := Key("document", "classify this letter", models.TaskOptions{MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := Key("document", "classify another letter", models.TaskOptions{MaxTokens: 100})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestGetSetRoundTrip(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	_, ok := c.GetResult(ctx, "missing")
	assert.False(t, ok)

	want := &models.ModelResult{Data: "classified: denial letter", Confidence: 0.9, ModelName: "m1", Success: true}
	c.SetResult(ctx, "k1", want)

	got, ok := c.GetResult(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, want.Data, got.Data)
	assert.Equal(t, want.Confidence, got.Confidence)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestDisabledCacheIsInert(t *testing.T) {
	c := New(&Config{Enabled: false}, nil)
	ctx := context.Background()

	c.SetResult(ctx, "k1", &models.ModelResult{Data: "x"})
	_, ok := c.GetResult(ctx, "k1")
	assert.False(t, ok)
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	_, ok := c.GetResult(context.Background(), "k1")
	assert.False(t, ok)
	c.SetResult(context.Background(), "k1", &models.ModelResult{Data: "x"})
}

func TestEntriesExpire(t *testing.T) {
	c := New(&Config{Enabled: true, DefaultTTL: 10 * time.Millisecond, MaxSize: 10}, nil)
	ctx := context.Background()

	c.SetResult(ctx, "k1", &models.ModelResult{Data: "fresh"})
	_, ok := c.GetResult(ctx, "k1")
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)
	_, ok = c.GetResult(ctx, "k1")
	assert.False(t, ok)
}

func TestMaxSizeEvicts(t *testing.T) {
	cfg := &Config{Enabled: true, DefaultTTL: time.Hour, MaxSize: 2}
	b := newMemoryBackend(cfg)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, b.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, b.Set(ctx, "c", []byte("3"), time.Hour))

	// "a" had the nearest expiry and is evicted first.
	_, ok := b.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = b.Get(ctx, "b")
	assert.True(t, ok)
	_, ok = b.Get(ctx, "c")
	assert.True(t, ok)
}
