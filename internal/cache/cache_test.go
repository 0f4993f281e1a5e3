package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/captionmux/pkg/types"
)

func result(caption string) *types.GenerationResult {
	return &types.GenerationResult{
		BaseCaption: caption,
		Variants: []types.CaptionVariant{
			{Text: caption + ", reborn", Style: types.StyleCreative},
			{Text: caption + "!", Style: types.StyleDramatic},
			{Text: caption + "?", Style: types.StyleQuirky},
		},
		GenerationTimeMs: 1200,
	}
}

func TestResultCache_RoundTrip(t *testing.T) {
	c := New(DefaultConfig())

	want := result("A beautiful sunset over the ocean")
	c.Set("fp1", want)

	got := c.Get("fp1")
	require.NotNil(t, got)
	assert.Equal(t, want, got)

	assert.Nil(t, c.Get("unset"))
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: 30 * time.Millisecond})

	c.Set("fp", result("caption"))
	require.NotNil(t, c.Get("fp"))

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, c.Get("fp"), "expired entries miss")
	assert.Equal(t, 0, c.Len(), "expired entries are evicted on touch")
}

func TestResultCache_AccessDoesNotExtendTTL(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: 40 * time.Millisecond})

	c.Set("fp", result("caption"))
	time.Sleep(25 * time.Millisecond)
	require.NotNil(t, c.Get("fp"))

	time.Sleep(25 * time.Millisecond)
	assert.Nil(t, c.Get("fp"), "TTL is measured from creation, not last access")
}

func TestResultCache_LRUEviction(t *testing.T) {
	c := New(Config{MaxSize: 3, TTL: time.Hour})

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("fp%d", i), result(fmt.Sprintf("caption %d", i)))
		time.Sleep(time.Millisecond)
	}

	// Touch fp0 so fp1 becomes the least recently accessed.
	require.NotNil(t, c.Get("fp0"))
	time.Sleep(time.Millisecond)

	c.Set("fp3", result("caption 3"))

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Has("fp0"), "recently read entry survives")
	assert.False(t, c.Has("fp1"), "least recently accessed entry is evicted")
	assert.True(t, c.Has("fp2"))
	assert.True(t, c.Has("fp3"))
}

func TestResultCache_HasDoesNotRefreshLRU(t *testing.T) {
	c := New(Config{MaxSize: 2, TTL: time.Hour})

	c.Set("fp0", result("caption 0"))
	time.Sleep(time.Millisecond)
	c.Set("fp1", result("caption 1"))
	time.Sleep(time.Millisecond)

	// Has must not count as use, so fp0 stays the eviction candidate.
	require.True(t, c.Has("fp0"))
	c.Set("fp2", result("caption 2"))

	assert.False(t, c.Has("fp0"))
	assert.True(t, c.Has("fp1"))
	assert.True(t, c.Has("fp2"))
}

func TestResultCache_OverwriteSameKeyKeepsSize(t *testing.T) {
	c := New(Config{MaxSize: 2, TTL: time.Hour})

	c.Set("fp", result("first"))
	c.Set("fp", result("second"))

	assert.Equal(t, 1, c.Len())
	got := c.Get("fp")
	require.NotNil(t, got)
	assert.Equal(t, "second", got.BaseCaption)
}

func TestResultCache_PruneAndClear(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: 20 * time.Millisecond})

	c.Set("old", result("old"))
	time.Sleep(30 * time.Millisecond)
	c.Set("fresh", result("fresh"))

	c.Prune()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Has("fresh"))

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestResultCache_Stats(t *testing.T) {
	c := New(DefaultConfig())

	c.Set("fp", result("caption"))
	c.Get("fp")
	c.Get("fp")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}
