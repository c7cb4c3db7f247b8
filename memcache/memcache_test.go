package memcache

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet_HitAndMiss(t *testing.T) {
	c := New(1 << 20)

	_, ok := c.Get("k1", nil)
	assert.False(t, ok)

	ok2, err := c.Set("k1", "v1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok2)

	v, ok := c.Get("k1", nil)
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.PerKey["k1"].Hits)
	assert.Equal(t, int64(1), stats.PerKey["k1"].Misses)
}

func TestTTL_ExpiresAndReportsMiss(t *testing.T) {
	mock := clock.NewMock()
	c := NewWithClock(1<<20, mock)

	_, err := c.Set("k1", "v1", time.Minute)
	require.NoError(t, err)

	mock.Add(30 * time.Second)
	v, ok := c.Get("k1", nil)
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	mock.Add(31 * time.Second)
	var lastKind AccessKind
	_, ok = c.Get("k1", func(_ string, kind AccessKind) { lastKind = kind })
	assert.False(t, ok)
	assert.Equal(t, MissExpired, lastKind)

	assert.Equal(t, 0, c.Stats().Entries)
}

// TestEvictionOrder mirrors scenario S2: A and B are inserted 10ms apart and
// A then earns one hit, so B holds the lowest score (insertion ms + hits*1000)
// and is the one evicted when C needs room.
func TestEvictionOrder(t *testing.T) {
	mock := clock.NewMock()

	// Matches sizeest.Estimate for a string: 48 container overhead + 16
	// string header + its length.
	sizeOf := func(v string) int64 { return int64(len(v)) + 16 + 48 }
	aSize := sizeOf("aaaaaaaaaa")
	bSize := sizeOf("bbbbbbbbbb")

	c := NewWithClock(aSize+bSize, mock)

	_, err := c.Set("A", "aaaaaaaaaa", time.Hour)
	require.NoError(t, err)

	// A small gap (far less than the 1000ms a single hit is worth) keeps
	// B's insertion-time component small relative to A's post-hit score.
	mock.Add(10 * time.Millisecond)
	_, err = c.Set("B", "bbbbbbbbbb", time.Hour)
	require.NoError(t, err)

	mock.Add(10 * time.Millisecond)
	_, ok := c.Get("A", nil) // A.hits = 1, score jumps by 1000
	require.True(t, ok)

	cSize := aSize
	_, err = c.Set("C", "cccccccccc", time.Hour)
	require.NoError(t, err)
	_ = cSize

	_, ok = c.Get("B", nil)
	assert.False(t, ok, "B should have been evicted")

	_, ok = c.Get("A", nil)
	assert.True(t, ok, "A should remain")

	_, ok = c.Get("C", nil)
	assert.True(t, ok, "C should be present")
}

func TestEvictionOrder_HitsBreakTie(t *testing.T) {
	mock := clock.NewMock()
	entrySize := int64(len("x")) + 16 + 48 // sizeest.Estimate of a 1-byte string
	c := NewWithClock(2*entrySize, mock)
	_, err := c.Set("A", "x", time.Hour)
	require.NoError(t, err)
	_, err = c.Set("B", "y", time.Hour)
	require.NoError(t, err)

	// A and B share the same insertion time; A gets more hits than B.
	for i := 0; i < 3; i++ {
		_, _ = c.Get("A", nil)
	}

	stats := c.Stats()
	assert.Greater(t, stats.PerKey["A"].Hits, stats.PerKey["B"].Hits)

	_, err = c.Set("C", "z", time.Hour)
	require.NoError(t, err)
	_, ok := c.Get("B", nil)
	assert.False(t, ok, "B (fewer hits) should be evicted first")
	_, ok = c.Get("A", nil)
	assert.True(t, ok, "A (more hits) should remain")
}

func TestInvalidatePattern(t *testing.T) {
	c := New(1 << 20)
	_, _ = c.Set("flow:c1", "v1", time.Hour)
	_, _ = c.Set("flow:c2", "v2", time.Hour)
	_, _ = c.Set("productivity:c1", "v3", time.Hour)

	n := c.InvalidatePattern("flow:")
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestSet_OversizedArtifactRejected(t *testing.T) {
	c := New(10)
	ok, err := c.Set("huge", "this value is definitely larger than ten bytes", time.Hour)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestCacheAccounting_Invariant(t *testing.T) {
	c := New(1000)
	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26))
		_, _ = c.Set(key, "some-value", time.Hour)
		stats := c.Stats()
		assert.LessOrEqual(t, stats.Bytes, int64(1000))
		assert.Equal(t, c.CurrentBytes(), stats.Bytes)
	}
}
