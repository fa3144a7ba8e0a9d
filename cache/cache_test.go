package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndGetRoundTrip(t *testing.T) {
	c := New(10 * 1024 * 1024)
	key := Key{StreamID: "s1", Index: 0}
	payload := []byte("hello chunk")

	c.Insert(key, payload)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestBudgetInvariantNeverExceeded(t *testing.T) {
	const maxBytes = 5 * 1024 * 1024
	c := New(maxBytes)

	chunk := make([]byte, 1024*1024)
	for i := int64(0); i < 20; i++ {
		c.Insert(Key{StreamID: "s1", Index: i}, chunk)
		assert.LessOrEqual(t, c.UsedBytes(), int64(maxBytes))
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	const maxBytes = 3 * 1024 * 1024
	c := New(maxBytes)
	chunk := make([]byte, 1024*1024)

	c.Insert(Key{StreamID: "s1", Index: 0}, chunk)
	c.Insert(Key{StreamID: "s1", Index: 1}, chunk)
	c.Insert(Key{StreamID: "s1", Index: 2}, chunk)

	// Touch index 0 so it becomes most-recent; index 1 is now least-recent.
	_, ok := c.Get(Key{StreamID: "s1", Index: 0})
	require.True(t, ok)

	// Inserting a 4th chunk must evict exactly the least-recently-used entry (index 1).
	c.Insert(Key{StreamID: "s1", Index: 3}, chunk)

	assert.True(t, c.Contains(Key{StreamID: "s1", Index: 0}))
	assert.False(t, c.Contains(Key{StreamID: "s1", Index: 1}), "least-recently-used entry should have been evicted")
	assert.True(t, c.Contains(Key{StreamID: "s1", Index: 2}))
	assert.True(t, c.Contains(Key{StreamID: "s1", Index: 3}))
}

func TestDeletePrefixRemovesOnlyThatStream(t *testing.T) {
	c := New(10 * 1024 * 1024)
	chunk := make([]byte, 1024)

	c.Insert(Key{StreamID: "s1", Index: 0}, chunk)
	c.Insert(Key{StreamID: "s1", Index: 1}, chunk)
	c.Insert(Key{StreamID: "s2", Index: 0}, chunk)

	c.DeletePrefix("s1")

	assert.False(t, c.Contains(Key{StreamID: "s1", Index: 0}))
	assert.False(t, c.Contains(Key{StreamID: "s1", Index: 1}))
	assert.True(t, c.Contains(Key{StreamID: "s2", Index: 0}))
}

func TestOversizeEntryRejected(t *testing.T) {
	c := New(1024)
	c.Insert(Key{StreamID: "s1", Index: 0}, make([]byte, 2048))
	assert.False(t, c.Contains(Key{StreamID: "s1", Index: 0}))
	assert.EqualValues(t, 0, c.UsedBytes())
}

func TestClearEmptiesCache(t *testing.T) {
	c := New(10 * 1024 * 1024)
	c.Insert(Key{StreamID: "s1", Index: 0}, make([]byte, 1024))
	c.Clear()
	assert.EqualValues(t, 0, c.UsedBytes())
	assert.False(t, c.Contains(Key{StreamID: "s1", Index: 0}))
}
