package prefetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkrelay/streamcore/cache"
	"github.com/chunkrelay/streamcore/fetcher"
)

// countingFetch records every (index) it was asked for, simulating the
// fetcher without a real remote store. When cache is set it behaves like the
// real fetcher towards it: a cached index is returned without being counted,
// and a counted fetch inserts its bytes.
type countingFetch struct {
	mu    sync.Mutex
	seen  map[int64]int
	calls int64
	cache *cache.ChunkCache
}

func newCountingFetch() *countingFetch { return &countingFetch{seen: make(map[int64]int)} }

func (f *countingFetch) Fetch(ctx context.Context, req fetcher.Request) ([]byte, error) {
	key := cache.Key{StreamID: req.StreamID, Index: req.Index}
	if f.cache != nil {
		if b, ok := f.cache.Get(key); ok {
			return b, nil
		}
	}
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.seen[req.Index]++
	f.mu.Unlock()
	b := make([]byte, req.RequestSize)
	if f.cache != nil {
		f.cache.Insert(key, b)
	}
	return b, nil
}

func (f *countingFetch) count(index int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[index]
}

// InFlight always reports false: this double has no async fetch path for
// nextChunk's reservation scan to race against.
func (f *countingFetch) InFlight(streamID string, index int64) bool { return false }

func TestWarmUpFetchesHeadAndTail(t *testing.T) {
	f := newCountingFetch()
	c := cache.New(1024 * 1024 * 1024)
	info := StreamInfo{StreamID: "s1", FileSize: 100 * 1024 * 1024} // 100 chunks
	s := NewStream(info, c, f, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 1, f.count(0))
	assert.Equal(t, 1, f.count(99), "final chunk should be part of the tail warm-up")
}

func TestSeekRebuffersWithoutPurging(t *testing.T) {
	f := newCountingFetch()
	c := cache.New(1024 * 1024 * 1024)
	f.cache = c
	info := StreamInfo{StreamID: "s2", FileSize: 1000 * 1024 * 1024}
	s := NewStream(info, c, f, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.SeekTo(context.Background(), 500))
	assert.True(t, c.Contains(cache.Key{StreamID: "s2", Index: 500}))
	assert.True(t, c.Contains(cache.Key{StreamID: "s2", Index: 0}), "seek must not purge chunks warmed before it, only stop_stream does")

	// Re-seeking to an already-warm window must not re-download: Fetch's own
	// cache check short-circuits the burst for every index already cached.
	before := f.count(500)
	require.NoError(t, s.SeekTo(context.Background(), 500))
	assert.Equal(t, before, f.count(500), "seeking back into a warm window must not re-fetch cached chunks")
}

func TestNoDoubleReservationUnderConcurrency(t *testing.T) {
	f := newCountingFetch()
	c := cache.New(1024 * 1024 * 1024)
	info := StreamInfo{StreamID: "s3", FileSize: 10 * 1024 * 1024}
	s := NewStream(info, c, f, nil)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	for i := int64(0); i < info.chunkCount(); i++ {
		assert.LessOrEqual(t, f.count(i), 1, "chunk %d fetched more than once", i)
	}
}
