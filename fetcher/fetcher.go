// Package fetcher implements the Chunk Fetcher: the single path by which a
// chunk's bytes get from the remote store into the Chunk Cache, with
// in-flight de-duplication and bounded retry across session-pool rotation.
package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chunkrelay/streamcore/cache"
	"github.com/chunkrelay/streamcore/common"
	"github.com/chunkrelay/streamcore/remotestore"
	"github.com/chunkrelay/streamcore/sessionpool"
)

// Pool is the subset of *sessionpool.Pool the fetcher needs, named here so
// tests can substitute a narrower fake if ever needed.
type Pool interface {
	Acquire(ctx context.Context, chunkIndex int64) (remotestore.Capability, error)
}

// Fetcher resolves one chunk at a time: cache hit, then in-flight join, then
// a bounded retry loop against the session pool.
type Fetcher struct {
	cache *cache.ChunkCache
	pool  Pool
	group singleflight.Group
	log   common.ILogger

	inFlightMu sync.Mutex
	inFlight   map[string]int
}

func New(c *cache.ChunkCache, pool Pool, log common.ILogger) *Fetcher {
	return &Fetcher{cache: c, pool: pool, log: log, inFlight: make(map[string]int)}
}

// Request carries everything a fetch needs to reach the remote store, since
// the cache key alone (stream_id, index) doesn't carry the document handle.
type Request struct {
	StreamID    string
	Index       int64
	DCID        int
	Handle      remotestore.Handle
	Offset      int64
	FileSize    int64
	RequestSize int
}

// Fetch returns the chunk's bytes, from cache if present, otherwise from the
// remote store, de-duplicating concurrent callers for the same chunk onto a
// single in-flight request.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	key := cache.Key{StreamID: req.StreamID, Index: req.Index}

	if b, ok := f.cache.Get(key); ok {
		return b, nil
	}

	if req.Offset >= req.FileSize {
		return []byte{}, nil
	}

	common.LogChunkWaitReason(common.ChunkID{StreamID: req.StreamID, Index: req.Index}, common.EWaitReason.InFlightDedup())

	groupKey := fmt.Sprintf("%s\x00%d", req.StreamID, req.Index)
	f.markInFlight(groupKey)
	defer f.unmarkInFlight(groupKey)

	v, err, _ := f.group.Do(groupKey, func() (interface{}, error) {
		return f.fetchAndCache(ctx, req, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// InFlight reports whether a chunk has a fetch in progress, for
// next_chunk()'s reservation scan (spec.md §4.4): a chunk already being
// fetched by another caller shouldn't be reserved again.
func (f *Fetcher) InFlight(streamID string, index int64) bool {
	f.inFlightMu.Lock()
	defer f.inFlightMu.Unlock()
	return f.inFlight[fmt.Sprintf("%s\x00%d", streamID, index)] > 0
}

func (f *Fetcher) markInFlight(groupKey string) {
	f.inFlightMu.Lock()
	defer f.inFlightMu.Unlock()
	f.inFlight[groupKey]++
}

func (f *Fetcher) unmarkInFlight(groupKey string) {
	f.inFlightMu.Lock()
	defer f.inFlightMu.Unlock()
	if f.inFlight[groupKey] <= 1 {
		delete(f.inFlight, groupKey)
		return
	}
	f.inFlight[groupKey]--
}

func (f *Fetcher) fetchAndCache(ctx context.Context, req Request, key cache.Key) ([]byte, error) {
	if b, ok := f.cache.Get(key); ok {
		return b, nil
	}

	requestSize := req.RequestSize
	if remaining := req.FileSize - req.Offset; int64(requestSize) > remaining {
		requestSize = int(remaining)
	}

	var lastErr error
	for attempt := 1; attempt <= common.MaxRetries; attempt++ {
		sessionIndex := req.Index + int64(attempt-1)
		common.LogChunkWaitReason(common.ChunkID{StreamID: req.StreamID, Index: req.Index}, common.EWaitReason.SessionAcquire())

		conn, err := f.pool.Acquire(ctx, sessionIndex)
		if err != nil {
			lastErr = err
			f.backoff(ctx, req, attempt)
			continue
		}

		common.LogChunkWaitReason(common.ChunkID{StreamID: req.StreamID, Index: req.Index}, common.EWaitReason.RemoteDownload())
		bytes, err := conn.DownloadChunk(ctx, req.DCID, req.Handle, req.Offset, requestSize)
		if err == nil {
			f.cache.Insert(key, bytes)
			common.LogChunkWaitReason(common.ChunkID{StreamID: req.StreamID, Index: req.Index}, common.EWaitReason.ChunkDone())
			return bytes, nil
		}

		lastErr = err
		if rl, ok := err.(*remotestore.RateLimitError); ok {
			f.waitRateLimit(ctx, req, rl)
			continue
		}

		if !isRetryable(err) {
			break
		}

		f.backoff(ctx, req, attempt)
	}

	wrapped := common.NewClassifiedError(common.ClassSurfacedFetchFailure, "fetcher.Fetch", lastErr)
	if f.log != nil {
		f.log.Log(common.LogError, fmt.Sprintf("chunk fetch exhausted retries: stream=%s index=%d: %v", req.StreamID, req.Index, wrapped))
	}
	return nil, wrapped
}

// isRetryable reports whether a download error is worth another attempt: a
// *ClassifiedError carries an explicit class, otherwise fall back to
// recognizing transient network conditions by shape.
func isRetryable(err error) bool {
	if common.ClassOf(err) != common.ClassFatal {
		return true
	}
	return common.IsRetryableNetworkError(err)
}

// backoff sleeps 200ms * 2^(attempt-1), the fixed schedule from spec.md §4.3.
func (f *Fetcher) backoff(ctx context.Context, req Request, attempt int) {
	delay := time.Duration(common.RetryBaseDelayMs) * time.Millisecond * time.Duration(1<<uint(attempt-1))
	common.LogChunkWaitReason(common.ChunkID{StreamID: req.StreamID, Index: req.Index}, common.EWaitReason.RetryBackoff())
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (f *Fetcher) waitRateLimit(ctx context.Context, req Request, rl *remotestore.RateLimitError) {
	wait := time.Duration(rl.RetryAfterSeconds+common.RateLimitSafetyMargin) * time.Second
	common.LogChunkWaitReason(common.ChunkID{StreamID: req.StreamID, Index: req.Index}, common.EWaitReason.RateLimitWait())
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
