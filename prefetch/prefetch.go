// Package prefetch implements the Prefetch Engine: a pool of worker
// goroutines per stream that keep a window of chunks ahead of playback warm
// in the Chunk Cache, and that reset cleanly on a seek.
package prefetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chunkrelay/streamcore/cache"
	"github.com/chunkrelay/streamcore/common"
	"github.com/chunkrelay/streamcore/fetcher"
	"github.com/chunkrelay/streamcore/remotestore"
)

// Fetch is the subset of *fetcher.Fetcher a stream needs.
type Fetch interface {
	Fetch(ctx context.Context, req fetcher.Request) ([]byte, error)
	InFlight(streamID string, index int64) bool
}

// StreamInfo is the static metadata a stream's workers need on every fetch.
type StreamInfo struct {
	StreamID string
	DCID     int
	Handle   remotestore.Handle
	FileSize int64
}

func (s StreamInfo) chunkCount() int64 {
	if s.FileSize == 0 {
		return 0
	}
	n := s.FileSize / common.ChunkSize
	if s.FileSize%common.ChunkSize != 0 {
		n++
	}
	return n
}

func (s StreamInfo) requestFor(index int64) fetcher.Request {
	return fetcher.Request{
		StreamID:    s.StreamID,
		Index:       index,
		DCID:        s.DCID,
		Handle:      s.Handle,
		Offset:      index * common.ChunkSize,
		FileSize:    s.FileSize,
		RequestSize: common.ChunkSize,
	}
}

// Stream holds one stream's prefetch state: the cursor advancing ahead of
// playback and the worker pool reserving chunks off it under the same lock
// a seek uses to reset both.
type Stream struct {
	info   StreamInfo
	cache  *cache.ChunkCache
	fetch  Fetch
	logger common.ILogger

	mu             sync.Mutex
	cursor         int64
	playbackChunk  int64
	seekGeneration int64
	running        bool
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewStream builds a stream bound to info, cache and fetcher, not yet
// started.
func NewStream(info StreamInfo, c *cache.ChunkCache, f Fetch, logger common.ILogger) *Stream {
	return &Stream{info: info, cache: c, fetch: f, logger: logger}
}

// Start launches ParallelWorkers workers and performs the initial warm-up:
// the head PrefetchChunks chunks plus the final TailChunks chunks, fetched
// concurrently via an errgroup before Start returns.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.cursor = 0
	s.playbackChunk = 0
	s.mu.Unlock()

	if err := s.warmUp(ctx); err != nil {
		return err
	}

	for i := 0; i < common.ParallelWorkers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx)
	}
	return nil
}

func (s *Stream) warmUp(ctx context.Context) error {
	count := s.info.chunkCount()
	g, gctx := errgroup.WithContext(ctx)

	fetchOne := func(index int64) {
		g.Go(func() error {
			_, err := s.fetch.Fetch(gctx, s.info.requestFor(index))
			return err
		})
	}

	head := int64(common.PrefetchChunks)
	if head > count {
		head = count
	}
	for i := int64(0); i < head; i++ {
		fetchOne(i)
	}

	tailStart := count - int64(common.TailChunks)
	if tailStart < head {
		tailStart = head
	}
	for i := tailStart; i < count; i++ {
		fetchOne(i)
	}

	s.mu.Lock()
	s.cursor = head
	s.mu.Unlock()

	return g.Wait()
}

// worker repeatedly reserves the next chunk index off the shared cursor and
// fetches it, waiting a cooldown whenever nothing is left to reserve in the
// window ahead of playback, and exiting once the stream has been cancelled.
// Each round is tagged with the seek generation in effect when the index was
// reserved; if a seek bumps the generation before the fetch completes, the
// round is abandoned: the worker skips its cooldown and reserves again from
// the repositioned cursor. The fetched chunk itself has already been cached
// by Fetch either way.
func (s *Stream) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		index, gen, ok := s.nextChunk()
		if !ok {
			common.LogChunkWaitReason(common.ChunkID{StreamID: s.info.StreamID, Index: -1}, common.EWaitReason.WorkerCooldown())
			select {
			case <-ctx.Done():
				return
			case <-s.cooldown():
				continue
			}
		}

		_, err := s.fetch.Fetch(ctx, s.info.requestFor(index))
		if err != nil {
			if s.logger != nil {
				s.logger.Log(common.LogWarning, "prefetch worker: chunk fetch failed")
			}
			continue
		}

		if s.seekGenerationChanged(gen) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(common.WorkerCooldown) * time.Millisecond):
		}
	}
}

// seekGenerationChanged reports whether a seek has bumped the generation
// since gen was snapshotted, meaning this round's reservation is stale.
func (s *Stream) seekGenerationChanged(gen int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekGeneration != gen
}

func (s *Stream) cooldown() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		time.Sleep(time.Duration(common.WorkerCooldown) * time.Millisecond)
		close(ch)
	}()
	return ch
}

// nextChunk reserves the next chunk index worth fetching: it advances the
// cursor past anything already cached or already in flight, stopping at
// end-of-stream, at LookaheadChunks ahead of playback, or after scanning
// LookaheadChunks candidates. The generation snapshotted alongside the
// reservation lets the caller detect a seek that lands mid-scan.
func (s *Stream) nextChunk() (index int64, gen int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen = s.seekGeneration
	count := s.info.chunkCount()
	limit := s.playbackChunk + int64(common.LookaheadChunks)

	scanned := 0
	for s.cursor < count && s.cursor <= limit && scanned < common.LookaheadChunks {
		idx := s.cursor
		s.cursor++
		scanned++

		key := cache.Key{StreamID: s.info.StreamID, Index: idx}
		if !s.cache.Contains(key) && !s.fetch.InFlight(s.info.StreamID, idx) {
			return idx, gen, true
		}
	}
	return 0, gen, false
}

// NotifyPlayback advances the playback marker, widening the window the
// workers are allowed to prefetch into. If the cursor has drifted past
// end-of-stream or too far ahead of the new playback position, the window
// is considered stale and reset around the reported chunk, same as an
// explicit seek.
func (s *Stream) NotifyPlayback(chunkIndex int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chunkIndex > s.playbackChunk {
		s.playbackChunk = chunkIndex
	}

	count := s.info.chunkCount()
	if s.cursor >= count || s.cursor-s.playbackChunk > int64(common.LookaheadChunks) {
		s.seekGeneration++
		s.cursor = chunkIndex
	}
}

// SeekTo repositions the prefetch window at targetChunk and bumps the seek
// generation so workers mid-fetch under the old generation abandon their
// round instead of advancing a now-stale cursor, then synchronously bursts
// every uncached chunk in [targetChunk, targetChunk+SeekPrebufChunks) so the
// caller has a predictable runway before it starts writing. Unlike
// stop_stream, a seek never purges the cache (invariant 5): chunks already
// warm from before the seek stay warm, Fetch's own cache check just skips
// re-downloading them.
func (s *Stream) SeekTo(ctx context.Context, targetChunk int64) error {
	s.mu.Lock()
	s.seekGeneration++
	s.playbackChunk = targetChunk
	s.cursor = targetChunk
	s.mu.Unlock()

	count := s.info.chunkCount()
	g, gctx := errgroup.WithContext(ctx)
	burst := targetChunk + int64(common.SeekPrebufChunks)
	if burst > count {
		burst = count
	}
	for i := targetChunk; i < burst; i++ {
		i := i
		g.Go(func() error {
			_, err := s.fetch.Fetch(gctx, s.info.requestFor(i))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cursor < burst {
		s.cursor = burst
	}
	s.mu.Unlock()
	return nil
}

// Stop halts all workers and purges this stream's chunks from the cache.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.cache.DeletePrefix(s.info.StreamID)
}
