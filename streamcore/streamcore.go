// Package streamcore wires together the session pool, chunk cache, chunk
// fetcher, prefetch engine and range server behind a single root handle, per
// the "avoid module-level singletons" guidance: every process-wide
// dependency is a field on Core, not a package-level variable.
package streamcore

import (
	"context"
	"fmt"
	"sync"

	"github.com/chunkrelay/streamcore/cache"
	"github.com/chunkrelay/streamcore/common"
	"github.com/chunkrelay/streamcore/fetcher"
	"github.com/chunkrelay/streamcore/prefetch"
	"github.com/chunkrelay/streamcore/rangeserver"
	"github.com/chunkrelay/streamcore/remotestore"
	"github.com/chunkrelay/streamcore/sessionpool"
)

// Options configures a Core at construction time.
type Options struct {
	BotToken      string
	Factory       sessionpool.Factory
	PoolSize      int
	CacheMaxBytes int64
	ListenAddr    string
	Logger        common.ILogger
}

// Core is the single root handle for the whole streaming subsystem: one
// session pool, one chunk cache, one fetcher, an in-memory table of active
// streams, and the range server that serves all of them.
type Core struct {
	opts   Options
	pool   *sessionpool.Pool
	cache  *cache.ChunkCache
	fetch  *fetcher.Fetcher
	server *rangeserver.Server
	logger common.ILogger

	mu      sync.Mutex
	streams map[string]*streamEntry
}

type streamEntry struct {
	meta   rangeserver.StreamMeta
	handle remotestore.Handle
	dcID   int
	stream *prefetch.Stream
}

// New constructs a Core. Call Start to bring up the session pool and range
// server before calling StartStream.
func New(opts Options) *Core {
	if opts.PoolSize == 0 {
		opts.PoolSize = common.ClientPoolSize
	}
	if opts.CacheMaxBytes == 0 {
		opts.CacheMaxBytes = common.CacheMaxBytes
	}

	c := cache.New(opts.CacheMaxBytes)
	pool := sessionpool.New(opts.Factory, opts.BotToken, opts.Logger)
	f := fetcher.New(c, pool, opts.Logger)

	core := &Core{
		opts:    opts,
		pool:    pool,
		cache:   c,
		fetch:   f,
		logger:  opts.Logger,
		streams: make(map[string]*streamEntry),
	}
	core.server = rangeserver.New(core, opts.Logger)
	return core
}

// Start brings the session pool up to PoolSize and opens the loopback range
// server.
func (c *Core) Start(ctx context.Context) error {
	if err := c.pool.EnsurePool(ctx, c.opts.PoolSize); err != nil {
		return err
	}
	if err := c.server.Start(c.opts.ListenAddr); err != nil {
		return err
	}
	return nil
}

// Addr returns the range server's bound address, for building a
// /stream/{id} URL once a stream has started.
func (c *Core) Addr() string { return c.server.Addr() }

// StartStream resolves (chatID, messageID) to a document, registers it as a
// streamable resource under the caller-chosen streamID (served at
// /stream/{streamID}), and launches its prefetch workers.
func (c *Core) StartStream(ctx context.Context, streamID string, chatID, messageID int64) error {
	conn, err := c.pool.AnyConnected(ctx)
	if err != nil {
		return err
	}

	doc, err := conn.ResolveDocument(ctx, chatID, messageID)
	if err != nil {
		return common.NewClassifiedError(common.ClassRecoverableExternal, "streamcore.StartStream", err)
	}

	info := prefetch.StreamInfo{
		StreamID: streamID,
		DCID:     doc.Handle.DCID,
		Handle:   doc.Handle,
		FileSize: doc.FileSize,
	}
	stream := prefetch.NewStream(info, c.cache, c.fetch, c.logger)

	c.mu.Lock()
	c.streams[streamID] = &streamEntry{
		meta:   rangeserver.StreamMeta{FileSize: doc.FileSize, MimeType: doc.MimeType},
		handle: doc.Handle,
		dcID:   doc.Handle.DCID,
		stream: stream,
	}
	c.mu.Unlock()

	return stream.Start(ctx)
}

// StopStream halts the stream's prefetch workers and purges its chunks from
// the shared cache.
func (c *Core) StopStream(streamID string) {
	c.mu.Lock()
	entry, ok := c.streams[streamID]
	delete(c.streams, streamID)
	c.mu.Unlock()

	if !ok {
		return
	}
	entry.stream.Stop()
}

// Shutdown stops the range server, every active stream, and the session
// pool, in that order so no in-flight request is left fetching against a
// closed session.
func (c *Core) Shutdown(ctx context.Context) error {
	if err := c.server.Shutdown(ctx); err != nil && c.logger != nil {
		c.logger.Log(common.LogWarning, fmt.Sprintf("streamcore: range server shutdown: %v", err))
	}

	c.mu.Lock()
	streams := make([]*streamEntry, 0, len(c.streams))
	for _, e := range c.streams {
		streams = append(streams, e)
	}
	c.streams = make(map[string]*streamEntry)
	c.mu.Unlock()

	for _, e := range streams {
		e.stream.Stop()
	}

	c.pool.Shutdown()
	return nil
}

// Lookup, Fetch, NotifyPlayback and SeekTo implement rangeserver.StreamSource,
// letting Core itself be the range server's data source.

func (c *Core) Lookup(streamID string) (rangeserver.StreamMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.streams[streamID]
	if !ok {
		return rangeserver.StreamMeta{}, false
	}
	return e.meta, true
}

func (c *Core) Fetch(ctx context.Context, streamID string, chunkIndex int64) ([]byte, error) {
	c.mu.Lock()
	e, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("streamcore: unknown stream %q", streamID)
	}

	return c.fetch.Fetch(ctx, fetcher.Request{
		StreamID:    streamID,
		Index:       chunkIndex,
		DCID:        e.dcID,
		Handle:      e.handle,
		Offset:      chunkIndex * common.ChunkSize,
		FileSize:    e.meta.FileSize,
		RequestSize: common.ChunkSize,
	})
}

func (c *Core) NotifyPlayback(streamID string, chunkIndex int64) {
	c.mu.Lock()
	e, ok := c.streams[streamID]
	c.mu.Unlock()
	if ok {
		e.stream.NotifyPlayback(chunkIndex)
	}
}

// Cached reports whether chunkIndex is already warm in the shared cache,
// letting the range server gate its seek-burst pre-buffer on cache-cold
// state (spec §4.5) instead of triggering it on every request.
func (c *Core) Cached(streamID string, chunkIndex int64) bool {
	return c.cache.Contains(cache.Key{StreamID: streamID, Index: chunkIndex})
}

func (c *Core) SeekTo(ctx context.Context, streamID string, chunkIndex int64) error {
	c.mu.Lock()
	e, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("streamcore: unknown stream %q", streamID)
	}
	return e.stream.SeekTo(ctx, chunkIndex)
}

var _ rangeserver.StreamSource = (*Core)(nil)
