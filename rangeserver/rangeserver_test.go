package rangeserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves fixed content for one stream directly out of memory,
// standing in for cache+fetcher+prefetch for the HTTP-layer tests.
type fakeSource struct {
	mu            sync.Mutex
	content       map[string][]byte
	meta          map[string]StreamMeta
	seeks         []int64
	playback      []int64
	cached        map[int64]bool
	downloadCount int
}

func newFakeSource() *fakeSource {
	return &fakeSource{content: map[string][]byte{}, meta: map[string]StreamMeta{}, cached: map[int64]bool{}}
}

func (f *fakeSource) addStream(id string, content []byte, mimeType string) {
	f.content[id] = content
	f.meta[id] = StreamMeta{FileSize: int64(len(content)), MimeType: mimeType}
}

func (f *fakeSource) Lookup(streamID string) (StreamMeta, bool) {
	m, ok := f.meta[streamID]
	return m, ok
}

func (f *fakeSource) Fetch(ctx context.Context, streamID string, chunkIndex int64) ([]byte, error) {
	const chunkSize = 1024 * 1024
	content := f.content[streamID]
	start := chunkIndex * chunkSize
	if start >= int64(len(content)) {
		return []byte{}, nil
	}
	end := start + chunkSize
	if end > int64(len(content)) {
		end = int64(len(content))
	}

	f.mu.Lock()
	if !f.cached[chunkIndex] {
		f.downloadCount++
		f.cached[chunkIndex] = true
	}
	f.mu.Unlock()
	return content[start:end], nil
}

func (f *fakeSource) Cached(streamID string, chunkIndex int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached[chunkIndex]
}

// DownloadCount reports the number of chunk indices that went through a
// simulated remote RPC (first touch), whether by warm or by Fetch; a later
// Fetch of an already-warm index adds nothing.
func (f *fakeSource) DownloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloadCount
}

// warm simulates chunks already sitting in the cache before any request
// arrives, the way a Start() warm-up would leave them, counting the remote
// RPC that warm-up would have made for each newly warmed index.
func (f *fakeSource) warm(indices ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range indices {
		if !f.cached[i] {
			f.downloadCount++
		}
		f.cached[i] = true
	}
}

func (f *fakeSource) NotifyPlayback(streamID string, chunkIndex int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playback = append(f.playback, chunkIndex)
}

func (f *fakeSource) SeekTo(ctx context.Context, streamID string, chunkIndex int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, chunkIndex)
	return nil
}

func startTestServer(t *testing.T, src *fakeSource) *Server {
	t.Helper()
	s := New(src, nil)
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestFullGetReturnsWholeBody(t *testing.T) {
	src := newFakeSource()
	content := make([]byte, 3*1024*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	src.addStream("s1", content, "video/mp4")
	s := startTestServer(t, src)

	resp, err := http.Get(fmt.Sprintf("http://%s/stream/s1", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestRangeGetReturnsSlice(t *testing.T) {
	src := newFakeSource()
	content := make([]byte, 3*1024*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	src.addStream("s1", content, "video/mp4")
	s := startTestServer(t, src)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/stream/s1", s.Addr()), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=1048576-2097151")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content[1048576:2097152], body)
}

func TestUnknownStreamReturnsNotFound(t *testing.T) {
	src := newFakeSource()
	s := startTestServer(t, src)

	resp, err := http.Get(fmt.Sprintf("http://%s/stream/missing", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestWarmRangedGetMakesNoExtraDownloads exercises the warm-cache scenarios
// from spec.md §8: a ranged GET whose first chunk is already warm must not
// trigger the seek-burst pre-buffer, and a ranged GET entirely within an
// already-warm window must produce zero additional remote RPCs.
func TestWarmRangedGetMakesNoExtraDownloads(t *testing.T) {
	const chunkSize = 1024 * 1024
	src := newFakeSource()
	content := make([]byte, 10*chunkSize)
	for i := range content {
		content[i] = byte(i % 251)
	}
	src.addStream("s1", content, "video/mp4")

	// Chunks 0..9 are already warm, as if a prior warm-up had already run.
	for i := int64(0); i < 10; i++ {
		src.warm(i)
	}
	require.Equal(t, 10, src.DownloadCount())

	s := startTestServer(t, src)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/stream/s1", s.Addr()), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-1048575")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content[:chunkSize], body)

	assert.Equal(t, 10, src.DownloadCount(), "warm ranged GET must not trigger any remote RPC")
	assert.Empty(t, src.seeks, "a warm first chunk must not trigger the seek-burst pre-buffer")
}

func TestOutOfBoundsRangeReturns416(t *testing.T) {
	src := newFakeSource()
	src.addStream("s1", make([]byte, 1024), "video/mp4")
	s := startTestServer(t, src)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/stream/s1", s.Addr()), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=9999-10000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}
