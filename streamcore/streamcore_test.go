package streamcore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkrelay/streamcore/common"
	"github.com/chunkrelay/streamcore/remotestore"
)

func withTempConfigDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	common.ConfigPathFolder = dir
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
}

func TestStartStreamServesOverHTTP(t *testing.T) {
	withTempConfigDir(t)

	transport := remotestore.NewMock()
	transport.AddFile(remotestore.MockFile{ChatID: 1, MessageID: 42, FileSize: 5 * 1024 * 1024, MimeType: "video/mp4"})

	core := New(Options{
		BotToken: "123:fake-token",
		Factory:  func() remotestore.Capability { return transport },
		PoolSize: 2,
	})

	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(func() { _ = core.Shutdown(context.Background()) })

	require.NoError(t, core.StartStream(context.Background(), "movie", 1, 42))
	t.Cleanup(func() { core.StopStream("movie") })

	resp, err := http.Get(fmt.Sprintf("http://%s/stream/movie", core.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.EqualValues(t, 5*1024*1024, len(body))
}

// TestWarmRangedGetMakesZeroRemoteRPCs exercises spec.md §8 scenario B/D
// end to end: once the warm-up window is in cache, a ranged GET inside it
// must be served without a single additional remote download.
func TestWarmRangedGetMakesZeroRemoteRPCs(t *testing.T) {
	withTempConfigDir(t)

	transport := remotestore.NewMock()
	transport.AddFile(remotestore.MockFile{ChatID: 1, MessageID: 99, FileSize: 20 * 1024 * 1024, MimeType: "video/mp4"})

	core := New(Options{
		BotToken: "123:fake-token",
		Factory:  func() remotestore.Capability { return transport },
		PoolSize: 1,
	})
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(func() { _ = core.Shutdown(context.Background()) })

	require.NoError(t, core.StartStream(context.Background(), "warm", 1, 99))
	t.Cleanup(func() { core.StopStream("warm") })

	before := transport.DownloadCount()
	require.Greater(t, before, int64(0), "warm-up should already have downloaded the head window")

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/stream/warm", core.Addr()), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-1048575")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.EqualValues(t, 1024*1024, len(body))

	assert.Equal(t, before, transport.DownloadCount(), "ranged GET inside the warm window must not trigger any remote RPC")
}

func TestStopStreamPurgesCache(t *testing.T) {
	withTempConfigDir(t)

	transport := remotestore.NewMock()
	transport.AddFile(remotestore.MockFile{ChatID: 1, MessageID: 7, FileSize: 2 * 1024 * 1024, MimeType: "video/mp4"})

	core := New(Options{
		BotToken: "123:fake-token",
		Factory:  func() remotestore.Capability { return transport },
		PoolSize: 1,
	})
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(func() { _ = core.Shutdown(context.Background()) })

	require.NoError(t, core.StartStream(context.Background(), "clip", 1, 7))
	core.StopStream("clip")

	_, ok := core.Lookup("clip")
	assert.False(t, ok, "stopped stream should no longer be servable")
	for i := int64(0); i < 2; i++ {
		assert.False(t, core.Cached("clip", i), "chunk %d of a stopped stream should be purged from the cache", i)
	}
}
