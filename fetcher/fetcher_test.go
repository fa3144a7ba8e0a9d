package fetcher

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkrelay/streamcore/cache"
	"github.com/chunkrelay/streamcore/remotestore"
)

type singleSessionPool struct {
	conn remotestore.Capability
}

func (p *singleSessionPool) Acquire(ctx context.Context, chunkIndex int64) (remotestore.Capability, error) {
	return p.conn, nil
}

func TestFetchPopulatesCache(t *testing.T) {
	transport := remotestore.NewMock()
	transport.AddFile(remotestore.MockFile{ChatID: 1, MessageID: 2, FileSize: 10 * 1024 * 1024, MimeType: "video/mp4"})
	_, _ = transport.Authenticate(context.Background(), "123:fake-token")

	c := cache.New(100 * 1024 * 1024)
	f := New(c, &singleSessionPool{conn: transport}, nil)

	req := Request{StreamID: "s1", Index: 0, Handle: remotestore.Handle{DocumentID: 2}, Offset: 0, FileSize: 10 * 1024 * 1024, RequestSize: 1024 * 1024}
	got, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, remotestore.MockChunk("2", 0), got)
	assert.True(t, c.Contains(cache.Key{StreamID: "s1", Index: 0}))
}

func TestFetchDedupesConcurrentCallers(t *testing.T) {
	transport := remotestore.NewMock()
	_, _ = transport.Authenticate(context.Background(), "123:fake-token")

	c := cache.New(100 * 1024 * 1024)
	f := New(c, &singleSessionPool{conn: transport}, nil)

	req := Request{StreamID: "s1", Index: 5, Offset: 5 * 1024 * 1024, FileSize: 100 * 1024 * 1024, RequestSize: 1024 * 1024}

	var wg sync.WaitGroup
	results := make([][]byte, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := f.Fetch(context.Background(), req)
			require.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	for i := 1; i < 20; i++ {
		assert.Equal(t, results[0], results[i])
	}
	assert.LessOrEqual(t, transport.DownloadCount(), int64(2), "20 concurrent fetches for the same chunk should not issue 20 downloads")
}

func TestFetchReturnsEmptyPastEndOfFile(t *testing.T) {
	transport := remotestore.NewMock()
	_, _ = transport.Authenticate(context.Background(), "123:fake-token")

	c := cache.New(100 * 1024 * 1024)
	f := New(c, &singleSessionPool{conn: transport}, nil)

	req := Request{StreamID: "s1", Index: 99, Offset: 10 * 1024 * 1024, FileSize: 10 * 1024 * 1024, RequestSize: 1024 * 1024}
	got, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, got)
}
