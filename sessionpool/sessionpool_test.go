package sessionpool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chunkrelay/streamcore/common"
	"github.com/chunkrelay/streamcore/remotestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempConfigDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	common.ConfigPathFolder = dir
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
}

func TestEnsurePoolAuthenticatesExactlyOnce(t *testing.T) {
	withTempConfigDir(t)
	transport := remotestore.NewMock()

	pool := New(func() remotestore.Capability { return transport }, "123:fake-token", nil)

	require.NoError(t, pool.EnsurePool(context.Background(), 3))
	require.NoError(t, pool.EnsurePool(context.Background(), 3))
	require.NoError(t, pool.EnsurePool(context.Background(), 5))

	assert.EqualValues(t, 1, transport.AuthCount())
}

func TestAcquireRoutesDeterministically(t *testing.T) {
	withTempConfigDir(t)
	transport := remotestore.NewMock()
	pool := New(func() remotestore.Capability { return transport }, "123:fake-token", nil)
	require.NoError(t, pool.EnsurePool(context.Background(), 3))

	c1, err := pool.Acquire(context.Background(), 7)
	require.NoError(t, err)
	c2, err := pool.Acquire(context.Background(), 10)
	require.NoError(t, err)
	assert.Same(t, c1, c2, "7 mod 3 == 10 mod 3, same session expected")
}

func TestPersistedCredentialSkipsReauthentication(t *testing.T) {
	withTempConfigDir(t)
	transport := remotestore.NewMock()

	first := New(func() remotestore.Capability { return transport }, "123:fake-token", nil)
	require.NoError(t, first.EnsurePool(context.Background(), 1))
	assert.EqualValues(t, 1, transport.AuthCount())

	require.FileExists(t, filepath.Join(common.ConfigPathFolder, "session.json"))

	second := New(func() remotestore.Capability { return transport }, "123:fake-token", nil)
	require.NoError(t, second.EnsurePool(context.Background(), 1))
	assert.EqualValues(t, 1, transport.AuthCount(), "second pool should reuse the persisted credential")
}
