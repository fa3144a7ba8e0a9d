package remotestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chunkrelay/streamcore/common"
)

// MockFile describes one file the mock transport serves.
type MockFile struct {
	ChatID    int64
	MessageID int64
	FileSize  int64
	MimeType  string
	DCID      int
}

// Mock is a deterministic Capability used by every testable-property and
// end-to-end scenario in spec.md §8: chunk i is sha256(s || i) repeated to
// CHUNK_SIZE, truncated for the final chunk, where s is the handle's
// DocumentID in decimal (DownloadChunk receives no stream id, so two streams
// over the same document get identical bytes).
type Mock struct {
	mu            sync.Mutex
	files         map[string]MockFile // key: fmt.Sprintf("%d:%d", chatID, messageID)
	connected     atomic.Bool
	authCount     atomic.Int64
	downloadCount atomic.Int64

	// RejectFirstAuth, when set, causes the first Authenticate call to
	// fail with a RateLimitError carrying RejectRetryAfterSeconds, modeling
	// scenario F in spec.md §8.
	RejectFirstAuth       bool
	RejectRetryAfterSeconds int
	rejectedOnce          atomic.Bool
}

func NewMock() *Mock {
	return &Mock{files: make(map[string]MockFile)}
}

func (m *Mock) AddFile(f MockFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fmt.Sprintf("%d:%d", f.ChatID, f.MessageID)] = f
}

func (m *Mock) AuthCount() int64     { return m.authCount.Load() }
func (m *Mock) DownloadCount() int64 { return m.downloadCount.Load() }

func (m *Mock) Authenticate(ctx context.Context, botToken string) (Credential, error) {
	if m.RejectFirstAuth && m.rejectedOnce.CompareAndSwap(false, true) {
		return nil, &RateLimitError{RetryAfterSeconds: m.RejectRetryAfterSeconds}
	}
	m.authCount.Add(1)
	m.connected.Store(true)
	return Credential("mock-credential:" + botToken), nil
}

func (m *Mock) ReuseCredential(ctx context.Context, cred Credential) error {
	if len(cred) == 0 {
		return fmt.Errorf("empty credential")
	}
	m.connected.Store(true)
	return nil
}

func (m *Mock) Ping(ctx context.Context) error {
	if !m.connected.Load() {
		return fmt.Errorf("not connected")
	}
	return nil
}

func (m *Mock) ResolveDocument(ctx context.Context, chatID, messageID int64) (DocumentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fmt.Sprintf("%d:%d", chatID, messageID)]
	if !ok {
		return DocumentInfo{}, fmt.Errorf("no such document: chat=%d message=%d", chatID, messageID)
	}
	return DocumentInfo{
		Handle: Handle{
			DCID:       f.DCID,
			DocumentID: messageID,
			AccessHash: chatID ^ messageID,
		},
		FileSize: f.FileSize,
		MimeType: f.MimeType,
	}, nil
}

func (m *Mock) DownloadChunk(ctx context.Context, dcID int, handle Handle, offset int64, requestSize int) ([]byte, error) {
	m.downloadCount.Add(1)

	streamKey := fmt.Sprintf("%d", handle.DocumentID)
	index := offset / common.ChunkSize
	return mockChunkBytes(streamKey, index, requestSize), nil
}

// mockChunkBytes deterministically derives chunk content without needing a
// registered file: sha256(streamKey || index) repeated to fill size bytes.
func mockChunkBytes(streamKey string, index int64, size int) []byte {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s%d", streamKey, index)))
	out := bytes.Repeat(h[:], size/len(h)+1)
	return out[:size]
}

// MockChunk exposes the same derivation for test assertions that need to
// compute expected bytes without going through a Capability instance; its
// first argument is the document id in decimal, as DownloadChunk uses it.
func MockChunk(streamID string, index int64) []byte {
	return mockChunkBytes(streamID, index, common.ChunkSize)
}

func (m *Mock) Connected() bool { return m.connected.Load() }

func (m *Mock) Close() error {
	m.connected.Store(false)
	return nil
}

var _ Capability = (*Mock)(nil)
