// Package remotestore expresses the remote chunk store as a capability set,
// per the polymorphism note in the design notes: the core depends on this
// interface, never on a concrete RPC client, so it can run against a mock
// transport in tests and against the real one in production.
package remotestore

import "context"

// Handle identifies one document in the remote store: its owning data
// center, its id/access-hash pair, and the opaque file reference the store
// requires on every subsequent download call.
type Handle struct {
	DCID          int
	DocumentID    int64
	AccessHash    int64
	FileReference []byte
	ThumbTag      int32
}

// DocumentInfo is what resolving a (chat_id, message_id) pair yields.
type DocumentInfo struct {
	Handle   Handle
	FileSize int64
	MimeType string
}

// Credential is the opaque, serializable result of authenticating. It is
// persisted verbatim by the session pool and replayed into sibling
// sessions without ever touching the authentication exchange again.
type Credential []byte

// RateLimitError is returned by any capability method when the remote asks
// the caller to back off for a specific duration. It is never retried with
// backoff; callers wait out RetryAfterSeconds plus a safety margin.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return "remote store rate limited the request"
}

// Capability is the full surface a session needs from the remote store.
// One production implementation (Client, gotd/td-backed) and one
// deterministic mock implementation exist; both satisfy this interface.
type Capability interface {
	// Authenticate performs the full authentication exchange (e.g. bot
	// login) and returns a Credential that ReuseCredential can later
	// replay into a fresh connection without re-authenticating.
	Authenticate(ctx context.Context, botToken string) (Credential, error)

	// ReuseCredential opens a connection using a previously persisted
	// Credential, skipping the authentication exchange entirely.
	ReuseCredential(ctx context.Context, cred Credential) error

	// Ping performs a trivial liveness call (an identity lookup) used to
	// detect a corrupt or stale persisted credential.
	Ping(ctx context.Context) error

	// ResolveDocument turns a (chatID, messageID) pair into the document
	// metadata needed to start streaming it.
	ResolveDocument(ctx context.Context, chatID, messageID int64) (DocumentInfo, error)

	// DownloadChunk fetches exactly one chunk: request_size bytes (or
	// fewer, at end of file) at offset, anchored to dcID and handle.
	DownloadChunk(ctx context.Context, dcID int, handle Handle, offset int64, requestSize int) ([]byte, error)

	// Connected reports whether this capability instance currently holds
	// a live connection.
	Connected() bool

	// Close tears down the underlying connection.
	Close() error
}
