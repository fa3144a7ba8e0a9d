package remotestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// Client is the production Capability, backed by gotd/td's MTProto
// implementation. One Client corresponds to one Session in spec.md's data
// model: it holds exactly one live connection, authenticated at most once
// per process across every Client sharing the same persisted Credential.
type Client struct {
	appID   int
	appHash string

	mu        sync.Mutex
	storage   *session.StorageMemory
	client    *telegram.Client
	tgClient  *tg.Client
	connected atomic.Bool
	stopRun   context.CancelFunc
	runDone   chan struct{}
}

// NewClient constructs a Client against the given Telegram application
// credentials. It does not connect; call Authenticate or ReuseCredential.
func NewClient(appID int, appHash string) *Client {
	return &Client{appID: appID, appHash: appHash}
}

func (c *Client) start(ctx context.Context, storage *session.StorageMemory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	client := telegram.NewClient(c.appID, c.appHash, telegram.Options{
		SessionStorage: storage,
	})

	ready := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			ready <- nil
			<-ctx.Done()
			return nil
		})
		select {
		case ready <- err:
		default:
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return err
		}
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	c.storage = storage
	c.client = client
	c.tgClient = client.API()
	c.stopRun = cancel
	c.runDone = done
	c.connected.Store(true)
	return nil
}

func (c *Client) Authenticate(ctx context.Context, botToken string) (Credential, error) {
	storage := &session.StorageMemory{}
	if err := c.start(ctx, storage); err != nil {
		return nil, classifyGotdError(err)
	}

	if _, err := c.client.Auth().Bot(ctx, botToken); err != nil {
		return nil, classifyGotdError(err)
	}

	data, err := storage.LoadSession(ctx)
	if err != nil {
		return nil, err
	}
	return Credential(data), nil
}

func (c *Client) ReuseCredential(ctx context.Context, cred Credential) error {
	storage := &session.StorageMemory{}
	if err := storage.StoreSession(ctx, []byte(cred)); err != nil {
		return err
	}
	return c.start(ctx, storage)
}

func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	tgClient := c.tgClient
	c.mu.Unlock()
	if tgClient == nil {
		return fmt.Errorf("remotestore: not connected")
	}
	_, err := tgClient.UsersGetFullUser(ctx, &tg.InputUserSelf{})
	return classifyGotdError(err)
}

func (c *Client) ResolveDocument(ctx context.Context, chatID, messageID int64) (DocumentInfo, error) {
	c.mu.Lock()
	tgClient := c.tgClient
	c.mu.Unlock()
	if tgClient == nil {
		return DocumentInfo{}, fmt.Errorf("remotestore: not connected")
	}

	messages, err := tgClient.MessagesGetMessages(ctx, []tg.InputMessageClass{
		&tg.InputMessageID{ID: int(messageID)},
	})
	if err != nil {
		return DocumentInfo{}, classifyGotdError(err)
	}

	doc, err := extractDocument(messages)
	if err != nil {
		return DocumentInfo{}, err
	}

	return DocumentInfo{
		Handle: Handle{
			DCID:          doc.DCID,
			DocumentID:    doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
		FileSize: doc.Size,
		MimeType: doc.MimeType,
	}, nil
}

// DownloadChunk issues one upload.getFile request over this client's own
// connection. dcID is not used: the request is not routed to the document's
// data center.
func (c *Client) DownloadChunk(ctx context.Context, dcID int, handle Handle, offset int64, requestSize int) ([]byte, error) {
	c.mu.Lock()
	tgClient := c.tgClient
	c.mu.Unlock()
	if tgClient == nil {
		return nil, fmt.Errorf("remotestore: not connected")
	}

	result, err := tgClient.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: &tg.InputDocumentFileLocation{
			ID:            handle.DocumentID,
			AccessHash:    handle.AccessHash,
			FileReference: handle.FileReference,
			ThumbSize:     "",
		},
		Offset: offset,
		Limit:  requestSize,
	})
	if err != nil {
		return nil, classifyGotdError(err)
	}

	file, ok := result.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("remotestore: unexpected upload.File variant %T", result)
	}
	return file.Bytes, nil
}

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRun != nil {
		c.stopRun()
		<-c.runDone
	}
	c.connected.Store(false)
	return nil
}

var _ Capability = (*Client)(nil)

type resolvedDocument struct {
	ID            int64
	AccessHash    int64
	FileReference []byte
	Size          int64
	MimeType      string
	DCID          int
}

// extractDocument walks a messages.Messages response looking for the
// document attached to the single requested message. gotd/td models this
// as a sum type (MessagesMessagesClass); only the variants carrying an
// actual message list are handled, matching the production case.
func extractDocument(messages tg.MessagesMessagesClass) (resolvedDocument, error) {
	var list []tg.MessageClass
	switch m := messages.(type) {
	case *tg.MessagesMessages:
		list = m.Messages
	case *tg.MessagesMessagesSlice:
		list = m.Messages
	case *tg.MessagesChannelMessages:
		list = m.Messages
	default:
		return resolvedDocument{}, fmt.Errorf("remotestore: unexpected messages variant %T", messages)
	}

	for _, mc := range list {
		msg, ok := mc.(*tg.Message)
		if !ok || msg.Media == nil {
			continue
		}
		media, ok := msg.Media.(*tg.MessageMediaDocument)
		if !ok || media.Document == nil {
			continue
		}
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			continue
		}
		return resolvedDocument{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
			Size:          doc.Size,
			MimeType:      doc.MimeType,
			DCID:          doc.DCID,
		}, nil
	}
	return resolvedDocument{}, fmt.Errorf("remotestore: no document attached to message")
}

// classifyGotdError turns a gotd/td rate-limit error into this package's
// RateLimitError so callers never need to import tgerr themselves.
func classifyGotdError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &RateLimitError{RetryAfterSeconds: int(wait / time.Second)}
	}
	return err
}
