// Package sessionpool implements the Session Pool: a fixed-size set of
// authenticated remote-store connections, authenticated exactly once per
// process, with siblings cloned from the persisted credential.
package sessionpool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chunkrelay/streamcore/common"
	"github.com/chunkrelay/streamcore/remotestore"
)

// Factory builds a fresh, unauthenticated Capability instance. Production
// code passes something that returns a new *remotestore.Client per call;
// tests pass something returning a *remotestore.Mock (all sharing the same
// mock transport, or independent ones, depending on what's under test).
type Factory func() remotestore.Capability

type session struct {
	mu   sync.Mutex
	conn remotestore.Capability
}

// Pool holds PoolSize sessions, routes chunk fetches across them
// deterministically, and guarantees the authentication exchange happens at
// most once across the pool's lifetime.
type Pool struct {
	factory  Factory
	logger   common.ILogger
	botToken string

	mu        sync.Mutex
	sessions  []*session
	cred      remotestore.Credential
	authed    bool
}

// New constructs an empty pool; call EnsurePool to bring it to size.
func New(factory Factory, botToken string, logger common.ILogger) *Pool {
	return &Pool{factory: factory, botToken: botToken, logger: logger}
}

// credentialBlob is the on-disk JSON shape from spec.md §6.
type credentialBlob struct {
	Session string `json:"session"`
	TS      int64  `json:"ts"`
}

// EnsurePool is idempotent: it raises the pool to desiredSize live
// sessions, authenticating at most once across all calls to this method
// over the pool's lifetime.
func (p *Pool) EnsurePool(ctx context.Context, desiredSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sessions) >= desiredSize {
		return nil
	}

	if !p.authed {
		if err := p.bootstrapLocked(ctx); err != nil {
			return err
		}
	}

	for len(p.sessions) < desiredSize {
		s := &session{conn: p.factory()}
		if err := p.connectSiblingLocked(ctx, s); err != nil {
			return common.NewClassifiedError(common.ClassFatal, "sessionpool.EnsurePool", err)
		}
		p.sessions = append(p.sessions, s)
	}
	return nil
}

// bootstrapLocked loads a persisted credential if one works, or performs
// the one authentication exchange this process will ever perform.
func (p *Pool) bootstrapLocked(ctx context.Context) error {
	if cred, ok := p.loadPersistedCredential(); ok {
		primary := p.factory()
		if err := primary.ReuseCredential(ctx, cred); err == nil {
			if err := primary.Ping(ctx); err == nil {
				p.cred = cred
				p.authed = true
				p.sessions = append(p.sessions, &session{conn: primary})
				return nil
			}
		}
		// Corrupt or stale: discard and fall through to a fresh authentication.
		_ = primary.Close()
	}

	primary := p.factory()
	cred, err := p.authenticateWithRateLimitRetry(ctx, primary)
	if err != nil {
		return common.NewClassifiedError(common.ClassFatal, "sessionpool.bootstrapLocked", err)
	}

	p.cred = cred
	p.authed = true
	p.sessions = append(p.sessions, &session{conn: primary})
	p.persistCredential(cred)
	return nil
}

// authenticateWithRateLimitRetry honors a rate-limit response by waiting
// the server-specified duration plus a safety margin, without counting the
// wait as a failed attempt and without ever backing off exponentially.
func (p *Pool) authenticateWithRateLimitRetry(ctx context.Context, conn remotestore.Capability) (remotestore.Credential, error) {
	for {
		cred, err := conn.Authenticate(ctx, p.botToken)
		if err == nil {
			return cred, nil
		}

		if rl, ok := asRateLimit(err); ok {
			remaining := rl.RetryAfterSeconds + common.RateLimitSafetyMargin
			for remaining > 0 {
				p.logRateLimitCountdown(remaining)
				step := min(remaining, rateLimitLogIntervalSeconds)
				select {
				case <-time.After(time.Duration(step) * time.Second):
					remaining -= step
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			continue
		}
		return nil, err
	}
}

func asRateLimit(err error) (*remotestore.RateLimitError, bool) {
	rl, ok := err.(*remotestore.RateLimitError)
	return rl, ok
}

// rateLimitLogIntervalSeconds is how often the rate-limit countdown logs the
// time left: a coarse interval, not one line per second.
const rateLimitLogIntervalSeconds = 10

// logRateLimitCountdown logs the time left on a rate-limit wait. The caller
// calls it once per rateLimitLogIntervalSeconds while it sleeps out the wait.
func (p *Pool) logRateLimitCountdown(totalSeconds int) {
	if p.logger == nil {
		return
	}
	p.logger.Log(common.LogInfo, fmt.Sprintf("rate limited, waiting %ds", totalSeconds))
}

func (p *Pool) connectSiblingLocked(ctx context.Context, s *session) error {
	return s.conn.ReuseCredential(ctx, p.cred)
}

// Acquire routes chunkIndex to a session deterministically and reconnects
// it in place if it has dropped.
func (p *Pool) Acquire(ctx context.Context, chunkIndex int64) (remotestore.Capability, error) {
	p.mu.Lock()
	if len(p.sessions) == 0 {
		p.mu.Unlock()
		return nil, common.NewClassifiedError(common.ClassFatal, "sessionpool.Acquire", os.ErrInvalid)
	}
	idx := int(chunkIndex % int64(len(p.sessions)))
	if idx < 0 {
		idx += len(p.sessions)
	}
	s := p.sessions[idx]
	cred := p.cred
	p.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.conn.Connected() {
		if err := s.conn.ReuseCredential(ctx, cred); err != nil {
			return nil, common.NewClassifiedError(common.ClassRecoverableInternal, "sessionpool.Acquire.reconnect", err)
		}
	}
	return s.conn, nil
}

// AnyConnected returns the first connected session, used for metadata
// resolution in start_stream.
func (p *Pool) AnyConnected(ctx context.Context) (remotestore.Capability, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.conn.Connected() {
			return s.conn, nil
		}
	}
	if len(p.sessions) > 0 {
		return p.sessions[0].conn, nil
	}
	return nil, common.NewClassifiedError(common.ClassFatal, "sessionpool.AnyConnected", os.ErrInvalid)
}

// Shutdown disconnects every session.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		_ = s.conn.Close()
	}
	p.sessions = nil
}

func (p *Pool) loadPersistedCredential() (remotestore.Credential, bool) {
	data, err := os.ReadFile(common.CredentialFilePath())
	if err != nil {
		return nil, false
	}
	var blob credentialBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, false
	}
	return remotestore.Credential(blob.Session), true
}

func (p *Pool) persistCredential(cred remotestore.Credential) {
	blob := credentialBlob{Session: string(cred), TS: time.Now().UnixMilli()}
	data, err := json.Marshal(blob)
	if err != nil {
		return
	}
	_ = os.WriteFile(common.CredentialFilePath(), data, common.DefaultFilePerm)
}
