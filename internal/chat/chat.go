// Package chat manages the conversational session bound to the file
// search store and relays streaming responses to the caller.
//
// A session is bound to the store contents it saw at creation time, so
// every corpus change (files indexed or removed) invalidates it; the next
// send transparently creates a fresh session instead of surfacing the
// staleness to the user.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/docuchat/docuchat/internal/gemini"
	"github.com/docuchat/docuchat/internal/index"
	"github.com/docuchat/docuchat/internal/retry"
)

// Sentinel errors for chat operations.
var (
	// ErrRateLimited indicates the service is throttling requests.
	// User-actionable: wait and retry.
	ErrRateLimited = errors.New("the service is rate limiting requests; wait a moment and try again")

	// ErrSessionStale indicates the session or its store vanished
	// server-side mid-conversation. The session has been invalidated;
	// the next send recreates it.
	ErrSessionStale = errors.New("chat session expired; your next message will start a fresh session")
)

// Session is the conversational context the manager drives.
// *gemini.Session satisfies this.
type Session interface {
	SendStream(ctx context.Context, text string, fn func(gemini.Chunk) error) error
}

// Service creates sessions bound to the given store names.
type Service interface {
	NewSession(ctx context.Context, model, systemInstruction string, storeNames []string) (Session, error)
}

// StoreResolver supplies and invalidates the current store handle.
// *index.Manager satisfies this.
type StoreResolver interface {
	Ensure(ctx context.Context) (index.Handle, error)
	Invalidate()
}

// ChunkFunc receives each response fragment in arrival order, with any
// citations attached to it.
type ChunkFunc func(text string, citations []gemini.Citation)

// Config contains all required parameters for the Manager.
type Config struct {
	Service           Service
	Stores            StoreResolver
	Logger            *slog.Logger
	ModelName         string
	SystemInstruction string

	// RetryConfig bounds retries of the initial dispatch. Zero value
	// uses retry.DefaultConfig().
	RetryConfig retry.Config

	// RateLimiter proactively spaces out sends (nil = default).
	RateLimiter *rate.Limiter
}

// validate checks that required dependencies are present.
func (cfg Config) validate() error {
	if cfg.Service == nil {
		return errors.New("service is required")
	}
	if cfg.Stores == nil {
		return errors.New("store resolver is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Manager owns the singleton chat session. The session is the only
// shared mutable state and is mutated only by Manager methods.
type Manager struct {
	svc               Service
	stores            StoreResolver
	model             string
	systemInstruction string
	retryCfg          retry.Config
	limiter           *rate.Limiter
	logger            *slog.Logger

	mu      sync.Mutex
	session Session
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryCfg := cfg.RetryConfig
	if retryCfg.MaxRetries == 0 {
		retryCfg = retry.DefaultConfig()
	}

	// Default: 2 sends/sec sustained, burst of 5. Chat turns are
	// user-paced; this only guards against accidental tight loops.
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(2, 5)
	}

	return &Manager{
		svc:               cfg.Service,
		stores:            cfg.Stores,
		model:             cfg.ModelName,
		systemInstruction: cfg.SystemInstruction,
		retryCfg:          retryCfg,
		limiter:           limiter,
		logger:            logger,
	}, nil
}

// Ensure guarantees a session exists. With refresh set, the previous
// session is discarded first so newly indexed files enter the model's
// retrieval scope. Session creation is intentionally not memoized the
// way store creation is: every refresh creates anew.
func (m *Manager) Ensure(ctx context.Context, refresh bool) error {
	m.mu.Lock()
	if m.session != nil && !refresh {
		m.mu.Unlock()
		return nil
	}
	m.session = nil
	m.mu.Unlock()

	_, err := m.ensureSession(ctx)
	return err
}

// ensureSession returns the current session, creating one bound to the
// current store handle when absent.
func (m *Manager) ensureSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.session != nil {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	handle, err := m.stores.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving store for session: %w", err)
	}

	sess, err := retry.Do(ctx, m.retryCfg, func(ctx context.Context) (Session, error) {
		return m.svc.NewSession(ctx, m.model, m.systemInstruction, []string{handle.Name})
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	m.logger.Debug("created chat session", "store", handle.Name)
	return sess, nil
}

// Invalidate discards the cached session. The next send recreates it.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
}

// Reset discards the session and the store handle (credential rotation).
func (m *Manager) Reset() {
	m.Invalidate()
	m.stores.Invalidate()
}

// Send dispatches a message and relays the streaming response through
// onChunk in arrival order, returning the accumulated full text.
//
// Only the initial dispatch is retried: once a fragment has been
// delivered to the sink, partial output cannot be safely replayed, so
// any later failure is surfaced as a whole-turn error with the partial
// text already delivered left intact.
func (m *Manager) Send(ctx context.Context, text string, onChunk ChunkFunc) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	var full strings.Builder
	delivered := false
	delay := m.retryCfg.InitialInterval
	var lastErr error

	for attempt := 0; attempt <= m.retryCfg.MaxRetries; attempt++ {
		sess, err := m.ensureSession(ctx)
		if err != nil {
			return "", err
		}

		err = sess.SendStream(ctx, text, func(chunk gemini.Chunk) error {
			delivered = true
			full.WriteString(chunk.Text)
			if onChunk != nil {
				onChunk(chunk.Text, chunk.Citations)
			}
			return nil
		})
		if err == nil {
			return full.String(), nil
		}
		lastErr = err

		// A vanished session or store forces recreation on the next
		// send. Not silently retried here: the sink may already hold
		// partial output.
		if gemini.IsNotFound(err) {
			m.logger.Warn("session went stale mid-conversation", "error", err)
			m.Invalidate()
			m.stores.Invalidate()
			return full.String(), fmt.Errorf("%w: %w", ErrSessionStale, err)
		}

		if delivered || !retry.Transient(err) || attempt == m.retryCfg.MaxRetries {
			break
		}

		m.logger.Debug("retrying send", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return full.String(), fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, m.retryCfg.MaxInterval)
		}
	}

	if gemini.IsRateLimited(lastErr) {
		return full.String(), fmt.Errorf("%w: %w", ErrRateLimited, lastErr)
	}
	return full.String(), lastErr
}
