// Package index manages the lifetime of the server-side file search store.
//
// Exactly one logical store exists per application instance. Creation is
// memoized through a single-flight group so concurrent callers racing on
// first use share one in-flight creation instead of each creating a
// duplicate store. A cached handle is liveness-checked before reuse and
// transparently recreated when the server has forgotten it (deleted
// out-of-band or expired).
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/docuchat/docuchat/internal/gemini"
)

// StoreService is the slice of the Gemini client the manager needs.
// Interfaces are defined by the consumer; *gemini.Client satisfies this.
type StoreService interface {
	CreateStore(ctx context.Context, displayName string) (*gemini.Store, error)
	GetStore(ctx context.Context, name string) (*gemini.Store, error)
	DeleteStore(ctx context.Context, name string, force bool) error
}

// Handle identifies the active file search store.
type Handle struct {
	// Name is the opaque server-side resource name.
	Name string

	// DisplayName is the human-readable name the store was created with.
	DisplayName string
}

// Manager owns the memoized store handle. All mutation of the handle goes
// through Manager methods; callers never hold a reference they can mutate.
type Manager struct {
	svc         StoreService
	displayName string
	cache       *diskCache // nil when no cache directory is configured
	logger      *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	handle *Handle
}

// NewManager creates a Manager. cacheDir may be empty to disable the
// on-disk cached identifier (tests do this).
func NewManager(svc StoreService, displayName, cacheDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		svc:         svc,
		displayName: displayName,
		logger:      logger,
	}
	if cacheDir != "" {
		m.cache = newDiskCache(cacheDir)
	}
	return m
}

// Ensure returns the current store handle, creating the store on first
// use. Concurrent calls during creation resolve to the same handle and
// issue exactly one creation request. A cached handle is verified against
// the server first; if the store no longer exists, the cache is discarded
// and a fresh store is created.
func (m *Manager) Ensure(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	cached := m.handle
	m.mu.Unlock()

	if cached != nil {
		if live := m.verify(ctx, cached.Name); live {
			return *cached, nil
		}
		m.logger.Warn("cached store no longer exists, recreating", "name", cached.Name)
		m.Invalidate()
	}

	// Single-flight: callers arriving before the first creation completes
	// join the in-flight result rather than creating duplicates. Nothing
	// is memoized on failure, so the next call retries from scratch.
	v, err, _ := m.group.Do("store", func() (any, error) {
		h, err := m.resolve(ctx)
		if err != nil {
			return Handle{}, err
		}
		// Memoize inside the flight: a caller arriving right after
		// completion must see the handle, not start a second creation.
		m.mu.Lock()
		m.handle = &h
		m.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

// resolve restores a handle from the disk cache when it is still live,
// otherwise creates a new store and persists its identifier.
func (m *Manager) resolve(ctx context.Context) (Handle, error) {
	// A previous winner of the single-flight may already have set the
	// handle; reuse it instead of creating another store.
	m.mu.Lock()
	if m.handle != nil {
		h := *m.handle
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	if m.cache != nil {
		if h, ok := m.cache.load(); ok {
			if m.verify(ctx, h.Name) {
				m.logger.Debug("reusing cached store", "name", h.Name)
				return h, nil
			}
			m.logger.Warn("cached store identifier is stale, discarding", "name", h.Name)
			m.cache.clear()
		}
	}

	store, err := m.svc.CreateStore(ctx, m.displayName)
	if err != nil {
		return Handle{}, fmt.Errorf("creating store: %w", err)
	}

	h := Handle{Name: store.Name, DisplayName: store.DisplayName}
	if m.cache != nil {
		if err := m.cache.save(h); err != nil {
			// Non-fatal: the store exists, we just lose reuse across runs.
			m.logger.Warn("persisting store identifier", "error", err)
		}
	}
	return h, nil
}

// verify checks that a store still exists server-side. Only a
// not-found-class error marks the handle dead; transport failures are
// treated as inconclusive and the handle is kept, since recreating on a
// flaky network would orphan a perfectly good store.
func (m *Manager) verify(ctx context.Context, name string) bool {
	_, err := m.svc.GetStore(ctx, name)
	if err == nil {
		return true
	}
	if gemini.IsNotFound(err) {
		return false
	}
	m.logger.Debug("store liveness check inconclusive", "name", name, "error", err)
	return true
}

// Invalidate drops the in-memory handle. The next Ensure re-resolves.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.handle = nil
	m.mu.Unlock()
}

// Reset drops both the in-memory handle and the on-disk cached
// identifier. Used on credential rotation.
func (m *Manager) Reset() {
	m.Invalidate()
	if m.cache != nil {
		m.cache.clear()
	}
}

// Delete removes the current store server-side (force removes its
// documents too) and clears all cached state. Best-effort: a missing
// store is not an error.
func (m *Manager) Delete(ctx context.Context, force bool) error {
	m.mu.Lock()
	cached := m.handle
	m.mu.Unlock()

	if cached == nil && m.cache != nil {
		if h, ok := m.cache.load(); ok {
			cached = &h
		}
	}
	m.Reset()

	if cached == nil {
		return nil
	}
	if err := m.svc.DeleteStore(ctx, cached.Name, force); err != nil && !gemini.IsNotFound(err) {
		return fmt.Errorf("deleting store %s: %w", cached.Name, err)
	}
	return nil
}
