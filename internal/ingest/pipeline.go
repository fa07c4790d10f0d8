package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docuchat/docuchat/internal/gemini"
	"github.com/docuchat/docuchat/internal/index"
	"github.com/docuchat/docuchat/internal/retry"
)

// Pipeline errors.
var (
	// ErrIndexTimeout indicates the import operation did not finish
	// before the configured deadline. The document may still become
	// searchable later; this is distinct from a permanent failure.
	ErrIndexTimeout = errors.New("indexing timed out; the document may still become available, check again later")

	// ErrFileNotFound indicates the requested file is not in the registry.
	ErrFileNotFound = errors.New("file not found")
)

// Service is the slice of the Gemini client the pipeline needs.
type Service interface {
	UploadFile(ctx context.Context, r io.Reader, displayName, mimeType string) (string, error)
	ImportFile(ctx context.Context, storeName, fileName string) (*gemini.Operation, error)
	PollOperation(ctx context.Context, op *gemini.Operation) (*gemini.Operation, error)
	DeleteFile(ctx context.Context, name string) error
}

// StoreResolver supplies the current store handle. *index.Manager
// satisfies this.
type StoreResolver interface {
	Ensure(ctx context.Context) (index.Handle, error)
}

// SessionInvalidator is notified when the indexed corpus changes so the
// next chat turn binds to the updated store contents.
type SessionInvalidator interface {
	Invalidate()
}

// Config contains the pipeline's tuning knobs.
type Config struct {
	MaxFileSize  int64
	PollInterval time.Duration
	IndexTimeout time.Duration
	UploadRetry  retry.Config
}

// Pipeline drives files through upload, import, and indexing completion.
// It also keeps the ordered registry of files the user has added.
type Pipeline struct {
	svc      Service
	stores   StoreResolver
	sessions SessionInvalidator // optional
	cfg      Config
	logger   *slog.Logger

	mu    sync.Mutex
	files map[uuid.UUID]*File
}

// New creates a Pipeline. sessions may be nil when there is no chat
// manager to notify.
func New(svc Service, stores StoreResolver, sessions SessionInvalidator, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2500 * time.Millisecond
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = 120 * time.Second
	}
	if cfg.UploadRetry.MaxRetries == 0 {
		cfg.UploadRetry = retry.DefaultConfig()
	}
	return &Pipeline{
		svc:      svc,
		stores:   stores,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		files:    make(map[uuid.UUID]*File),
	}
}

// Index runs one file through the pipeline and returns it with its final
// status. Failures never propagate as errors: they land in the file's
// Status and Error fields so a batch can partially succeed.
func (p *Pipeline) Index(ctx context.Context, f *File) *File {
	p.register(f)

	// Validation happens before any network call; rejected files must
	// not touch the store.
	if err := f.Validate(p.cfg.MaxFileSize); err != nil {
		p.logger.Debug("rejected file", "file", f.DisplayName, "error", err)
		return f.fail(err)
	}

	// Step 1: upload the raw content. Uploads are keyed by content and
	// display name, so re-invoking on retry is safe.
	f.Status = StatusUploading
	remoteName, err := retry.Do(ctx, p.cfg.UploadRetry, func(ctx context.Context) (string, error) {
		return p.svc.UploadFile(ctx, bytes.NewReader(f.Content), f.DisplayName, f.MIMEType)
	})
	if err != nil {
		p.logger.Warn("upload failed", "file", f.DisplayName, "error", err)
		return f.fail(fmt.Errorf("upload failed: %w", err))
	}

	// Record the remote reference now, not on success: if import or
	// polling fails from here on, Remove still knows which uploaded
	// artifact to delete.
	f.RemoteName = remoteName

	// Step 2: resolve the current store handle.
	handle, err := p.stores.Ensure(ctx)
	if err != nil {
		return f.fail(fmt.Errorf("resolving store: %w", err))
	}

	// Step 3: start the import; this returns a long-running operation.
	op, err := p.svc.ImportFile(ctx, handle.Name, remoteName)
	if err != nil {
		return f.fail(fmt.Errorf("import failed: %w", err))
	}

	// Steps 4-5: poll until done, deadline, or server-side failure.
	f.Status = StatusProcessing
	if err := p.await(ctx, op); err != nil {
		return f.fail(err)
	}

	// Step 6: searchable.
	f.Status = StatusActive
	f.Error = ""
	p.logger.Info("file indexed", "file", f.DisplayName, "remote", remoteName)
	return f
}

// IndexAll processes files strictly sequentially. The serialization is
// deliberate: it keeps store creation deterministic and avoids concurrent
// first-upload races, trading throughput for consistency.
func (p *Pipeline) IndexAll(ctx context.Context, files []*File) []*File {
	for _, f := range files {
		p.Index(ctx, f)
	}
	if p.sessions != nil {
		p.sessions.Invalidate()
	}
	return files
}

// await polls the operation at the configured interval until it reports
// completion or the wall-clock deadline passes. The deadline is checked
// each iteration rather than capping iterations, so behavior stays
// correct under variable poll latency.
func (p *Pipeline) await(ctx context.Context, op *gemini.Operation) error {
	deadline := time.Now().Add(p.cfg.IndexTimeout)

	for {
		if op.Done {
			return op.Err
		}
		if time.Now().After(deadline) {
			return ErrIndexTimeout
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for indexing: %w", ctx.Err())
		case <-time.After(p.cfg.PollInterval):
		}

		refreshed, err := p.svc.PollOperation(ctx, op)
		if err != nil {
			return fmt.Errorf("polling indexing operation: %w", err)
		}
		op = refreshed
	}
}

// Remove deletes a file from the registry and best-effort from the
// service, then invalidates the chat session so the next turn no longer
// retrieves from the removed document.
func (p *Pipeline) Remove(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	f, ok := p.files[id]
	if ok {
		delete(p.files, id)
	}
	p.mu.Unlock()

	if !ok {
		return ErrFileNotFound
	}

	if f.RemoteName != "" {
		if err := p.svc.DeleteFile(ctx, f.RemoteName); err != nil && !gemini.IsNotFound(err) {
			p.logger.Warn("remote delete failed", "file", f.DisplayName, "error", err)
		}
	}

	if p.sessions != nil {
		p.sessions.Invalidate()
	}
	return nil
}

// register adds a file to the registry, replacing any previous entry
// with the same ID.
func (p *Pipeline) register(f *File) {
	p.mu.Lock()
	p.files[f.ID] = f
	p.mu.Unlock()
}

// List returns the registered files ordered by creation time.
func (p *Pipeline) List() []*File {
	p.mu.Lock()
	files := make([]*File, 0, len(p.files))
	for _, f := range p.files {
		files = append(files, f)
	}
	p.mu.Unlock()

	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].DisplayName < files[j].DisplayName
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files
}

// Lookup finds a registered file by ID.
func (p *Pipeline) Lookup(id uuid.UUID) (*File, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[id]
	return f, ok
}

// ResolveCitation maps a document citation back to a registered file's
// display name. Retrieved-context titles usually carry the display name
// the file was uploaded with; fall back to the citation title when no
// registered file matches.
func (p *Pipeline) ResolveCitation(c gemini.Citation) string {
	if c.Kind != gemini.CitationDocument {
		return c.Title
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.files {
		if f.DisplayName == c.Title || (f.RemoteName != "" && f.RemoteName == c.URI) {
			return f.DisplayName
		}
	}
	return c.Title
}
