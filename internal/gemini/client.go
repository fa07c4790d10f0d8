// Package gemini adapts the google.golang.org/genai SDK to the narrow
// surface docuchat needs: file upload, file search store management,
// import operations, and grounded streaming chat.
//
// All SDK-specific types stay inside this package. Consumers (index,
// ingest, chat) define their own interfaces over these methods, so tests
// can substitute fakes without touching the network.
package gemini

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/genai"

	"github.com/docuchat/docuchat/internal/config"
)

// Store is the client-side view of a server-side file search store.
type Store struct {
	// Name is the opaque resource name assigned by the service,
	// e.g. "fileSearchStores/abc123".
	Name string

	// DisplayName is the human-readable name the store was created with.
	DisplayName string
}

// Operation tracks a long-running import into a file search store.
type Operation struct {
	raw *genai.ImportFileOperation

	// Name is the operation's resource name.
	Name string

	// Done reports whether the operation has finished, successfully or not.
	Done bool

	// Err holds the server-side failure when Done is true and the import
	// did not succeed. Distinct from transport errors, which are returned
	// by PollOperation itself.
	Err error
}

// Client wraps a genai client configured for the Gemini API backend.
type Client struct {
	genai  *genai.Client
	logger *slog.Logger
}

// New creates a Client from the application configuration.
// The credential must already be present; config.Load guarantees that.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, config.ErrMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{genai: gc, logger: logger}, nil
}

// UploadFile uploads raw file content and returns the resource name
// assigned by the Files API.
func (c *Client) UploadFile(ctx context.Context, r io.Reader, displayName, mimeType string) (string, error) {
	f, err := c.genai.Files.Upload(ctx, r, &genai.UploadFileConfig{
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", displayName, err)
	}

	c.logger.Debug("uploaded file", "display_name", displayName, "name", f.Name)
	return f.Name, nil
}

// DeleteFile removes an uploaded file by resource name.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if _, err := c.genai.Files.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("deleting file %s: %w", name, err)
	}
	return nil
}

// CreateStore creates a new file search store with the given display name.
func (c *Client) CreateStore(ctx context.Context, displayName string) (*Store, error) {
	s, err := c.genai.FileSearchStores.Create(ctx, &genai.CreateFileSearchStoreConfig{
		DisplayName: displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("creating file search store: %w", err)
	}

	c.logger.Info("created file search store", "name", s.Name, "display_name", displayName)
	return &Store{Name: s.Name, DisplayName: s.DisplayName}, nil
}

// GetStore fetches a store by resource name. A stale or deleted store
// yields a not-found-class error recognizable via IsNotFound.
func (c *Client) GetStore(ctx context.Context, name string) (*Store, error) {
	s, err := c.genai.FileSearchStores.Get(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("getting file search store %s: %w", name, err)
	}
	return &Store{Name: s.Name, DisplayName: s.DisplayName}, nil
}

// DeleteStore removes a store. With force set, documents inside the store
// are deleted along with it.
func (c *Client) DeleteStore(ctx context.Context, name string, force bool) error {
	if err := c.genai.FileSearchStores.Delete(ctx, name, &genai.DeleteFileSearchStoreConfig{
		Force: &force,
	}); err != nil {
		return fmt.Errorf("deleting file search store %s: %w", name, err)
	}
	return nil
}

// ImportFile starts ingesting an uploaded file into a store and returns
// the long-running operation handle.
func (c *Client) ImportFile(ctx context.Context, storeName, fileName string) (*Operation, error) {
	op, err := c.genai.FileSearchStores.ImportFile(ctx, storeName, fileName, nil)
	if err != nil {
		return nil, fmt.Errorf("importing %s into %s: %w", fileName, storeName, err)
	}
	return operationFrom(op), nil
}

// PollOperation refreshes an operation handle. Transport failures are
// returned as errors; a server-side indexing failure is reported through
// the returned Operation's Err field once Done.
func (c *Client) PollOperation(ctx context.Context, op *Operation) (*Operation, error) {
	if op == nil || op.raw == nil {
		return nil, fmt.Errorf("poll operation: nil operation handle")
	}

	refreshed, err := c.genai.Operations.GetImportFileOperation(ctx, op.raw, nil)
	if err != nil {
		return nil, fmt.Errorf("polling operation: %w", err)
	}
	return operationFrom(refreshed), nil
}

// operationFrom converts the SDK operation into the package-level handle.
func operationFrom(raw *genai.ImportFileOperation) *Operation {
	op := &Operation{raw: raw, Name: raw.Name, Done: raw.Done}
	if raw.Done && len(raw.Error) > 0 {
		msg, _ := raw.Error["message"].(string)
		if msg == "" {
			msg = fmt.Sprintf("%v", raw.Error)
		}
		op.Err = fmt.Errorf("indexing failed: %s", msg)
	}
	return op
}
