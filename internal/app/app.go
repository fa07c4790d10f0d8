// Package app wires the application components together.
//
// App is the explicit context object that owns the index manager, the
// ingestion pipeline, and the chat manager. There is no module-level
// state: everything hangs off this container, so credential rotation is
// an explicit Reset instead of reassigning globals, and tests cannot
// contaminate each other.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docuchat/docuchat/internal/chat"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/gemini"
	"github.com/docuchat/docuchat/internal/index"
	"github.com/docuchat/docuchat/internal/ingest"
	"github.com/docuchat/docuchat/internal/retry"
)

// App is the application container.
type App struct {
	Config *config.Config
	Client *gemini.Client
	Index  *index.Manager
	Ingest *ingest.Pipeline
	Chat   *chat.Manager
	Logger *slog.Logger
}

// sessionService adapts *gemini.Client to chat.Service, narrowing the
// concrete *gemini.Session to the chat.Session interface.
type sessionService struct {
	client *gemini.Client
}

func (s sessionService) NewSession(ctx context.Context, model, systemInstruction string, storeNames []string) (chat.Session, error) {
	return s.client.NewSession(ctx, model, systemInstruction, storeNames)
}

// New builds the App from configuration. The configuration must already
// be validated; a missing credential never reaches this far.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := gemini.New(ctx, cfg, logger.With("component", "gemini"))
	if err != nil {
		return nil, fmt.Errorf("initializing gemini client: %w", err)
	}

	idx := index.NewManager(client, cfg.StoreDisplayName, cfg.CacheDir,
		logger.With("component", "index"))

	chatMgr, err := chat.New(chat.Config{
		Service:           sessionService{client: client},
		Stores:            idx,
		Logger:            logger.With("component", "chat"),
		ModelName:         cfg.ModelName,
		SystemInstruction: cfg.SystemInstruction,
		RetryConfig: retry.Config{
			MaxRetries:      cfg.ChatMaxRetries,
			InitialInterval: retry.DefaultConfig().InitialInterval,
			MaxInterval:     retry.DefaultConfig().MaxInterval,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing chat manager: %w", err)
	}

	pipeline := ingest.New(client, idx, chatMgr, ingest.Config{
		MaxFileSize:  cfg.MaxFileSize,
		PollInterval: cfg.PollInterval,
		IndexTimeout: cfg.IndexTimeout,
		UploadRetry: retry.Config{
			MaxRetries:      cfg.UploadMaxRetries,
			InitialInterval: retry.DefaultConfig().InitialInterval,
			MaxInterval:     retry.DefaultConfig().MaxInterval,
		},
	}, logger.With("component", "ingest"))

	return &App{
		Config: cfg,
		Client: client,
		Index:  idx,
		Ingest: pipeline,
		Chat:   chatMgr,
		Logger: logger,
	}, nil
}

// Reset clears the cached session and store identifier. Called when the
// credential changes: the old handles belong to the old credential.
func (a *App) Reset() {
	a.Chat.Invalidate()
	a.Index.Reset()
	a.Logger.Info("application state reset")
}

// Close releases local resources. The remote store and its documents are
// left in place so the next run can reuse the cached identifier.
func (a *App) Close() error {
	a.Chat.Invalidate()
	return nil
}
