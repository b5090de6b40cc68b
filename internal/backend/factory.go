package backend

import (
	"context"
	"fmt"

	"aichat/internal/config"
	"aichat/internal/logging"
)

// NewFromConfig builds the store, responder and server described by cfg.
// The caller owns the returned Store and must Close it.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Server, Store, error) {
	store, err := OpenStore(cfg.Backend)
	if err != nil {
		return nil, nil, err
	}

	responder, err := OpenResponder(ctx, cfg.Backend)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	srv := NewServer(store, responder,
		WithTokens(cfg.Backend.Tokens),
		WithReplyTimeout(cfg.GetBackendReplyTimeout()),
		WithMaxConnections(cfg.Backend.MaxConnections),
	)
	return srv, store, nil
}

// OpenStore returns a SQLite store when a database path is configured, otherwise a memory store.
func OpenStore(cfg config.BackendConfig) (Store, error) {
	if cfg.DatabasePath == "" {
		logging.Backend("using in-memory session store")
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(cfg.DatabaseDriver, cfg.DatabasePath)
}

// OpenResponder builds the configured responder.
func OpenResponder(ctx context.Context, cfg config.BackendConfig) (Responder, error) {
	switch cfg.Responder {
	case "", "echo":
		return EchoResponder{}, nil
	case "gemini":
		return NewGeminiResponder(ctx, GeminiOptions{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
	case "openai":
		return NewOpenAIResponder(OpenAIOptions{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown responder %q", cfg.Responder)
	}
}
