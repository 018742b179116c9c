package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tracejournal/trace/config"
	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/gateway/anthropic"
	"github.com/tracejournal/trace/gateway/gemini"
	"github.com/tracejournal/trace/gateway/openai"
	"github.com/tracejournal/trace/storage"
)

func newLogger(cfg config.Logging, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(ctx context.Context, cfg config.Store) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemoryStore(), nil

	case config.DriverPostgres:
		s, err := storage.OpenPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil

	case config.DriverSQL:
		s, err := storage.OpenSQL(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil

	case config.DriverRedis:
		return storage.OpenRedis(ctx, cfg.URL, cfg.Prefix)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// apiKeyEnv is consulted when the config file has no key.
var apiKeyEnv = map[string]string{
	config.ProviderAnthropic: "ANTHROPIC_API_KEY",
	config.ProviderOpenAI:    "OPENAI_API_KEY",
	config.ProviderGemini:    "GEMINI_API_KEY",
}

func newGateway(ctx context.Context, cfg config.Provider) (gateway.Gateway, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv(apiKeyEnv[cfg.Name])
	}
	if key == "" {
		return nil, fmt.Errorf("no API key for provider %s: set provider.api_key or %s", cfg.Name, apiKeyEnv[cfg.Name])
	}

	switch cfg.Name {
	case config.ProviderAnthropic:
		return anthropic.NewFromAPIKey(key), nil
	case config.ProviderOpenAI:
		return openai.NewFromAPIKey(key), nil
	case config.ProviderGemini:
		return gemini.NewFromAPIKey(ctx, key)
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Name)
}
