// Package server exposes a Journal and its stores over JSON HTTP.
//
// Every /chat and /api route requires an authenticated user. /health and
// /random-prompt are public.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/tracejournal/trace"
	"github.com/tracejournal/trace/storage"
	"github.com/tracejournal/trace/types"
)

// Logger interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TurnProcessor handles chat messages and opens sessions. *trace.Journal
// satisfies it.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, sessionID, text string) (*trace.TurnResult, error)
	StartSession(ctx context.Context) (*trace.TurnResult, error)
}

// PatternAnalyzer runs an on-demand analysis over the window ending at now.
// A non-positive window means the analyzer's default. *analysis.Analyzer
// satisfies it.
type PatternAnalyzer interface {
	AnalyzeWindow(ctx context.Context, userID string, now time.Time, window time.Duration) (*types.PatternAnalysis, error)
}

// Store is the read side the API serves from.
type Store interface {
	storage.JournalStore
	SentimentForSession(ctx context.Context, userID, sessionID string) ([]*types.SentimentScore, error)
	LatestAnalysis(ctx context.Context, userID string) (*types.PatternAnalysis, error)
}

// Default configuration values.
const (
	DefaultRetryAfter = 5 * time.Second
	MaxRequestBytes   = 64 << 10

	// MaxAnalysisDays bounds the days parameter of POST /api/analysis.
	MaxAnalysisDays = 365
)

// Config holds router configuration.
type Config struct {
	// Prompts are served by /random-prompt. Defaults to DefaultPrompts.
	Prompts []string

	// RetryAfter is advertised on 503 responses.
	// Default: 5 seconds
	RetryAfter time.Duration

	// Logger for structured logging. If nil, logging is disabled.
	Logger Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if len(c.Prompts) == 0 {
		c.Prompts = DefaultPrompts
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = DefaultRetryAfter
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type router struct {
	journal  TurnProcessor
	store    Store
	analyzer PatternAnalyzer
	config   *Config
}

// NewRouter builds the HTTP handler. analyzer may be nil, in which case
// POST /api/analysis answers 501.
func NewRouter(journal TurnProcessor, store Store, analyzer PatternAnalyzer, auth Authenticator, cfg *Config) http.Handler {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.applyDefaults()

	r := &router{
		journal:  journal,
		store:    store,
		analyzer: analyzer,
		config:   &c,
	}

	private := http.NewServeMux()
	private.HandleFunc("POST /chat", r.handleChat)
	private.HandleFunc("GET /api/journal", r.handleListEntries)
	private.HandleFunc("GET /api/chat-sessions", r.handleListSessions)
	private.HandleFunc("POST /api/chat-sessions/create", r.handleCreateSession)
	private.HandleFunc("GET /api/chat-sessions/{id}", r.handleGetSession)
	private.HandleFunc("DELETE /api/chat-sessions/{id}", r.handleDeleteSession)
	private.HandleFunc("GET /api/sentiment/session/{id}", r.handleSessionSentiment)
	private.HandleFunc("POST /api/analysis", r.handleRunAnalysis)
	private.HandleFunc("GET /api/analysis/latest", r.handleLatestAnalysis)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("GET /random-prompt", r.handleRandomPrompt)
	mux.Handle("/", authMiddleware(private, auth, c.Logger))

	return withMiddleware(mux, &c)
}

// withMiddleware wraps the handler with common middleware.
func withMiddleware(handler http.Handler, cfg *Config) http.Handler {
	handler = jsonMiddleware(handler)
	handler = recoveryMiddleware(handler, cfg.Logger)
	return handler
}

// jsonMiddleware sets JSON content type for all responses.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func recoveryMiddleware(next http.Handler, logger Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller and stores the user id on the context.
func authMiddleware(next http.Handler, auth Authenticator, logger Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.Authenticate(r)
		if err != nil {
			logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(trace.ContextWithUserID(r.Context(), userID)))
	})
}
