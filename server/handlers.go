package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tracejournal/trace"
	"github.com/tracejournal/trace/analysis"
	"github.com/tracejournal/trace/render"
	"github.com/tracejournal/trace/storage"
	"github.com/tracejournal/trace/tool"
	"github.com/tracejournal/trace/types"
)

// Response wraps all API responses.
type Response struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
	Meta  *Meta     `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains pagination metadata.
type Meta struct {
	HasMore bool `json:"has_more,omitempty"`
	Limit   int  `json:"limit,omitempty"`
	Offset  int  `json:"offset,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Data: data})
}

// writeJSONWithMeta writes a JSON response with metadata.
func writeJSONWithMeta(w http.ResponseWriter, status int, data any, meta *Meta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Data: data, Meta: meta})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Error: &APIError{Code: code, Message: message},
	})
}

// parseInt parses an integer query parameter with a default.
func parseInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func userID(r *http.Request) string {
	id, _ := trace.UserIDFromContext(r.Context())
	return id
}

// internalError logs err and answers with a generic message.
func (rt *router) internalError(w http.ResponseWriter, r *http.Request, err error) {
	rt.config.Logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func (rt *router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (rt *router) handleRandomPrompt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"prompt": tool.RandomPrompt(rt.config.Prompts)})
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the reply to POST /chat.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Rejected  bool   `json:"rejected,omitempty"`
}

func (rt *router) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := rt.journal.ProcessTurn(r.Context(), req.SessionID, req.Message)
	switch {
	case err == nil:
	case errors.Is(err, trace.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "empty_message", "message is empty")
		return
	case errors.Is(err, trace.ErrSessionForbidden):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	case trace.IsRetryable(err):
		w.Header().Set("Retry-After", strconv.Itoa(int(rt.config.RetryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service busy, try again shortly")
		return
	default:
		rt.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:  res.Text,
		SessionID: res.SessionID,
		Rejected:  res.Rejected,
	})
}

// entryView is a journal entry as listed by /api/journal.
type entryView struct {
	*types.JournalEntry
	AIResponseHTML string `json:"ai_response_html,omitempty"`
}

func (rt *router) handleListEntries(w http.ResponseWriter, r *http.Request) {
	limit, offset := storage.ClampPage(parseInt(r, "limit", storage.DefaultLimit), parseInt(r, "offset", 0))
	asHTML := r.URL.Query().Get("format") == "html"

	entries, err := rt.store.ListEntries(r.Context(), userID(r), limit, offset)
	if err != nil {
		rt.internalError(w, r, err)
		return
	}

	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		v := entryView{JournalEntry: e}
		if asHTML {
			if v.AIResponseHTML, err = render.Markdown(e.AIResponse); err != nil {
				rt.internalError(w, r, err)
				return
			}
		}
		views = append(views, v)
	}

	writeJSONWithMeta(w, http.StatusOK, views, &Meta{
		HasMore: len(entries) == limit,
		Limit:   limit,
		Offset:  offset,
	})
}

func (rt *router) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := rt.store.ListSessions(r.Context(), userID(r))
	if err != nil {
		rt.internalError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*types.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CreatedSession is the reply to POST /api/chat-sessions/create.
type CreatedSession struct {
	SessionID string    `json:"session_id"`
	Greeting  string    `json:"greeting"`
	CreatedAt time.Time `json:"created_at"`
}

func (rt *router) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	res, err := rt.journal.StartSession(r.Context())
	switch {
	case err == nil:
	case trace.IsRetryable(err):
		w.Header().Set("Retry-After", strconv.Itoa(int(rt.config.RetryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service busy, try again shortly")
		return
	default:
		rt.internalError(w, r, err)
		return
	}

	out := CreatedSession{SessionID: res.SessionID, Greeting: res.Text}
	if res.Entry != nil {
		out.CreatedAt = res.Entry.CreatedAt
	}
	writeJSON(w, http.StatusCreated, out)
}

// DeletedSession is the reply to DELETE /api/chat-sessions/{id}.
type DeletedSession struct {
	SessionID      string `json:"session_id"`
	DeletedEntries int    `json:"deleted_entries"`
}

func (rt *router) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := rt.store.DeleteSession(r.Context(), userID(r), id)
	if err != nil {
		rt.internalError(w, r, err)
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	rt.config.Logger.Info("session deleted", "session_id", id, "entries", n)
	writeJSON(w, http.StatusOK, DeletedSession{SessionID: id, DeletedEntries: n})
}

func (rt *router) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := rt.store.ListSessionEntries(r.Context(), userID(r), id)
	if err != nil {
		rt.internalError(w, r, err)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"entries":    entries,
	})
}

// SessionSentiment is the reply to GET /api/sentiment/session/{id}.
type SessionSentiment struct {
	SessionID    string                  `json:"session_id"`
	MessageCount int                     `json:"message_count"`
	ScoredCount  int                     `json:"scored_count"`
	AverageScore float64                 `json:"average_score"`
	Labels       map[string]int          `json:"labels"`
	Scores       []*types.SentimentScore `json:"scores"`
}

func (rt *router) handleSessionSentiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	uid := userID(r)

	entries, err := rt.store.ListSessionEntries(r.Context(), uid, id)
	if err != nil {
		rt.internalError(w, r, err)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	scores, err := rt.store.SentimentForSession(r.Context(), uid, id)
	if err != nil {
		rt.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarizeSentiment(id, len(entries), scores))
}

func summarizeSentiment(sessionID string, messages int, scores []*types.SentimentScore) *SessionSentiment {
	out := &SessionSentiment{
		SessionID:    sessionID,
		MessageCount: messages,
		ScoredCount:  len(scores),
		Labels:       make(map[string]int),
		Scores:       scores,
	}
	if out.Scores == nil {
		out.Scores = []*types.SentimentScore{}
	}
	var sum float64
	for _, s := range scores {
		sum += s.Score
		out.Labels[string(s.Label)]++
	}
	if len(scores) > 0 {
		out.AverageScore = sum / float64(len(scores))
	}
	return out
}

func (rt *router) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	if rt.analyzer == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "analysis is disabled")
		return
	}

	var window time.Duration
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 || days > MaxAnalysisDays {
			writeError(w, http.StatusBadRequest, "invalid_request", "days must be between 1 and "+strconv.Itoa(MaxAnalysisDays))
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	a, err := rt.analyzer.AnalyzeWindow(r.Context(), userID(r), rt.config.Now(), window)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a)
	case errors.Is(err, analysis.ErrNoEntries):
		writeError(w, http.StatusNotFound, "no_entries", "no journal entries in the analysis window")
	case trace.IsRetryable(err):
		w.Header().Set("Retry-After", strconv.Itoa(int(rt.config.RetryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service busy, try again shortly")
	default:
		rt.internalError(w, r, err)
	}
}

func (rt *router) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := rt.store.LatestAnalysis(r.Context(), userID(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no analysis yet")
	default:
		rt.internalError(w, r, err)
	}
}
