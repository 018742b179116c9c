package types

import "time"

// JournalEntry is one archived user/assistant exchange. Entries are append-only
// and survive compaction of the working session.
type JournalEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionSummary describes a chat session for listing.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	EntryCount   int       `json:"entry_count"`
	FirstMessage string    `json:"first_message"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SentimentLabel is the coarse polarity of an entry.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// IsValid reports whether l is a known label.
func (l SentimentLabel) IsValid() bool {
	switch l {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// SentimentScore is the classification of a single journal entry.
type SentimentScore struct {
	EntryID  string         `json:"entry_id"`
	Label    SentimentLabel `json:"label"`
	Score    float64        `json:"score"`
	Emotions []string       `json:"emotions"`
	ScoredAt time.Time      `json:"scored_at"`
}

// PatternAnalysis is a model-written reading of a user's recent entries.
type PatternAnalysis struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	EntryCount  int       `json:"entry_count"`
	Summary     string    `json:"summary"`
	Themes      []string  `json:"themes"`
	Insights    []string  `json:"insights"`
	CreatedAt   time.Time `json:"created_at"`
}
