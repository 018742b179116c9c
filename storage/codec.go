package storage

import (
	"encoding/json"
	"fmt"

	"github.com/tracejournal/trace/types"
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var sess types.Session
	var turnsJSON []byte
	if err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&turnsJSON,
		&sess.TokenEstimate,
		&sess.Version,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(turnsJSON, &sess.Turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns: %w", err)
	}
	return &sess, nil
}

func scanEntry(row scanner) (*types.JournalEntry, error) {
	var e types.JournalEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.SessionID, &e.UserMessage, &e.AIResponse, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanSummary(row scanner) (*types.SessionSummary, error) {
	var s types.SessionSummary
	if err := row.Scan(&s.SessionID, &s.EntryCount, &s.FirstMessage, &s.StartedAt, &s.LastActivity); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSentiment(row scanner) (*types.SentimentScore, error) {
	var s types.SentimentScore
	var label string
	var emotionsJSON []byte
	if err := row.Scan(&s.EntryID, &label, &s.Score, &emotionsJSON, &s.ScoredAt); err != nil {
		return nil, err
	}
	s.Label = types.SentimentLabel(label)
	if err := json.Unmarshal(emotionsJSON, &s.Emotions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal emotions: %w", err)
	}
	return &s, nil
}

func scanAnalysis(row scanner) (*types.PatternAnalysis, error) {
	var a types.PatternAnalysis
	var themesJSON, insightsJSON []byte
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.WindowStart,
		&a.WindowEnd,
		&a.EntryCount,
		&a.Summary,
		&themesJSON,
		&insightsJSON,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(themesJSON, &a.Themes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal themes: %w", err)
	}
	if err := json.Unmarshal(insightsJSON, &a.Insights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal insights: %w", err)
	}
	return &a, nil
}

// jsonText marshals v for a JSONB parameter. Text is used rather than
// []byte so lib/pq does not send it in binary format.
func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// nonNil keeps empty slices encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
