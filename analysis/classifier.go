package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tracejournal/trace/gateway"
	"github.com/tracejournal/trace/types"
)

// MaxEmotions bounds the emotions kept per entry.
const MaxEmotions = 3

type sentimentReply struct {
	Label    string   `json:"label" jsonschema:"required,enum=positive,enum=negative,enum=neutral"`
	Score    float64  `json:"score" jsonschema:"required"`
	Emotions []string `json:"emotions" jsonschema:"required"`
}

var sentimentSchema = gateway.GenerateSchema[sentimentReply]("entry_sentiment", "Emotional tone of a journal entry")

// Classifier scores single journal entries.
type Classifier struct {
	gw     gateway.Gateway
	preset gateway.Preset
	now    func() time.Time
}

// NewClassifier creates a Classifier calling gw with preset.
func NewClassifier(gw gateway.Gateway, preset gateway.Preset) *Classifier {
	return &Classifier{gw: gw, preset: preset, now: time.Now}
}

// Classify scores the user message of entry.
func (c *Classifier) Classify(ctx context.Context, entry *types.JournalEntry) (*types.SentimentScore, error) {
	out, err := c.gw.GenerateStructured(ctx, gateway.Request{
		Preset: c.preset,
		System: SentimentSystemPrompt,
		Turns:  gateway.UserPrompt(formatEntry(entry)),
		Schema: sentimentSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to classify entry %s: %w", entry.ID, err)
	}

	score, err := ParseSentiment(out)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", entry.ID, err)
	}
	score.EntryID = entry.ID
	score.ScoredAt = c.now()
	return score, nil
}

// ParseSentiment decodes a classifier reply. The score is clamped to [0, 1]
// and emotions are lowercased, deduplicated and capped at MaxEmotions.
func ParseSentiment(reply string) (*types.SentimentScore, error) {
	raw, ok := gateway.ExtractJSON(reply)
	if !ok || !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: no JSON object", ErrInvalidReply)
	}

	label := types.SentimentLabel(strings.ToLower(strings.TrimSpace(gjson.Get(raw, "label").String())))
	if !label.IsValid() {
		return nil, fmt.Errorf("%w: label %q", ErrInvalidReply, label)
	}
	score := gjson.Get(raw, "score")
	if score.Type != gjson.Number {
		return nil, fmt.Errorf("%w: score is not a number", ErrInvalidReply)
	}

	return &types.SentimentScore{
		Label:    label,
		Score:    min(max(score.Float(), 0), 1),
		Emotions: stringList(gjson.Get(raw, "emotions"), MaxEmotions, true),
	}, nil
}

// stringList collects non-blank strings from a JSON array, up to limit.
func stringList(r gjson.Result, limit int, lower bool) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, item := range r.Array() {
		if item.Type != gjson.String {
			continue
		}
		s := strings.TrimSpace(item.String())
		if lower {
			s = strings.ToLower(s)
		}
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
