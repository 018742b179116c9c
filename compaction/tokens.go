package compaction

import "github.com/tracejournal/trace/types"

// ApproximateTokens estimates tokens as ceil(len/4). Any non-empty string
// counts as at least one token.
func ApproximateTokens(content string) int {
	return (len(content) + 3) / 4
}

// EstimateTurnTokens returns the estimate for a single turn including the
// per-turn framing overhead.
func EstimateTurnTokens(t types.Turn) int {
	return ApproximateTokens(t.Content) + DefaultTurnOverheadTokens
}

// EstimateTokens returns the estimated token cost of turns. The result
// depends only on the turn contents, so it is stable across calls.
func EstimateTokens(turns []types.Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTurnTokens(t)
	}
	return total
}
