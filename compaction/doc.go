// Package compaction keeps a journaling conversation inside the model's
// context budget.
//
// Before each generation call the Manager estimates the token cost of the
// session's turns. When the estimate exceeds the trigger, every turn except
// the most recent KeepCount is replaced by a single summary turn
// (types.RoleSummary) written by the model:
//
//	[u1 a1 u2 a2 ... u20 a20 u21]   estimate > trigger, keep = 20
//	[summary(u1..a10) u11 ... u21]
//
// # Usage
//
//	m := compaction.NewManager(gw, compaction.DefaultConfig())
//	turns, result, err := m.MaybeCompact(ctx, session.Turns)
//	if err != nil {
//	    return err
//	}
//	if result != nil {
//	    log.Info("compacted", "from", result.OriginalTokens, "to", result.CompactedTokens)
//	}
//
// # Token Estimation
//
// Estimates are a character approximation (~4 characters per token) plus a
// fixed per-turn overhead. They are deterministic for identical input.
//
// # Guarantees
//
//   - Fewer than KeepCount+1 turns are never compacted.
//   - The trailing KeepCount turns are returned unchanged.
//   - A compacted sequence is re-estimated; if it is still over the trigger
//     the Manager returns ErrCompactionIneffective and the input unchanged,
//     so running MaybeCompact twice never summarizes twice.
package compaction
