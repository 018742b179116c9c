// Package analysis scores journal entries for sentiment and summarizes a
// user's recent entries into recurring themes and insights.
//
// Both calls are single structured gateway requests. Replies are decoded
// with gjson and checked field by field; a reply that does not fit is an
// ErrInvalidReply rather than a guess.
package analysis
