package trace

import "context"

// userIDContextKey is the context key for the authenticated user id.
type userIDContextKey struct{}

// ContextWithUserID returns a context carrying userID. ProcessTurn records it
// on new sessions and journal entries and refuses sessions owned by others.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext returns the user id set by ContextWithUserID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(string)
	return id, ok && id != ""
}
