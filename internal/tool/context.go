package tool

import "context"

type senderKey struct{}

// WithSender returns a context carrying the id of the agent that requested
// the tool call. The interaction handler sets it before execution.
func WithSender(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, senderKey{}, agentID)
}

// SenderFrom returns the requesting agent id, if any.
func SenderFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(senderKey{}).(string)
	return id, ok
}
