package govauth

import "context"

type noReplayContextKey struct{}

// WithoutReplay marks requests sent with ctx through [Client.HTTPClient] so
// that a 401 is returned to the caller as is, without joining a refresh.
// Use it for calls that must observe the server's verdict on the current
// token.
func WithoutReplay(ctx context.Context) context.Context {
	return context.WithValue(ctx, noReplayContextKey{}, true)
}

func replayDisabled(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(noReplayContextKey{}).(bool)
	return v
}
