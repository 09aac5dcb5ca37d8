package flows

import (
	"context"
	"time"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	API     AuthAPI
	Timeout time.Duration
}

// LogoutResult reports the server notification outcome. Local teardown is
// not part of the flow.
type LogoutResult struct {
	Notified bool
	Err      error
}

// RunLogout notifies the server under its own deadline. It does nothing
// without an access token.
func RunLogout(ctx context.Context, accessToken string, deps LogoutDeps) LogoutResult {
	if accessToken == "" {
		return LogoutResult{}
	}
	ctx = context.WithoutCancel(ctx)
	if deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.Timeout)
		defer cancel()
	}
	if err := deps.API.Logout(ctx, accessToken); err != nil {
		return LogoutResult{Err: err}
	}
	return LogoutResult{Notified: true}
}
