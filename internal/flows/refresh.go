package flows

import (
	"context"
	"errors"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/remote"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
)

// RefreshFailureKind classifies refresh failures. Every kind except
// RefreshFailureNone ends the session.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNoToken
	RefreshFailureRejected
	RefreshFailureTimeout
	RefreshFailureTransport
	RefreshFailureServer
	RefreshFailureDecode
)

// Transient reports whether the failure came from the network rather than
// from the server rejecting the token.
func (k RefreshFailureKind) Transient() bool {
	return k == RefreshFailureTimeout || k == RefreshFailureTransport || k == RefreshFailureServer
}

// RefreshResult carries the new pair and, when /auth/me succeeded, a fresh
// user snapshot.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	Tokens  session.TokenPair
	User    *session.User
	MeErr   error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	API  AuthAPI
	Now  func() time.Time
	Warn func(msg string, err error)
}

// RunRefresh exchanges the refresh token once and then fetches the user.
// It never retries: a second call against a rotated token would fail.
func RunRefresh(ctx context.Context, pair session.TokenPair, deps RefreshDeps) RefreshResult {
	if pair.RefreshToken == "" {
		return RefreshResult{Failure: RefreshFailureNoToken, Err: errors.New("no refresh token")}
	}

	resp, err := deps.API.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		return RefreshResult{Failure: classifyRefresh(ctx, err), Err: err}
	}

	out := RefreshResult{Tokens: session.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     now(deps.Now),
	}}

	user, err := deps.API.Me(ctx, resp.AccessToken)
	if err != nil {
		out.MeErr = err
		if deps.Warn != nil {
			deps.Warn("user refresh after token refresh failed", err)
		}
		return out
	}
	out.User = &user
	return out
}

func classifyRefresh(ctx context.Context, err error) RefreshFailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return RefreshFailureTimeout
	case errors.Is(err, remote.ErrTransport):
		return RefreshFailureTransport
	case errors.Is(err, remote.ErrServer):
		return RefreshFailureServer
	case errors.Is(err, remote.ErrDecode):
		return RefreshFailureDecode
	}
	return RefreshFailureRejected
}
