package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/remote"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInvalidCredentials
	LoginFailureTwoFactorInvalid
	LoginFailureTwoFactorExpired
	LoginFailureRejected
	LoginFailureTransport
	LoginFailureDecode
	LoginFailurePersist
)

// LoginResult is either an established session, a two-factor challenge, or
// a failure.
type LoginResult struct {
	Failure   LoginFailureKind
	Err       error
	Challenge bool
	TempToken string
	State     session.State
}

// SessionWriter installs a newly issued session.
type SessionWriter interface {
	Establish(ctx context.Context, user session.User, pair session.TokenPair) (session.State, error)
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	API      AuthAPI
	Sessions SessionWriter
	Now      func() time.Time
}

// RunLogin posts the credentials, and the code and temp token when
// continuing a challenge. A persisting failure still leaves the session
// established in memory and is reported as LoginFailurePersist.
func RunLogin(ctx context.Context, req remote.LoginRequest, deps LoginDeps) LoginResult {
	continuing := req.TwoFactorCode != ""
	resp, err := deps.API.Login(ctx, req)
	if err != nil {
		return LoginResult{Failure: classifyLogin(err, continuing), Err: err}
	}

	if resp.RequiresTwoFactor {
		if resp.TempToken == "" {
			return LoginResult{Failure: LoginFailureDecode, Err: errors.New("two-factor challenge without temp token")}
		}
		if continuing {
			return LoginResult{Failure: LoginFailureTwoFactorInvalid, Err: errors.New("two-factor code not accepted"), TempToken: resp.TempToken}
		}
		return LoginResult{Challenge: true, TempToken: resp.TempToken}
	}

	if resp.User == nil || resp.User.ID == "" || resp.Tokens == nil || resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		return LoginResult{Failure: LoginFailureDecode, Err: errors.New("login response without user or tokens")}
	}

	pair := session.TokenPair{
		AccessToken:  resp.Tokens.AccessToken,
		RefreshToken: resp.Tokens.RefreshToken,
		IssuedAt:     now(deps.Now),
	}
	st, err := deps.Sessions.Establish(ctx, *resp.User, pair)
	if err != nil {
		return LoginResult{Failure: LoginFailurePersist, Err: err, State: st}
	}
	return LoginResult{State: st}
}

func classifyLogin(err error, continuing bool) LoginFailureKind {
	switch {
	case errors.Is(err, remote.ErrUnauthorized) || (errors.Is(err, remote.ErrBadRequest) && continuing):
		if !continuing {
			return LoginFailureInvalidCredentials
		}
		var se *remote.StatusError
		if errors.As(err, &se) {
			code := strings.ToLower(se.Code)
			switch {
			case strings.Contains(code, "credential"):
				return LoginFailureInvalidCredentials
			case strings.Contains(code, "expired"):
				return LoginFailureTwoFactorExpired
			}
		}
		return LoginFailureTwoFactorInvalid
	case errors.Is(err, remote.ErrTransport), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return LoginFailureTransport
	case errors.Is(err, remote.ErrDecode):
		return LoginFailureDecode
	}
	return LoginFailureRejected
}

func now(fn func() time.Time) time.Time {
	if fn == nil {
		return time.Now()
	}
	return fn()
}
