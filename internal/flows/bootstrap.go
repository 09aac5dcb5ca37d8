package flows

import (
	"context"
	"errors"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/remote"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
)

// BootstrapOutcome is the verdict on a rehydrated session.
type BootstrapOutcome int

const (
	BootstrapNoSession BootstrapOutcome = iota
	BootstrapRestored
	BootstrapRefreshed
	BootstrapInvalid
	BootstrapUnreachable
)

func (o BootstrapOutcome) String() string {
	switch o {
	case BootstrapRestored:
		return "restored"
	case BootstrapRefreshed:
		return "refreshed"
	case BootstrapInvalid:
		return "invalid"
	case BootstrapUnreachable:
		return "unreachable"
	}
	return "no_session"
}

// BootstrapResult carries the validated user and, after a refresh, the
// new pair.
type BootstrapResult struct {
	Outcome BootstrapOutcome
	Err     error
	User    session.User
	Tokens  session.TokenPair
}

// BootstrapDeps captures bootstrap flow dependencies. Refresh must be the
// client's shared refresh so startup never races a concurrent request.
type BootstrapDeps struct {
	API     AuthAPI
	Refresh func(ctx context.Context) (session.State, error)
}

// RunBootstrap validates a rehydrated session with /auth/me. A 401 gets one
// refresh. Other /auth/me failures are reported as unreachable so the
// caller can keep the persisted snapshot.
func RunBootstrap(ctx context.Context, st session.State, deps BootstrapDeps) BootstrapResult {
	if !st.Present {
		return BootstrapResult{Outcome: BootstrapNoSession}
	}

	user, err := deps.API.Me(ctx, st.Tokens.AccessToken)
	if err == nil {
		return BootstrapResult{Outcome: BootstrapRestored, User: user, Tokens: st.Tokens}
	}
	if !errors.Is(err, remote.ErrUnauthorized) {
		return BootstrapResult{Outcome: BootstrapUnreachable, Err: err}
	}

	next, err := deps.Refresh(ctx)
	if err != nil {
		return BootstrapResult{Outcome: BootstrapInvalid, Err: err}
	}
	return BootstrapResult{Outcome: BootstrapRefreshed, User: next.User, Tokens: next.Tokens}
}
