package flows

import (
	"context"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/remote"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
)

// AuthAPI is the slice of the remote API the session flows need.
type AuthAPI interface {
	Login(ctx context.Context, req remote.LoginRequest) (remote.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (remote.RefreshResponse, error)
	Logout(ctx context.Context, accessToken string) error
	Me(ctx context.Context, accessToken string) (session.User, error)
}

// Deps groups flow dependency sets. The client builds this once and
// delegates to the matching flow.
type Deps struct {
	Login     LoginDeps
	Refresh   RefreshDeps
	Logout    LogoutDeps
	Bootstrap BootstrapDeps
}
