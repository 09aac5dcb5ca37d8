package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	govauth "github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000"
)

// AccessSource is the part of [govauth.Client] the middleware needs.
type AccessSource interface {
	WaitReady(ctx context.Context) error
	Gate() *govauth.Gate
}

// DefaultReadyTimeout bounds how long a request waits for session bootstrap.
const DefaultReadyTimeout = 5 * time.Second

type accessContextKey struct{}

// AccessFromContext returns the access snapshot the guard admitted the
// request with.
func AccessFromContext(ctx context.Context) (govauth.AccessSnapshot, bool) {
	snap, ok := ctx.Value(accessContextKey{}).(govauth.AccessSnapshot)
	return snap, ok
}

// Guard admits requests only while the session satisfies req. It answers
// 401 without a session, 403 when a role or permission is missing and 503
// when bootstrap did not finish in time. An empty req only requires a
// session.
func Guard(source AccessSource, req govauth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if source == nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), DefaultReadyTimeout)
			err := source.WaitReady(ctx)
			cancel()
			if err != nil {
				http.Error(w, "session not ready", http.StatusServiceUnavailable)
				return
			}

			gate := source.Gate()
			if err := gate.Check(req); err != nil {
				writeDenied(w, err)
				return
			}

			ctx = context.WithValue(r.Context(), accessContextKey{}, gate.Snapshot())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeDenied(w http.ResponseWriter, err error) {
	if errors.Is(err, govauth.ErrNotAuthenticated) {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	http.Error(w, "access denied", http.StatusForbidden)
}
