package middleware

import (
	"net/http"

	govauth "github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000"
)

// RequireSession admits any request made while a session is established.
func RequireSession(source AccessSource) func(http.Handler) http.Handler {
	return Guard(source, govauth.Requirement{})
}

// RequirePermissions admits requests when every name is held.
func RequirePermissions(source AccessSource, names ...string) func(http.Handler) http.Handler {
	return Guard(source, govauth.RequirePermissions(names...))
}

// RequireAnyRole admits requests when one of roles is directly assigned.
func RequireAnyRole(source AccessSource, roles ...string) func(http.Handler) http.Handler {
	return Guard(source, govauth.RequireAnyRole(roles...))
}
