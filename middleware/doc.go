// Package middleware adapts the govauth permission gate to net/http.
//
// # Guards
//
//   - [Guard] checks an arbitrary [govauth.Requirement].
//   - [RequireSession] only needs an established session.
//   - [RequirePermissions] and [RequireAnyRole] are shorthands.
//
// Guards wait for session bootstrap, answer from the gate's last resolved
// permission set and store the admitted [govauth.AccessSnapshot] in the
// request context. They never call the portal API.
package middleware
