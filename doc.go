// Package govauth keeps one shared API session valid for a governance
// portal and gates every protected operation on the signed-in user's
// effective permissions.
//
// Build a [Client] with [New] and [Builder.Build]. The client owns the token
// lifecycle: login with optional two-factor continuation, single-flight
// refresh keyed by session generation, ordered replay of requests that hit
// an expired token, and unconditional local teardown on logout or refresh
// failure.
//
// # Authorization
//
// Role definitions live in a [permission.RoleRegistry]. Whenever the token
// store or the registry changes, the client resolves the user's active role
// assignments through their ancestor chains and publishes an immutable
// snapshot to its [Gate]. Gate queries never recompute.
//
// # Errors
//
// Failures are reported as [AuthenticationError], [SessionExpiredError],
// [AuthorizationError], [ValidationError], [ConflictError] or [CycleError].
// Only SessionExpiredError ends the session.
//
// # Architecture boundaries
//
//   - session: token store, snapshot codec, Redis persistence
//   - permission: catalog, role registry, resolver
//   - remote: typed HTTP client for the portal API
//   - internal/flows: login, refresh, logout and bootstrap protocol steps
//   - middleware: net/http route guard
package govauth
