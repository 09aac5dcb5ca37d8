// Package flows contains the protocol steps behind every session operation.
//
// Each flow function (RunLogin, RunRefresh, RunLogout, RunBootstrap) accepts a
// typed dependency struct and returns a result with a failure kind. The
// client maps failure kinds onto its error taxonomy and owns all state.
//
// # Architecture boundaries
//
// Flows talk to the remote API through [AuthAPI] and to the token store
// through narrow interfaces. They do NOT own any of these resources and do
// not touch the session state machine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import govauth (to avoid import cycles).
//   - Log tokens, passwords or two-factor codes.
package flows
