// Package session owns the client-side session: the authoritative token
// pair, the signed-in user snapshot and their persistence.
//
// # Token store
//
// [TokenStore] is the single shared holder of the current [TokenPair]. Every
// change bumps a generation counter; login, rehydrate and teardown also bump
// an epoch. Callers compare generations before applying any refresh result,
// so a stale result can never overwrite a newer pair or revive a torn down
// session.
//
// # Persistence
//
// Snapshots are encoded as versioned JSON and stored through a [Persister]:
// [RedisPersister] for shared or long-lived processes, [MemoryPersister] for
// tests and ephemeral clients.
//
// # What this package must NOT do
//
//   - Import govauth or remote (no upward imports).
//   - Talk to the identity API or decide when to refresh.
//   - Log or expose token values.
package session
