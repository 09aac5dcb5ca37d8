// Package internal holds implementation packages private to govauth.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: login, refresh, logout and bootstrap protocol steps
//   - metrics: lock-free counters and latency histograms
//
// # What this package must NOT do
//
//   - Export types that appear in the public govauth API.
//   - Be imported by any package outside this module.
package internal
