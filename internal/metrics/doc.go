// Package metrics provides lock-free counters and a latency histogram for
// session and access-control observability.
//
// # Design
//
// Counters live in cache-line-padded uint64 slots incremented with
// [sync/atomic.AddUint64]. Histograms use 8 fixed buckets (≤50ms … +Inf).
// The write path does not allocate.
//
// # Architecture boundaries
//
// This package owns metric identifiers, storage and snapshots. Export
// (Prometheus, OTel) lives in metrics/export/ and reads [Snapshot] values.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import govauth or any sibling package.
//   - Expose global metric registries.
package metrics
