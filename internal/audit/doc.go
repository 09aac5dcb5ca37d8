// Package audit relays session and access-control events to a sink without
// blocking the operation that produced them.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines writer, no-op).
//   - [Dispatcher]: buffered async relay that drops or blocks when full.
//   - [Event]: one audit record.
//
// The package does not decide which events are emitted; the client does.
package audit
