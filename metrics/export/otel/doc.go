// Package otel binds govauth metrics to an OpenTelemetry meter.
//
// [New] registers an Int64ObservableCounter per govauth counter and, for the
// refresh latency histogram, a cumulative bucket gauge carrying an "le"
// attribute plus a count gauge. One callback reads a snapshot per collection.
//
// The caller owns the MeterProvider. The exporter never mutates client state.
package otel
