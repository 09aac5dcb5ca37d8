// Package prometheus exposes govauth metrics through client_golang.
//
// [NewCollector] implements prometheus.Collector over a metrics source such
// as *govauth.Client; register it with any registry. [Handler] builds a
// private registry and returns a scrape handler. Counters are named
// govauth_*_total and refresh latency is govauth_refresh_latency_seconds.
package prometheus
