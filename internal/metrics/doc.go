// Package metrics exposes the polled inventory and the exporter's own poll
// statistics to Prometheus.
//
// [Sink] is a custom collector over the latest inventory snapshot;
// [PollMetrics] holds ordinary counters, gauges and a histogram for the poll
// loop. Both are registered on the registry served at /metrics.
package metrics
