// Package server provides the HTTP server for the unipoll exporter.
//
// This package is internal to unipoll and handles all HTTP concerns:
//
//   - Metrics: Prometheus exposition of the registry at "/metrics"
//   - Liveness: "/health" and "/-/healthy" answer "OK" once listening
//   - Index: a plain-text endpoint list at "/"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the unipoll library should not need to interact with this
// package directly. The server is started automatically by [unipoll.Exporter.Start].
package server
