// Package sinks implements run event consumers: structured logging,
// Prometheus metrics and run-row persistence. Each satisfies progress.Sink.
package sinks
