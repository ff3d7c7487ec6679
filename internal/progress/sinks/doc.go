// Package sinks implements progress consumers: the job store, Prometheus,
// and structured logging. Each satisfies progress.Sink.
package sinks
