// Package progress carries job progress events from workers to sinks. The Hub
// never blocks the emitting worker: it batches events on a background
// goroutine and fans them out to pluggable sinks such as the job store,
// Prometheus, or the log.
package progress
