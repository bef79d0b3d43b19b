// Package jobqueue fans a batch of interaction entries out to a processor,
// tracks the in-flight job per key and reports the aggregated results.
//
// A run is driven by Queue.Run. Every entry is dispatched up front; the
// processor may complete an entry inline or from another goroutine. The
// first item error finishes the run immediately (later completions still
// update the state but never fire the final callback again). Success is
// reported once the dispatch loop is over and no job remains in flight.
//
// Permission gating, timeouts, retries and rate limits are processor
// concerns and compose through Middleware.
package jobqueue
