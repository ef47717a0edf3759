// Package governance orchestrates the pattern lifecycle: it composes
// the pure engines of the pattern package with the SQLite store and the
// event sink into the running governance loop.
//
// # Inbound path
//
// Session outcomes arrive from the bus and are applied through
// Service.HandleSessionOutcome. The idempotency check and every metrics
// mutation share one transaction, so at-least-once delivery collapses
// to exactly-once application: a replayed event id commits nothing.
//
// # Gate scans
//
// Service.Scan batches over candidates (promotion) or validated
// patterns (demotion). Per-pattern outcomes are independent; a
// conflict, rejection, or publish failure on one pattern is recorded in
// the ScanReport and the batch moves on. Dry-run scans evaluate
// everything and mutate nothing. The caller's context deadline is the
// scan's time budget: on expiry the report carries a NotExamined count
// instead of an error.
//
// # Two-phase emission
//
// Persistence is definitive; notification is best-effort. The status
// change and audit row commit together, then the event sink is invoked.
// A publish failure is counted and logged, never rolled back into
// governance state.
package governance
