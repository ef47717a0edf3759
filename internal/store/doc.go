// Package store persists pattern governance state in SQLite.
//
// Three tables carry the whole model: patterns (current status plus
// rolling metrics), lifecycle_transitions (append-only audit history),
// and processed_events (idempotency keys for replay detection).
//
// Status-conditioned writes implement optimistic concurrency: every
// UPDATE that follows a read is conditioned on the status observed at
// read time, so a concurrent transition turns the write into
// ErrStatusConflict instead of silent corruption. The WithTx helper
// scopes multi-step units of work, most importantly the inbound-event
// path where the idempotency insert and the metrics mutations must
// commit or roll back together.
package store
