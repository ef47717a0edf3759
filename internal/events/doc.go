// Package events is the NATS boundary of pattern governance.
//
// The Emitter publishes lifecycle events (promoted, deprecated, generic
// transitioned) after governance state has been persisted. Emission is
// best-effort by contract: a publish error is handed back to the
// orchestrator to log and count, never to roll back storage.
//
// The Consumer subscribes to inbound session outcomes (queue group, so
// multiple daemon instances split sessions) and serves operator scan
// and transition requests over request/reply. Per-pattern ordering relies on the
// producer routing all outcomes for one session key through one ordered
// path; the consumer preserves that order by handling messages
// serially per subscription.
package events
