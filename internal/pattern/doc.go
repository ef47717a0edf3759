// Package pattern holds the pure domain engines of pattern lifecycle
// governance: rolling trust metrics, contribution attribution,
// promotion/demotion gates, and the lifecycle state machine.
//
// Everything in this package is a pure function over value types. No
// storage, clock, or transport dependencies exist here; callers supply
// the current time and persist results themselves. That keeps every
// governance decision bit-reproducible for audit.
//
// # Rolling metrics
//
// A pattern's trust is tracked as rolling success/failure counters
// approximating a sliding window of the last WindowSize outcomes:
//
//	state = pattern.ApplyOutcome(state, true)  // success
//	state = pattern.ApplyOutcome(state, false) // failure
//
// # Gates
//
// Promotion and demotion eligibility are evaluated against threshold
// sets with tuned defaults. Overrides are range-bounded and require an
// explicit enable flag:
//
//	thr, err := pattern.ResolveDemotionThresholds(overrides, allow)
//	decision := pattern.EvaluateDemotion(metrics, thr, time.Now())
//
// Every decision carries a GateSnapshot of the inputs that drove it,
// captured once and attached to the audit trail.
//
// # Lifecycle machine
//
// Status transitions flow through an explicit transition table with
// per-trigger guards. Rejections are structured results with distinct
// codes, not errors:
//
//	res := pattern.ValidateTransition(from, trigger, "", actor)
//	if !res.Allowed {
//	    // res.Rejection.Code distinguishes unknown state, unknown
//	    // trigger, illegal edge, target mismatch, and guard failure.
//	}
package pattern
