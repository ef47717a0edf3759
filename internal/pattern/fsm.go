package pattern

import "fmt"

// Trigger is a lifecycle transition trigger.
type Trigger string

const (
	// TriggerPromote promotes a legacy provisional pattern.
	TriggerPromote Trigger = "promote"

	// TriggerPromoteDirect promotes a candidate straight to validated.
	TriggerPromoteDirect Trigger = "promote_direct"

	// TriggerDeprecate retires a pattern from any pre-deprecated status.
	TriggerDeprecate Trigger = "deprecate"

	// TriggerManualReenable returns a deprecated pattern to candidate.
	// Admin only.
	TriggerManualReenable Trigger = "manual_reenable"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerPromote, TriggerPromoteDirect, TriggerDeprecate, TriggerManualReenable:
		return true
	}
	return false
}

// RejectionCode classifies why a transition request was refused.
// Rejections are expected outcomes, not faults, so they travel in a
// result value rather than an error.
type RejectionCode string

const (
	// RejectUnknownState: from-status is not a known lifecycle status.
	RejectUnknownState RejectionCode = "unknown_state"

	// RejectUnknownTrigger: trigger is not in the trigger set.
	RejectUnknownTrigger RejectionCode = "unknown_trigger"

	// RejectInvalidTransition: (from, trigger) has no table entry.
	RejectInvalidTransition RejectionCode = "invalid_transition"

	// RejectTargetMismatch: the requested to-status disagrees with the
	// table's target for (from, trigger).
	RejectTargetMismatch RejectionCode = "target_mismatch"

	// RejectGuardFailed: the edge exists but its guard condition does
	// not hold for this actor.
	RejectGuardFailed RejectionCode = "guard_failed"

	// RejectConflict: the pattern's status changed concurrently between
	// read and write. Retryable after a re-read. Reported by the
	// orchestrator on an optimistic-concurrency loss, never by
	// ValidateTransition.
	RejectConflict RejectionCode = "conflict"
)

// guard is a per-edge authorization check.
type guard func(actor Actor) error

// adminOnly permits the edge only for admin actors. Non-admin attempts
// are refused loudly, never silently ignored.
func adminOnly(actor Actor) error {
	if actor.Type != ActorAdmin {
		return fmt.Errorf("trigger requires admin actor, got %q", actor.Type)
	}
	return nil
}

// transitionEdge is a single allowed edge in the lifecycle machine.
type transitionEdge struct {
	From    Status
	Trigger Trigger
	To      Status
	Guard   guard
}

// transitionTable enumerates every legal lifecycle edge. PROVISIONAL is
// legacy: edges leave it, none enter it. VALIDATED exits only via
// deprecate; DEPRECATED exits only via the guarded manual re-enable.
var transitionTable = []transitionEdge{
	{From: StatusProvisional, Trigger: TriggerPromote, To: StatusValidated},
	{From: StatusCandidate, Trigger: TriggerPromoteDirect, To: StatusValidated},
	{From: StatusCandidate, Trigger: TriggerDeprecate, To: StatusDeprecated},
	{From: StatusProvisional, Trigger: TriggerDeprecate, To: StatusDeprecated},
	{From: StatusValidated, Trigger: TriggerDeprecate, To: StatusDeprecated},
	{From: StatusDeprecated, Trigger: TriggerManualReenable, To: StatusCandidate, Guard: adminOnly},
}

// Rejection describes a refused transition request.
type Rejection struct {
	Code   RejectionCode `json:"code"`
	Detail string        `json:"detail"`
}

// TransitionResult is the outcome of validating one transition request.
// Exactly one of To / Rejection is meaningful: Allowed selects which.
type TransitionResult struct {
	Allowed   bool       `json:"allowed"`
	To        Status     `json:"to,omitempty"`
	Rejection *Rejection `json:"rejection,omitempty"`
}

// ValidateTransition checks a transition request against the lifecycle
// table and the trigger's guard.
//
// requestedTo may be empty, meaning "whatever the table says". When
// non-empty it must match the table target; the mismatch case is
// reported distinctly so a caller that computed a stale target can tell
// it apart from an illegal edge.
//
// Validation order: known from-status, known trigger, edge exists,
// target matches, guard holds. Each failure mode carries its own code.
func ValidateTransition(from Status, trigger Trigger, requestedTo Status, actor Actor) TransitionResult {
	if !from.Valid() {
		return rejected(RejectUnknownState, fmt.Sprintf("unknown status %q", from))
	}
	if !trigger.Valid() {
		return rejected(RejectUnknownTrigger, fmt.Sprintf("unknown trigger %q", trigger))
	}

	var edge *transitionEdge
	for i := range transitionTable {
		if transitionTable[i].From == from && transitionTable[i].Trigger == trigger {
			edge = &transitionTable[i]
			break
		}
	}
	if edge == nil {
		return rejected(RejectInvalidTransition,
			fmt.Sprintf("no transition from %q via %q", from, trigger))
	}
	if requestedTo != "" && requestedTo != edge.To {
		return rejected(RejectTargetMismatch,
			fmt.Sprintf("trigger %q from %q targets %q, not %q", trigger, from, edge.To, requestedTo))
	}
	if edge.Guard != nil {
		if err := edge.Guard(actor); err != nil {
			return rejected(RejectGuardFailed, err.Error())
		}
	}
	return TransitionResult{Allowed: true, To: edge.To}
}

func rejected(code RejectionCode, detail string) TransitionResult {
	return TransitionResult{
		Allowed:   false,
		Rejection: &Rejection{Code: code, Detail: detail},
	}
}
