package pattern

import (
	"time"

	"github.com/google/uuid"
)

// Transition is one accepted lifecycle transition, recorded as an
// immutable audit row. Rows are created once and never mutated; the
// table of transitions is the pattern's full governance history.
type Transition struct {
	// TransitionID uniquely identifies this transition.
	TransitionID string `json:"transition_id"`

	// PatternID is the governed pattern.
	PatternID string `json:"pattern_id"`

	FromStatus Status  `json:"from_status"`
	ToStatus   Status  `json:"to_status"`
	Trigger    Trigger `json:"trigger"`

	// Actor is who requested the transition.
	Actor Actor `json:"actor"`

	// Reason is the gate reason for automatic transitions, or the
	// operator-stated reason for manual ones.
	Reason string `json:"reason,omitempty"`

	// RequestID is the idempotency key propagated end-to-end from the
	// originating request.
	RequestID string `json:"request_id"`

	// CorrelationID ties the transition to the triggering scan or
	// inbound event for tracing.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Snapshot holds the gate inputs captured at decision time.
	Snapshot GateSnapshot `json:"gate_snapshot"`

	TransitionedAt time.Time `json:"transitioned_at"`
}

// NewTransition builds an audit row with a fresh transition id.
func NewTransition(patternID string, from, to Status, trigger Trigger, actor Actor, snap GateSnapshot, now time.Time) Transition {
	return Transition{
		TransitionID:   uuid.New().String(),
		PatternID:      patternID,
		FromStatus:     from,
		ToStatus:       to,
		Trigger:        trigger,
		Actor:          actor,
		Snapshot:       snap,
		TransitionedAt: now.UTC(),
	}
}
