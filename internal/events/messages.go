package events

import (
	"time"

	"github.com/fyrsmithlabs/patternd/internal/governance"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// NATS subjects. Outbound lifecycle events are at-least-once; consumers
// dedupe on transition_id / request_id.
const (
	// SubjectSessionOutcome carries inbound session-outcome events.
	SubjectSessionOutcome = "patterns.sessions.outcome"

	// SubjectPromoted carries pattern-promoted events.
	SubjectPromoted = "patterns.lifecycle.promoted"

	// SubjectDeprecated carries pattern-deprecated events.
	SubjectDeprecated = "patterns.lifecycle.deprecated"

	// SubjectTransitioned carries generic lifecycle-transition events.
	SubjectTransitioned = "patterns.lifecycle.transitioned"

	// SubjectTransitionRequest is the request/reply subject for operator
	// transition requests, manual reenable included.
	SubjectTransitionRequest = "patterns.transition.request"

	// SubjectScanRequest is the request/reply subject for operator
	// scans.
	SubjectScanRequest = "patterns.scan.request"

	// OutcomeQueueGroup is the consumer queue group. All outcomes for a
	// session arrive on one subject, so group members split sessions,
	// never a single session's ordering.
	OutcomeQueueGroup = "patternd"
)

// PromotedEvent is the wire payload for pattern promotions.
type PromotedEvent struct {
	PatternID          string         `json:"pattern_id"`
	PatternSignature   string         `json:"pattern_signature"`
	FromStatus         pattern.Status `json:"from_status"`
	ToStatus           pattern.Status `json:"to_status"`
	SuccessRateRolling float64        `json:"success_rate_rolling"`
	PromotedAt         time.Time      `json:"promoted_at"`
	TransitionID       string         `json:"transition_id"`
	RequestID          string         `json:"request_id"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
}

// DeprecatedEvent is the wire payload for pattern deprecations. It
// carries the full gate snapshot, and for gate-driven demotions the
// thresholds actually applied, so consumers can audit the decision
// without a storage lookup. Manual deprecations omit the thresholds.
type DeprecatedEvent struct {
	PatternID           string                               `json:"pattern_id"`
	PatternSignature    string                               `json:"pattern_signature"`
	FromStatus          pattern.Status                       `json:"from_status"`
	ToStatus            pattern.Status                       `json:"to_status"`
	Reason              string                               `json:"reason,omitempty"`
	GateSnapshot        pattern.GateSnapshot                 `json:"gate_snapshot"`
	EffectiveThresholds *pattern.EffectiveDemotionThresholds `json:"effective_thresholds,omitempty"`
	DeprecatedAt        time.Time                            `json:"deprecated_at"`
	TransitionID        string                               `json:"transition_id"`
	RequestID           string                               `json:"request_id"`
	CorrelationID       string                               `json:"correlation_id,omitempty"`
}

// TransitionedEvent is the generic lifecycle event carrying the full
// audit record.
type TransitionedEvent struct {
	PatternSignature string             `json:"pattern_signature"`
	Transition       pattern.Transition `json:"transition"`
}

// ScanReply is the reply envelope for operator scan requests. Exactly
// one of Report / Error is set.
type ScanReply struct {
	Report *governance.ScanReport `json:"report,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// TransitionRequest is the wire payload for an operator-requested
// lifecycle transition.
type TransitionRequest struct {
	PatternID     string          `json:"pattern_id"`
	Trigger       pattern.Trigger `json:"trigger"`
	Actor         pattern.Actor   `json:"actor"`
	Reason        string          `json:"reason,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// TransitionReply is the reply envelope for transition requests.
// Rejections arrive inside Outcome; Error is reserved for
// infrastructure failure.
type TransitionReply struct {
	Outcome *governance.TransitionOutcome `json:"outcome,omitempty"`
	Error   string                        `json:"error,omitempty"`
}
