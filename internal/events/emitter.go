package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/governance"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Emitter publishes lifecycle events to NATS. It implements
// governance.EventSink: publish errors are returned to the caller for
// recording, and nothing here retries or blocks governance — the bus is
// a notification layer, not the source of truth.
type Emitter struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewEmitter creates a lifecycle event emitter on nc.
func NewEmitter(nc *nats.Conn, logger *zap.Logger) (*Emitter, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{nc: nc, logger: logger}, nil
}

// NotifyPromoted publishes a pattern-promoted event.
func (e *Emitter) NotifyPromoted(_ context.Context, n governance.PromotionNotice) error {
	ev := PromotedEvent{
		PatternID:          n.Transition.PatternID,
		PatternSignature:   n.PatternSignature,
		FromStatus:         n.Transition.FromStatus,
		ToStatus:           n.Transition.ToStatus,
		SuccessRateRolling: n.Transition.Snapshot.SuccessRateRolling,
		PromotedAt:         n.Transition.TransitionedAt,
		TransitionID:       n.Transition.TransitionID,
		RequestID:          n.Transition.RequestID,
		CorrelationID:      n.Transition.CorrelationID,
	}
	return e.publish(SubjectPromoted, ev)
}

// NotifyDeprecated publishes a pattern-deprecated event.
func (e *Emitter) NotifyDeprecated(_ context.Context, n governance.DemotionNotice) error {
	ev := DeprecatedEvent{
		PatternID:           n.Transition.PatternID,
		PatternSignature:    n.PatternSignature,
		FromStatus:          n.Transition.FromStatus,
		ToStatus:            n.Transition.ToStatus,
		Reason:              n.Transition.Reason,
		GateSnapshot:        n.Transition.Snapshot,
		EffectiveThresholds: n.Thresholds,
		DeprecatedAt:        n.Transition.TransitionedAt,
		TransitionID:        n.Transition.TransitionID,
		RequestID:           n.Transition.RequestID,
		CorrelationID:       n.Transition.CorrelationID,
	}
	return e.publish(SubjectDeprecated, ev)
}

// NotifyTransitioned publishes the generic lifecycle-transition event.
func (e *Emitter) NotifyTransitioned(_ context.Context, tr pattern.Transition, signature string) error {
	return e.publish(SubjectTransitioned, TransitionedEvent{
		PatternSignature: signature,
		Transition:       tr,
	})
}

func (e *Emitter) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := e.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	e.logger.Debug("lifecycle event published", zap.String("subject", subject))
	return nil
}
