package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/governance"
	"github.com/fyrsmithlabs/patternd/internal/logging"
)

// DefaultHandleTimeout bounds the processing of one inbound message.
// Neither persistence nor the reply path may hang a consumer callback.
const DefaultHandleTimeout = 30 * time.Second

// Consumer subscribes to the inbound governance subjects: session
// outcomes (queue group, fan-out across instances) and operator scan
// requests (request/reply).
type Consumer struct {
	nc      *nats.Conn
	service *governance.Service
	logger  *zap.Logger
	timeout time.Duration

	subs []*nats.Subscription
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithHandleTimeout bounds per-message processing.
func WithHandleTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.timeout = d }
}

// NewConsumer creates a stopped consumer; call Start to subscribe.
func NewConsumer(nc *nats.Conn, service *governance.Service, logger *zap.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if service == nil {
		return nil, fmt.Errorf("governance service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Consumer{
		nc:      nc,
		service: service,
		logger:  logger,
		timeout: DefaultHandleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start subscribes to the governance subjects.
func (c *Consumer) Start() error {
	outcomeSub, err := c.nc.QueueSubscribe(SubjectSessionOutcome, OutcomeQueueGroup, c.handleOutcome)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectSessionOutcome, err)
	}
	c.subs = append(c.subs, outcomeSub)

	scanSub, err := c.nc.QueueSubscribe(SubjectScanRequest, OutcomeQueueGroup, c.handleScanRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectScanRequest, err)
	}
	c.subs = append(c.subs, scanSub)

	transitionSub, err := c.nc.QueueSubscribe(SubjectTransitionRequest, OutcomeQueueGroup, c.handleTransitionRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectTransitionRequest, err)
	}
	c.subs = append(c.subs, transitionSub)

	c.logger.Info("governance consumer started",
		zap.String("outcome_subject", SubjectSessionOutcome),
		zap.String("scan_subject", SubjectScanRequest),
		zap.String("transition_subject", SubjectTransitionRequest),
		zap.String("queue_group", OutcomeQueueGroup))
	return nil
}

// Stop unsubscribes. In-flight handlers finish; new deliveries stop.
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("unsubscribe failed",
				zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	c.subs = nil
	c.logger.Info("governance consumer stopped")
}

// handleOutcome decodes and applies one session-outcome message.
// Malformed or failed messages are logged and dropped; the idempotency
// gate makes redelivery safe, so there is no poison-message loop to
// guard beyond logging.
func (c *Consumer) handleOutcome(msg *nats.Msg) {
	var so governance.SessionOutcome
	if err := json.Unmarshal(msg.Data, &so); err != nil {
		c.logger.Error("malformed session outcome dropped", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if so.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, so.CorrelationID)
	}

	result, err := c.service.HandleSessionOutcome(ctx, so)
	if err != nil {
		c.logger.Error("session outcome processing failed",
			zap.String("event_id", so.EventID),
			zap.String("session_id", so.SessionID),
			zap.Error(err))
		return
	}
	if result.Duplicate {
		return
	}
	c.logger.Debug("session outcome consumed",
		zap.String("event_id", so.EventID),
		zap.Int("patterns_updated", result.PatternsUpdated))
}

// handleScanRequest serves one operator scan over request/reply.
func (c *Consumer) handleScanRequest(msg *nats.Msg) {
	if msg.Reply == "" {
		c.logger.Warn("scan request without reply subject dropped")
		return
	}

	var req governance.ScanRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.reply(msg, ScanReply{Error: fmt.Sprintf("malformed scan request: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	report, err := c.service.Scan(ctx, req)
	if err != nil {
		c.reply(msg, ScanReply{Error: err.Error()})
		return
	}
	c.reply(msg, ScanReply{Report: report})
}

// handleTransitionRequest serves one operator transition over
// request/reply. Guard failures and other rejections come back inside
// the outcome, not as errors.
func (c *Consumer) handleTransitionRequest(msg *nats.Msg) {
	if msg.Reply == "" {
		c.logger.Warn("transition request without reply subject dropped")
		return
	}

	var req TransitionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.reply(msg, TransitionReply{Error: fmt.Sprintf("malformed transition request: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	outcome, err := c.service.ApplyTransition(ctx, req.PatternID, req.Trigger,
		req.Actor, req.Reason, req.RequestID, req.CorrelationID)
	if err != nil {
		c.reply(msg, TransitionReply{Error: err.Error()})
		return
	}
	c.reply(msg, TransitionReply{Outcome: outcome})
}

func (c *Consumer) reply(msg *nats.Msg, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		c.logger.Error("marshal reply failed", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Error("reply failed", zap.Error(err))
	}
}
