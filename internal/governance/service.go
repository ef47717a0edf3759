package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/store"
)

// Service orchestrates pattern lifecycle governance: it folds session
// outcomes into rolling metrics, runs gate scans, validates transitions
// through the lifecycle machine, persists audit rows, and notifies the
// event sink.
//
// Persistence and notification are deliberately two phases. The status
// change and its audit row commit in one transaction; the sink is
// called afterwards, and a publish failure is recorded, never used to
// roll governance state back. State truth lives in storage; events are
// a notification layer.
type Service struct {
	store   *store.Store
	sink    EventSink
	metrics *Metrics
	logger  *zap.Logger

	attribution pattern.AttributionMethod
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAttributionMethod selects the contribution heuristic applied to
// session outcomes. Defaults to equal_split.
func WithAttributionMethod(m pattern.AttributionMethod) ServiceOption {
	return func(s *Service) { s.attribution = m }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the governance orchestrator.
func NewService(st *store.Store, sink EventSink, metrics *Metrics, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("event sink cannot be nil")
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:       st,
		sink:        sink,
		metrics:     metrics,
		logger:      logger,
		attribution: pattern.MethodEqualSplit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleSessionOutcome applies one session outcome to every pattern
// injected in that session, in canonical injection order.
//
// The idempotency check and all metrics mutations share one
// transaction: a replayed event id commits nothing and reports
// Duplicate, and a failed transaction leaves the event id unclaimed so
// redelivery retries cleanly. Unknown pattern ids are skipped and
// reported, not fatal; the session may reference patterns already
// pruned elsewhere.
func (s *Service) HandleSessionOutcome(ctx context.Context, so SessionOutcome) (*OutcomeResult, error) {
	if so.EventID == "" {
		return nil, ErrEmptyEventID
	}
	if so.SessionID == "" {
		return nil, ErrEmptySessionID
	}

	result := &OutcomeResult{EventID: so.EventID}
	if len(so.Injections) == 0 {
		return result, nil
	}
	orderedIDs := so.OrderedPatternIDs()

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		seen, err := tx.MarkEventProcessed(ctx, so.EventID)
		if err != nil {
			return err
		}
		if seen {
			result.Duplicate = true
			return nil
		}

		updated := make(map[string]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			if updated[id] {
				// A pattern injected more than once in the session
				// still receives exactly one outcome for it.
				continue
			}
			p, err := tx.GetPattern(ctx, id)
			if errors.Is(err, pattern.ErrNotFound) {
				result.UnknownPatterns = append(result.UnknownPatterns, id)
				updated[id] = true
				continue
			}
			if err != nil {
				return err
			}

			next := pattern.ApplyOutcome(p.Metrics, so.Success)
			if err := tx.UpdateMetrics(ctx, id, next, p.Status); err != nil {
				return err
			}
			updated[id] = true
			result.PatternsUpdated++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply session outcome %s: %w", so.EventID, err)
	}

	if result.Duplicate {
		s.metrics.DuplicateEvents.Inc()
		s.logger.Debug("duplicate session outcome skipped",
			append(logging.ContextFields(ctx),
				zap.String("event_id", so.EventID),
				zap.String("session_id", so.SessionID))...)
		return result, nil
	}

	weights, err := pattern.Attribute(s.attribution, orderedIDs)
	if err != nil {
		// Attribution feeds analytics only; metrics are already
		// committed, so report the weights failure without undoing.
		s.logger.Warn("contribution attribution failed",
			zap.String("event_id", so.EventID), zap.Error(err))
	} else {
		result.Weights = weights
	}

	s.metrics.OutcomesApplied.Inc()
	s.logger.Info("session outcome applied",
		append(logging.ContextFields(ctx),
			zap.String("event_id", so.EventID),
			zap.String("session_id", so.SessionID),
			zap.Bool("success", so.Success),
			zap.Int("patterns_updated", result.PatternsUpdated),
			zap.Int("unknown_patterns", len(result.UnknownPatterns)))...)
	return result, nil
}

// Scan runs one gate scan according to the request type.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (*ScanReport, error) {
	switch req.Type {
	case ScanPromotion:
		return s.promotionScan(ctx, req)
	case ScanDemotion:
		return s.demotionScan(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScanType, req.Type)
	}
}

// promotionScan checks every candidate (and legacy provisional) pattern
// against the promotion gate and promotes the eligible ones.
func (s *Service) promotionScan(ctx context.Context, req ScanRequest) (*ScanReport, error) {
	thr, err := pattern.ResolvePromotionThresholds(req.promotionOverrides(), req.AllowThresholdOverride)
	if err != nil {
		return nil, fmt.Errorf("resolve promotion thresholds: %w", err)
	}

	report := s.newReport(req)
	candidates, err := s.store.ListByStatus(ctx, pattern.StatusCandidate)
	if err != nil {
		return nil, err
	}
	provisional, err := s.store.ListByStatus(ctx, pattern.StatusProvisional)
	if err != nil {
		return nil, err
	}
	pool := append(candidates, provisional...)

	for i := range pool {
		if budgetExpired(ctx) {
			report.NotExamined = len(pool) - i
			break
		}
		p := &pool[i]
		report.Examined++

		decision := pattern.EvaluatePromotion(p.Metrics, thr, s.now())
		if !decision.Eligible {
			report.Ineligible++
			report.Patterns = append(report.Patterns, PatternResult{
				PatternID: p.ID, Outcome: OutcomeIneligible, Snapshot: decision.Snapshot,
			})
			continue
		}

		trigger := pattern.TriggerPromoteDirect
		if p.Status == pattern.StatusProvisional {
			trigger = pattern.TriggerPromote
		}
		res := s.transitionEligible(ctx, req, report, p, trigger, "", decision.Snapshot, nil)
		report.Patterns = append(report.Patterns, res)
	}

	report.CompletedAt = s.now()
	s.metrics.Scans.Inc()
	s.logScan(report)
	return report, nil
}

// demotionScan checks every validated pattern against the demotion gate
// and deprecates the eligible ones. Patterns inside their cooldown are
// counted as skipped, apart from plain ineligibility.
func (s *Service) demotionScan(ctx context.Context, req ScanRequest) (*ScanReport, error) {
	thr, err := pattern.ResolveDemotionThresholds(req.demotionOverrides(), req.AllowThresholdOverride)
	if err != nil {
		return nil, fmt.Errorf("resolve demotion thresholds: %w", err)
	}

	report := s.newReport(req)
	validated, err := s.store.ListByStatus(ctx, pattern.StatusValidated)
	if err != nil {
		return nil, err
	}

	for i := range validated {
		if budgetExpired(ctx) {
			report.NotExamined = len(validated) - i
			break
		}
		p := &validated[i]
		report.Examined++

		decision := pattern.EvaluateDemotion(p.Metrics, thr, s.now())
		switch {
		case decision.SkippedCooldown:
			report.SkippedCooldown++
			report.Patterns = append(report.Patterns, PatternResult{
				PatternID: p.ID, Outcome: OutcomeSkippedCooldown, Snapshot: decision.Snapshot,
			})
		case !decision.Eligible:
			report.Ineligible++
			report.Patterns = append(report.Patterns, PatternResult{
				PatternID: p.ID, Outcome: OutcomeIneligible, Snapshot: decision.Snapshot,
			})
		default:
			res := s.transitionEligible(ctx, req, report, p, pattern.TriggerDeprecate,
				decision.Reason, decision.Snapshot, &decision.Thresholds)
			report.Patterns = append(report.Patterns, res)
		}
	}

	report.CompletedAt = s.now()
	s.metrics.Scans.Inc()
	s.logScan(report)
	return report, nil
}

// transitionEligible moves one gate-eligible pattern through the
// lifecycle machine, persists, and notifies. Every outcome is recorded
// in the report counters; errors never abort the surrounding batch.
func (s *Service) transitionEligible(ctx context.Context, req ScanRequest, report *ScanReport,
	p *pattern.Pattern, trigger pattern.Trigger, reason string,
	snap pattern.GateSnapshot, demotionThr *pattern.EffectiveDemotionThresholds) PatternResult {

	actor := pattern.Actor{Name: "gate-scan", Type: pattern.ActorSystem}
	fsmRes := pattern.ValidateTransition(p.Status, trigger, "", actor)
	if !fsmRes.Allowed {
		// A gate-eligible pattern with no legal edge is a scan bug or a
		// concurrent move; either way it is this pattern's failure, not
		// the batch's.
		report.Failed++
		s.logger.Warn("eligible pattern rejected by lifecycle machine",
			zap.String("pattern_id", p.ID),
			zap.String("code", string(fsmRes.Rejection.Code)),
			zap.String("detail", fsmRes.Rejection.Detail))
		return PatternResult{PatternID: p.ID, Outcome: OutcomeFailed,
			Error: fsmRes.Rejection.Detail, Snapshot: snap}
	}

	promoting := fsmRes.To == pattern.StatusValidated
	if req.DryRun {
		outcome := OutcomeWouldDemote
		if promoting {
			outcome = OutcomeWouldPromote
			report.Promoted++
		} else {
			report.Demoted++
		}
		return PatternResult{PatternID: p.ID, Outcome: outcome, Reason: reason, Snapshot: snap}
	}

	now := s.now()
	tr := pattern.NewTransition(p.ID, p.Status, fsmRes.To, trigger, actor, snap, now)
	tr.Reason = reason
	tr.RequestID = report.RequestID
	tr.CorrelationID = req.CorrelationID

	var promotedAt *time.Time
	if promoting {
		promotedAt = &now
	}

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.TransitionStatus(ctx, p.ID, p.Status, fsmRes.To, promotedAt); err != nil {
			return err
		}
		return tx.InsertTransition(ctx, tr)
	})
	if errors.Is(err, store.ErrStatusConflict) {
		// Someone moved the pattern between our read and write. The
		// optimistic condition turned the race into a no-op; the next
		// scan re-evaluates from fresh state.
		report.Conflicts++
		s.metrics.Conflicts.Inc()
		return PatternResult{PatternID: p.ID, Outcome: OutcomeConflict, Snapshot: snap}
	}
	if err != nil {
		report.Failed++
		s.logger.Error("persisting transition failed",
			zap.String("pattern_id", p.ID), zap.Error(err))
		return PatternResult{PatternID: p.ID, Outcome: OutcomeFailed,
			Error: err.Error(), Snapshot: snap}
	}

	outcome := OutcomeDemoted
	if promoting {
		outcome = OutcomePromoted
		report.Promoted++
		s.metrics.Promotions.Inc()
	} else {
		report.Demoted++
		s.metrics.Demotions.Inc()
	}

	s.notify(ctx, tr, p.Signature, demotionThr)
	return PatternResult{PatternID: p.ID, Outcome: outcome, Reason: reason, Snapshot: snap}
}

// ApplyTransition validates and executes one explicitly requested
// transition (operator deprecation, admin re-enable). FSM rejections
// come back in the outcome, not as errors; requestID makes the call
// idempotent across retries.
func (s *Service) ApplyTransition(ctx context.Context, patternID string, trigger pattern.Trigger,
	actor pattern.Actor, reason, requestID, correlationID string) (*TransitionOutcome, error) {

	if requestID == "" {
		requestID = uuid.New().String()
	}

	outcome := &TransitionOutcome{}
	var (
		tr        pattern.Transition
		signature string
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		// Dedup before anything else: a replayed request id returns the
		// duplicate marker without re-validating against moved state.
		seen, err := tx.MarkEventProcessed(ctx, "transition:"+requestID)
		if err != nil {
			return err
		}
		if seen {
			outcome.Duplicate = true
			return nil
		}

		p, err := tx.GetPattern(ctx, patternID)
		if err != nil {
			return err
		}
		signature = p.Signature

		fsmRes := pattern.ValidateTransition(p.Status, trigger, "", actor)
		if !fsmRes.Allowed {
			// Rejections mutate nothing, so roll the claimed request id
			// back: a later retry of a rejected request re-validates.
			outcome.Rejection = fsmRes.Rejection
			return errTransitionRejected
		}

		now := s.now()
		tr = pattern.NewTransition(p.ID, p.Status, fsmRes.To, trigger, actor, pattern.Snapshot(p.Metrics, now), now)
		tr.Reason = reason
		tr.RequestID = requestID
		tr.CorrelationID = correlationID

		var promotedAt *time.Time
		if fsmRes.To == pattern.StatusValidated {
			promotedAt = &now
		}
		if err := tx.TransitionStatus(ctx, p.ID, p.Status, fsmRes.To, promotedAt); err != nil {
			return err
		}
		return tx.InsertTransition(ctx, tr)
	})
	switch {
	case errors.Is(err, errTransitionRejected):
		return outcome, nil
	case errors.Is(err, store.ErrStatusConflict):
		s.metrics.Conflicts.Inc()
		s.logger.Warn("transition lost optimistic-concurrency race",
			zap.String("pattern_id", patternID), zap.String("request_id", requestID))
		return &TransitionOutcome{Rejection: conflictRejection()}, nil
	case err != nil:
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	if outcome.Duplicate {
		s.metrics.DuplicateEvents.Inc()
		return outcome, nil
	}

	if tr.ToStatus == pattern.StatusValidated {
		s.metrics.Promotions.Inc()
	} else if tr.ToStatus == pattern.StatusDeprecated {
		s.metrics.Demotions.Inc()
	}
	s.notify(ctx, tr, signature, nil)

	outcome.Transition = &tr
	return outcome, nil
}

// errTransitionRejected rolls back a transaction whose request was
// refused by the lifecycle machine. Internal control flow only.
var errTransitionRejected = errors.New("transition rejected")

// conflictRejection reports an optimistic-concurrency loss. The code is
// kept distinct from the lifecycle machine's invalid_transition so a
// caller re-reads and retries instead of treating the edge as illegal.
func conflictRejection() *pattern.Rejection {
	return &pattern.Rejection{
		Code:   pattern.RejectConflict,
		Detail: "pattern status changed concurrently, re-read and retry",
	}
}

// notify publishes the lifecycle event for tr. Best-effort: a publish
// failure is counted and logged, and persisted state stands.
func (s *Service) notify(ctx context.Context, tr pattern.Transition, signature string,
	demotionThr *pattern.EffectiveDemotionThresholds) {

	var err error
	switch {
	case tr.ToStatus == pattern.StatusValidated:
		err = s.sink.NotifyPromoted(ctx, PromotionNotice{Transition: tr, PatternSignature: signature})
	case tr.ToStatus == pattern.StatusDeprecated:
		// demotionThr is nil for manual deprecations; the event then
		// carries no thresholds, since no gate evaluated any.
		err = s.sink.NotifyDeprecated(ctx, DemotionNotice{
			Transition:       tr,
			PatternSignature: signature,
			Thresholds:       demotionThr,
		})
	default:
		err = s.sink.NotifyTransitioned(ctx, tr, signature)
	}
	if err != nil {
		s.metrics.PublishFailures.Inc()
		s.logger.Error("lifecycle event publish failed",
			zap.String("pattern_id", tr.PatternID),
			zap.String("transition_id", tr.TransitionID),
			zap.Error(err))
	}
}

func (s *Service) newReport(req ScanRequest) *ScanReport {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &ScanReport{
		Type:          req.Type,
		DryRun:        req.DryRun,
		RequestID:     requestID,
		CorrelationID: req.CorrelationID,
		StartedAt:     s.now(),
	}
}

func (s *Service) logScan(r *ScanReport) {
	s.logger.Info("gate scan completed",
		zap.String("type", string(r.Type)),
		zap.Bool("dry_run", r.DryRun),
		zap.String("request_id", r.RequestID),
		zap.Int("examined", r.Examined),
		zap.Int("promoted", r.Promoted),
		zap.Int("demoted", r.Demoted),
		zap.Int("ineligible", r.Ineligible),
		zap.Int("skipped_cooldown", r.SkippedCooldown),
		zap.Int("conflicts", r.Conflicts),
		zap.Int("failed", r.Failed),
		zap.Int("not_examined", r.NotExamined))
}

func budgetExpired(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
