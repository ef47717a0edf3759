package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/store"
)

// captureSink records notifications and can simulate publish failure.
type captureSink struct {
	promoted     []PromotionNotice
	deprecated   []DemotionNotice
	transitioned []pattern.Transition
	failWith     error
}

func (c *captureSink) NotifyPromoted(_ context.Context, n PromotionNotice) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.promoted = append(c.promoted, n)
	return nil
}

func (c *captureSink) NotifyDeprecated(_ context.Context, n DemotionNotice) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.deprecated = append(c.deprecated, n)
	return nil
}

func (c *captureSink) NotifyTransitioned(_ context.Context, tr pattern.Transition, _ string) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.transitioned = append(c.transitioned, tr)
	return nil
}

func newTestService(t *testing.T) (*Service, *store.Store, *captureSink) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sink := &captureSink{}
	svc, err := NewService(st, sink, nil, nil)
	require.NoError(t, err)
	return svc, st, sink
}

func registerPattern(t *testing.T, st *store.Store, signature string) *pattern.Pattern {
	t.Helper()
	p, err := pattern.NewPattern(signature)
	require.NoError(t, err)
	require.NoError(t, st.RegisterPattern(context.Background(), p))
	return p
}

// setPatternState forces a pattern into a given status and metrics,
// bypassing the gates, for scan fixtures.
func setPatternState(t *testing.T, st *store.Store, id string, status pattern.Status, m pattern.MetricsState) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		if status != pattern.StatusCandidate {
			if err := tx.TransitionStatus(ctx, id, pattern.StatusCandidate, status, nil); err != nil {
				return err
			}
		}
		return tx.UpdateMetrics(ctx, id, m, status)
	}))
}

func outcomeEvent(eventID string, success bool, patternIDs ...string) SessionOutcome {
	base := time.Now().Add(-time.Minute)
	injections := make([]pattern.Injection, len(patternIDs))
	for i, id := range patternIDs {
		injections[i] = pattern.Injection{
			PatternID:   id,
			InjectionID: "inj-" + string(rune('a'+i)),
			InjectedAt:  base.Add(time.Duration(i) * time.Second),
		}
	}
	return SessionOutcome{
		EventID:    eventID,
		SessionID:  "sess-1",
		Success:    success,
		Injections: injections,
	}
}

func TestHandleSessionOutcome_UpdatesMetrics(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	p1 := registerPattern(t, st, "sig:one")
	p2 := registerPattern(t, st, "sig:two")

	result, err := svc.HandleSessionOutcome(ctx, outcomeEvent("evt-1", true, p1.ID, p2.ID))
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, 2, result.PatternsUpdated)
	assert.Empty(t, result.UnknownPatterns)

	got, err := st.GetPattern(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Metrics.SuccessCount)
	assert.Equal(t, 0, got.Metrics.FailureStreak)
}

func TestHandleSessionOutcome_FailureBumpsStreak(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	p := registerPattern(t, st, "sig:streak")

	_, err := svc.HandleSessionOutcome(ctx, outcomeEvent("evt-1", false, p.ID))
	require.NoError(t, err)
	_, err = svc.HandleSessionOutcome(ctx, outcomeEvent("evt-2", false, p.ID))
	require.NoError(t, err)

	got, err := st.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metrics.FailureCount)
	assert.Equal(t, 2, got.Metrics.FailureStreak)
}

func TestHandleSessionOutcome_ReplayIsNoOp(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	p := registerPattern(t, st, "sig:replay")
	ev := outcomeEvent("evt-dup", true, p.ID)

	first, err := svc.HandleSessionOutcome(ctx, ev)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.HandleSessionOutcome(ctx, ev)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Zero(t, second.PatternsUpdated)

	// Replay must not double-apply the outcome.
	got, err := st.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Metrics.SuccessCount)
}

func TestHandleSessionOutcome_UnknownPatternsReported(t *testing.T) {
	svc, st, _ := newTestService(t)
	p := registerPattern(t, st, "sig:known")

	result, err := svc.HandleSessionOutcome(context.Background(),
		outcomeEvent("evt-1", true, p.ID, "ghost-pattern"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.PatternsUpdated)
	assert.Equal(t, []string{"ghost-pattern"}, result.UnknownPatterns)
}

func TestHandleSessionOutcome_AttributionWeights(t *testing.T) {
	svc, st, _ := newTestService(t)
	p1 := registerPattern(t, st, "sig:w1")
	p2 := registerPattern(t, st, "sig:w2")

	result, err := svc.HandleSessionOutcome(context.Background(),
		outcomeEvent("evt-1", true, p1.ID, p2.ID))
	require.NoError(t, err)

	require.Len(t, result.Weights, 2)
	var sum float64
	for _, w := range result.Weights {
		assert.Equal(t, pattern.MethodEqualSplit, w.Method)
		sum += w.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestHandleSessionOutcome_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.HandleSessionOutcome(ctx, SessionOutcome{SessionID: "s"})
	assert.ErrorIs(t, err, ErrEmptyEventID)

	_, err = svc.HandleSessionOutcome(ctx, SessionOutcome{EventID: "e"})
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestPromotionScan_PromotesEligible(t *testing.T) {
	svc, st, sink := newTestService(t)
	ctx := context.Background()
	eligible := registerPattern(t, st, "sig:good")
	weak := registerPattern(t, st, "sig:weak")

	setPatternState(t, st, eligible.ID, pattern.StatusCandidate,
		pattern.MetricsState{SuccessCount: 4, FailureCount: 1})
	setPatternState(t, st, weak.ID, pattern.StatusCandidate,
		pattern.MetricsState{SuccessCount: 1, FailureCount: 4})

	report, err := svc.Scan(ctx, ScanRequest{Type: ScanPromotion, CorrelationID: "corr-1"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 1, report.Ineligible)

	got, err := st.GetPattern(ctx, eligible.ID)
	require.NoError(t, err)
	assert.Equal(t, pattern.StatusValidated, got.Status)
	require.NotNil(t, got.Metrics.PromotedAt)

	// Audit row persisted with the decision snapshot.
	history, err := st.ListTransitions(ctx, eligible.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, pattern.TriggerPromoteDirect, history[0].Trigger)
	assert.Equal(t, "corr-1", history[0].CorrelationID)
	assert.InDelta(t, 0.8, history[0].Snapshot.SuccessRateRolling, 1e-9)

	// Event emitted with the same snapshot.
	require.Len(t, sink.promoted, 1)
	assert.Equal(t, eligible.ID, sink.promoted[0].Transition.PatternID)
	assert.Equal(t, "sig:good", sink.promoted[0].PatternSignature)
}

func TestPromotionScan_LegacyProvisionalUsesPromote(t *testing.T) {
	svc, st, sink := newTestService(t)
	ctx := context.Background()
	p := registerPattern(t, st, "sig:legacy")
	setPatternState(t, st, p.ID, pattern.StatusProvisional,
		pattern.MetricsState{SuccessCount: 5, FailureCount: 1})

	report, err := svc.Scan(ctx, ScanRequest{Type: ScanPromotion})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Promoted)
	require.Len(t, sink.promoted, 1)
	assert.Equal(t, pattern.TriggerPromote, sink.promoted[0].Transition.Trigger)
}

func TestPromotionScan_DryRunMutatesNothing(t *testing.T) {
	svc, st, sink := newTestService(t)
	ctx := context.Background()
	p := registerPattern(t, st, "sig:dry")
	setPatternState(t, st, p.ID, pattern.StatusCandidate,
		pattern.MetricsState{SuccessCount: 4, FailureCount: 1})

	report, err := svc.Scan(ctx, ScanRequest{Type: ScanPromotion, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Promoted)
	require.Len(t, report.Patterns, 1)
	assert.Equal(t, OutcomeWouldPromote, report.Patterns[0].Outcome)

	got, err := st.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pattern.StatusCandidate, got.Status)

	history, err := st.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, sink.promoted)
}

func TestDemotionScan_DemotesAndSkipsCooldown(t *testing.T) {
	svc, st, sink := newTestService(t)
	ctx := context.Background()

	old := time.Now().Add(-30 * time.Hour)
	fresh := time.Now().Add(-5 * time.Hour)

	failing := registerPattern(t, st, "sig:failing")
	setPatternState(t, st, failing.ID, pattern.StatusValidated,
		pattern.MetricsState{SuccessCount: 5, FailureCount: 10, FailureStreak: 6, PromotedAt: &old})

	cooling := registerPattern(t, st, "sig:cooling")
	setPatternState(t, st, cooling.ID, pattern.StatusValidated,
		pattern.MetricsState{SuccessCount: 5, FailureCount: 10, FailureStreak: 6, PromotedAt: &fresh})

	report, err := svc.Scan(ctx, ScanRequest{Type: ScanDemotion})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Demoted)
	assert.Equal(t, 1, report.SkippedCooldown)
	assert.Zero(t, report.Ineligible)

	got, err := st.GetPattern(ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, pattern.StatusDeprecated, got.Status)

	stillValidated, err := st.GetPattern(ctx, cooling.ID)
	require.NoError(t, err)
	assert.Equal(t, pattern.StatusValidated, stillValidated.Status)

	require.Len(t, sink.deprecated, 1)
	assert.Equal(t, pattern.ReasonLowSuccessRate, sink.deprecated[0].Transition.Reason)
	require.NotNil(t, sink.deprecated[0].Thresholds)
	assert.False(t, sink.deprecated[0].Thresholds.Overridden)
}

func TestDemotionScan_OverrideRequiresFlag(t *testing.T) {
	svc, _, _ := newTestService(t)
	rate := 0.5

	_, err := svc.Scan(context.Background(), ScanRequest{
		Type:           ScanDemotion,
		MaxSuccessRate: &rate,
	})
	assert.ErrorIs(t, err, pattern.ErrThresholdOutOfRange)

	_, err = svc.Scan(context.Background(), ScanRequest{
		Type:                   ScanDemotion,
		MaxSuccessRate:         &rate,
		AllowThresholdOverride: true,
	})
	assert.NoError(t, err)
}

func TestScan_PublishFailureDoesNotRollBack(t *testing.T) {
	svc, st, sink := newTestService(t)
	ctx := context.Background()
	sink.failWith = assert.AnError

	p := registerPattern(t, st, "sig:pub")
	setPatternState(t, st, p.ID, pattern.StatusCandidate,
		pattern.MetricsState{SuccessCount: 4, FailureCount: 1})

	report, err := svc.Scan(ctx, ScanRequest{Type: ScanPromotion})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Promoted)

	// Persisted state stands even though the publish failed.
	got, err := st.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pattern.StatusValidated, got.Status)
}

func TestScan_TimeBudgetReturnsPartialResults(t *testing.T) {
	svc, st, _ := newTestService(t)
	for _, sig := range []string{"sig:a", "sig:b", "sig:c"} {
		registerPattern(t, st, sig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Scan(ctx, ScanRequest{Type: ScanPromotion})
	require.NoError(t, err)
	assert.Zero(t, report.Examined)
	assert.Equal(t, 3, report.NotExamined)
}

func TestScan_UnknownType(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Scan(context.Background(), ScanRequest{Type: ScanType("audit")})
	assert.ErrorIs(t, err, ErrUnknownScanType)
}

func TestApplyTransition_ReenableGuard(t *testing.T) {
	svc, st, sink := newTestService(t)
	ctx := context.Background()
	p := registerPattern(t, st, "sig:reenable")
	setPatternState(t, st, p.ID, pattern.StatusDeprecated, pattern.MetricsState{})

	// System actor: guard failure in the outcome, no error.
	outcome, err := svc.ApplyTransition(ctx, p.ID, pattern.TriggerManualReenable,
		pattern.Actor{Name: "scheduler", Type: pattern.ActorSystem}, "", "", "")
	require.NoError(t, err)
	require.NotNil(t, outcome.Rejection)
	assert.Equal(t, pattern.RejectGuardFailed, outcome.Rejection.Code)

	got, err := st.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pattern.StatusDeprecated, got.Status)

	// Admin actor: allowed, back to candidate, generic event emitted.
	outcome, err = svc.ApplyTransition(ctx, p.ID, pattern.TriggerManualReenable,
		pattern.Actor{Name: "jdoe", Type: pattern.ActorAdmin}, "false positive", "", "")
	require.NoError(t, err)
	require.NotNil(t, outcome.Transition)
	assert.Equal(t, pattern.StatusCandidate, outcome.Transition.ToStatus)

	got, err = st.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pattern.StatusCandidate, got.Status)
	require.Len(t, sink.transitioned, 1)
	assert.Equal(t, "false positive", sink.transitioned[0].Reason)
}

func TestApplyTransition_DuplicateRequestID(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	p := registerPattern(t, st, "sig:idem")

	outcome, err := svc.ApplyTransition(ctx, p.ID, pattern.TriggerDeprecate,
		pattern.Actor{Name: "ops", Type: pattern.ActorAdmin}, "retired", "req-42", "")
	require.NoError(t, err)
	require.NotNil(t, outcome.Transition)

	// Same request id replayed: no second mutation, no second audit row.
	replay, err := svc.ApplyTransition(ctx, p.ID, pattern.TriggerDeprecate,
		pattern.Actor{Name: "ops", Type: pattern.ActorAdmin}, "retired", "req-42", "")
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)

	history, err := st.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyTransition_ManualDeprecationOmitsThresholds(t *testing.T) {
	svc, st, sink := newTestService(t)
	ctx := context.Background()
	p := registerPattern(t, st, "sig:manual-retire")

	outcome, err := svc.ApplyTransition(ctx, p.ID, pattern.TriggerDeprecate,
		pattern.Actor{Name: "ops", Type: pattern.ActorAdmin}, "retired by hand", "", "")
	require.NoError(t, err)
	require.NotNil(t, outcome.Transition)

	// No gate evaluated this demotion, so the notice carries no
	// thresholds instead of synthesized defaults.
	require.Len(t, sink.deprecated, 1)
	assert.Nil(t, sink.deprecated[0].Thresholds)
	assert.Equal(t, "retired by hand", sink.deprecated[0].Transition.Reason)
}

func TestConflictRejectionDistinctFromLifecycleCodes(t *testing.T) {
	rej := conflictRejection()
	assert.Equal(t, pattern.RejectConflict, rej.Code)
	assert.NotEqual(t, pattern.RejectInvalidTransition, rej.Code)

	// The lifecycle machine itself never produces the conflict code.
	res := pattern.ValidateTransition(pattern.StatusValidated, pattern.TriggerPromote, "",
		pattern.Actor{Name: "scheduler", Type: pattern.ActorSystem})
	require.NotNil(t, res.Rejection)
	assert.Equal(t, pattern.RejectInvalidTransition, res.Rejection.Code)
}

func TestHandleSessionOutcome_LogsCorrelationID(t *testing.T) {
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	core, observed := observer.New(zapcore.DebugLevel)
	svc, err := NewService(st, &captureSink{}, nil, zap.New(core))
	require.NoError(t, err)

	p := registerPattern(t, st, "sig:traced")
	ctx := logging.WithCorrelationID(context.Background(), "corr-42")

	_, err = svc.HandleSessionOutcome(ctx, outcomeEvent("evt-traced", true, p.ID))
	require.NoError(t, err)

	entries := observed.FilterMessage("session outcome applied").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "corr-42", entries[0].ContextMap()["correlation_id"])

	_, err = svc.HandleSessionOutcome(ctx, outcomeEvent("evt-traced", true, p.ID))
	require.NoError(t, err)

	dupes := observed.FilterMessage("duplicate session outcome skipped").All()
	require.Len(t, dupes, 1)
	assert.Equal(t, "corr-42", dupes[0].ContextMap()["correlation_id"])
}
