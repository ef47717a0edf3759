package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultPromotion() EffectivePromotionThresholds {
	return EffectivePromotionThresholds{PromotionThresholds: DefaultPromotionThresholds()}
}

func defaultDemotion() EffectiveDemotionThresholds {
	return EffectiveDemotionThresholds{DemotionThresholds: DefaultDemotionThresholds()}
}

func TestEvaluatePromotion_EligibleAtDefaults(t *testing.T) {
	// 4/5 successes, no streak: clears every default gate.
	m := MetricsState{SuccessCount: 4, FailureCount: 1}

	d := EvaluatePromotion(m, defaultPromotion(), time.Now())

	assert.True(t, d.Eligible)
	assert.Equal(t, 5, d.Snapshot.InjectionCountRolling)
	assert.InDelta(t, 0.8, d.Snapshot.SuccessRateRolling, 1e-9)
	assert.Nil(t, d.Snapshot.HoursSincePromotion)
}

func TestEvaluatePromotion_Ineligible(t *testing.T) {
	tests := []struct {
		name string
		m    MetricsState
	}{
		{"too few injections", MetricsState{SuccessCount: 3, FailureCount: 1}},
		{"rate below floor", MetricsState{SuccessCount: 3, FailureCount: 3}},
		{"streak past cap", MetricsState{SuccessCount: 8, FailureCount: 4, FailureStreak: 4}},
		{"disabled", MetricsState{SuccessCount: 10, Disabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluatePromotion(tt.m, defaultPromotion(), time.Now())
			assert.False(t, d.Eligible)
		})
	}
}

func TestEvaluatePromotion_ZeroDenominatorRateIsZero(t *testing.T) {
	d := EvaluatePromotion(MetricsState{}, defaultPromotion(), time.Now())

	assert.False(t, d.Eligible)
	assert.Zero(t, d.Snapshot.SuccessRateRolling)
}

func TestEvaluateDemotion_EligibleOutsideCooldown(t *testing.T) {
	now := time.Now()
	promoted := now.Add(-30 * time.Hour)
	// success_rate ~0.33, streak 6, 15 injections: both demotion
	// conditions hold; low success rate is reported as the reason.
	m := MetricsState{
		SuccessCount:  5,
		FailureCount:  10,
		FailureStreak: 6,
		PromotedAt:    &promoted,
	}

	d := EvaluateDemotion(m, defaultDemotion(), now)

	assert.True(t, d.Eligible)
	assert.False(t, d.SkippedCooldown)
	assert.Equal(t, ReasonLowSuccessRate, d.Reason)
	require.NotNil(t, d.Snapshot.HoursSincePromotion)
	assert.InDelta(t, 30.0, *d.Snapshot.HoursSincePromotion, 0.01)
}

func TestEvaluateDemotion_SkippedForCooldown(t *testing.T) {
	now := time.Now()
	promoted := now.Add(-5 * time.Hour)
	m := MetricsState{
		SuccessCount:  5,
		FailureCount:  10,
		FailureStreak: 6,
		PromotedAt:    &promoted,
	}

	d := EvaluateDemotion(m, defaultDemotion(), now)

	// Inside the 24h cooldown: reported as skipped, not ineligible.
	assert.False(t, d.Eligible)
	assert.True(t, d.SkippedCooldown)
	assert.Empty(t, d.Reason)
}

func TestEvaluateDemotion_StreakReason(t *testing.T) {
	// Healthy-ish rate but a long live failure streak.
	m := MetricsState{SuccessCount: 9, FailureCount: 5, FailureStreak: 5}

	d := EvaluateDemotion(m, defaultDemotion(), time.Now())

	assert.True(t, d.Eligible)
	assert.Equal(t, ReasonFailureStreak, d.Reason)
}

func TestEvaluateDemotion_TooFewInjections(t *testing.T) {
	m := MetricsState{SuccessCount: 1, FailureCount: 5, FailureStreak: 5}

	d := EvaluateDemotion(m, defaultDemotion(), time.Now())

	assert.False(t, d.Eligible)
	assert.False(t, d.SkippedCooldown)
}

func TestEvaluateDemotion_NeverPromotedHasNoCooldown(t *testing.T) {
	m := MetricsState{SuccessCount: 2, FailureCount: 10, FailureStreak: 7}

	d := EvaluateDemotion(m, defaultDemotion(), time.Now())

	assert.True(t, d.Eligible)
	assert.Nil(t, d.Snapshot.HoursSincePromotion)
}

func TestResolvePromotionThresholds_Defaults(t *testing.T) {
	eff, err := ResolvePromotionThresholds(nil, false)
	require.NoError(t, err)

	assert.False(t, eff.Overridden)
	assert.Equal(t, DefaultPromotionMinInjections, eff.MinInjectionCount)
	assert.InDelta(t, DefaultPromotionMinSuccessRate, eff.MinSuccessRate, 1e-9)
	assert.Equal(t, DefaultPromotionMaxStreak, eff.MaxFailureStreak)
}

func TestResolvePromotionThresholds_OverrideNeedsFlag(t *testing.T) {
	rate := 0.7
	_, err := ResolvePromotionThresholds(&PromotionOverrides{MinSuccessRate: &rate}, false)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)
}

func TestResolvePromotionThresholds_OverrideApplied(t *testing.T) {
	rate := 0.7
	count := 10
	eff, err := ResolvePromotionThresholds(&PromotionOverrides{
		MinSuccessRate:    &rate,
		MinInjectionCount: &count,
	}, true)
	require.NoError(t, err)

	assert.True(t, eff.Overridden)
	assert.InDelta(t, 0.7, eff.MinSuccessRate, 1e-9)
	assert.Equal(t, 10, eff.MinInjectionCount)
	assert.Equal(t, DefaultPromotionMaxStreak, eff.MaxFailureStreak)
}

func TestResolveDemotionThresholds_Bounds(t *testing.T) {
	tooLow := 0.05
	_, err := ResolveDemotionThresholds(&DemotionOverrides{MaxSuccessRate: &tooLow}, true)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)

	tooHigh := 0.9
	_, err = ResolveDemotionThresholds(&DemotionOverrides{MaxSuccessRate: &tooHigh}, true)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)

	shortStreak := 2
	_, err = ResolveDemotionThresholds(&DemotionOverrides{MinFailureStreak: &shortStreak}, true)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)

	ok := 0.5
	eff, err := ResolveDemotionThresholds(&DemotionOverrides{MaxSuccessRate: &ok}, true)
	require.NoError(t, err)
	assert.True(t, eff.Overridden)
	assert.InDelta(t, 0.5, eff.MaxSuccessRate, 1e-9)
}

func TestResolveDemotionThresholds_OverrideNeedsFlag(t *testing.T) {
	// The safety brake: a supplied override without the flag is an
	// error, not a silent fall back to defaults.
	streak := 4
	_, err := ResolveDemotionThresholds(&DemotionOverrides{MinFailureStreak: &streak}, false)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)
}

func TestSnapshot_CapturesPromotionAge(t *testing.T) {
	now := time.Now()
	promoted := now.Add(-48 * time.Hour)
	m := MetricsState{SuccessCount: 6, FailureCount: 2, PromotedAt: &promoted}

	snap := Snapshot(m, now)

	assert.Equal(t, 8, snap.InjectionCountRolling)
	assert.InDelta(t, 0.75, snap.SuccessRateRolling, 1e-9)
	require.NotNil(t, snap.HoursSincePromotion)
	assert.InDelta(t, 48.0, *snap.HoursSincePromotion, 0.01)
}
