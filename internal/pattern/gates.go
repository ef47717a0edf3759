package pattern

import (
	"fmt"
	"time"
)

// Default promotion gate thresholds.
const (
	DefaultPromotionMinInjections  = 5
	DefaultPromotionMinSuccessRate = 0.6
	DefaultPromotionMaxStreak      = 3
)

// Default demotion gate thresholds.
const (
	DefaultDemotionMaxSuccessRate = 0.4
	DefaultDemotionMinStreak      = 5
	DefaultDemotionMinInjections  = 10
	DefaultDemotionCooldown       = 24 * time.Hour
)

// Permitted override ranges. Overrides outside these bounds are
// rejected at construction, never clamped silently.
const (
	minSuccessRateFloor  = 0.10
	minSuccessRateCeil   = 0.60
	minStreakFloor       = 3
	maxStreakCeil        = 20
	minInjectionsFloor   = 1
	maxInjectionsCeil    = 100
	promotionRateFloor   = 0.50
	promotionRateCeil    = 0.95
	promotionStreakFloor = 1
	promotionStreakCeil  = 10
	cooldownCeil         = 7 * 24 * time.Hour
)

// PromotionThresholds are the gate parameters for candidate promotion.
// All three conditions must hold simultaneously.
type PromotionThresholds struct {
	MinInjectionCount int     `json:"min_injection_count"`
	MinSuccessRate    float64 `json:"min_success_rate"`
	MaxFailureStreak  int     `json:"max_failure_streak"`
}

// DemotionThresholds are the gate parameters for validated demotion.
type DemotionThresholds struct {
	MaxSuccessRate    float64       `json:"max_success_rate"`
	MinFailureStreak  int           `json:"min_failure_streak"`
	MinInjectionCount int           `json:"min_injection_count"`
	Cooldown          time.Duration `json:"cooldown"`
}

// DefaultPromotionThresholds returns the tuned promotion defaults.
func DefaultPromotionThresholds() PromotionThresholds {
	return PromotionThresholds{
		MinInjectionCount: DefaultPromotionMinInjections,
		MinSuccessRate:    DefaultPromotionMinSuccessRate,
		MaxFailureStreak:  DefaultPromotionMaxStreak,
	}
}

// DefaultDemotionThresholds returns the tuned demotion defaults.
func DefaultDemotionThresholds() DemotionThresholds {
	return DemotionThresholds{
		MaxSuccessRate:    DefaultDemotionMaxSuccessRate,
		MinFailureStreak:  DefaultDemotionMinStreak,
		MinInjectionCount: DefaultDemotionMinInjections,
		Cooldown:          DefaultDemotionCooldown,
	}
}

// PromotionOverrides carries caller-supplied promotion threshold
// overrides. Nil fields keep the default.
type PromotionOverrides struct {
	MinInjectionCount *int
	MinSuccessRate    *float64
	MaxFailureStreak  *int
}

// DemotionOverrides carries caller-supplied demotion threshold
// overrides. Nil fields keep the default.
type DemotionOverrides struct {
	MaxSuccessRate    *float64
	MinFailureStreak  *int
	MinInjectionCount *int
	Cooldown          *time.Duration
}

// EffectivePromotionThresholds are the promotion parameters actually
// applied for a decision, recorded alongside it for audit.
type EffectivePromotionThresholds struct {
	PromotionThresholds
	Overridden bool `json:"overridden"`
}

// EffectiveDemotionThresholds are the demotion parameters actually
// applied for a decision, recorded alongside it for audit.
type EffectiveDemotionThresholds struct {
	DemotionThresholds
	Overridden bool `json:"overridden"`
}

// ResolvePromotionThresholds merges overrides into the defaults.
//
// Non-nil overrides are honored only when allowOverride is set; a
// supplied override without the flag is an error rather than a silent
// fallback to defaults. Each override is range-checked at construction.
func ResolvePromotionThresholds(o *PromotionOverrides, allowOverride bool) (EffectivePromotionThresholds, error) {
	eff := EffectivePromotionThresholds{PromotionThresholds: DefaultPromotionThresholds()}
	if o == nil {
		return eff, nil
	}
	if o.MinInjectionCount == nil && o.MinSuccessRate == nil && o.MaxFailureStreak == nil {
		return eff, nil
	}
	if !allowOverride {
		return eff, fmt.Errorf("promotion overrides supplied without allow_threshold_override: %w", ErrThresholdOutOfRange)
	}
	if o.MinInjectionCount != nil {
		if err := boundInt("min_injection_count", *o.MinInjectionCount, minInjectionsFloor, maxInjectionsCeil); err != nil {
			return eff, err
		}
		eff.MinInjectionCount = *o.MinInjectionCount
		eff.Overridden = true
	}
	if o.MinSuccessRate != nil {
		if err := boundFloat("min_success_rate", *o.MinSuccessRate, promotionRateFloor, promotionRateCeil); err != nil {
			return eff, err
		}
		eff.MinSuccessRate = *o.MinSuccessRate
		eff.Overridden = true
	}
	if o.MaxFailureStreak != nil {
		if err := boundInt("max_failure_streak", *o.MaxFailureStreak, promotionStreakFloor, promotionStreakCeil); err != nil {
			return eff, err
		}
		eff.MaxFailureStreak = *o.MaxFailureStreak
		eff.Overridden = true
	}
	return eff, nil
}

// ResolveDemotionThresholds merges overrides into the defaults.
//
// Demotion is the destructive direction, so overrides require the
// explicit allowOverride brake and every value is range-bounded: the
// success-rate cutoff to [0.10, 0.60] and the failure-streak floor to
// [3, 20].
func ResolveDemotionThresholds(o *DemotionOverrides, allowOverride bool) (EffectiveDemotionThresholds, error) {
	eff := EffectiveDemotionThresholds{DemotionThresholds: DefaultDemotionThresholds()}
	if o == nil {
		return eff, nil
	}
	if o.MaxSuccessRate == nil && o.MinFailureStreak == nil && o.MinInjectionCount == nil && o.Cooldown == nil {
		return eff, nil
	}
	if !allowOverride {
		return eff, fmt.Errorf("demotion overrides supplied without allow_threshold_override: %w", ErrThresholdOutOfRange)
	}
	if o.MaxSuccessRate != nil {
		if err := boundFloat("max_success_rate", *o.MaxSuccessRate, minSuccessRateFloor, minSuccessRateCeil); err != nil {
			return eff, err
		}
		eff.MaxSuccessRate = *o.MaxSuccessRate
		eff.Overridden = true
	}
	if o.MinFailureStreak != nil {
		if err := boundInt("min_failure_streak", *o.MinFailureStreak, minStreakFloor, maxStreakCeil); err != nil {
			return eff, err
		}
		eff.MinFailureStreak = *o.MinFailureStreak
		eff.Overridden = true
	}
	if o.MinInjectionCount != nil {
		if err := boundInt("min_injection_count", *o.MinInjectionCount, minInjectionsFloor, maxInjectionsCeil); err != nil {
			return eff, err
		}
		eff.MinInjectionCount = *o.MinInjectionCount
		eff.Overridden = true
	}
	if o.Cooldown != nil {
		if *o.Cooldown < 0 || *o.Cooldown > cooldownCeil {
			return eff, fmt.Errorf("cooldown %s outside [0, %s]: %w", *o.Cooldown, cooldownCeil, ErrThresholdOutOfRange)
		}
		eff.Cooldown = *o.Cooldown
		eff.Overridden = true
	}
	return eff, nil
}

func boundInt(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s %d outside [%d, %d]: %w", name, v, lo, hi, ErrThresholdOutOfRange)
	}
	return nil
}

func boundFloat(name string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s %.2f outside [%.2f, %.2f]: %w", name, v, lo, hi, ErrThresholdOutOfRange)
	}
	return nil
}

// GateSnapshot is the immutable record of the values that drove a gate
// decision. It is captured once at decision time, attached to the
// emitted event and the persisted transition row, and never recomputed.
type GateSnapshot struct {
	SuccessRateRolling    float64  `json:"success_rate_rolling"`
	InjectionCountRolling int      `json:"injection_count_rolling"`
	FailureStreak         int      `json:"failure_streak"`
	Disabled              bool     `json:"disabled"`
	HoursSincePromotion   *float64 `json:"hours_since_promotion,omitempty"`
}

// Snapshot captures the gate inputs for m as observed at now.
func Snapshot(m MetricsState, now time.Time) GateSnapshot {
	snap := GateSnapshot{
		SuccessRateRolling:    m.SuccessRate(),
		InjectionCountRolling: m.InjectionCount(),
		FailureStreak:         m.FailureStreak,
		Disabled:              m.Disabled,
	}
	if m.PromotedAt != nil {
		h := now.Sub(*m.PromotedAt).Hours()
		snap.HoursSincePromotion = &h
	}
	return snap
}

// Demotion gate reasons.
const (
	ReasonLowSuccessRate = "low_success_rate"
	ReasonFailureStreak  = "failure_streak"
)

// PromotionDecision is the outcome of one promotion gate evaluation.
type PromotionDecision struct {
	Eligible   bool                         `json:"eligible"`
	Snapshot   GateSnapshot                 `json:"snapshot"`
	Thresholds EffectivePromotionThresholds `json:"thresholds"`
}

// DemotionDecision is the outcome of one demotion gate evaluation.
//
// SkippedCooldown is distinct from plain ineligibility: a pattern still
// inside its post-promotion cooldown is excluded from consideration,
// and operators diagnosing a quiet scan need to see that separately.
type DemotionDecision struct {
	Eligible        bool                        `json:"eligible"`
	SkippedCooldown bool                        `json:"skipped_cooldown"`
	Reason          string                      `json:"reason,omitempty"`
	Snapshot        GateSnapshot                `json:"snapshot"`
	Thresholds      EffectiveDemotionThresholds `json:"thresholds"`
}

// EvaluatePromotion checks the promotion gate for one pattern.
//
// All three thresholds must hold simultaneously: enough rolling
// injections, a high enough rolling success rate, and no active
// failure streak past the cap. Disabled patterns are never eligible.
func EvaluatePromotion(m MetricsState, thr EffectivePromotionThresholds, now time.Time) PromotionDecision {
	snap := Snapshot(m, now)
	d := PromotionDecision{Snapshot: snap, Thresholds: thr}
	if m.Disabled {
		return d
	}
	d.Eligible = snap.InjectionCountRolling >= thr.MinInjectionCount &&
		snap.SuccessRateRolling >= thr.MinSuccessRate &&
		snap.FailureStreak <= thr.MaxFailureStreak
	return d
}

// EvaluateDemotion checks the demotion gate for one pattern.
//
// A pattern within its cooldown window (hours since promotion below the
// cooldown) is reported as skipped, not ineligible. Outside cooldown, a
// pattern with enough rolling injections is demotion-eligible when its
// success rate has fallen to the cutoff or its failure streak has
// reached the floor; Reason names whichever condition fired first.
func EvaluateDemotion(m MetricsState, thr EffectiveDemotionThresholds, now time.Time) DemotionDecision {
	snap := Snapshot(m, now)
	d := DemotionDecision{Snapshot: snap, Thresholds: thr}

	if snap.HoursSincePromotion != nil && *snap.HoursSincePromotion < thr.Cooldown.Hours() {
		d.SkippedCooldown = true
		return d
	}
	if snap.InjectionCountRolling < thr.MinInjectionCount {
		return d
	}
	switch {
	case snap.SuccessRateRolling <= thr.MaxSuccessRate:
		d.Eligible = true
		d.Reason = ReasonLowSuccessRate
	case snap.FailureStreak >= thr.MinFailureStreak:
		d.Eligible = true
		d.Reason = ReasonFailureStreak
	}
	return d
}
