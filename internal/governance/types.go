package governance

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Common errors for governance operations.
var (
	ErrEmptyEventID    = errors.New("event ID cannot be empty")
	ErrEmptySessionID  = errors.New("session ID cannot be empty")
	ErrUnknownScanType = errors.New("unknown scan type")
)

// SessionOutcome is the inbound unit of work: one session finished,
// succeeded or failed, with an ordered record of which patterns were
// injected into it.
type SessionOutcome struct {
	// EventID is the idempotency key for this outcome event.
	EventID string `json:"event_id"`

	// SessionID identifies the session the outcome belongs to.
	SessionID string `json:"session_id"`

	// Success is whether the session succeeded.
	Success bool `json:"success"`

	// Injections lists the pattern injections observed in the session.
	Injections []pattern.Injection `json:"injections"`

	// CorrelationID ties the outcome to upstream tracing; the consumer
	// attaches it to the handler context so it propagates into logs.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// OrderedPatternIDs returns the injected pattern ids in canonical
// order: injection timestamp, then injection id. Metrics updates and
// attribution both depend on this order.
func (so *SessionOutcome) OrderedPatternIDs() []string {
	sorted := make([]pattern.Injection, len(so.Injections))
	copy(sorted, so.Injections)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].InjectedAt.Equal(sorted[j].InjectedAt) {
			return sorted[i].InjectedAt.Before(sorted[j].InjectedAt)
		}
		return sorted[i].InjectionID < sorted[j].InjectionID
	})

	ids := make([]string, len(sorted))
	for i, inj := range sorted {
		ids[i] = inj.PatternID
	}
	return ids
}

// OutcomeResult reports what one session-outcome event did.
type OutcomeResult struct {
	EventID string `json:"event_id"`

	// Duplicate is set when the event id had already been processed:
	// nothing was mutated and no event was emitted.
	Duplicate bool `json:"duplicate"`

	// PatternsUpdated counts patterns whose metrics changed.
	PatternsUpdated int `json:"patterns_updated"`

	// UnknownPatterns lists injected pattern ids with no stored pattern.
	UnknownPatterns []string `json:"unknown_patterns,omitempty"`

	// Weights is the contribution attribution for downstream analytics.
	// Attribution never influences gating.
	Weights []pattern.ContributionWeight `json:"weights,omitempty"`
}

// ScanType selects which gate a scan evaluates.
type ScanType string

const (
	ScanPromotion ScanType = "promotion"
	ScanDemotion  ScanType = "demotion"
)

// ScanRequest carries the operator-facing scan parameters.
//
// Pointer fields are threshold overrides; nil keeps the tuned default.
// Overrides are honored only when AllowThresholdOverride is set, and
// each one is range-bounded at resolution time.
type ScanRequest struct {
	Type   ScanType `json:"type"`
	DryRun bool     `json:"dry_run"`

	MinInjectionCount *int     `json:"min_injection_count,omitempty"`
	MinSuccessRate    *float64 `json:"min_success_rate,omitempty"`
	MaxSuccessRate    *float64 `json:"max_success_rate,omitempty"`
	MaxFailureStreak  *int     `json:"max_failure_streak,omitempty"`
	MinFailureStreak  *int     `json:"min_failure_streak,omitempty"`
	CooldownHours     *float64 `json:"cooldown_hours,omitempty"`

	AllowThresholdOverride bool `json:"allow_threshold_override"`

	// RequestID is the scan's idempotency key; generated when empty.
	RequestID string `json:"request_id,omitempty"`

	// CorrelationID flows into every transition and event the scan
	// produces.
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (r *ScanRequest) promotionOverrides() *pattern.PromotionOverrides {
	if r.MinInjectionCount == nil && r.MinSuccessRate == nil && r.MaxFailureStreak == nil {
		return nil
	}
	return &pattern.PromotionOverrides{
		MinInjectionCount: r.MinInjectionCount,
		MinSuccessRate:    r.MinSuccessRate,
		MaxFailureStreak:  r.MaxFailureStreak,
	}
}

func (r *ScanRequest) demotionOverrides() *pattern.DemotionOverrides {
	var cooldown *time.Duration
	if r.CooldownHours != nil {
		d := time.Duration(*r.CooldownHours * float64(time.Hour))
		cooldown = &d
	}
	if r.MinInjectionCount == nil && r.MaxSuccessRate == nil && r.MinFailureStreak == nil && cooldown == nil {
		return nil
	}
	return &pattern.DemotionOverrides{
		MaxSuccessRate:    r.MaxSuccessRate,
		MinFailureStreak:  r.MinFailureStreak,
		MinInjectionCount: r.MinInjectionCount,
		Cooldown:          cooldown,
	}
}

// PatternScanOutcome classifies what a scan did to one pattern.
type PatternScanOutcome string

const (
	OutcomePromoted        PatternScanOutcome = "promoted"
	OutcomeDemoted         PatternScanOutcome = "demoted"
	OutcomeWouldPromote    PatternScanOutcome = "would_promote"
	OutcomeWouldDemote     PatternScanOutcome = "would_demote"
	OutcomeIneligible      PatternScanOutcome = "ineligible"
	OutcomeSkippedCooldown PatternScanOutcome = "skipped_cooldown"
	OutcomeConflict        PatternScanOutcome = "conflict"
	OutcomeFailed          PatternScanOutcome = "failed"
)

// PatternResult is one pattern's line in a scan report.
type PatternResult struct {
	PatternID string               `json:"pattern_id"`
	Outcome   PatternScanOutcome   `json:"outcome"`
	Reason    string               `json:"reason,omitempty"`
	Error     string               `json:"error,omitempty"`
	Snapshot  pattern.GateSnapshot `json:"snapshot"`
}

// ScanReport is the batch result of a gate scan. Per-pattern outcomes
// are recorded independently; one pattern's failure never aborts the
// batch.
type ScanReport struct {
	Type          ScanType `json:"type"`
	DryRun        bool     `json:"dry_run"`
	RequestID     string   `json:"request_id"`
	CorrelationID string   `json:"correlation_id,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Examined        int `json:"examined"`
	Promoted        int `json:"promoted"`
	Demoted         int `json:"demoted"`
	Ineligible      int `json:"ineligible"`
	SkippedCooldown int `json:"skipped_cooldown"`
	Conflicts       int `json:"conflicts"`
	Failed          int `json:"failed"`

	// NotExamined counts patterns left unvisited when the caller's time
	// budget expired. The scan returns partial results instead of
	// raising.
	NotExamined int `json:"not_examined"`

	Patterns []PatternResult `json:"patterns,omitempty"`
}

// TransitionOutcome is the result of one requested transition.
// Rejections are expected outcomes carried in the result; err is
// reserved for infrastructure failure.
type TransitionOutcome struct {
	// Duplicate is set when the request id was already processed.
	Duplicate bool `json:"duplicate"`

	// Transition is the accepted audit row, nil when rejected.
	Transition *pattern.Transition `json:"transition,omitempty"`

	// Rejection explains a refused request, nil when accepted.
	Rejection *pattern.Rejection `json:"rejection,omitempty"`
}

// EventSink receives lifecycle notifications after persistence.
//
// Emission is best-effort by contract: implementations return publish
// errors so the caller can record them, but persisted governance state
// is never rolled back on a sink failure.
type EventSink interface {
	NotifyPromoted(ctx context.Context, n PromotionNotice) error
	NotifyDeprecated(ctx context.Context, n DemotionNotice) error
	NotifyTransitioned(ctx context.Context, tr pattern.Transition, signature string) error
}

// PromotionNotice is the payload for pattern-promoted notifications.
type PromotionNotice struct {
	Transition       pattern.Transition
	PatternSignature string
}

// DemotionNotice is the payload for pattern-deprecated notifications.
// Thresholds is nil for manual deprecations, where no gate evaluation
// took place.
type DemotionNotice struct {
	Transition       pattern.Transition
	PatternSignature string
	Thresholds       *pattern.EffectiveDemotionThresholds
}
