package pattern

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for pattern operations.
var (
	ErrNotFound            = errors.New("pattern not found")
	ErrEmptyPatternID      = errors.New("pattern ID cannot be empty")
	ErrEmptySignature      = errors.New("pattern signature cannot be empty")
	ErrInvalidStatus       = errors.New("invalid pattern status")
	ErrNegativeCount       = errors.New("rolling counts cannot be negative")
	ErrWindowExceeded      = errors.New("rolling counts exceed window size")
	ErrUnknownMethod       = errors.New("unknown attribution method")
	ErrNoInjections        = errors.New("injection list cannot be empty")
	ErrThresholdOutOfRange = errors.New("threshold outside permitted bounds")
)

// WindowSize is the approximate number of recent outcomes tracked per
// pattern. The rolling counters never sum past this value.
const WindowSize = 20

// Status represents the lifecycle status of a pattern.
type Status string

const (
	// StatusCandidate is the entry status for newly registered patterns.
	StatusCandidate Status = "candidate"

	// StatusProvisional is a legacy status. New patterns never enter it,
	// but patterns already provisional may still be promoted or deprecated.
	StatusProvisional Status = "provisional"

	// StatusValidated indicates the pattern has earned trust through the
	// promotion gate and is served to consumers.
	StatusValidated Status = "validated"

	// StatusDeprecated indicates the pattern failed the demotion gate or
	// was retired manually. Only an admin re-enable leaves this status.
	StatusDeprecated Status = "deprecated"
)

// Valid reports whether s is one of the known lifecycle statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCandidate, StatusProvisional, StatusValidated, StatusDeprecated:
		return true
	}
	return false
}

// MetricsState holds the rolling trust metrics for one pattern.
//
// The counters approximate a sliding window over the last WindowSize
// outcomes without storing per-event history: when the window is full,
// recording an outcome decays one count of the opposite kind. The
// approximation's decay order is intentional and the gate thresholds
// were tuned against it.
//
// MetricsState is mutated only through ApplyOutcome, one outcome at a
// time, in the order outcomes were produced.
type MetricsState struct {
	// SuccessCount is the rolling count of successful uses.
	SuccessCount int `json:"success_count_rolling"`

	// FailureCount is the rolling count of failed uses.
	FailureCount int `json:"failure_count_rolling"`

	// FailureStreak counts consecutive failures since the last success.
	FailureStreak int `json:"failure_streak"`

	// Disabled marks a pattern excluded from injection entirely.
	Disabled bool `json:"disabled"`

	// PromotedAt is when the pattern last entered validated status.
	// Nil if the pattern has never been promoted.
	PromotedAt *time.Time `json:"promoted_at,omitempty"`
}

// InjectionCount returns the rolling total of observed outcomes.
func (m MetricsState) InjectionCount() int {
	return m.SuccessCount + m.FailureCount
}

// SuccessRate returns the rolling success ratio, 0 when no outcomes
// have been observed.
func (m MetricsState) SuccessRate() float64 {
	total := m.SuccessCount + m.FailureCount
	if total == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(total)
}

// Validate checks the counter invariants.
func (m MetricsState) Validate() error {
	if m.SuccessCount < 0 || m.FailureCount < 0 || m.FailureStreak < 0 {
		return ErrNegativeCount
	}
	if m.SuccessCount+m.FailureCount > WindowSize {
		return ErrWindowExceeded
	}
	return nil
}

// Pattern is a reusable unit of learned guidance with a lifecycle
// status and rolling trust metrics.
type Pattern struct {
	// ID is the unique pattern identifier (UUID).
	ID string `json:"id"`

	// Signature is a stable content-derived identifier used in emitted
	// events so consumers can correlate across re-registrations.
	Signature string `json:"signature"`

	// Status is the current lifecycle status.
	Status Status `json:"status"`

	// Metrics holds the rolling trust metrics.
	Metrics MetricsState `json:"metrics"`

	// CreatedAt is when the pattern was registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the pattern or its metrics last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPattern creates a candidate pattern with zeroed metrics.
func NewPattern(signature string) (*Pattern, error) {
	if signature == "" {
		return nil, ErrEmptySignature
	}
	now := time.Now().UTC()
	return &Pattern{
		ID:        uuid.New().String(),
		Signature: signature,
		Status:    StatusCandidate,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks that the pattern is structurally sound.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return ErrEmptyPatternID
	}
	if _, err := uuid.Parse(p.ID); err != nil {
		return errors.New("invalid pattern ID format")
	}
	if p.Signature == "" {
		return ErrEmptySignature
	}
	if !p.Status.Valid() {
		return ErrInvalidStatus
	}
	return p.Metrics.Validate()
}

// ActorType identifies what kind of actor requested a transition.
type ActorType string

const (
	// ActorSystem is the governance engine itself (scheduled scans).
	ActorSystem ActorType = "system"

	// ActorAdmin is a human operator with elevated rights.
	ActorAdmin ActorType = "admin"

	// ActorHandler is an automated message handler acting on behalf of
	// an inbound event.
	ActorHandler ActorType = "handler"
)

// Valid reports whether a is a known actor type.
func (a ActorType) Valid() bool {
	switch a {
	case ActorSystem, ActorAdmin, ActorHandler:
		return true
	}
	return false
}

// Actor carries the identity attached to a transition request.
type Actor struct {
	// Name identifies the actor ("scheduler", "jdoe", ...).
	Name string `json:"name"`

	// Type classifies the actor for guard evaluation.
	Type ActorType `json:"type"`
}

// Injection is one pattern injection observed in a session, in the
// canonical order established by (timestamp, injection id).
type Injection struct {
	PatternID   string    `json:"pattern_id"`
	InjectionID string    `json:"injection_id"`
	InjectedAt  time.Time `json:"injected_at"`
}
