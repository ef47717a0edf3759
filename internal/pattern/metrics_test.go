package pattern

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOutcome_SuccessIncrements(t *testing.T) {
	state := MetricsState{}

	state = ApplyOutcome(state, true)

	assert.Equal(t, 1, state.SuccessCount)
	assert.Equal(t, 0, state.FailureCount)
	assert.Equal(t, 0, state.FailureStreak)
}

func TestApplyOutcome_FailureIncrementsStreak(t *testing.T) {
	state := MetricsState{}

	state = ApplyOutcome(state, false)
	state = ApplyOutcome(state, false)

	assert.Equal(t, 0, state.SuccessCount)
	assert.Equal(t, 2, state.FailureCount)
	assert.Equal(t, 2, state.FailureStreak)
}

func TestApplyOutcome_SuccessResetsStreak(t *testing.T) {
	state := MetricsState{FailureStreak: 4, FailureCount: 4}

	state = ApplyOutcome(state, true)

	assert.Equal(t, 0, state.FailureStreak)
	assert.Equal(t, 1, state.SuccessCount)
	assert.Equal(t, 4, state.FailureCount)
}

func TestApplyOutcome_FailureAtCapDecaysOneSuccess(t *testing.T) {
	// Window full at 18 successes + 2 failures; one more failure decays
	// exactly one success.
	state := MetricsState{SuccessCount: 18, FailureCount: 2}

	state = ApplyOutcome(state, false)

	assert.Equal(t, 17, state.SuccessCount)
	assert.Equal(t, 3, state.FailureCount)
	assert.Equal(t, 1, state.FailureStreak)
}

func TestApplyOutcome_SuccessAtCapDecaysOneFailure(t *testing.T) {
	state := MetricsState{SuccessCount: 0, FailureCount: 20, FailureStreak: 20}

	state = ApplyOutcome(state, true)

	assert.Equal(t, 1, state.SuccessCount)
	assert.Equal(t, 19, state.FailureCount)
	assert.Equal(t, 0, state.FailureStreak)
}

func TestApplyOutcome_AllSuccessWindowStaysCapped(t *testing.T) {
	state := MetricsState{SuccessCount: 20}

	state = ApplyOutcome(state, true)

	assert.Equal(t, 20, state.SuccessCount)
	assert.Equal(t, 0, state.FailureCount)
}

func TestApplyOutcome_InvariantsHoldForRandomSequences(t *testing.T) {
	// Property from the design: for any outcome sequence applied to a
	// fresh state, counts stay non-negative and never sum past the
	// window size.
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 100; run++ {
		state := MetricsState{}
		for i := 0; i < 500; i++ {
			state = ApplyOutcome(state, rng.Intn(2) == 0)

			require.GreaterOrEqual(t, state.SuccessCount, 0)
			require.GreaterOrEqual(t, state.FailureCount, 0)
			require.GreaterOrEqual(t, state.FailureStreak, 0)
			require.LessOrEqual(t, state.SuccessCount+state.FailureCount, WindowSize)
		}
		require.NoError(t, state.Validate())
	}
}

func TestApplyOutcome_RecencyBias(t *testing.T) {
	// A long run of successes followed by recent failures should drive
	// the rate down faster than an exact window would suggest. The
	// decay removes opposite-kind counts, so the ratio tracks recency.
	state := MetricsState{}
	for i := 0; i < 20; i++ {
		state = ApplyOutcome(state, true)
	}
	require.InDelta(t, 1.0, state.SuccessRate(), 1e-9)

	for i := 0; i < 5; i++ {
		state = ApplyOutcome(state, false)
	}

	assert.Equal(t, 15, state.SuccessCount)
	assert.Equal(t, 5, state.FailureCount)
	assert.Equal(t, 5, state.FailureStreak)
	assert.InDelta(t, 0.75, state.SuccessRate(), 1e-9)
}

func TestMetricsState_SuccessRateZeroDenominator(t *testing.T) {
	state := MetricsState{}
	assert.Zero(t, state.SuccessRate())
}

func TestMetricsState_Validate(t *testing.T) {
	tests := []struct {
		name    string
		state   MetricsState
		wantErr error
	}{
		{"zero state", MetricsState{}, nil},
		{"at cap", MetricsState{SuccessCount: 12, FailureCount: 8}, nil},
		{"negative success", MetricsState{SuccessCount: -1}, ErrNegativeCount},
		{"negative streak", MetricsState{FailureStreak: -2}, ErrNegativeCount},
		{"over window", MetricsState{SuccessCount: 15, FailureCount: 6}, ErrWindowExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
