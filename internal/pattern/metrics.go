package pattern

// ApplyOutcome folds one session outcome into the rolling metrics and
// returns the updated state.
//
// The counters approximate a true sliding window of the last WindowSize
// outcomes using a decay rule: when the window is full, the counter of
// the *opposite* kind is decremented (floored at zero). Decaying the
// opposite counter, not the same one, is what gives recent outcomes
// their weight in the ratio; the gate thresholds were tuned against
// exactly this behavior.
//
// ApplyOutcome is pure and keeps no dedup state. Exactly-once delivery
// of (session, pattern) outcomes is the orchestrator's responsibility.
func ApplyOutcome(state MetricsState, success bool) MetricsState {
	if success {
		state.SuccessCount++
		if state.SuccessCount+state.FailureCount > WindowSize {
			if state.FailureCount > 0 {
				state.FailureCount--
			} else {
				// Window full of successes already; cap in place.
				state.SuccessCount = WindowSize
			}
		}
		state.FailureStreak = 0
		return state
	}

	state.FailureCount++
	if state.SuccessCount+state.FailureCount > WindowSize {
		if state.SuccessCount > 0 {
			state.SuccessCount--
		} else {
			state.FailureCount = WindowSize
		}
	}
	state.FailureStreak++
	return state
}
