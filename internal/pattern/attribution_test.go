package pattern

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttribute_EqualSplit(t *testing.T) {
	weights, err := Attribute(MethodEqualSplit, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Len(t, weights, 3)

	for _, w := range weights {
		assert.InDelta(t, 1.0/3.0, w.Weight, 1e-9)
		assert.Equal(t, MethodEqualSplit, w.Method)
		assert.InDelta(t, ConfidenceEqualSplit, w.Confidence, 1e-9)
	}
}

func TestAttribute_EqualSplitDuplicatesAccumulate(t *testing.T) {
	// p1 injected twice: its occurrences accumulate before
	// normalization, so it carries twice p2's weight.
	weights, err := Attribute(MethodEqualSplit, []string{"p1", "p2", "p1"})
	require.NoError(t, err)
	require.Len(t, weights, 2)

	byID := weightsByID(weights)
	assert.InDelta(t, 2.0/3.0, byID["p1"], 1e-9)
	assert.InDelta(t, 1.0/3.0, byID["p2"], 1e-9)
}

func TestAttribute_RecencyWeighted(t *testing.T) {
	weights, err := Attribute(MethodRecencyWeighted, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Len(t, weights, 3)

	// Positional weights 1, 2, 3 normalized over 6.
	byID := weightsByID(weights)
	assert.InDelta(t, 1.0/6.0, byID["p1"], 1e-9)
	assert.InDelta(t, 2.0/6.0, byID["p2"], 1e-9)
	assert.InDelta(t, 3.0/6.0, byID["p3"], 1e-9)

	for _, w := range weights {
		assert.InDelta(t, ConfidenceRecencyWeighted, w.Confidence, 1e-9)
	}
}

func TestAttribute_FirstMatch(t *testing.T) {
	weights, err := Attribute(MethodFirstMatch, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Len(t, weights, 3)

	byID := weightsByID(weights)
	assert.InDelta(t, 1.0, byID["p1"], 1e-9)
	assert.Zero(t, byID["p2"])
	assert.Zero(t, byID["p3"])

	for _, w := range weights {
		assert.InDelta(t, ConfidenceFirstMatch, w.Confidence, 1e-9)
	}
}

func TestAttribute_WeightsSumToOne(t *testing.T) {
	inputs := [][]string{
		{"p1"},
		{"p1", "p2"},
		{"p1", "p2", "p3", "p4", "p5"},
		{"p1", "p1", "p1"},
		{"p1", "p2", "p1", "p3", "p2"},
	}
	methods := []AttributionMethod{MethodEqualSplit, MethodRecencyWeighted, MethodFirstMatch}

	for _, method := range methods {
		for i, ids := range inputs {
			t.Run(fmt.Sprintf("%s/%d", method, i), func(t *testing.T) {
				weights, err := Attribute(method, ids)
				require.NoError(t, err)

				var sum float64
				for _, w := range weights {
					sum += w.Weight
				}
				assert.InDelta(t, 1.0, sum, 1e-9)
			})
		}
	}
}

func TestAttribute_PreservesFirstOccurrenceOrder(t *testing.T) {
	weights, err := Attribute(MethodEqualSplit, []string{"p3", "p1", "p3", "p2"})
	require.NoError(t, err)
	require.Len(t, weights, 3)

	assert.Equal(t, "p3", weights[0].PatternID)
	assert.Equal(t, "p1", weights[1].PatternID)
	assert.Equal(t, "p2", weights[2].PatternID)
}

func TestAttribute_EmptyInput(t *testing.T) {
	_, err := Attribute(MethodEqualSplit, nil)
	assert.ErrorIs(t, err, ErrNoInjections)
}

func TestAttribute_UnknownMethod(t *testing.T) {
	_, err := Attribute(AttributionMethod("causal"), []string{"p1"})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func weightsByID(weights []ContributionWeight) map[string]float64 {
	m := make(map[string]float64, len(weights))
	for _, w := range weights {
		m[w.PatternID] = w.Weight
	}
	return m
}
