package pattern

// AttributionMethod selects how a session outcome's credit is spread
// across the patterns injected in that session.
type AttributionMethod string

const (
	// MethodEqualSplit divides credit evenly across distinct patterns.
	MethodEqualSplit AttributionMethod = "equal_split"

	// MethodRecencyWeighted gives later injections proportionally more
	// credit than earlier ones.
	MethodRecencyWeighted AttributionMethod = "recency_weighted"

	// MethodFirstMatch assigns all credit to the first-occurring pattern.
	MethodFirstMatch AttributionMethod = "first_match"
)

// Confidence fixed per method. True causal attribution across
// multi-pattern sessions is not recoverable without controlled
// experiments, so each heuristic carries a score communicating its
// epistemic reliability to downstream consumers.
const (
	ConfidenceEqualSplit      = 0.5
	ConfidenceRecencyWeighted = 0.4
	ConfidenceFirstMatch      = 0.3
)

// ContributionWeight is one pattern's share of a session outcome.
// Weights across a session sum to 1.0 within floating-point tolerance.
type ContributionWeight struct {
	PatternID  string            `json:"pattern_id"`
	Weight     float64           `json:"weight"`
	Method     AttributionMethod `json:"method"`
	Confidence float64           `json:"confidence"`
}

// Attribute assigns per-pattern contribution weights for one session.
//
// orderedIDs must be in canonical injection order (injection timestamp,
// then injection id); the recency and first-match methods depend on it.
// Duplicate IDs are allowed: under equal_split their occurrences
// accumulate before normalization, under the positional methods each
// occurrence contributes at its position.
//
// The returned slice preserves first-occurrence order of the distinct
// patterns.
func Attribute(method AttributionMethod, orderedIDs []string) ([]ContributionWeight, error) {
	if len(orderedIDs) == 0 {
		return nil, ErrNoInjections
	}

	switch method {
	case MethodEqualSplit:
		return attributeEqualSplit(orderedIDs), nil
	case MethodRecencyWeighted:
		return attributeRecency(orderedIDs), nil
	case MethodFirstMatch:
		return attributeFirstMatch(orderedIDs), nil
	default:
		return nil, ErrUnknownMethod
	}
}

func attributeEqualSplit(orderedIDs []string) []ContributionWeight {
	counts := make(map[string]int, len(orderedIDs))
	order := make([]string, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		if counts[id] == 0 {
			order = append(order, id)
		}
		counts[id]++
	}

	total := float64(len(orderedIDs))
	weights := make([]ContributionWeight, 0, len(order))
	for _, id := range order {
		weights = append(weights, ContributionWeight{
			PatternID:  id,
			Weight:     float64(counts[id]) / total,
			Method:     MethodEqualSplit,
			Confidence: ConfidenceEqualSplit,
		})
	}
	return weights
}

func attributeRecency(orderedIDs []string) []ContributionWeight {
	// Position weight i+1 for the i-th injection; duplicates accumulate
	// their positional weights.
	sums := make(map[string]float64, len(orderedIDs))
	order := make([]string, 0, len(orderedIDs))
	var total float64
	for i, id := range orderedIDs {
		if _, seen := sums[id]; !seen {
			order = append(order, id)
		}
		w := float64(i + 1)
		sums[id] += w
		total += w
	}

	weights := make([]ContributionWeight, 0, len(order))
	for _, id := range order {
		weights = append(weights, ContributionWeight{
			PatternID:  id,
			Weight:     sums[id] / total,
			Method:     MethodRecencyWeighted,
			Confidence: ConfidenceRecencyWeighted,
		})
	}
	return weights
}

func attributeFirstMatch(orderedIDs []string) []ContributionWeight {
	seen := make(map[string]bool, len(orderedIDs))
	weights := make([]ContributionWeight, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		w := 0.0
		if i == 0 {
			w = 1.0
		}
		weights = append(weights, ContributionWeight{
			PatternID:  id,
			Weight:     w,
			Method:     MethodFirstMatch,
			Confidence: ConfidenceFirstMatch,
		})
	}
	return weights
}
