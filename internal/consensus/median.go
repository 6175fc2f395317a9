package consensus

import (
	"errors"
	"slices"
)

// MedianAggregation picks the median of the node values. For an even count
// it returns the upper of the two middle values, so the result is always a
// value some node actually observed.
type MedianAggregation struct{}

// Aggregate implements Aggregator.
func (MedianAggregation) Aggregate(values []int64) (int64, error) {
	if len(values) == 0 {
		return 0, errors.New("consensus: median of no values")
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted[len(sorted)/2], nil
}
