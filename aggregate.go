package jtable

import (
	"fmt"

	"github.com/jtable/jtable/internal/shardstore"
)

// Aggregate operations.
const (
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggCount = "count"
)

// Aggregate computes op over the numeric values of a payload field.
// Non-numeric values are skipped. With zero numeric values, sum, avg and
// count return 0; min and max return ErrNoNumericValues since no number
// would be correct. An unknown op returns ErrUnknownAggregate.
func (t *Table) Aggregate(field, op string) (float64, error) {
	switch op {
	case AggSum, AggAvg, AggMin, AggMax, AggCount:
	default:
		return 0, fmt.Errorf("aggregate: %w: %q", ErrUnknownAggregate, op)
	}

	var (
		sum     float64
		low     float64
		high    float64
		numeric int
	)

	t.mu.RLock()

	for _, rec := range t.records {
		fieldValue, ok := rec.Field(field)
		if !ok {
			continue
		}

		num, isNumber := shardstore.NumberOf(fieldValue)
		if !isNumber {
			continue
		}

		if numeric == 0 {
			low, high = num, num
		}

		sum += num
		low = min(low, num)
		high = max(high, num)
		numeric++
	}

	t.mu.RUnlock()

	switch op {
	case AggCount:
		return float64(numeric), nil
	case AggSum:
		return sum, nil
	case AggAvg:
		if numeric == 0 {
			return 0, nil
		}

		return sum / float64(numeric), nil
	case AggMin:
		if numeric == 0 {
			return 0, fmt.Errorf("aggregate %q: %w", field, ErrNoNumericValues)
		}

		return low, nil
	default: // AggMax
		if numeric == 0 {
			return 0, fmt.Errorf("aggregate %q: %w", field, ErrNoNumericValues)
		}

		return high, nil
	}
}
