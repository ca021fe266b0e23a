package lru

import "time"

// Rough per-value overheads for the size estimate. These only need to be
// stable and roughly proportional to serialized size.
const (
	scalarOverhead  = 8
	stringOverhead  = 16
	elementOverhead = 8
)

// EstimateSize returns a deterministic estimate of the memory footprint of
// a JSON-like value (maps, slices, strings, numbers, bools, nil). Unknown
// types count as a scalar. The estimate is monotonic: adding fields or
// lengthening strings never decreases it.
func EstimateSize(v any) int64 {
	switch val := v.(type) {
	case nil:
		return scalarOverhead
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return scalarOverhead
	case time.Time:
		return scalarOverhead * 2
	case string:
		return stringOverhead + int64(len(val))
	case []byte:
		return stringOverhead + int64(len(val))
	case map[string]any:
		size := int64(elementOverhead)
		for k, item := range val {
			size += stringOverhead + int64(len(k)) + elementOverhead + EstimateSize(item)
		}

		return size
	case []any:
		size := int64(elementOverhead)
		for _, item := range val {
			size += elementOverhead + EstimateSize(item)
		}

		return size
	default:
		return scalarOverhead
	}
}
