package jsonmap

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// FromCounts converts per-key counts into a GORM JSON map value.
func FromCounts(counts map[string]int64) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, n := range counts {
		out[key] = n
	}
	return out
}

// ToCounts converts a JSON map of counts back into integers. Values read
// back from the database decode as float64 or json.Number.
func ToCounts(values datatypes.JSONMap) (map[string]int64, error) {
	out := make(map[string]int64, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case int64:
			out[key] = v
		case int:
			out[key] = int64(v)
		case float64:
			out[key] = int64(v)
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("count %q: %w", key, err)
			}
			out[key] = n
		default:
			return nil, fmt.Errorf("count %q: unexpected %T", key, value)
		}
	}
	return out, nil
}
