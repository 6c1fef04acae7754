package sqlite

import (
	"fmt"
	"strings"

	"malariad/internal/model"
)

// EncodeSymptoms serializes a symptom vector as comma-joined 0/1 digits in
// schema order, e.g. "1,1,1,1,0,0,0,0,0,0".
func EncodeSymptoms(vec []int) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		if v != 0 {
			parts[i] = "1"
		} else {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, ",")
}

// DecodeSymptoms parses a stored vector. The parser is strict: every
// element must be exactly "0" or "1". Malformed stored text is a typed
// validation error; it is never evaluated or coerced.
func DecodeSymptoms(encoded string) ([]int, error) {
	if encoded == "" {
		return nil, &model.ValidationError{Field: "symptom vector", Reason: "empty stored vector"}
	}
	parts := strings.Split(encoded, ",")
	vec := make([]int, len(parts))
	for i, p := range parts {
		switch p {
		case "0":
			vec[i] = 0
		case "1":
			vec[i] = 1
		default:
			return nil, &model.ValidationError{
				Field:  "symptom vector",
				Reason: fmt.Sprintf("element %d is %q, want 0 or 1", i, p),
			}
		}
	}
	return vec, nil
}
