// Package vectorize turns recognized symptom flags into fixed-order numeric
// vectors and applies the feature-scaling transform stored alongside the
// trained policy.
package vectorize

import (
	"fmt"
	"math"

	"malariad/internal/model"
)

// Schema is the fixed symptom-name ordering. Built once at startup from
// config; length and order never change for the process lifetime.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema builds a Schema from an ordered name list.
func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, &model.ValidationError{Field: "feature schema", Reason: "no symptom names configured"}
	}
	index := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, &model.ValidationError{Field: "feature schema", Reason: fmt.Sprintf("empty symptom name at position %d", i)}
		}
		if _, dup := index[name]; dup {
			return nil, &model.ValidationError{Field: "feature schema", Reason: fmt.Sprintf("duplicate symptom name %q", name)}
		}
		index[name] = i
	}
	return &Schema{names: append([]string(nil), names...), index: index}, nil
}

// Len returns the vector length N.
func (s *Schema) Len() int { return len(s.names) }

// Names returns the symptom names in schema order.
func (s *Schema) Names() []string {
	return append([]string(nil), s.names...)
}

// Vector converts a symptom presence map into a 0/1 vector in schema order.
// Any name outside the schema is a validation error; missing names are
// treated as absent.
func (s *Schema) Vector(symptoms map[string]bool) ([]int, error) {
	for name := range symptoms {
		if _, ok := s.index[name]; !ok {
			return nil, &model.ValidationError{Field: "symptoms", Reason: fmt.Sprintf("unrecognized symptom %q", name)}
		}
	}
	vec := make([]int, len(s.names))
	for name, present := range symptoms {
		if present {
			vec[s.index[name]] = 1
		}
	}
	return vec, nil
}

// Scaler holds elementwise standardization parameters fitted at training
// time and bundled into the policy snapshot.
type Scaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Apply standardizes a raw vector: (x - mean) / std per element. Pure and
// deterministic; identical input and parameters give bit-identical output.
func (sc *Scaler) Apply(vec []int) ([]float64, error) {
	if len(vec) != len(sc.Means) || len(vec) != len(sc.Stds) {
		return nil, &model.ValidationError{
			Field:  "symptom vector",
			Reason: fmt.Sprintf("length %d does not match scaler length %d", len(vec), len(sc.Means)),
		}
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		std := sc.Stds[i]
		if std == 0 {
			std = 1
		}
		out[i] = (float64(v) - sc.Means[i]) / std
	}
	return out, nil
}

// FitScaler computes per-column means and population standard deviations
// over a training window. Columns with no variance keep std 0 and are
// passed through unscaled by Apply.
func FitScaler(rows [][]int, width int) *Scaler {
	sc := &Scaler{
		Means: make([]float64, width),
		Stds:  make([]float64, width),
	}
	if len(rows) == 0 {
		return sc
	}
	n := float64(len(rows))
	for _, row := range rows {
		for i := 0; i < width && i < len(row); i++ {
			sc.Means[i] += float64(row[i])
		}
	}
	for i := range sc.Means {
		sc.Means[i] /= n
	}
	for _, row := range rows {
		for i := 0; i < width && i < len(row); i++ {
			d := float64(row[i]) - sc.Means[i]
			sc.Stds[i] += d * d
		}
	}
	for i := range sc.Stds {
		sc.Stds[i] = math.Sqrt(sc.Stds[i] / n)
	}
	return sc
}
