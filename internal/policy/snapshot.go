package policy

import (
	"fmt"
	"time"

	"malariad/internal/model"
	"malariad/internal/vectorize"
)

// Snapshot is an immutable, versioned bundle of trained network parameters
// plus the feature-scaling parameters they were trained with. Once published
// to the inference engine a snapshot is never mutated; retraining produces a
// new one.
type Snapshot struct {
	Version   int              `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	Network   *Network         `json:"network"`
	Scaler    vectorize.Scaler `json:"scaler"`
}

// Validate rejects structurally corrupt snapshots before they can be served.
func (s *Snapshot) Validate() error {
	if s.Version <= 0 {
		return fmt.Errorf("snapshot: non-positive version %d", s.Version)
	}
	if s.Network == nil {
		return fmt.Errorf("snapshot: missing network")
	}
	if err := s.Network.Validate(); err != nil {
		return fmt.Errorf("snapshot v%d: %w", s.Version, err)
	}
	if s.Network.OutputSize != 2 {
		return fmt.Errorf("snapshot v%d: output size %d, want 2 for binary labels", s.Version, s.Network.OutputSize)
	}
	if len(s.Scaler.Means) != s.Network.InputSize || len(s.Scaler.Stds) != s.Network.InputSize {
		return fmt.Errorf("snapshot v%d: scaler length %d/%d does not match input size %d",
			s.Version, len(s.Scaler.Means), len(s.Scaler.Stds), s.Network.InputSize)
	}
	return nil
}

// Predict classifies an already-scaled vector. Output index 0 is the
// negative label, index 1 the positive label; confidence is the winning
// probability. Read-only, so safe for concurrent callers.
func (s *Snapshot) Predict(scaled []float64) (model.Label, float64, error) {
	probs, err := s.Network.Forward(scaled)
	if err != nil {
		return "", 0, err
	}
	if probs[1] >= probs[0] {
		return model.Positive, probs[1], nil
	}
	return model.Negative, probs[0], nil
}
