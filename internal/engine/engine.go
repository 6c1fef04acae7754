// Package engine serves predictions from the currently active policy
// snapshot and owns the atomically swappable handle to it.
package engine

import (
	"errors"
	"sync/atomic"

	"malariad/internal/model"
	"malariad/internal/policy"
	"malariad/internal/vectorize"
)

// ErrModelUnavailable is returned when no snapshot has been loaded yet, or
// every stored snapshot failed validation. The process keeps running in this
// degraded state; data collection is unaffected.
var ErrModelUnavailable = errors.New("model unavailable: no policy snapshot loaded")

// Engine holds the active snapshot behind an atomic pointer. Reads are
// lock-free; Swap publishes a fully constructed snapshot so concurrent
// callers observe either the entirely-old or entirely-new artifact, never a
// mix.
type Engine struct {
	active atomic.Pointer[policy.Snapshot]
}

func New() *Engine {
	return &Engine{}
}

// Swap atomically replaces the active snapshot. The caller must not mutate
// snap after publishing it.
func (e *Engine) Swap(snap *policy.Snapshot) {
	e.active.Store(snap)
}

// Active returns the current snapshot, or nil when none is loaded.
func (e *Engine) Active() *policy.Snapshot {
	return e.active.Load()
}

// Version returns the active snapshot version, 0 when none is loaded.
func (e *Engine) Version() int {
	if snap := e.active.Load(); snap != nil {
		return snap.Version
	}
	return 0
}

// Scaler returns the scaling parameters bundled with the active snapshot.
func (e *Engine) Scaler() (*vectorize.Scaler, error) {
	snap := e.active.Load()
	if snap == nil {
		return nil, ErrModelUnavailable
	}
	return &snap.Scaler, nil
}

// Predict classifies an already-scaled vector against the active snapshot.
// Stateless with respect to the caller and safe for concurrent use.
func (e *Engine) Predict(scaled []float64) (model.Label, float64, error) {
	snap := e.active.Load()
	if snap == nil {
		return "", 0, ErrModelUnavailable
	}
	return snap.Predict(scaled)
}
