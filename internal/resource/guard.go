// Package resource scopes the heavy numeric runtime used by training. The
// runtime is acquired lazily on first need, never at process start, and
// every exit path of a guarded body releases it again so one failed retrain
// cannot leak buffers into later inference calls.
package resource

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Runtime is the scratch workspace leased to a guarded body. Buffers grow
// on demand and are dropped wholesale on release.
type Runtime struct {
	buffers [][]float64
}

// Buffer leases a zeroed scratch slice that lives until the guarded body
// exits.
func (r *Runtime) Buffer(n int) []float64 {
	buf := make([]float64, n)
	r.buffers = append(r.buffers, buf)
	return buf
}

// Guard serializes access to the runtime and guarantees its release. At
// most one guarded body holds the runtime at a time.
type Guard struct {
	mu       sync.Mutex
	acquires int64
}

func NewGuard() *Guard {
	return &Guard{}
}

// Acquisitions reports how many times the runtime has been acquired.
func (g *Guard) Acquisitions() int64 {
	return atomic.LoadInt64(&g.acquires)
}

// Do runs fn with an acquired runtime. Release runs on every exit path:
// normal return, error return, or panic. A panic inside fn is converted
// into an error at this boundary instead of propagating into the serving
// path.
func (g *Guard) Do(name string, fn func(rt *Runtime) error) (err error) {
	g.mu.Lock()
	atomic.AddInt64(&g.acquires, 1)
	rt := &Runtime{}

	defer func() {
		// Drop all scratch and force reclamation before the next holder.
		rt.buffers = nil
		runtime.GC()
		g.mu.Unlock()
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: fault during guarded execution: %v", name, r)
		}
	}()

	return fn(rt)
}
