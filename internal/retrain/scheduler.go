// Package retrain decides when to retrain the decision policy, serializes
// retrain jobs process-wide, and performs the atomic snapshot hand-off into
// the inference engine.
package retrain

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"malariad/internal/engine"
	"malariad/internal/model"
	"malariad/internal/policy"
	"malariad/internal/resource"
	"malariad/internal/vectorize"
)

// Options configures the scheduler. Zero values fall back to the documented
// defaults so hand-built test configs stay short.
type Options struct {
	// Enabled gates all training. When false no job ever enters running;
	// inference and data collection continue and model improvement is
	// deferred to externally supplied snapshot files.
	Enabled bool

	// Threshold is how many newly finalized records trigger a job.
	Threshold int
	// Window bounds how many recent finalized records a job trains on.
	Window int
	// Epochs bounds training iterations; the implicit job timeout.
	Epochs int

	// InputSize is the symptom schema length.
	InputSize int

	HiddenSize int
	LearnRate  float64
	Momentum   float64
}

// Scheduler counts finalized records and runs at most one retrain job at a
// time. Triggers that arrive while a job is running are dropped, not
// queued; the next finalized record re-evaluates the trigger.
type Scheduler struct {
	opts    Options
	records RecordSource
	engine  *engine.Engine
	snaps   *policy.Store
	guard   *resource.Guard

	mu        sync.Mutex // guards sinceLast and last
	sinceLast int
	last      *Job

	jobMu sync.Mutex // held for the lifetime of a running job
	wg    sync.WaitGroup
}

func New(records RecordSource, eng *engine.Engine, snaps *policy.Store, guard *resource.Guard, opts Options) *Scheduler {
	if opts.Threshold <= 0 {
		opts.Threshold = 5
	}
	if opts.Window <= 0 {
		opts.Window = 100
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 50
	}
	if opts.HiddenSize <= 0 {
		opts.HiddenSize = 16
	}
	if opts.LearnRate == 0 {
		opts.LearnRate = 0.01
	}
	if opts.Momentum == 0 {
		opts.Momentum = 0.9
	}
	return &Scheduler{
		opts:    opts,
		records: records,
		engine:  eng,
		snaps:   snaps,
		guard:   guard,
	}
}

// NoteFinalized informs the scheduler that one more record gained its
// actual label. This is the only trigger source.
func (s *Scheduler) NoteFinalized() {
	s.mu.Lock()
	s.sinceLast++
	count := s.sinceLast
	s.mu.Unlock()

	if count < s.opts.Threshold {
		return
	}
	if !s.opts.Enabled {
		if count%s.opts.Threshold == 0 {
			log.Printf("retraining disabled: %d finalized records accumulated, ready for offline retraining", count)
		}
		return
	}
	s.tryStart()
}

// SinceLastRetrain returns the finalized-record count since the last
// successful retrain.
func (s *Scheduler) SinceLastRetrain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinceLast
}

// LastJob returns a copy of the most recent job, if any.
func (s *Scheduler) LastJob() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Job{}, false
	}
	return *s.last, true
}

// Wait blocks until any in-flight job finishes. Test and shutdown hook.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) setLast(j Job) {
	s.mu.Lock()
	s.last = &j
	s.mu.Unlock()
}

// tryStart launches a job unless one is already running. The job mutex is
// the process-wide serialization point: TryLock failing means busy, and the
// trigger is skipped and logged rather than queued.
func (s *Scheduler) tryStart() {
	if !s.jobMu.TryLock() {
		log.Printf("retrain trigger skipped: a job is already running")
		return
	}

	job := Job{
		ID:         uuid.NewString(),
		Status:     StatusPending,
		WindowSize: s.opts.Window,
		CreatedAt:  time.Now().UTC(),
	}
	s.setLast(job)

	job.Status = StatusRunning
	job.StartedAt = time.Now().UTC()
	s.setLast(job)
	log.Printf("retrain job %s running (window %d, epochs %d)", job.ID, s.opts.Window, s.opts.Epochs)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.jobMu.Unlock()
		s.execute(job)
	}()
}

func (s *Scheduler) execute(job Job) {
	err := s.runTraining(&job)

	job.FinishedAt = time.Now().UTC()
	if err != nil {
		// The active snapshot is untouched; serving never sees a partial
		// artifact. Failure is only visible via job status.
		job.Status = StatusFailed
		job.Reason = err.Error()
		s.setLast(job)
		log.Printf("retrain job %s failed: %v", job.ID, err)
		return
	}

	job.Status = StatusSucceeded
	s.mu.Lock()
	s.last = &job
	s.sinceLast = 0
	s.mu.Unlock()
	log.Printf("retrain job %s succeeded: snapshot v%d active (%d samples)", job.ID, job.SnapshotVersion, job.Samples)
}

// runTraining reads the record window, fits a new policy under the resource
// guard, persists it, and swaps it into the engine. Any error (including a
// recovered panic inside the guard) discards the partial artifact.
func (s *Scheduler) runTraining(job *Job) error {
	records, err := s.records.RecentFinalized(s.opts.Window)
	if err != nil {
		return fmt.Errorf("read training window: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no finalized records in training window")
	}

	raw := make([][]int, len(records))
	labels := make([]model.Label, len(records))
	for i, rec := range records {
		if len(rec.Symptoms) != s.opts.InputSize {
			return fmt.Errorf("record %d: vector length %d, want %d", rec.ID, len(rec.Symptoms), s.opts.InputSize)
		}
		raw[i] = rec.Symptoms
		labels[i] = rec.Actual
	}
	job.Samples = len(records)

	scaler := vectorize.FitScaler(raw, s.opts.InputSize)

	return s.guard.Do("retrain", func(rt *resource.Runtime) error {
		inFlat := rt.Buffer(len(raw) * s.opts.InputSize)
		outFlat := rt.Buffer(len(raw) * 2)
		inputs := make([][]float64, len(raw))
		targets := make([][]float64, len(raw))
		for i, row := range raw {
			scaled, err := scaler.Apply(row)
			if err != nil {
				return err
			}
			inputs[i] = inFlat[i*s.opts.InputSize : (i+1)*s.opts.InputSize]
			copy(inputs[i], scaled)

			targets[i] = outFlat[i*2 : (i+1)*2]
			if labels[i] == model.Positive {
				targets[i][1] = 1
			} else {
				targets[i][0] = 1
			}
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))

		// Continue from the active network when shapes line up, otherwise
		// start fresh.
		var net *policy.Network
		if active := s.engine.Active(); active != nil && active.Network.InputSize == s.opts.InputSize {
			net = active.Network.Clone()
		} else {
			net = policy.NewNetwork(s.opts.InputSize, s.opts.HiddenSize, 2, rng)
		}

		trainer := policy.NewTrainer(net, s.opts.LearnRate, s.opts.Momentum)
		loss, err := trainer.Fit(inputs, targets, s.opts.Epochs, rng)
		if err != nil {
			return fmt.Errorf("fit policy: %w", err)
		}

		version, err := s.snaps.NextVersion()
		if err != nil {
			return err
		}
		snap := &policy.Snapshot{
			Version:   version,
			CreatedAt: time.Now().UTC(),
			Network:   net,
			Scaler:    *scaler,
		}
		if _, err := s.snaps.Save(snap); err != nil {
			return err
		}

		s.engine.Swap(snap)
		job.SnapshotVersion = version
		log.Printf("retrain job %s: final loss %.4f", job.ID, loss)
		return nil
	})
}
