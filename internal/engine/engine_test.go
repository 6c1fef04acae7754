package engine

import (
	"errors"
	"sync"
	"testing"

	"malariad/internal/model"
	"malariad/internal/policy"
	"malariad/internal/vectorize"
)

// constSnapshot builds a snapshot whose output ignores the input: zero
// weights, fixed output biases. Each snapshot has a distinctive
// (label, confidence) pair so a prediction can be attributed to exactly one.
func constSnapshot(version int, biasNegative, biasPositive float64) *policy.Snapshot {
	net := &policy.Network{
		InputSize:  3,
		HiddenSize: 1,
		OutputSize: 2,
		WeightsIH:  [][]float64{{0}, {0}, {0}},
		BiasH:      []float64{0},
		WeightsHO:  [][]float64{{0, 0}},
		BiasO:      []float64{biasNegative, biasPositive},
	}
	return &policy.Snapshot{
		Version: version,
		Network: net,
		Scaler:  vectorize.Scaler{Means: []float64{0, 0, 0}, Stds: []float64{1, 1, 1}},
	}
}

func TestPredictUnavailableWithoutSnapshot(t *testing.T) {
	eng := New()

	if _, _, err := eng.Predict([]float64{0, 0, 0}); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if _, err := eng.Scaler(); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable from Scaler, got %v", err)
	}
	if eng.Version() != 0 {
		t.Fatalf("expected version 0, got %d", eng.Version())
	}
}

func TestSwapActivatesSnapshot(t *testing.T) {
	eng := New()
	eng.Swap(constSnapshot(7, 0, 3))

	if eng.Version() != 7 {
		t.Fatalf("expected version 7, got %d", eng.Version())
	}
	label, _, err := eng.Predict([]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if label != model.Positive {
		t.Fatalf("expected Positive, got %s", label)
	}
}

func TestSwapAtomicUnderConcurrentPredictions(t *testing.T) {
	snapA := constSnapshot(1, 2, 0) // always Negative, distinctive confidence
	snapB := constSnapshot(2, 0, 3) // always Positive, distinctive confidence

	wantA, confA, err := snapA.Predict([]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("snapshot A predict: %v", err)
	}
	wantB, confB, err := snapB.Predict([]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("snapshot B predict: %v", err)
	}

	eng := New()
	eng.Swap(snapA)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				label, conf, err := eng.Predict([]float64{0, 0, 0})
				if err != nil {
					errCh <- err
					return
				}
				matchesA := label == wantA && conf == confA
				matchesB := label == wantB && conf == confB
				if !matchesA && !matchesB {
					errCh <- errors.New("observed mixed snapshot output")
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			eng.Swap(snapB)
		} else {
			eng.Swap(snapA)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case err := <-errCh:
		t.Fatalf("concurrent prediction failed: %v", err)
	default:
	}
}
