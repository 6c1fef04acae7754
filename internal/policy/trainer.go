package policy

import (
	"fmt"
	"math"
	"math/rand"
)

// Trainer runs SGD with momentum over a network. Velocity buffers live here
// rather than on the network so they are never serialized into a snapshot.
type Trainer struct {
	net        *Network
	learnRate  float64
	momentum   float64
	velocityIH [][]float64
	velocityHO [][]float64
}

// NewTrainer wraps net for training. The network is mutated in place, so
// callers train on a Clone of any published network.
func NewTrainer(net *Network, learnRate, momentum float64) *Trainer {
	t := &Trainer{
		net:        net,
		learnRate:  learnRate,
		momentum:   momentum,
		velocityIH: make([][]float64, net.InputSize),
		velocityHO: make([][]float64, net.HiddenSize),
	}
	for i := range t.velocityIH {
		t.velocityIH[i] = make([]float64, net.HiddenSize)
	}
	for j := range t.velocityHO {
		t.velocityHO[j] = make([]float64, net.OutputSize)
	}
	return t
}

// Step trains on a single sample and returns the cross-entropy loss.
func (t *Trainer) Step(input, target []float64) (float64, error) {
	n := t.net
	if len(input) != n.InputSize || len(target) != n.OutputSize {
		return 0, fmt.Errorf("trainer: sample shape %d/%d, want %d/%d", len(input), len(target), n.InputSize, n.OutputSize)
	}

	// Forward pass, keeping hidden activations for backprop.
	hidden := make([]float64, n.HiddenSize)
	for j := 0; j < n.HiddenSize; j++ {
		sum := n.BiasH[j]
		for i := 0; i < n.InputSize; i++ {
			sum += input[i] * n.WeightsIH[i][j]
		}
		hidden[j] = relu(sum)
	}

	output := make([]float64, n.OutputSize)
	maxVal := math.Inf(-1)
	for k := 0; k < n.OutputSize; k++ {
		sum := n.BiasO[k]
		for j := 0; j < n.HiddenSize; j++ {
			sum += hidden[j] * n.WeightsHO[j][k]
		}
		output[k] = sum
		if sum > maxVal {
			maxVal = sum
		}
	}
	expSum := 0.0
	for k := range output {
		output[k] = math.Exp(output[k] - maxVal)
		expSum += output[k]
	}
	for k := range output {
		output[k] /= expSum
	}

	loss := 0.0
	for k := range output {
		if target[k] > 0 {
			loss -= target[k] * math.Log(output[k]+1e-10)
		}
	}

	// Backpropagation.
	outputGrad := make([]float64, n.OutputSize)
	for k := range outputGrad {
		outputGrad[k] = output[k] - target[k]
	}

	hiddenGrad := make([]float64, n.HiddenSize)
	for j := 0; j < n.HiddenSize; j++ {
		sum := 0.0
		for k := 0; k < n.OutputSize; k++ {
			sum += outputGrad[k] * n.WeightsHO[j][k]
		}
		hiddenGrad[j] = sum * reluDerivative(hidden[j])
	}

	for j := 0; j < n.HiddenSize; j++ {
		for k := 0; k < n.OutputSize; k++ {
			grad := outputGrad[k] * hidden[j]
			t.velocityHO[j][k] = t.momentum*t.velocityHO[j][k] - t.learnRate*grad
			n.WeightsHO[j][k] += t.velocityHO[j][k]
		}
	}
	for i := 0; i < n.InputSize; i++ {
		for j := 0; j < n.HiddenSize; j++ {
			grad := hiddenGrad[j] * input[i]
			t.velocityIH[i][j] = t.momentum*t.velocityIH[i][j] - t.learnRate*grad
			n.WeightsIH[i][j] += t.velocityIH[i][j]
		}
	}
	for k := 0; k < n.OutputSize; k++ {
		n.BiasO[k] -= t.learnRate * outputGrad[k]
	}
	for j := 0; j < n.HiddenSize; j++ {
		n.BiasH[j] -= t.learnRate * hiddenGrad[j]
	}

	return loss, nil
}

// Fit trains over the whole sample set for a bounded number of epochs,
// shuffling each epoch, and returns the mean loss of the final epoch. The
// epoch budget is the implicit timeout on a retrain job: there are no
// unbounded training runs.
func (t *Trainer) Fit(inputs, targets [][]float64, epochs int, rng *rand.Rand) (float64, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("trainer: no training samples")
	}
	if len(inputs) != len(targets) {
		return 0, fmt.Errorf("trainer: %d inputs but %d targets", len(inputs), len(targets))
	}
	if epochs <= 0 {
		return 0, fmt.Errorf("trainer: non-positive epoch budget %d", epochs)
	}

	lastLoss := 0.0
	for epoch := 0; epoch < epochs; epoch++ {
		totalLoss := 0.0
		for _, idx := range rng.Perm(len(inputs)) {
			loss, err := t.Step(inputs[idx], targets[idx])
			if err != nil {
				return 0, err
			}
			totalLoss += loss
		}
		lastLoss = totalLoss / float64(len(inputs))
	}
	return lastLoss, nil
}
