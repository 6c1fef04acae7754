// Package policy implements the trainable decision policy and its versioned
// on-disk snapshot format.
package policy

import (
	"fmt"
	"math"
	"math/rand"
)

// Network is a small feed-forward classifier: one ReLU hidden layer and a
// softmax output over the two labels. All parameters serialize to JSON so a
// snapshot is a single self-describing artifact.
type Network struct {
	InputSize  int `json:"input_size"`
	HiddenSize int `json:"hidden_size"`
	OutputSize int `json:"output_size"`

	WeightsIH [][]float64 `json:"weights_ih"`
	WeightsHO [][]float64 `json:"weights_ho"`
	BiasH     []float64   `json:"bias_h"`
	BiasO     []float64   `json:"bias_o"`
}

// NewNetwork creates a network with Xavier-initialized weights.
func NewNetwork(inputSize, hiddenSize, outputSize int, rng *rand.Rand) *Network {
	n := &Network{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		OutputSize: outputSize,
	}

	scaleIH := math.Sqrt(2.0 / float64(inputSize+hiddenSize))
	scaleHO := math.Sqrt(2.0 / float64(hiddenSize+outputSize))

	n.WeightsIH = make([][]float64, inputSize)
	for i := range n.WeightsIH {
		n.WeightsIH[i] = make([]float64, hiddenSize)
		for j := range n.WeightsIH[i] {
			n.WeightsIH[i][j] = (rng.Float64()*2 - 1) * scaleIH
		}
	}
	n.BiasH = make([]float64, hiddenSize)

	n.WeightsHO = make([][]float64, hiddenSize)
	for j := range n.WeightsHO {
		n.WeightsHO[j] = make([]float64, outputSize)
		for k := range n.WeightsHO[j] {
			n.WeightsHO[j][k] = (rng.Float64()*2 - 1) * scaleHO
		}
	}
	n.BiasO = make([]float64, outputSize)

	return n
}

// Clone deep-copies the network so training never mutates a published
// snapshot.
func (n *Network) Clone() *Network {
	c := &Network{
		InputSize:  n.InputSize,
		HiddenSize: n.HiddenSize,
		OutputSize: n.OutputSize,
		WeightsIH:  make([][]float64, len(n.WeightsIH)),
		WeightsHO:  make([][]float64, len(n.WeightsHO)),
		BiasH:      append([]float64(nil), n.BiasH...),
		BiasO:      append([]float64(nil), n.BiasO...),
	}
	for i, row := range n.WeightsIH {
		c.WeightsIH[i] = append([]float64(nil), row...)
	}
	for j, row := range n.WeightsHO {
		c.WeightsHO[j] = append([]float64(nil), row...)
	}
	return c
}

// Validate checks that the stored shapes are internally consistent. Used on
// snapshot load so a corrupt artifact is rejected instead of served.
func (n *Network) Validate() error {
	if n.InputSize <= 0 || n.HiddenSize <= 0 || n.OutputSize <= 0 {
		return fmt.Errorf("network: non-positive layer size %d/%d/%d", n.InputSize, n.HiddenSize, n.OutputSize)
	}
	if len(n.WeightsIH) != n.InputSize {
		return fmt.Errorf("network: weights_ih rows %d != input size %d", len(n.WeightsIH), n.InputSize)
	}
	for i, row := range n.WeightsIH {
		if len(row) != n.HiddenSize {
			return fmt.Errorf("network: weights_ih row %d has %d cols, want %d", i, len(row), n.HiddenSize)
		}
	}
	if len(n.WeightsHO) != n.HiddenSize {
		return fmt.Errorf("network: weights_ho rows %d != hidden size %d", len(n.WeightsHO), n.HiddenSize)
	}
	for j, row := range n.WeightsHO {
		if len(row) != n.OutputSize {
			return fmt.Errorf("network: weights_ho row %d has %d cols, want %d", j, len(row), n.OutputSize)
		}
	}
	if len(n.BiasH) != n.HiddenSize || len(n.BiasO) != n.OutputSize {
		return fmt.Errorf("network: bias lengths %d/%d, want %d/%d", len(n.BiasH), len(n.BiasO), n.HiddenSize, n.OutputSize)
	}
	return nil
}

// Forward runs a forward pass and returns softmax probabilities per label.
func (n *Network) Forward(input []float64) ([]float64, error) {
	if len(input) != n.InputSize {
		return nil, fmt.Errorf("network: input length %d, want %d", len(input), n.InputSize)
	}

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

	// Subtract max for numerical stability.
	expSum := 0.0
	for k := range output {
		output[k] = math.Exp(output[k] - maxVal)
		expSum += output[k]
	}
	for k := range output {
		output[k] /= expSum
	}

	return output, nil
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func reluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}
