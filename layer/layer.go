// Package layer defines the capability every level of a multi-level network
// implements, and the parameter bundle it operates on.
package layer

import "math/rand"

import "gonum.org/v1/gonum/mat"
import "gorgonia.org/tensor"

// Layer is the forward capability of one level. Both methods take a 4-D
// (batch, channel, height, width) component and must be deterministic for a
// fixed model.
type Layer interface {

	// ExtractFeatures returns the feature tensor the next level consumes.
	ExtractFeatures(component *tensor.Dense, m Model) (*tensor.Dense, error)

	// ClassProbabilities returns a batch x classes probability matrix.
	ClassProbabilities(component *tensor.Dense, m Model) (*mat.Dense, error)
}

// Trainable is a Layer which can report its loss and parameter gradients.
type Trainable interface {
	Layer

	// Loss returns the regularized data loss on component with labels y and
	// gradients keyed like m. keep is the dropout keep probability; rng drives
	// the dropout mask.
	Loss(component *tensor.Dense, y []int, m Model, reg, keep float64, rng *rand.Rand) (loss float64, grads Model, err error)
}
