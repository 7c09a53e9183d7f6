// Package identity implements a feature extractor which passes components through unchanged
package identity

import "math"

import "gonum.org/v1/gonum/mat"
import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/layer"

// Identity returns components as features. Its class probabilities are the
// softmax over per-channel means, so a level with C channels reports C classes.
type Identity struct{}

// New creates an identity layer
func New() layer.Layer {
	return Identity{}
}

// ExtractFeatures returns a copy of the component.
func (Identity) ExtractFeatures(x *tensor.Dense, m layer.Model) (*tensor.Dense, error) {
	var o = layer.Zeros(x.Shape()...)
	copy(layer.Floats(o), layer.Floats(x))
	return o, nil
}

// ClassProbabilities returns the softmax of channel means per batch element.
func (Identity) ClassProbabilities(x *tensor.Dense, m layer.Model) (*mat.Dense, error) {
	shape := x.Shape()
	n, c := shape[0], shape[1]
	plane := shape[2] * shape[3]
	data := layer.Floats(x)
	var o = mat.NewDense(n, c, nil)
	for b := 0; b < n; b++ {
		row := o.RawRowView(b)
		var max = math.Inf(-1)
		for ch := 0; ch < c; ch++ {
			var sum float64
			for _, v := range data[(b*c+ch)*plane : (b*c+ch+1)*plane] {
				sum += v
			}
			row[ch] = sum / float64(plane)
			if row[ch] > max {
				max = row[ch]
			}
		}
		var z float64
		for ch := range row {
			row[ch] = math.Exp(row[ch] - max)
			z += row[ch]
		}
		for ch := range row {
			row[ch] /= z
		}
	}
	return o, nil
}
