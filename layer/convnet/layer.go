// Package convnet implements a convolutional level: a same-padded convolution,
// ReLU and 2x2 max-pooling produce the features, an affine softmax head produces
// the class probabilities.
package convnet

import "math/rand"

import "github.com/pkg/errors"
import "gonum.org/v1/gonum/mat"
import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/layer"
import "github.com/neurlang/levelnet/window"

// ConvNet is the convolutional level. It is stateless, the geometry is read
// from the model parameters.
type ConvNet struct {
	// Threads bounds the goroutines used across the batch, zero means parallel.Threads().
	Threads int
}

// New creates a convolutional layer
func New() *ConvNet {
	return &ConvNet{}
}

// OutputDim reports the feature shape produced for a component of shape input.
func OutputDim(input window.Dim, numFilters int) window.Dim {
	return window.Dim{Channels: numFilters, Height: input.Height / 2, Width: input.Width / 2}
}

// MustInit is Init which panics on error
func MustInit(input window.Dim, numClasses, filterSize, numFilters int, weightScale float64, seed int64) layer.Model {
	m, err := Init(input, numClasses, filterSize, numFilters, weightScale, seed)
	if err != nil {
		panic(err.Error())
	}
	return m
}

// Init creates the initial model for components of shape input. Weights are
// drawn from a normal distribution scaled by weightScale, biases are zero.
func Init(input window.Dim, numClasses, filterSize, numFilters int, weightScale float64, seed int64) (m layer.Model, err error) {
	if filterSize <= 0 || filterSize%2 == 0 {
		return nil, errors.Errorf("Init ConvNet: filter size %d must be odd and positive", filterSize)
	}
	if input.Channels <= 0 || input.Height < 2 || input.Width < 2 {
		return nil, errors.Errorf("Init ConvNet: input %v is too small to pool", input)
	}
	if numClasses < 2 {
		return nil, errors.Errorf("Init ConvNet: need at least 2 classes, got %d", numClasses)
	}
	if numFilters <= 0 {
		return nil, errors.Errorf("Init ConvNet: need at least 1 filter, got %d", numFilters)
	}
	out := OutputDim(input, numFilters)
	rng := rand.New(rand.NewSource(seed))
	m = layer.Model{
		"W1": layer.Zeros(numFilters, input.Channels, filterSize, filterSize),
		"b1": layer.Zeros(numFilters),
		"W2": layer.Zeros(out.Channels*out.Height*out.Width, numClasses),
		"b2": layer.Zeros(numClasses),
	}
	for _, name := range []string{"W1", "W2"} {
		for i, w := 0, layer.Floats(m[name]); i < len(w); i++ {
			w[i] = rng.NormFloat64() * weightScale
		}
	}
	return m, nil
}

// ExtractFeatures returns the pooled activations, shaped (batch, filters, height/2, width/2).
func (c *ConvNet) ExtractFeatures(x *tensor.Dense, m layer.Model) (*tensor.Dense, error) {
	g, err := geometryOf(x, m)
	if err != nil {
		return nil, err
	}
	p := c.forward(g, x, m, false)
	return tensor.New(tensor.WithShape(g.n, g.f, g.hp, g.wp), tensor.WithBacking(p.pooled)), nil
}

// ClassProbabilities returns the softmax of the head scores.
func (c *ConvNet) ClassProbabilities(x *tensor.Dense, m layer.Model) (*mat.Dense, error) {
	g, err := geometryOf(x, m)
	if err != nil {
		return nil, err
	}
	p := c.forward(g, x, m, false)
	scores := g.head(p.pooled, m)
	softmaxRows(scores)
	return scores, nil
}

// Loss computes the softmax cross entropy with L2 regularization and the
// gradients of every parameter.
func (c *ConvNet) Loss(x *tensor.Dense, y []int, m layer.Model, reg, keep float64, rng *rand.Rand) (loss float64, grads layer.Model, err error) {
	g, err := geometryOf(x, m)
	if err != nil {
		return 0, nil, err
	}
	if len(y) != g.n {
		return 0, nil, errors.Errorf("ConvNet Loss: %d labels for %d samples", len(y), g.n)
	}
	for i, v := range y {
		if v < 0 || v >= g.classes {
			return 0, nil, errors.Errorf("ConvNet Loss: label %d at %d is outside [0, %d)", v, i, g.classes)
		}
	}
	if keep <= 0 || keep > 1 {
		keep = 1
	}

	p := c.forward(g, x, m, true)

	feat := p.pooled
	var mask []float64
	if keep < 1 {
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		mask = make([]float64, len(feat))
		feat = make([]float64, len(p.pooled))
		for i := range mask {
			if rng.Float64() < keep {
				mask[i] = 1 / keep
			}
			feat[i] = p.pooled[i] * mask[i]
		}
	}

	scores := g.head(feat, m)
	loss, dscores := softmaxLoss(scores, y)

	grads = layer.Model{
		"W1": layer.Zeros(g.f, g.c, g.k, g.k),
		"b1": layer.Zeros(g.f),
		"W2": layer.Zeros(g.d, g.classes),
		"b2": layer.Zeros(g.classes),
	}

	featm := mat.NewDense(g.n, g.d, feat)
	w2 := mat.NewDense(g.d, g.classes, layer.Floats(m["W2"]))
	mat.NewDense(g.d, g.classes, layer.Floats(grads["W2"])).Mul(featm.T(), dscores)
	db2 := layer.Floats(grads["b2"])
	for i := 0; i < g.n; i++ {
		for j, v := range dscores.RawRowView(i) {
			db2[j] += v
		}
	}

	dfeat := make([]float64, g.n*g.d)
	mat.NewDense(g.n, g.d, dfeat).Mul(dscores, w2.T())
	if mask != nil {
		for i := range dfeat {
			dfeat[i] *= mask[i]
		}
	}

	c.backward(g, x, p, dfeat, grads)

	if reg != 0 {
		for _, name := range []string{"W1", "W2"} {
			w, dw := layer.Floats(m[name]), layer.Floats(grads[name])
			var sq float64
			for i, v := range w {
				sq += v * v
				dw[i] += reg * v
			}
			loss += 0.5 * reg * sq
		}
	}
	return loss, grads, nil
}
