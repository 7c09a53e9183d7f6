// Package datasets implements the labelled tensor sets a network is trained on
package datasets

import "math/rand"

import "github.com/pkg/errors"
import "gorgonia.org/tensor"

// Split is a batch of (batch, channel, height, width) samples and one label per sample.
type Split struct {
	X *tensor.Dense
	Y []int
}

// Len returns the number of samples.
func (s Split) Len() int {
	return len(s.Y)
}

// Validate checks that X is 4-D float64 and carries one label per sample.
func (s Split) Validate() error {
	if s.X == nil {
		return errors.New("datasets: nil tensor")
	}
	if s.X.Dtype() != tensor.Float64 {
		return errors.Errorf("datasets: dtype %v, expected float64", s.X.Dtype())
	}
	shape := s.X.Shape()
	if len(shape) != 4 {
		return errors.Errorf("datasets: shape %v is not (batch, channel, height, width)", shape)
	}
	if shape[0] != len(s.Y) {
		return errors.Errorf("datasets: %d samples but %d labels", shape[0], len(s.Y))
	}
	return nil
}

// Take returns the samples at idx, in that order, as a new Split.
func (s Split) Take(idx []int) Split {
	shape := s.X.Shape().Clone()
	size := shape[1] * shape[2] * shape[3]
	src := s.X.Data().([]float64)
	var dst = make([]float64, len(idx)*size)
	var y = make([]int, len(idx))
	for i, j := range idx {
		copy(dst[i*size:(i+1)*size], src[j*size:(j+1)*size])
		y[i] = s.Y[j]
	}
	shape[0] = len(idx)
	return Split{X: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(dst)), Y: y}
}

// Shuffle returns a seeded permutation of s.
func (s Split) Shuffle(seed int64) Split {
	return s.Take(rand.New(rand.NewSource(seed)).Perm(s.Len()))
}

// Partition splits s into the first n samples and the rest.
func (s Split) Partition(n int) (head, tail Split) {
	if n > s.Len() {
		n = s.Len()
	}
	var a, b = make([]int, n), make([]int, s.Len()-n)
	for i := range a {
		a[i] = i
	}
	for i := range b {
		b[i] = n + i
	}
	return s.Take(a), s.Take(b)
}

// Counts returns how many samples carry each of numClasses labels. Labels out of range are ignored.
func (s Split) Counts(numClasses int) []int {
	var o = make([]int, numClasses)
	for _, y := range s.Y {
		if y >= 0 && y < numClasses {
			o[y]++
		}
	}
	return o
}
