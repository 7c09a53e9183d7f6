// Package maxpool2d implements a frozen level downsampling components by max pooling
package maxpool2d

import "math"

import "gonum.org/v1/gonum/mat"
import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/layer"
import "github.com/neurlang/levelnet/layer/identity"
import "github.com/neurlang/levelnet/window"

// MaxPool2D keeps the maximum of every subheight x subwidth block of each channel.
// It has no parameters and cannot be trained.
type MaxPool2D struct {
	subwidth, subheight int
}

// New creates a new MaxPool2D layer with the pooling block size
func New(subwidth, subheight int) (o *MaxPool2D, err error) {
	if subwidth <= 0 || subheight <= 0 {
		return nil, &window.DimensionError{Axis: "width", Have: subwidth, Want: subheight, Reason: "pooling block must be positive"}
	}
	return &MaxPool2D{subwidth: subwidth, subheight: subheight}, nil
}

// MustNew creates a new MaxPool2D layer with the pooling block size
func MustNew(subwidth, subheight int) *MaxPool2D {
	o, err := New(subwidth, subheight)
	if err != nil {
		panic(err.Error())
	}
	return o
}

// OutputDim returns the feature shape of a component of shape input.
func (p *MaxPool2D) OutputDim(input window.Dim) window.Dim {
	return window.Dim{Channels: input.Channels, Height: input.Height / p.subheight, Width: input.Width / p.subwidth}
}

// ExtractFeatures returns the pooled component. Rows and columns left over
// by a block size that does not divide the component are dropped.
func (p *MaxPool2D) ExtractFeatures(x *tensor.Dense, m layer.Model) (*tensor.Dense, error) {
	shape := x.Shape()
	if len(shape) != 4 {
		return nil, &window.DimensionError{Axis: "rank", Have: len(shape), Want: 4, Reason: "maxpool2d component"}
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	hp, wp := h/p.subheight, w/p.subwidth
	if hp == 0 || wp == 0 {
		return nil, &window.DimensionError{Axis: "width", Have: w, Want: p.subwidth,
			Reason: "component smaller than the pooling block"}
	}
	src := layer.Floats(x)
	var o = layer.Zeros(n, c, hp, wp)
	dst := layer.Floats(o)
	for plane := 0; plane < n*c; plane++ {
		in := src[plane*h*w : (plane+1)*h*w]
		out := dst[plane*hp*wp : (plane+1)*hp*wp]
		for y := 0; y < hp; y++ {
			for col := 0; col < wp; col++ {
				var max = math.Inf(-1)
				for dy := 0; dy < p.subheight; dy++ {
					row := in[(y*p.subheight+dy)*w+col*p.subwidth:]
					for dx := 0; dx < p.subwidth; dx++ {
						if row[dx] > max {
							max = row[dx]
						}
					}
				}
				out[y*wp+col] = max
			}
		}
	}
	return o, nil
}

// ClassProbabilities returns the softmax of the pooled channel means, one class per channel.
func (p *MaxPool2D) ClassProbabilities(x *tensor.Dense, m layer.Model) (*mat.Dense, error) {
	pooled, err := p.ExtractFeatures(x, m)
	if err != nil {
		return nil, err
	}
	return identity.Identity{}.ClassProbabilities(pooled, nil)
}
