// Package window implements the sliding window arithmetic used to carve a 4-D
// (batch, channel, height, width) tensor into fixed width components.
package window

import "fmt"

import "gorgonia.org/tensor"

// Width axis of a (batch, channel, height, width) tensor.
const WidthAxis = 3

// Batch axis of a (batch, channel, height, width) tensor.
const BatchAxis = 0

// Dim is the shape of one component: channels, height and width.
type Dim struct {
	Channels int `json:"channels"`
	Height   int `json:"height"`
	Width    int `json:"width"`
}

func (d Dim) String() string {
	return fmt.Sprintf("(%d,%d,%d)", d.Channels, d.Height, d.Width)
}

// DimensionError reports a component geometry that does not fit an input tensor.
type DimensionError struct {
	Axis   string
	Have   int // input size on Axis
	Want   int // component size on Axis
	Stride int
	Reason string
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("incompatible geometry on %s axis: input %d, component %d, stride %d: %s",
		e.Axis, e.Have, e.Want, e.Stride, e.Reason)
}

// Count returns floor((width - w) / stride) + 1, or 0 when w exceeds width.
func Count(width, w, stride int) int {
	if stride <= 0 || w <= 0 || w > width {
		return 0
	}
	return (width-w)/stride + 1
}

// Offsets returns the window start offsets along the width axis in order.
func Offsets(width, w, stride int) []int {
	var o = make([]int, 0, Count(width, w, stride))
	if stride <= 0 || w <= 0 {
		return o
	}
	for start := 0; start+w <= width; start += stride {
		o = append(o, start)
	}
	return o
}

// Check validates that components of shape d with the given stride can be cut
// from a tensor of shape (n, c, h, w) and returns the window offsets.
func Check(shape tensor.Shape, d Dim, stride int) (offsets []int, err error) {
	if len(shape) != 4 {
		return nil, &DimensionError{Axis: "rank", Have: len(shape), Want: 4, Stride: stride,
			Reason: "tensor must be (batch, channel, height, width)"}
	}
	if shape[0] <= 0 {
		return nil, &DimensionError{Axis: "batch", Have: shape[0], Want: 1, Stride: stride,
			Reason: "empty batch"}
	}
	if stride <= 0 {
		return nil, &DimensionError{Axis: "width", Have: shape[3], Want: d.Width, Stride: stride,
			Reason: "stride must be positive"}
	}
	if d.Channels <= 0 || d.Channels > shape[1] {
		return nil, &DimensionError{Axis: "channel", Have: shape[1], Want: d.Channels, Stride: stride,
			Reason: "component channels out of range"}
	}
	if d.Height <= 0 || d.Height > shape[2] {
		return nil, &DimensionError{Axis: "height", Have: shape[2], Want: d.Height, Stride: stride,
			Reason: "component height out of range"}
	}
	offsets = Offsets(shape[3], d.Width, stride)
	if len(offsets) == 0 {
		return nil, &DimensionError{Axis: "width", Have: shape[3], Want: d.Width, Stride: stride,
			Reason: "zero windows"}
	}
	return offsets, nil
}

// Extract copies x[:, :d.Channels, :d.Height, start:start+d.Width] into a new
// 4-D tensor. The caller has validated the geometry with Check.
func Extract(x *tensor.Dense, d Dim, start int) *tensor.Dense {
	shape := x.Shape()
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	src := x.Data().([]float64)
	dst := make([]float64, n*d.Channels*d.Height*d.Width)
	var o int
	for b := 0; b < n; b++ {
		for ch := 0; ch < d.Channels; ch++ {
			for y := 0; y < d.Height; y++ {
				row := ((b*c+ch)*h + y) * w
				o += copy(dst[o:o+d.Width], src[row+start:row+start+d.Width])
			}
		}
	}
	return tensor.New(tensor.WithShape(n, d.Channels, d.Height, d.Width), tensor.WithBacking(dst))
}

// Split cuts x into the ordered components described by d and stride.
func Split(x *tensor.Dense, d Dim, stride int) (parts []*tensor.Dense, err error) {
	offsets, err := Check(x.Shape(), d, stride)
	if err != nil {
		return nil, err
	}
	parts = make([]*tensor.Dense, len(offsets))
	for i, start := range offsets {
		parts[i] = Extract(x, d, start)
	}
	return parts, nil
}

// AxisName names an axis of a (batch, channel, height, width) tensor.
func AxisName(axis int) string {
	switch axis {
	case 0:
		return "batch"
	case 1:
		return "channel"
	case 2:
		return "height"
	case 3:
		return "width"
	}
	return fmt.Sprintf("axis %d", axis)
}

// Concat joins parts along axis, preserving their order.
func Concat(axis int, parts []*tensor.Dense) (*tensor.Dense, error) {
	if len(parts) == 0 {
		return nil, &DimensionError{Axis: AxisName(axis), Reason: "nothing to concatenate"}
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts[0].Concat(axis, parts[1:]...)
}
