package multilevel

import "fmt"
import "log"

import "github.com/pkg/errors"
import "gonum.org/v1/gonum/mat"
import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/layer"
import "github.com/neurlang/levelnet/learning"
import "github.com/neurlang/levelnet/window"

// Trainer runs the mini-batch loop for one level.
type Trainer interface {

	// ReInit clears optimizer state so nothing leaks between levels.
	ReInit()

	// Train fits model and returns the best model found with its history.
	Train(xTrain *tensor.Dense, yTrain []int, xVal *tensor.Dense, yVal []int,
		model layer.Model, fn layer.Trainable, h learning.HyperParameters) (*learning.Result, error)
}

// Composer runs windowing, forward propagation and per-level training over a Registry.
type Composer struct {
	registry *Registry
	trainer  Trainer
	logger   *log.Logger
}

// Registry returns the level registry.
func (c *Composer) Registry() *Registry {
	return c.registry
}

// NumLevels returns the number of levels.
func (c *Composer) NumLevels() int {
	return c.registry.NumLevels()
}

// Windowing returns the ordered window start offsets level n cuts from x.
func (c *Composer) Windowing(n int, x *tensor.Dense) ([]int, error) {
	l, err := c.registry.lookup(n)
	if err != nil {
		return nil, err
	}
	return windows(n, l, x, "windowing")
}

func windows(n int, l *Level, x *tensor.Dense, op string) ([]int, error) {
	if x == nil {
		return nil, &GeometryError{Level: n, Op: op, Err: &window.DimensionError{Axis: "rank", Want: 4, Reason: "nil tensor"}}
	}
	if x.Dtype() != tensor.Float64 {
		return nil, &GeometryError{Level: n, Op: op, Err: &window.DimensionError{Axis: "dtype", Reason: "expected float64, got " + x.Dtype().String()}}
	}
	offsets, err := window.Check(x.Shape(), l.Dim, l.Stride)
	if err != nil {
		return nil, &GeometryError{Level: n, Op: op, Err: err}
	}
	if l.NumComponents > 0 && len(offsets) != l.NumComponents {
		return nil, &GeometryError{Level: n, Op: op, Err: &window.DimensionError{
			Axis: "width", Have: x.Shape()[window.WidthAxis], Want: l.Dim.Width, Stride: l.Stride,
			Reason: fmt.Sprintf("%d windows but %d declared", len(offsets), l.NumComponents)}}
	}
	return offsets, nil
}

// layerError tags a failure of a level's Layer with the level. Dimension
// problems become GeometryErrors.
func layerError(n int, op string, err error) error {
	var de *window.DimensionError
	if errors.As(err, &de) {
		return &GeometryError{Level: n, Op: op, Err: err}
	}
	return errors.Wrapf(err, "level %d: %s", n, op)
}

// ForwardLevel extracts the features of every window of x and joins them along
// the width axis in window order.
func (c *Composer) ForwardLevel(n int, x *tensor.Dense) (*tensor.Dense, error) {
	l, err := c.registry.lookup(n)
	if err != nil {
		return nil, err
	}
	offsets, err := windows(n, l, x, "forward")
	if err != nil {
		return nil, err
	}
	batch := x.Shape()[0]
	var parts = make([]*tensor.Dense, len(offsets))
	for i, start := range offsets {
		f, err := l.Layer.ExtractFeatures(window.Extract(x, l.Dim, start), l.Model)
		if err != nil {
			return nil, layerError(n, "extract features", err)
		}
		if fs := f.Shape(); len(fs) != 4 || fs[0] != batch {
			return nil, &GeometryError{Level: n, Op: "extract features", Err: &window.DimensionError{
				Axis: "rank", Have: len(fs), Want: 4, Stride: l.Stride,
				Reason: fmt.Sprintf("features shaped %v for a batch of %d", fs, batch)}}
		}
		parts[i] = f
	}
	out, err := window.Concat(window.WidthAxis, parts)
	if err != nil {
		return nil, &GeometryError{Level: n, Op: "concatenate features", Err: err}
	}
	return out, nil
}

// ProcessToLevel runs x through levels 0 .. n-1 and returns what level n sees.
// For n == 0 it returns x.
func (c *Composer) ProcessToLevel(n int, x *tensor.Dense) (*tensor.Dense, error) {
	if n < 0 || n >= c.NumLevels() {
		return nil, &ConfigError{Level: n, Reason: "index out of range"}
	}
	var err error
	for i := 0; i < n; i++ {
		if x, err = c.ForwardLevel(i, x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// PredictLevel returns the class probabilities of every window level n sees
// for x, stacked column-wise in window order: one row per sample and
// windows*classes columns.
func (c *Composer) PredictLevel(n int, x *tensor.Dense) (*mat.Dense, error) {
	probs, _, err := c.predict(n, x)
	return probs, err
}

func (c *Composer) predict(n int, x *tensor.Dense) (out *mat.Dense, count int, err error) {
	a, err := c.ProcessToLevel(n, x)
	if err != nil {
		return nil, 0, err
	}
	return c.probabilities(n, a)
}

// probabilities scores every window of a, the input level n sees.
func (c *Composer) probabilities(n int, a *tensor.Dense) (out *mat.Dense, count int, err error) {
	l, err := c.registry.lookup(n)
	if err != nil {
		return nil, 0, err
	}
	offsets, err := windows(n, l, a, "predict")
	if err != nil {
		return nil, 0, err
	}
	batch := a.Shape()[0]
	var classes int
	for i, start := range offsets {
		p, err := l.Layer.ClassProbabilities(window.Extract(a, l.Dim, start), l.Model)
		if err != nil {
			return nil, 0, layerError(n, "class probabilities", err)
		}
		r, k := p.Dims()
		if r != batch {
			return nil, 0, &GeometryError{Level: n, Op: "class probabilities", Err: &window.DimensionError{
				Axis: "batch", Have: r, Want: batch, Stride: l.Stride, Reason: "probability rows"}}
		}
		if k == 0 {
			return nil, 0, &GeometryError{Level: n, Op: "class probabilities", Err: &window.DimensionError{
				Axis: "class", Stride: l.Stride, Reason: "no classes"}}
		}
		if out == nil {
			classes = k
			out = mat.NewDense(batch, len(offsets)*classes, nil)
		} else if k != classes {
			return nil, 0, &GeometryError{Level: n, Op: "class probabilities", Err: &window.DimensionError{
				Axis: "class", Have: k, Want: classes, Stride: l.Stride,
				Reason: fmt.Sprintf("window %d reports a different class count", i)}}
		}
		out.Slice(0, batch, i*classes, (i+1)*classes).(*mat.Dense).Copy(p)
	}
	return out, len(offsets), nil
}

// Aggregate averages the per-window column blocks of probs into one
// batch x numClasses matrix.
func Aggregate(probs mat.Matrix, numClasses int) (*mat.Dense, error) {
	r, cols := probs.Dims()
	if numClasses <= 0 || cols%numClasses != 0 {
		return nil, &window.DimensionError{Axis: "class", Have: cols, Want: numClasses,
			Reason: "columns are not a whole number of class blocks"}
	}
	blocks := cols / numClasses
	var o = mat.NewDense(r, numClasses, nil)
	for i := 0; i < r; i++ {
		row := o.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j%numClasses] += probs.At(i, j)
		}
		for k := range row {
			row[k] /= float64(blocks)
		}
	}
	return o, nil
}

// Classify returns the most probable class of every sample at level n, with
// probabilities averaged over the level's windows.
func (c *Composer) Classify(n int, x *tensor.Dense) ([]int, error) {
	probs, count, err := c.predict(n, x)
	if err != nil {
		return nil, err
	}
	_, cols := probs.Dims()
	agg, err := Aggregate(probs, cols/count)
	if err != nil {
		return nil, &GeometryError{Level: n, Op: "aggregate", Err: err}
	}
	return learning.Argmax(agg), nil
}

// CheckLevelContinuity runs x through every level and reports whether the
// configured geometry is consistent end to end, including the even window
// coverage TrainLevel requires of trainable levels. The error says where it is not.
func (c *Composer) CheckLevelContinuity(x *tensor.Dense) (bool, error) {
	last := c.NumLevels() - 1
	for n := 0; ; n++ {
		l, err := c.registry.lookup(n)
		if err != nil {
			return false, err
		}
		if _, ok := l.Layer.(layer.Trainable); ok {
			if _, err := windows(n, l, x, "check continuity"); err != nil {
				return false, err
			}
			if err := coverage(n, l, x.Shape()); err != nil {
				return false, err
			}
		}
		if n == last {
			if _, _, err := c.probabilities(n, x); err != nil {
				return false, err
			}
			return true, nil
		}
		if x, err = c.ForwardLevel(n, x); err != nil {
			return false, err
		}
	}
}

// TrainLevel trains level n. The inputs are propagated through the lower
// levels, every window becomes a training sample carrying its sample's label,
// and the level's model is replaced by the best model the trainer found.
func (c *Composer) TrainLevel(n int, xTrain, xVal *tensor.Dense, yTrain, yVal []int) (*learning.Result, error) {
	l, err := c.registry.lookup(n)
	if err != nil {
		return nil, err
	}
	fn, ok := l.Layer.(layer.Trainable)
	if !ok {
		return nil, &ConfigError{Level: n, Reason: fmt.Sprintf("%T cannot be trained", l.Layer)}
	}
	if c.trainer == nil {
		return nil, &ConfigError{Level: n, Reason: "no trainer"}
	}

	levelTrain, err := c.ProcessToLevel(n, xTrain)
	if err != nil {
		return nil, err
	}
	levelVal, err := c.ProcessToLevel(n, xVal)
	if err != nil {
		return nil, err
	}
	flatTrain, tiledTrain, err := assemble(n, l, levelTrain, yTrain)
	if err != nil {
		return nil, err
	}
	flatVal, tiledVal, err := assemble(n, l, levelVal, yVal)
	if err != nil {
		return nil, err
	}

	c.logger.Printf("training level=%d", n)
	c.logger.Printf("training sizes train=%v/%d val=%v/%d", flatTrain.Shape(), len(tiledTrain), flatVal.Shape(), len(tiledVal))

	c.trainer.ReInit()
	res, err := c.trainer.Train(flatTrain, tiledTrain, flatVal, tiledVal, l.Model, fn, l.Learning)
	if err != nil {
		return nil, errors.Wrapf(err, "level %d: train", n)
	}
	if res == nil || res.BestModel == nil {
		return nil, errors.Errorf("level %d: trainer returned no model", n)
	}
	l.Model = res.BestModel
	return res, nil
}

// assemble concatenates the windows of x along the batch axis, window-major,
// and tiles y once per window in the same order.
func assemble(n int, l *Level, x *tensor.Dense, y []int) (*tensor.Dense, []int, error) {
	offsets, err := windows(n, l, x, "assemble training set")
	if err != nil {
		return nil, nil, err
	}
	shape := x.Shape()
	if len(y) != shape[0] {
		return nil, nil, errors.Wrapf(ErrLabelMismatch, "level %d: %d labels for %d samples", n, len(y), shape[0])
	}
	if err := coverage(n, l, shape); err != nil {
		return nil, nil, err
	}
	var parts = make([]*tensor.Dense, len(offsets))
	var tiled = make([]int, 0, len(offsets)*len(y))
	for i, start := range offsets {
		parts[i] = window.Extract(x, l.Dim, start)
		tiled = append(tiled, y...)
	}
	flat, err := window.Concat(window.BatchAxis, parts)
	if err != nil {
		return nil, nil, &GeometryError{Level: n, Op: "assemble training set", Err: err}
	}
	return flat, tiled, nil
}

// coverage requires the windows of level n to cover the width of an input
// shaped shape exactly, so every column reaches training. windows has
// validated the geometry.
func coverage(n int, l *Level, shape tensor.Shape) error {
	if (shape[window.WidthAxis]-l.Dim.Width)%l.Stride != 0 {
		return &GeometryError{Level: n, Op: "assemble training set", Err: &window.DimensionError{
			Axis: "width", Have: shape[window.WidthAxis], Want: l.Dim.Width, Stride: l.Stride,
			Reason: "windows do not cover the width evenly"}}
	}
	return nil
}
