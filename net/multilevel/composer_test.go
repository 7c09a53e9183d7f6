package multilevel

import "io"
import "log"
import "math"
import "math/rand"
import "testing"

import "github.com/pkg/errors"
import "gonum.org/v1/gonum/mat"
import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/layer"
import "github.com/neurlang/levelnet/layer/convnet"
import "github.com/neurlang/levelnet/layer/identity"
import "github.com/neurlang/levelnet/learning"
import "github.com/neurlang/levelnet/window"

var discard = log.New(io.Discard, "", 0)

func random(seed int64, n, c, h, w int) *tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	var data = make([]float64, n*c*h*w)
	for i := range data {
		data[i] = rng.Float64()
	}
	return tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(data))
}

func equal(t *testing.T, a, b *tensor.Dense) {
	t.Helper()
	if !a.Shape().Eq(b.Shape()) {
		t.Fatalf("shape %v, expected %v", a.Shape(), b.Shape())
	}
	x, y := layer.Floats(a), layer.Floats(b)
	for i := range x {
		if x[i] != y[i] {
			t.Fatalf("element %d is %v, expected %v", i, x[i], y[i])
		}
	}
}

func single(t *testing.T, dim window.Dim, numComponents, stride int) *Composer {
	t.Helper()
	c, err := NewBuilder(1).
		SetLevelParameters(0, identity.New(), nil, dim, numComponents, stride).
		Logger(discard).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

// twoLevels is a convnet over 8x8 windows feeding a convnet over 4x4 feature windows.
func twoLevels(t *testing.T, tr Trainer) *Composer {
	t.Helper()
	d0 := window.Dim{Channels: 1, Height: 8, Width: 8}
	d1 := convnet.OutputDim(d0, 2)
	b := NewBuilder(2).
		SetLevelParameters(0, convnet.New(), convnet.MustInit(d0, 3, 3, 2, 0.2, 1), d0, 3, 8).
		SetLevelParameters(1, convnet.New(), convnet.MustInit(d1, 2, 3, 2, 0.2, 2), d1, 3, 4).
		Logger(discard)
	if tr != nil {
		b.Trainer(tr)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func TestWindowCount(t *testing.T) {
	x := random(1, 2, 1, 4, 560)
	c := single(t, window.Dim{Channels: 1, Height: 4, Width: 112}, 0, 112)
	o, err := c.Windowing(0, x)
	if err != nil {
		t.Fatalf("Windowing: %v", err)
	}
	if len(o) != 5 {
		t.Fatalf("expected 5 windows, got %d", len(o))
	}
	c.Registry().SetLevelParameters(0, identity.New(), nil, window.Dim{Channels: 1, Height: 4, Width: 112}, 0, 56)
	if o, _ = c.Windowing(0, x); len(o) != 9 {
		t.Fatalf("expected 9 windows, got %d", len(o))
	}
	f, err := c.ForwardLevel(0, x)
	if err != nil {
		t.Fatalf("ForwardLevel: %v", err)
	}
	if w := f.Shape()[3]; w != 9*112 {
		t.Fatalf("forward width %d, expected %d", w, 9*112)
	}
}

func TestWindowWiderThanInput(t *testing.T) {
	x := random(1, 4, 1, 64, 112)
	c := single(t, window.Dim{Channels: 1, Height: 64, Width: 120}, 0, 112)
	out, err := c.ForwardLevel(0, x)
	if out != nil {
		t.Fatalf("expected no tensor, got %v", out.Shape())
	}
	var ge *GeometryError
	if !errors.As(err, &ge) || ge.Level != 0 {
		t.Fatalf("expected GeometryError for level 0, got %v", err)
	}
	var de *window.DimensionError
	if !errors.As(err, &de) || de.Have != 112 || de.Want != 120 {
		t.Fatalf("expected DimensionError 112 vs 120, got %v", err)
	}
	if _, err := c.PredictLevel(0, x); !errors.As(err, &ge) {
		t.Fatalf("PredictLevel: expected GeometryError, got %v", err)
	}
}

func TestProcessToLevelZeroIsIdentity(t *testing.T) {
	x := random(2, 3, 1, 8, 24)
	c := twoLevels(t, nil)
	y, err := c.ProcessToLevel(0, x)
	if err != nil {
		t.Fatalf("ProcessToLevel: %v", err)
	}
	if y != x {
		t.Fatalf("ProcessToLevel(0) did not return its input")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	x := random(3, 2, 3, 5, 7)
	c := single(t, window.Dim{Channels: 3, Height: 5, Width: 7}, 1, 7)
	y, err := c.ForwardLevel(0, x)
	if err != nil {
		t.Fatalf("ForwardLevel: %v", err)
	}
	equal(t, y, x)
}

func TestForwardLevelPreservesOrder(t *testing.T) {
	x := random(4, 2, 1, 3, 12)
	dim := window.Dim{Channels: 1, Height: 3, Width: 4}

	c := single(t, dim, 0, 4)
	y, err := c.ForwardLevel(0, x)
	if err != nil {
		t.Fatalf("ForwardLevel: %v", err)
	}
	equal(t, y, x)

	c = single(t, dim, 0, 2)
	y, err = c.ForwardLevel(0, x)
	if err != nil {
		t.Fatalf("ForwardLevel: %v", err)
	}
	var parts []*tensor.Dense
	for _, start := range window.Offsets(12, 4, 2) {
		parts = append(parts, window.Extract(x, dim, start))
	}
	joined, err := window.Concat(window.WidthAxis, parts)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	equal(t, y, joined)
}

func TestSingleWindowScenario(t *testing.T) {
	x := random(5, 4, 1, 64, 112)
	d0 := window.Dim{Channels: 1, Height: 64, Width: 112}
	d1 := convnet.OutputDim(d0, 2)
	c, err := NewBuilder(2).
		SetLevelParameters(0, convnet.New(), convnet.MustInit(d0, 10, 3, 2, 0.01, 1), d0, 1, 112).
		SetLevelParameters(1, identity.New(), nil, d1, 1, d1.Width).
		Logger(discard).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if o, err := c.Windowing(0, x); err != nil || len(o) != 1 {
		t.Fatalf("expected exactly one window, got %v %v", o, err)
	}
	f, err := c.ForwardLevel(0, x)
	if err != nil {
		t.Fatalf("ForwardLevel: %v", err)
	}
	if !f.Shape().Eq(tensor.Shape{4, 2, 32, 56}) {
		t.Fatalf("unexpected feature shape %v", f.Shape())
	}
	p, err := c.ProcessToLevel(1, x)
	if err != nil {
		t.Fatalf("ProcessToLevel: %v", err)
	}
	equal(t, p, f)
	if ok, err := c.CheckLevelContinuity(x); !ok {
		t.Fatalf("continuity: %v", err)
	}
}

func TestPredictLevelColumns(t *testing.T) {
	x := random(6, 5, 3, 2, 12)
	c := single(t, window.Dim{Channels: 3, Height: 2, Width: 4}, 3, 4)
	probs, err := c.PredictLevel(0, x)
	if err != nil {
		t.Fatalf("PredictLevel: %v", err)
	}
	r, cols := probs.Dims()
	if r != 5 || cols != 9 {
		t.Fatalf("expected 5x9 probabilities, got %dx%d", r, cols)
	}
	for k, start := range []int{0, 4, 8} {
		block, _ := identity.New().ClassProbabilities(window.Extract(x, window.Dim{Channels: 3, Height: 2, Width: 4}, start), nil)
		for i := 0; i < r; i++ {
			for j := 0; j < 3; j++ {
				if probs.At(i, k*3+j) != block.At(i, j) {
					t.Fatalf("block %d row %d column %d out of order", k, i, j)
				}
			}
		}
	}
	agg, err := Aggregate(probs, 3)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	for i := 0; i < r; i++ {
		var sum float64
		for _, v := range agg.RawRowView(i) {
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("aggregated row %d sums to %v", i, sum)
		}
	}
	if _, err := Aggregate(probs, 4); err == nil {
		t.Fatalf("expected error aggregating 9 columns into blocks of 4")
	}
	labels, err := c.Classify(0, x)
	if err != nil || len(labels) != 5 {
		t.Fatalf("Classify: %v %v", labels, err)
	}
}

func TestCheckLevelContinuity(t *testing.T) {
	x := random(7, 3, 1, 8, 24)
	c := twoLevels(t, nil)
	if ok, err := c.CheckLevelContinuity(x); !ok || err != nil {
		t.Fatalf("expected a continuous stack, got %v %v", ok, err)
	}

	// level 0 produces 2 channels, ask level 1 for 3
	d1 := window.Dim{Channels: 3, Height: 4, Width: 4}
	c.Registry().SetLevelParameters(1, convnet.New(), convnet.MustInit(d1, 2, 3, 2, 0.2, 2), d1, 0, 4)
	ok, err := c.CheckLevelContinuity(x)
	if ok {
		t.Fatalf("expected a broken stack")
	}
	var ge *GeometryError
	if !errors.As(err, &ge) || ge.Level != 1 {
		t.Fatalf("expected GeometryError at level 1, got %v", err)
	}
}

func TestContinuityRejectsWrongHeadSize(t *testing.T) {
	x := random(7, 3, 1, 8, 24)
	c := twoLevels(t, nil)
	// geometry fits, the model was initialised for wider components
	d1 := window.Dim{Channels: 2, Height: 4, Width: 4}
	c.Registry().SetLevelParameters(1, convnet.New(), convnet.MustInit(window.Dim{Channels: 2, Height: 4, Width: 8}, 2, 3, 2, 0.2, 2), d1, 0, 4)
	ok, err := c.CheckLevelContinuity(x)
	var ge *GeometryError
	if ok || !errors.As(err, &ge) || ge.Level != 1 {
		t.Fatalf("expected GeometryError at level 1, got %v %v", ok, err)
	}
}

func TestDeclaredComponentCount(t *testing.T) {
	x := random(8, 1, 1, 2, 12)
	c := single(t, window.Dim{Channels: 1, Height: 2, Width: 4}, 2, 4)
	_, err := c.ForwardLevel(0, x)
	var ge *GeometryError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GeometryError for 3 windows declared as 2, got %v", err)
	}
}

type fakeTrainer struct {
	reinits int
	x, xv   *tensor.Dense
	y, yv   []int
}

func (f *fakeTrainer) ReInit() {
	f.reinits++
}

func (f *fakeTrainer) Train(x *tensor.Dense, y []int, xv *tensor.Dense, yv []int,
	m layer.Model, fn layer.Trainable, h learning.HyperParameters) (*learning.Result, error) {
	f.x, f.y, f.xv, f.yv = x, y, xv, yv
	best := m.Clone()
	for _, name := range best.Params() {
		layer.Floats(best[name])[0] += 1
	}
	return &learning.Result{BestModel: best}, nil
}

func TestTrainLevelAssemblesWindows(t *testing.T) {
	ft := &fakeTrainer{}
	c := twoLevels(t, ft)
	x, xv := random(9, 3, 1, 8, 24), random(10, 2, 1, 8, 24)
	y, yv := []int{0, 1, 1}, []int{1, 0}

	before0 := c.Registry().Level(0).Model.Clone()
	model0 := c.Registry().Level(0).Model
	before1 := c.Registry().Level(1).Model

	if _, err := c.TrainLevel(1, x, xv, y, yv); err != nil {
		t.Fatalf("TrainLevel: %v", err)
	}
	if ft.reinits != 1 {
		t.Fatalf("expected one ReInit, got %d", ft.reinits)
	}
	if !ft.x.Shape().Eq(tensor.Shape{9, 2, 4, 4}) || !ft.xv.Shape().Eq(tensor.Shape{6, 2, 4, 4}) {
		t.Fatalf("unexpected training shapes %v %v", ft.x.Shape(), ft.xv.Shape())
	}
	want := []int{0, 1, 1, 0, 1, 1, 0, 1, 1}
	for i := range want {
		if ft.y[i] != want[i] {
			t.Fatalf("labels %v, expected %v", ft.y, want)
		}
	}
	if len(ft.yv) != 6 {
		t.Fatalf("expected 6 validation labels, got %d", len(ft.yv))
	}

	// the flattened set is the windows of the level 1 input, window-major
	in1, err := c.ProcessToLevel(1, x)
	if err != nil {
		t.Fatalf("ProcessToLevel: %v", err)
	}
	first := window.Extract(in1, c.Registry().Level(1).Dim, 4)
	got := layer.Floats(ft.x)[3*2*4*4 : 6*2*4*4]
	for i, v := range layer.Floats(first) {
		if got[i] != v {
			t.Fatalf("second window block differs at %d", i)
		}
	}

	if m := c.Registry().Level(0).Model; m["W1"] != model0["W1"] {
		t.Fatalf("level 0 model was replaced")
	}
	for _, name := range before0.Params() {
		a, b := layer.Floats(before0[name]), layer.Floats(c.Registry().Level(0).Model[name])
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("level 0 %s changed", name)
			}
		}
	}
	after1 := c.Registry().Level(1).Model
	if layer.Floats(after1["W2"])[0] != layer.Floats(before1["W2"])[0]+1 {
		t.Fatalf("level 1 model was not replaced by the best model")
	}
}

func TestTrainLevelLabelMismatch(t *testing.T) {
	c := twoLevels(t, &fakeTrainer{})
	x := random(9, 3, 1, 8, 24)
	_, err := c.TrainLevel(0, x, x, []int{0, 1}, []int{0, 1, 1})
	if !errors.Is(err, ErrLabelMismatch) {
		t.Fatalf("expected ErrLabelMismatch, got %v", err)
	}
}

func TestTrainLevelUnevenSplit(t *testing.T) {
	ft := &fakeTrainer{}
	c, err := NewBuilder(1).
		SetLevelParameters(0, convnet.New(), convnet.MustInit(window.Dim{Channels: 1, Height: 4, Width: 4}, 2, 3, 2, 0.2, 1),
			window.Dim{Channels: 1, Height: 4, Width: 4}, 0, 3).
		Trainer(ft).
		Logger(discard).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	x := random(9, 2, 1, 4, 9) // offsets 0, 3 leave column 8 uncovered
	_, err = c.TrainLevel(0, x, x, []int{0, 1}, []int{0, 1})
	var ge *GeometryError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GeometryError, got %v", err)
	}
	if ft.reinits != 0 {
		t.Fatalf("trainer touched before geometry was validated")
	}
}

func TestTrainLevelNeedsTrainableLayer(t *testing.T) {
	c := single(t, window.Dim{Channels: 1, Height: 2, Width: 4}, 0, 4)
	x := random(1, 1, 1, 2, 4)
	_, err := c.TrainLevel(0, x, x, []int{0}, []int{0})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestTrainLevelWithTrainer(t *testing.T) {
	c := twoLevels(t, nil)
	h := learning.Defaults()
	h.SetOutput(io.Discard)
	h.BatchSize = 4
	h.NumEpochs = 2
	h.LearningRate = 0.01
	c.Registry().SetLevelLearningParameters(0, h)
	x, xv := random(11, 6, 1, 8, 24), random(12, 3, 1, 8, 24)
	y, yv := []int{0, 1, 2, 0, 1, 2}, []int{2, 1, 0}
	res, err := c.TrainLevel(0, x, xv, y, yv)
	if err != nil {
		t.Fatalf("TrainLevel: %v", err)
	}
	// 18 windows, batch 4: 4 iterations per epoch
	if len(res.LossHistory) != 8 {
		t.Fatalf("expected 8 losses, got %d", len(res.LossHistory))
	}
	if ok, err := c.CheckLevelContinuity(x); !ok {
		t.Fatalf("continuity after training: %v", err)
	}
}

func TestBuilderRejectsUnconfiguredLevel(t *testing.T) {
	_, err := NewBuilder(2).
		SetLevelParameters(0, identity.New(), nil, window.Dim{Channels: 1, Height: 1, Width: 1}, 0, 1).
		Build()
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Level != 1 {
		t.Fatalf("expected ConfigError for level 1, got %v", err)
	}
	if _, err := NewBuilder(0).Build(); err == nil {
		t.Fatalf("expected error for an empty network")
	}
}

func TestRegistryOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewRegistry(2).SetLevelLearningParameters(2, learning.Defaults())
}

func TestRegistryDefaultsAndOverwrite(t *testing.T) {
	r := NewRegistry(2)
	if r.Level(1).Learning.Update != learning.RMSProp || r.Level(1).Learning.BatchSize != 250 {
		t.Fatalf("unexpected default learning parameters %+v", r.Level(1).Learning)
	}
	h := learning.Defaults()
	h.NumEpochs = 9
	r.SetLevelLearningParameters(1, h)
	h.NumEpochs = 3
	r.SetLevelLearningParameters(1, h)
	if r.Level(1).Learning.NumEpochs != 3 || r.Level(0).Learning.NumEpochs != 5 {
		t.Fatalf("overwrite leaked between levels")
	}
	if r.Level(0).Configured() {
		t.Fatalf("level 0 reported configured")
	}
}

func TestOutOfRangeLevel(t *testing.T) {
	c := single(t, window.Dim{Channels: 1, Height: 2, Width: 4}, 0, 4)
	x := random(1, 1, 1, 2, 4)
	var ce *ConfigError
	if _, err := c.ForwardLevel(3, x); !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, err := c.ProcessToLevel(-1, x); !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestContinuityRequiresEvenCoverage(t *testing.T) {
	ft := &fakeTrainer{}
	d1 := window.Dim{Channels: 1, Height: 4, Width: 4}
	c, err := NewBuilder(2).
		SetLevelParameters(0, identity.New(), nil, window.Dim{Channels: 1, Height: 4, Width: 12}, 0, 12).
		SetLevelParameters(1, convnet.New(), convnet.MustInit(d1, 2, 3, 2, 0.2, 1), d1, 0, 3).
		Trainer(ft).
		Logger(discard).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	x := random(13, 2, 1, 4, 12)

	// offsets 0, 3 and 6 leave columns 10 and 11 out of training
	ok, err := c.CheckLevelContinuity(x)
	var ge *GeometryError
	var de *window.DimensionError
	if ok || !errors.As(err, &ge) || ge.Level != 1 || !errors.As(err, &de) || de.Stride != 3 {
		t.Fatalf("expected GeometryError at level 1, got %v %v", ok, err)
	}
	_, terr := c.TrainLevel(1, x, x, []int{0, 1}, []int{0, 1})
	if terr == nil || terr.Error() != err.Error() {
		t.Fatalf("TrainLevel reported %v, continuity reported %v", terr, err)
	}
	if ft.reinits != 0 {
		t.Fatalf("trainer touched for a stack that fails continuity")
	}

	// frozen levels are never assembled for training
	c.Registry().SetLevelParameters(1, identity.New(), nil, d1, 0, 3)
	if ok, err := c.CheckLevelContinuity(x); !ok {
		t.Fatalf("frozen level rejected: %v", err)
	}
}

// ragged reports one more class on every call.
type ragged struct {
	calls int
}

func (r *ragged) ExtractFeatures(x *tensor.Dense, m layer.Model) (*tensor.Dense, error) {
	return identity.New().ExtractFeatures(x, m)
}

func (r *ragged) ClassProbabilities(x *tensor.Dense, m layer.Model) (*mat.Dense, error) {
	r.calls++
	return mat.NewDense(x.Shape()[0], 1+r.calls, nil), nil
}

func TestPredictLevelClassCountMismatch(t *testing.T) {
	c, err := NewBuilder(1).
		SetLevelParameters(0, &ragged{}, nil, window.Dim{Channels: 1, Height: 2, Width: 4}, 2, 4).
		Logger(discard).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = c.PredictLevel(0, random(14, 3, 1, 2, 8))
	var de *window.DimensionError
	if !errors.As(err, &de) || de.Axis != "class" || de.Have != 3 || de.Want != 2 {
		t.Fatalf("expected class count DimensionError, got %v", err)
	}
}
