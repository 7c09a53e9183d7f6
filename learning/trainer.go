package learning

import "math"
import "math/rand"

import "github.com/google/uuid"
import "github.com/pkg/errors"
import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/layer"

// accuracySamples bounds the training subset scored after each epoch.
const accuracySamples = 1000

// predictChunk bounds the batch handed to ClassProbabilities while scoring.
const predictChunk = 500

// Result is what one Train call produced.
type Result struct {
	RunID           string
	BestModel       layer.Model
	BestValAcc      float64
	LossHistory     []float64
	TrainAccHistory []float64
	ValAccHistory   []float64
}

// Trainer runs the mini-batch epoch loop. It keeps optimizer caches between
// calls until ReInit.
type Trainer struct {
	cache map[string]*state
}

// NewTrainer creates a trainer with empty optimizer state
func NewTrainer() *Trainer {
	return &Trainer{cache: make(map[string]*state)}
}

// ReInit clears the optimizer state.
func (tr *Trainer) ReInit() {
	tr.cache = make(map[string]*state)
}

// Train optimizes a copy of model on (xTrain, yTrain) and returns the copy with
// the best validation accuracy seen.
func (tr *Trainer) Train(xTrain *tensor.Dense, yTrain []int, xVal *tensor.Dense, yVal []int,
	model layer.Model, fn layer.Trainable, h HyperParameters) (*Result, error) {

	if err := h.Validate(); err != nil {
		return nil, errors.Wrap(err, "learning")
	}
	if tr.cache == nil {
		tr.cache = make(map[string]*state)
	}
	n := xTrain.Shape()[0]
	if n != len(yTrain) {
		return nil, errors.Errorf("learning: %d training samples but %d labels", n, len(yTrain))
	}
	if xVal.Shape()[0] != len(yVal) {
		return nil, errors.Errorf("learning: %d validation samples but %d labels", xVal.Shape()[0], len(yVal))
	}
	if n == 0 {
		return nil, errors.Errorf("learning: empty training set")
	}

	var res = &Result{RunID: uuid.New().String(), BestValAcc: -1}
	var rng = rand.New(rand.NewSource(h.Seed))
	var l = h.logger()

	model = model.Clone()
	lr := h.LearningRate
	perEpoch := n / h.BatchSize
	if perEpoch < 1 {
		perEpoch = 1
	}
	iterations := h.NumEpochs * perEpoch
	epoch := 0
	idx := make([]int, h.BatchSize)

	for it := 0; it < iterations; it++ {
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		loss, grads, err := fn.Loss(Gather(xTrain, idx), gatherLabels(yTrain, idx), model, h.Reg, h.Dropout, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "learning: iteration %d", it)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, errors.Errorf("learning: loss diverged at iteration %d", it)
		}
		res.LossHistory = append(res.LossHistory, loss)
		tr.step(h.Update, model, grads, lr)

		epochEnd := (it+1)%perEpoch == 0
		if epochEnd {
			epoch++
			lr *= h.LearningRateDecay
		}
		if it == 0 || epochEnd || it == iterations-1 {
			sub := xTrain
			subY := yTrain
			if n > accuracySamples {
				pick := rng.Perm(n)[:accuracySamples]
				sub, subY = Gather(xTrain, pick), gatherLabels(yTrain, pick)
			}
			trainAcc, err := Accuracy(fn, model, sub, subY)
			if err != nil {
				return nil, errors.Wrap(err, "learning: train accuracy")
			}
			valAcc, err := Accuracy(fn, model, xVal, yVal)
			if err != nil {
				return nil, errors.Wrap(err, "learning: validation accuracy")
			}
			res.TrainAccHistory = append(res.TrainAccHistory, trainAcc)
			res.ValAccHistory = append(res.ValAccHistory, valAcc)
			if valAcc > res.BestValAcc {
				res.BestValAcc = valAcc
				res.BestModel = model.Clone()
			}
			if h.Verbose {
				l.Printf("run=%s epoch=%d/%d cost=%.6f train=%.4f val=%.4f lr=%e",
					res.RunID[:8], epoch, h.NumEpochs, loss, trainAcc, valAcc, lr)
			}
		}
	}
	if h.Verbose {
		l.Printf("run=%s best_val=%.4f", res.RunID[:8], res.BestValAcc)
	}
	return res, nil
}

// Accuracy returns the fraction of samples whose most probable class is the label.
func Accuracy(fn layer.Layer, m layer.Model, x *tensor.Dense, y []int) (float64, error) {
	n := x.Shape()[0]
	if n == 0 {
		return 0, nil
	}
	var hits int
	for lo := 0; lo < n; lo += predictChunk {
		hi := lo + predictChunk
		if hi > n {
			hi = n
		}
		part := x
		if lo != 0 || hi != n {
			idx := make([]int, hi-lo)
			for i := range idx {
				idx[i] = lo + i
			}
			part = Gather(x, idx)
		}
		probs, err := fn.ClassProbabilities(part, m)
		if err != nil {
			return 0, err
		}
		for i, c := range Argmax(probs) {
			if c == y[lo+i] {
				hits++
			}
		}
	}
	return float64(hits) / float64(n), nil
}

// Gather copies the samples idx of x along the batch axis into a new tensor.
func Gather(x *tensor.Dense, idx []int) *tensor.Dense {
	shape := x.Shape().Clone()
	size := shape.TotalSize() / shape[0]
	src := layer.Floats(x)
	dst := make([]float64, len(idx)*size)
	for i, j := range idx {
		copy(dst[i*size:(i+1)*size], src[j*size:(j+1)*size])
	}
	shape[0] = len(idx)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(dst))
}

func gatherLabels(y []int, idx []int) []int {
	var o = make([]int, len(idx))
	for i, j := range idx {
		o[i] = y[j]
	}
	return o
}
