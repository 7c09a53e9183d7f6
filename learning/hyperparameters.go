// Package learning implements the mini-batch training stage of a level
package learning

import "io"
import "log"
import "os"

import "github.com/pkg/errors"

// Update rule names accepted by HyperParameters.Update.
const (
	SGD      = "sgd"
	Momentum = "momentum"
	RMSProp  = "rmsprop"
	Adam     = "adam"
)

// HyperParameters are the learning parameters of one level.
type HyperParameters struct {
	Reg               float64 // L2 regularization strength
	LearningRate      float64
	BatchSize         int
	NumEpochs         int
	LearningRateDecay float64 // multiplied into the learning rate after every epoch
	Update            string  // sgd, momentum, rmsprop or adam
	Verbose           bool
	Dropout           float64 // keep probability, 1 disables dropout

	Seed int64 // seeds mini-batch sampling and dropout

	l *log.Logger
}

// Defaults returns reg 0, learning rate 0.0015, batch 250, 5 epochs, decay
// 0.999, rmsprop, verbose, no dropout.
func Defaults() HyperParameters {
	return HyperParameters{
		Reg:               0.0,
		LearningRate:      0.0015,
		BatchSize:         250,
		NumEpochs:         5,
		LearningRateDecay: 0.999,
		Update:            RMSProp,
		Verbose:           true,
		Dropout:           1.0,
	}
}

// Validate reports the first unusable parameter.
func (h *HyperParameters) Validate() error {
	switch {
	case h.Reg < 0:
		return errors.Errorf("reg must be >= 0 (got %g)", h.Reg)
	case h.LearningRate <= 0:
		return errors.Errorf("learning rate must be > 0 (got %g)", h.LearningRate)
	case h.BatchSize <= 0:
		return errors.Errorf("batch size must be > 0 (got %d)", h.BatchSize)
	case h.NumEpochs <= 0:
		return errors.Errorf("num epochs must be > 0 (got %d)", h.NumEpochs)
	case h.LearningRateDecay <= 0:
		return errors.Errorf("learning rate decay must be > 0 (got %g)", h.LearningRateDecay)
	case h.Dropout <= 0 || h.Dropout > 1:
		return errors.Errorf("dropout keep probability must be in (0, 1] (got %g)", h.Dropout)
	}
	switch h.Update {
	case SGD, Momentum, RMSProp, Adam:
		return nil
	}
	return errors.Errorf("unrecognized update %q", h.Update)
}

// SetLogger sets the file verbose progress is appended to. An empty name logs to stderr.
func (h *HyperParameters) SetLogger(filename string) error {
	if filename == "" {
		h.l = log.New(os.Stderr, "", log.LstdFlags)
		return nil
	}
	outfile, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	h.l = log.New(outfile, "", log.LstdFlags)
	return nil
}

// SetOutput directs verbose progress to w.
func (h *HyperParameters) SetOutput(w io.Writer) {
	h.l = log.New(w, "", 0)
}

func (h *HyperParameters) logger() *log.Logger {
	if h.l == nil {
		return log.Default()
	}
	return h.l
}
