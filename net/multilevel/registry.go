// Package multilevel implements a hierarchical network of independently trained levels
package multilevel

import "log"

import "github.com/neurlang/levelnet/layer"
import "github.com/neurlang/levelnet/learning"
import "github.com/neurlang/levelnet/window"

// Level is the record kept for one level of the hierarchy.
type Level struct {
	Layer         layer.Layer
	Model         layer.Model
	Dim           window.Dim
	Stride        int
	NumComponents int // expected window count, 0 leaves it unchecked
	Learning      learning.HyperParameters

	configured bool
}

// Configured reports whether SetLevelParameters was called for the level.
func (l Level) Configured() bool {
	return l.configured
}

// Registry holds the levels, indexed by level number.
type Registry struct {
	levels []Level
}

// NewRegistry creates numLevels levels with default learning parameters.
func NewRegistry(numLevels int) *Registry {
	var r = &Registry{levels: make([]Level, numLevels)}
	for i := range r.levels {
		r.levels[i].Learning = learning.Defaults()
	}
	return r
}

// NumLevels returns the number of levels.
func (r *Registry) NumLevels() int {
	return len(r.levels)
}

// SetLevelParameters stores the forward capability, model and window geometry
// of level n. It panics when n is out of range.
func (r *Registry) SetLevelParameters(n int, fn layer.Layer, model layer.Model, dim window.Dim, numComponents, stride int) {
	l := r.at(n)
	l.Layer = fn
	l.Model = model
	l.Dim = dim
	l.NumComponents = numComponents
	l.Stride = stride
	l.configured = true
}

// SetLevelLearningParameters stores the learning parameters of level n. It
// panics when n is out of range.
func (r *Registry) SetLevelLearningParameters(n int, h learning.HyperParameters) {
	r.at(n).Learning = h
}

// Level returns a copy of the record of level n. It panics when n is out of range.
func (r *Registry) Level(n int) Level {
	return *r.at(n)
}

func (r *Registry) at(n int) *Level {
	if n < 0 || n >= len(r.levels) {
		panic((&ConfigError{Level: n, Reason: "index out of range"}).Error())
	}
	return &r.levels[n]
}

// lookup is at for entry points which report instead of panicking.
func (r *Registry) lookup(n int) (*Level, error) {
	if n < 0 || n >= len(r.levels) {
		return nil, &ConfigError{Level: n, Reason: "index out of range"}
	}
	l := &r.levels[n]
	if !l.configured || l.Layer == nil {
		return nil, &ConfigError{Level: n, Reason: "level parameters not set"}
	}
	return l, nil
}

// Builder assembles a Composer.
type Builder struct {
	registry *Registry
	trainer  Trainer
	logger   *log.Logger
}

// NewBuilder starts a network of numLevels levels.
func NewBuilder(numLevels int) *Builder {
	return &Builder{registry: NewRegistry(numLevels)}
}

// SetLevelParameters is Registry.SetLevelParameters.
func (b *Builder) SetLevelParameters(n int, fn layer.Layer, model layer.Model, dim window.Dim, numComponents, stride int) *Builder {
	b.registry.SetLevelParameters(n, fn, model, dim, numComponents, stride)
	return b
}

// SetLevelLearningParameters is Registry.SetLevelLearningParameters.
func (b *Builder) SetLevelLearningParameters(n int, h learning.HyperParameters) *Builder {
	b.registry.SetLevelLearningParameters(n, h)
	return b
}

// Trainer sets the trainer used by TrainLevel. Without one a learning.Trainer is used.
func (b *Builder) Trainer(t Trainer) *Builder {
	b.trainer = t
	return b
}

// Logger sets where training progress is written.
func (b *Builder) Logger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

// Build checks that every level is configured and returns the composer.
func (b *Builder) Build() (*Composer, error) {
	if b.registry.NumLevels() == 0 {
		return nil, &ConfigError{Level: 0, Reason: "network has no levels"}
	}
	for n := range b.registry.levels {
		if _, err := b.registry.lookup(n); err != nil {
			return nil, err
		}
	}
	var c = &Composer{registry: b.registry, trainer: b.trainer, logger: b.logger}
	if c.trainer == nil {
		c.trainer = learning.NewTrainer()
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c, nil
}
