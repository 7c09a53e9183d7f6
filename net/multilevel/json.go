package multilevel

import "compress/lzw"
import "encoding/json"
import "fmt"
import "io"
import "os"

import "github.com/pkg/errors"
import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/layer"
import "github.com/neurlang/levelnet/window"

type paramJSON struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

type levelJSON struct {
	Level  int                  `json:"level"`
	Dim    window.Dim           `json:"dim"`
	Stride int                  `json:"stride"`
	Model  map[string]paramJSON `json:"model"`
}

type weightsJSON struct {
	Levels []levelJSON `json:"levels"`
}

// WriteCompressedWeightsToFile writes the models of every level to a lzw file
func (c *Composer) WriteCompressedWeightsToFile(name string) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	err = c.WriteCompressedWeights(file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteCompressedWeights writes the models of every level to a writer
func (c *Composer) WriteCompressedWeights(w io.Writer) error {
	var out weightsJSON
	for n, l := range c.registry.levels {
		lj := levelJSON{Level: n, Dim: l.Dim, Stride: l.Stride, Model: make(map[string]paramJSON, len(l.Model))}
		for _, name := range l.Model.Params() {
			p := l.Model[name]
			lj.Model[name] = paramJSON{Shape: p.Shape().Clone(), Data: layer.Floats(p)}
		}
		out.Levels = append(out.Levels, lj)
	}
	lw := lzw.NewWriter(w, lzw.LSB, 8)
	if err := json.NewEncoder(lw).Encode(&out); err != nil {
		lw.Close()
		return errors.Wrap(err, "write weights")
	}
	return lw.Close()
}

// ReadCompressedWeightsFromFile reads the models of every level from a lzw file
func (c *Composer) ReadCompressedWeightsFromFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()
	return c.ReadCompressedWeights(file)
}

// ReadCompressedWeights reads the models of every level from a reader. The
// stored geometry must match the configured one; nothing is replaced on error.
func (c *Composer) ReadCompressedWeights(r io.Reader) error {
	lr := lzw.NewReader(r, lzw.LSB, 8)
	defer lr.Close()
	var in weightsJSON
	if err := json.NewDecoder(lr).Decode(&in); err != nil {
		return errors.Wrap(err, "read weights")
	}
	if len(in.Levels) != c.NumLevels() {
		return &ConfigError{Level: len(in.Levels), Reason: fmt.Sprintf("file holds %d levels, network has %d", len(in.Levels), c.NumLevels())}
	}
	var models = make([]layer.Model, len(in.Levels))
	for n, lj := range in.Levels {
		l := &c.registry.levels[n]
		if lj.Level != n || lj.Dim != l.Dim || lj.Stride != l.Stride {
			return &ConfigError{Level: n, Reason: fmt.Sprintf("stored geometry %v/%d differs from configured %v/%d", lj.Dim, lj.Stride, l.Dim, l.Stride)}
		}
		if l.Model != nil {
			if len(lj.Model) != len(l.Model) {
				return &ConfigError{Level: n, Reason: fmt.Sprintf("file holds %d parameters, configured %d", len(lj.Model), len(l.Model))}
			}
			for name := range l.Model {
				if _, ok := lj.Model[name]; !ok {
					return &ConfigError{Level: n, Reason: fmt.Sprintf("parameter %s missing from file", name)}
				}
			}
		}
		m := make(layer.Model, len(lj.Model))
		for name, p := range lj.Model {
			total := 1
			for _, d := range p.Shape {
				total *= d
			}
			if total != len(p.Data) || len(p.Shape) == 0 {
				return &ConfigError{Level: n, Reason: fmt.Sprintf("parameter %s: shape %v holds %d values", name, p.Shape, len(p.Data))}
			}
			if old := l.Model[name]; old != nil && !old.Shape().Eq(tensor.Shape(p.Shape)) {
				return &ConfigError{Level: n, Reason: fmt.Sprintf("parameter %s: stored shape %v, configured %v", name, p.Shape, old.Shape())}
			}
			m[name] = tensor.New(tensor.WithShape(p.Shape...), tensor.WithBacking(p.Data))
		}
		models[n] = m
	}
	for n := range models {
		c.registry.levels[n].Model = models[n]
	}
	return nil
}
