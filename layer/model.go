package layer

import "sort"

import "gorgonia.org/tensor"

// Model is a named parameter bundle, e.g. "W1", "b1".
type Model map[string]*tensor.Dense

// Params returns the parameter names in sorted order.
func (m Model) Params() []string {
	var names = make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone deep copies the model.
func (m Model) Clone() Model {
	if m == nil {
		return nil
	}
	var o = make(Model, len(m))
	for k, v := range m {
		o[k] = Zeros(v.Shape()...)
		copy(o[k].Data().([]float64), v.Data().([]float64))
	}
	return o
}

// Size returns the total number of scalars held by the model.
func (m Model) Size() (n int) {
	for _, v := range m {
		n += v.Shape().TotalSize()
	}
	return
}

// Zeros allocates a float64 tensor of the given shape.
func Zeros(shape ...int) *tensor.Dense {
	var total = 1
	for _, d := range shape {
		total *= d
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float64, total)))
}

// Floats returns the float64 backing slice of t.
func Floats(t *tensor.Dense) []float64 {
	return t.Data().([]float64)
}
