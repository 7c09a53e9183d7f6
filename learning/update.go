package learning

import "math"

import "github.com/neurlang/levelnet/layer"

const (
	momentumDecay = 0.9
	rmsDecay      = 0.99
	adamBeta1     = 0.9
	adamBeta2     = 0.999
	epsilon       = 1e-8
)

// state is the per parameter optimizer memory.
type state struct {
	first  []float64 // velocity, or adam first moment
	second []float64 // rmsprop cache, or adam second moment
	t      int
}

// step applies one update of rule to every parameter of m in place.
func (tr *Trainer) step(rule string, m, grads layer.Model, lr float64) {
	for _, name := range m.Params() {
		dx := grads[name]
		if dx == nil {
			continue
		}
		w, g := layer.Floats(m[name]), layer.Floats(dx)
		s := tr.cache[name]
		if s == nil || len(s.first) != len(w) {
			s = &state{first: make([]float64, len(w)), second: make([]float64, len(w))}
			tr.cache[name] = s
		}
		s.t++
		switch rule {
		case SGD:
			for i := range w {
				w[i] -= lr * g[i]
			}
		case Momentum:
			for i := range w {
				s.first[i] = momentumDecay*s.first[i] - lr*g[i]
				w[i] += s.first[i]
			}
		case RMSProp:
			for i := range w {
				s.second[i] = rmsDecay*s.second[i] + (1-rmsDecay)*g[i]*g[i]
				w[i] -= lr * g[i] / math.Sqrt(s.second[i]+epsilon)
			}
		case Adam:
			c1 := 1 - math.Pow(adamBeta1, float64(s.t))
			c2 := 1 - math.Pow(adamBeta2, float64(s.t))
			for i := range w {
				s.first[i] = adamBeta1*s.first[i] + (1-adamBeta1)*g[i]
				s.second[i] = adamBeta2*s.second[i] + (1-adamBeta2)*g[i]*g[i]
				w[i] -= lr * (s.first[i] / c1) / (math.Sqrt(s.second[i]/c2) + epsilon)
			}
		}
	}
}
