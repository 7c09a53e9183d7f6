package convnet

import "math"

import "gonum.org/v1/gonum/mat"
import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/layer"
import "github.com/neurlang/levelnet/parallel"
import "github.com/neurlang/levelnet/window"

type geometry struct {
	n, c, h, w int // input
	f, k, pad  int // convolution
	hp, wp     int // pooled
	d, classes int // head
}

func geometryOf(x *tensor.Dense, m layer.Model) (g geometry, err error) {
	for _, name := range []string{"W1", "b1", "W2", "b2"} {
		if m[name] == nil {
			return g, &window.DimensionError{Axis: "model", Reason: "convnet model lacks " + name}
		}
	}
	xs := x.Shape()
	if len(xs) != 4 {
		return g, &window.DimensionError{Axis: "rank", Have: len(xs), Want: 4, Reason: "convnet component"}
	}
	ws := m["W1"].Shape()
	g.n, g.c, g.h, g.w = xs[0], xs[1], xs[2], xs[3]
	if g.n == 0 {
		return g, &window.DimensionError{Axis: "batch", Reason: "empty batch"}
	}
	g.f, g.k = ws[0], ws[2]
	g.pad = (g.k - 1) / 2
	g.hp, g.wp = g.h/2, g.w/2
	if ws[1] != g.c {
		return g, &window.DimensionError{Axis: "channel", Have: g.c, Want: ws[1], Reason: "convnet filters"}
	}
	hs := m["W2"].Shape()
	g.d, g.classes = hs[0], hs[1]
	if g.d != g.f*g.hp*g.wp {
		return g, &window.DimensionError{Axis: "width", Have: g.f * g.hp * g.wp, Want: g.d,
			Reason: "convnet head expects a different component size"}
	}
	return g, nil
}

type pass struct {
	z      []float64 // pre-activation, n*f*h*w
	pooled []float64 // n*f*hp*wp
	arg    []int     // index into z of each pooled value
}

func (c *ConvNet) forward(g geometry, x *tensor.Dense, m layer.Model, keepArg bool) (p pass) {
	in := layer.Floats(x)
	w1, b1 := layer.Floats(m["W1"]), layer.Floats(m["b1"])
	plane, pplane := g.h*g.w, g.hp*g.wp
	p.z = make([]float64, g.n*g.f*plane)
	p.pooled = make([]float64, g.n*g.f*pplane)
	if keepArg {
		p.arg = make([]int, len(p.pooled))
	}
	parallel.ForEach(g.n, c.Threads, func(b int) {
		z := p.z[b*g.f*plane : (b+1)*g.f*plane]
		for f := 0; f < g.f; f++ {
			for y := 0; y < g.h; y++ {
				for xx := 0; xx < g.w; xx++ {
					s := b1[f]
					for ch := 0; ch < g.c; ch++ {
						src := in[(b*g.c+ch)*plane:]
						wk := w1[(f*g.c+ch)*g.k*g.k:]
						for i := 0; i < g.k; i++ {
							yy := y + i - g.pad
							if yy < 0 || yy >= g.h {
								continue
							}
							for j := 0; j < g.k; j++ {
								x2 := xx + j - g.pad
								if x2 < 0 || x2 >= g.w {
									continue
								}
								s += wk[i*g.k+j] * src[yy*g.w+x2]
							}
						}
					}
					z[(f*g.h+y)*g.w+xx] = s
				}
			}
		}
		for f := 0; f < g.f; f++ {
			for py := 0; py < g.hp; py++ {
				for px := 0; px < g.wp; px++ {
					best, at := math.Inf(-1), 0
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							idx := (f*g.h+2*py+dy)*g.w + 2*px + dx
							if z[idx] > best {
								best, at = z[idx], idx
							}
						}
					}
					q := (b*g.f+f)*pplane + py*g.wp + px
					p.pooled[q] = math.Max(best, 0)
					if keepArg {
						p.arg[q] = b*g.f*plane + at
					}
				}
			}
		}
	})
	return
}

// backward accumulates the convolution gradients into grads given the
// gradient of the loss with respect to the pooled features.
func (c *ConvNet) backward(g geometry, x *tensor.Dense, p pass, dpooled []float64, grads layer.Model) {
	in := layer.Floats(x)
	plane, pplane := g.h*g.w, g.hp*g.wp
	kk := g.k * g.k
	dw := make([][]float64, g.n)
	db := make([][]float64, g.n)
	parallel.ForEach(g.n, c.Threads, func(b int) {
		dz := make([]float64, g.f*plane)
		for q := b * g.f * pplane; q < (b+1)*g.f*pplane; q++ {
			if at := p.arg[q]; p.z[at] > 0 {
				dz[at-b*g.f*plane] += dpooled[q]
			}
		}
		dw[b] = make([]float64, g.f*g.c*kk)
		db[b] = make([]float64, g.f)
		for f := 0; f < g.f; f++ {
			for y := 0; y < g.h; y++ {
				for xx := 0; xx < g.w; xx++ {
					grad := dz[(f*g.h+y)*g.w+xx]
					if grad == 0 {
						continue
					}
					db[b][f] += grad
					for ch := 0; ch < g.c; ch++ {
						src := in[(b*g.c+ch)*plane:]
						wk := dw[b][(f*g.c+ch)*kk:]
						for i := 0; i < g.k; i++ {
							yy := y + i - g.pad
							if yy < 0 || yy >= g.h {
								continue
							}
							for j := 0; j < g.k; j++ {
								x2 := xx + j - g.pad
								if x2 < 0 || x2 >= g.w {
									continue
								}
								wk[i*g.k+j] += grad * src[yy*g.w+x2]
							}
						}
					}
				}
			}
		}
	})
	gw, gb := layer.Floats(grads["W1"]), layer.Floats(grads["b1"])
	for b := 0; b < g.n; b++ {
		for i, v := range dw[b] {
			gw[i] += v
		}
		for i, v := range db[b] {
			gb[i] += v
		}
	}
}

// head returns the affine scores feat*W2 + b2.
func (g geometry) head(feat []float64, m layer.Model) *mat.Dense {
	scores := mat.NewDense(g.n, g.classes, nil)
	scores.Mul(mat.NewDense(g.n, g.d, feat), mat.NewDense(g.d, g.classes, layer.Floats(m["W2"])))
	b2 := layer.Floats(m["b2"])
	for i := 0; i < g.n; i++ {
		row := scores.RawRowView(i)
		for j := range row {
			row[j] += b2[j]
		}
	}
	return scores
}

func softmaxRows(scores *mat.Dense) {
	n, _ := scores.Dims()
	for i := 0; i < n; i++ {
		row := scores.RawRowView(i)
		max := math.Inf(-1)
		for _, v := range row {
			max = math.Max(max, v)
		}
		var z float64
		for j, v := range row {
			row[j] = math.Exp(v - max)
			z += row[j]
		}
		for j := range row {
			row[j] /= z
		}
	}
}

// softmaxLoss returns the mean cross entropy and its gradient wrt the scores.
func softmaxLoss(scores *mat.Dense, y []int) (loss float64, dscores *mat.Dense) {
	n, _ := scores.Dims()
	dscores = mat.DenseCopyOf(scores)
	softmaxRows(dscores)
	for i := 0; i < n; i++ {
		row := dscores.RawRowView(i)
		loss -= math.Log(math.Max(row[y[i]], 1e-300))
		row[y[i]] -= 1
		for j := range row {
			row[j] /= float64(n)
		}
	}
	return loss / float64(n), dscores
}
