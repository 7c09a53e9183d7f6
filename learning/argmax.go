package learning

import "gonum.org/v1/gonum/mat"

// Argmax returns the column index of the largest value of every row.
func Argmax(m mat.Matrix) []int {
	r, c := m.Dims()
	var o = make([]int, r)
	for i := 0; i < r; i++ {
		best := m.At(i, 0)
		for j := 1; j < c; j++ {
			if v := m.At(i, j); v > best {
				best, o[i] = v, j
			}
		}
	}
	return o
}
