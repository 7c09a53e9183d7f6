package tones

import "math/rand"

import "gorgonia.org/tensor"

import "github.com/neurlang/levelnet/datasets"

// Classes is the number of frequency bands.
const Classes = 4

const SmallHeight = 8
const SmallWidth = 24
const MediumHeight = 16
const MediumWidth = 64

// Noise is the standard deviation of the background.
const Noise = 0.25

// Band returns the rows of class k in a spectrogram of the given height.
func Band(k, height int) (lo, hi int) {
	return k * height / Classes, (k + 1) * height / Classes
}

// Generate draws n single channel spectrograms of height x width. Labels cycle
// through the classes before the set is shuffled.
func Generate(n, height, width int, seed int64) datasets.Split {
	rng := rand.New(rand.NewSource(seed))
	plane := height * width
	var data = make([]float64, n*plane)
	var y = make([]int, n)
	for i := 0; i < n; i++ {
		y[i] = i % Classes
		lo, hi := Band(y[i], height)
		gain := 0.75 + 0.5*rng.Float64()
		for r := 0; r < height; r++ {
			row := data[i*plane+r*width : i*plane+(r+1)*width]
			for c := range row {
				row[c] = Noise * rng.NormFloat64()
				if r >= lo && r < hi {
					row[c] += gain
				}
			}
		}
	}
	s := datasets.Split{X: tensor.New(tensor.WithShape(n, 1, height, width), tensor.WithBacking(data)), Y: y}
	return s.Shuffle(seed)
}

// Small returns train, validation and test sets of 8x24 spectrograms.
func Small(seed int64) (train, val, test datasets.Split) {
	return splits(120, SmallHeight, SmallWidth, seed)
}

// Medium returns train, validation and test sets of 16x64 spectrograms.
func Medium(seed int64) (train, val, test datasets.Split) {
	return splits(1000, MediumHeight, MediumWidth, seed)
}

func splits(n, height, width int, seed int64) (train, val, test datasets.Split) {
	all := Generate(n+n/4+n/4, height, width, seed)
	train, rest := all.Partition(n)
	val, test = rest.Partition(n / 4)
	return
}
