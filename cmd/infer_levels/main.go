package main

import "flag"
import "fmt"
import "log"

import "github.com/neurlang/levelnet/datasets/tones"
import "github.com/neurlang/levelnet/layer/convnet"
import "github.com/neurlang/levelnet/layer/maxpool2d"
import "github.com/neurlang/levelnet/net/multilevel"
import "github.com/neurlang/levelnet/parallel"
import "github.com/neurlang/levelnet/window"

func main() {

	dstmodel := flag.String("dstmodel", "", "model .json.lzw file")
	filters := flag.Int("filters", 8, "convolution filters per level, as trained")
	seed := flag.Int64("seed", 2, "random seed of the test data")
	flag.Parse()

	println("cpu:", parallel.CPU(), "threads:", parallel.Threads())

	_, _, test := tones.Medium(*seed)

	d0 := window.Dim{Channels: 1, Height: tones.MediumHeight, Width: 16}
	pool := maxpool2d.MustNew(2, 1)
	d1 := convnet.OutputDim(d0, *filters)
	d1.Width *= 4 // one window over the features of all four level 0 windows
	d2 := pool.OutputDim(d1)
	d2.Width /= 2 // two windows

	net, err := multilevel.NewBuilder(3).
		SetLevelParameters(0, convnet.New(), convnet.MustInit(d0, tones.Classes, 3, *filters, 0.01, 0), d0, 4, 16).
		SetLevelParameters(1, pool, nil, d1, 1, d1.Width).
		SetLevelParameters(2, convnet.New(), convnet.MustInit(d2, tones.Classes, 3, *filters, 0.01, 0), d2, 2, d2.Width).
		Build()
	if err != nil {
		log.Fatal(err)
	}
	if *dstmodel != "" {
		if err := net.ReadCompressedWeightsFromFile(*dstmodel); err != nil {
			log.Fatal(err)
		}
	}

	var confusion [tones.Classes][tones.Classes]int
	for n := 0; n < net.NumLevels(); n++ {
		predicted, err := net.Classify(n, test.X)
		if err != nil {
			log.Fatal(err)
		}
		var correct int
		for i, p := range predicted {
			if p == test.Y[i] {
				correct++
			}
			if n == net.NumLevels()-1 {
				confusion[test.Y[i]][p]++
			}
		}
		println("[infer success rate] level", n, 100*correct/test.Len(), "%")
	}
	for k, row := range confusion {
		fmt.Println("class", k, row)
	}
}
