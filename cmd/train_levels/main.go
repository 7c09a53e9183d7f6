package main

import "context"
import "flag"
import "log"
import "os"
import "os/signal"

import "github.com/neurlang/levelnet/datasets/tones"
import "github.com/neurlang/levelnet/layer/convnet"
import "github.com/neurlang/levelnet/layer/maxpool2d"
import "github.com/neurlang/levelnet/learning"
import "github.com/neurlang/levelnet/net/multilevel"
import "github.com/neurlang/levelnet/parallel"
import "github.com/neurlang/levelnet/trainer"
import "github.com/neurlang/levelnet/window"

func main() {

	dstmodel := flag.String("dstmodel", "", "model destination .json.lzw file")
	resume := flag.Bool("resume", false, "resume training")
	pgo := flag.Bool("pgo", false, "enable pgo")
	logfile := flag.String("log", "", "append training progress to this file")
	epochs := flag.Int("epochs", 5, "epochs per level")
	batch := flag.Int("batch", 100, "mini-batch size")
	rate := flag.Float64("lr", 0.005, "learning rate")
	update := flag.String("update", learning.Adam, "update rule: sgd, momentum, rmsprop or adam")
	filters := flag.Int("filters", 8, "convolution filters per level")
	seed := flag.Int64("seed", 1, "random seed")
	threads := flag.Int("threads", 0, "worker threads, 0 detects")
	flag.Parse()

	if *pgo {
		defer profile()()
	}
	if *threads > 0 {
		parallel.SetThreads(*threads)
	}
	println("cpu:", parallel.CPU(), "threads:", parallel.Threads())

	train, val, test := tones.Medium(*seed)

	d0 := window.Dim{Channels: 1, Height: tones.MediumHeight, Width: 16}
	pool := maxpool2d.MustNew(2, 1)
	d1 := convnet.OutputDim(d0, *filters)
	d1.Width *= 4 // one window over the features of all four level 0 windows
	d2 := pool.OutputDim(d1)
	d2.Width /= 2 // two windows

	h := learning.Defaults()
	h.NumEpochs = *epochs
	h.BatchSize = *batch
	h.LearningRate = *rate
	h.Update = *update
	h.Seed = *seed
	if err := h.SetLogger(*logfile); err != nil {
		log.Fatal(err)
	}

	net, err := multilevel.NewBuilder(3).
		SetLevelParameters(0, convnet.New(), convnet.MustInit(d0, tones.Classes, 3, *filters, 0.01, *seed), d0, 4, 16).
		SetLevelParameters(1, pool, nil, d1, 1, d1.Width).
		SetLevelParameters(2, convnet.New(), convnet.MustInit(d2, tones.Classes, 3, *filters, 0.01, *seed+1), d2, 2, d2.Width).
		SetLevelLearningParameters(0, h).
		SetLevelLearningParameters(2, h).
		Build()
	if err != nil {
		log.Fatal(err)
	}

	if ok, err := net.CheckLevelContinuity(val.X); !ok {
		log.Fatal(err)
	}

	trainer.Resume(net, resume, dstmodel)

	var improved_success_rate = 0
	evaluate := trainer.NewEvaluateFunc(net, test, 99, &improved_success_rate, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = trainer.NewLoopFunc(net, []trainer.Data{{Train: train, Val: val}}, evaluate, dstmodel)(ctx)
	if err != nil {
		log.Fatal(err)
	}
}
