package trainer

import "context"
import "fmt"

import "github.com/pkg/errors"

import "github.com/neurlang/levelnet/datasets"
import "github.com/neurlang/levelnet/layer"
import "github.com/neurlang/levelnet/net/multilevel"

// Data is the training and validation data of one level.
type Data struct {
	Train datasets.Split
	Val   datasets.Split
}

// NewLoopFunc returns a function training the levels of c bottom up, skipping
// levels whose layer cannot be trained. data holds one entry per level or a
// single entry shared by every level. After each trained level
// the weights are written to dstmodel, when set, and evaluate is called, when
// not nil. Cancelling ctx stops the loop between levels.
func NewLoopFunc(c *multilevel.Composer, data []Data, evaluate func() (int, error), dstmodel *string) func(ctx context.Context) error {

	return func(ctx context.Context) error {
		if len(data) != 1 && len(data) != c.NumLevels() {
			return errors.Errorf("trainer: %d data sets for %d levels", len(data), c.NumLevels())
		}
		for n := 0; n < c.NumLevels(); n++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, ok := c.Registry().Level(n).Layer.(layer.Trainable); !ok {
				println("level", n, "is frozen")
				continue
			}
			d := data[0]
			if len(data) > 1 {
				d = data[n]
			}
			if err := d.Train.Validate(); err != nil {
				return errors.Wrapf(err, "level %d training data", n)
			}
			if err := d.Val.Validate(); err != nil {
				return errors.Wrapf(err, "level %d validation data", n)
			}
			println("training level", n+1, "of", c.NumLevels())
			res, err := c.TrainLevel(n, d.Train.X, d.Val.X, d.Train.Y, d.Val.Y)
			if err != nil {
				return err
			}
			fmt.Printf("level %d run %s best validation accuracy %.4f\n", n, res.RunID, res.BestValAcc)

			if dstmodel != nil && *dstmodel != "" {
				if err := c.WriteCompressedWeightsToFile(*dstmodel); err != nil {
					return errors.Wrapf(err, "level %d: save", n)
				}
			}
			if evaluate != nil {
				if _, err := evaluate(); err != nil {
					return errors.Wrapf(err, "level %d: evaluate", n)
				}
			}
		}
		return nil
	}
}
