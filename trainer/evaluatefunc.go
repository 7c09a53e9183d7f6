package trainer

import "github.com/pkg/errors"

import "github.com/neurlang/levelnet/datasets"
import "github.com/neurlang/levelnet/net/multilevel"

// sample returns the leading samples of test that suffice to estimate
// accuracy within a margin of 100-significance percent. A significance of 0 or
// 100 and above scores the whole split.
func sample(test datasets.Split, significance byte) datasets.Split {
	n := float64(test.Len())
	if significance == 0 || significance >= 100 || n == 0 {
		return test
	}
	margin := float64(100-significance) / 100
	z := zScore(margin)

	// maximum variance of a proportion is 0.25
	need := z * z / 4 / (margin * margin)
	need = need * n / (n - 1 + need)

	k := int(need)
	if k < 1 || k >= test.Len() {
		return test
	}
	head, _ := test.Partition(k)
	return head
}

// zScore is the two sided normal quantile for the usual margins.
func zScore(margin float64) float64 {
	if margin <= 0.01 {
		return 2.576
	}
	if margin <= 0.05 {
		return 1.96
	}
	return 1.645
}

// NewEvaluateFunc returns a function reporting the percentage of test samples
// the top level classifies correctly. While accuracy is below 99% only a
// sample sufficient at the given significance is scored. When the accuracy
// improves on *succ the weights are written to dstmodel.
func NewEvaluateFunc(c *multilevel.Composer, test datasets.Split, significance byte, succ *int, dstmodel *string) func() (int, error) {

	return func() (int, error) {
		if err := test.Validate(); err != nil {
			return 0, err
		}
		head := test
		if succ == nil || (*succ < 99 && *succ > 0) {
			head = sample(test, significance)
		}
		var l = head.Len()
		if l == 0 {
			return 0, errors.New("trainer: empty test set")
		}
		predicted, err := c.Classify(c.NumLevels()-1, head.X)
		if err != nil {
			return 0, err
		}
		var correct int
		for i, p := range predicted {
			if p == head.Y[i] {
				correct++
			}
		}
		success := 100 * correct / l
		println("[success rate]", success, "%", "on", l, "samples")

		if succ != nil && *succ >= success {
			return success, nil
		}
		if succ != nil {
			*succ = success
		}
		if dstmodel != nil && *dstmodel != "" {
			if err := c.WriteCompressedWeightsToFile(*dstmodel); err != nil {
				return success, err
			}
		}
		return success, nil
	}
}
