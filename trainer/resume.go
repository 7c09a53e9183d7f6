package trainer

import "github.com/neurlang/levelnet/net/multilevel"

// Resume loads dstmodel into c when resume is set. A failed load is reported and training starts fresh.
func Resume(c *multilevel.Composer, resume *bool, dstmodel *string) {
	if resume != nil && *resume && dstmodel != nil && *dstmodel != "" {
		err := c.ReadCompressedWeightsFromFile(*dstmodel)
		if err != nil {
			println(err.Error())
		}
	}
}
