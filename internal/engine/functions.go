package engine

import (
	"github.com/vk/starbundle/internal/param"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// distributionFunctions returns uniform(low, high) and gaussian(loc, scale),
// which build the values add_distribution expects.
func distributionFunctions() map[string]function.Function {
	build := func(names [2]string, newDist func(a, b float64) param.Distribution) function.Function {
		return function.New(&function.Spec{
			Params: []function.Parameter{
				{Name: names[0], Type: cty.Number},
				{Name: names[1], Type: cty.Number},
			},
			Type: function.StaticReturnType(cty.Object(map[string]cty.Type{
				"dist": cty.String,
				"a":    cty.Number,
				"b":    cty.Number,
			})),
			Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
				a, _ := args[0].AsBigFloat().Float64()
				b, _ := args[1].AsBigFloat().Float64()
				d := newDist(a, b)
				if err := d.Validate(); err != nil {
					return cty.NilVal, function.NewArgError(1, err)
				}
				return d.Cty(), nil
			},
		})
	}
	return map[string]function.Function{
		"uniform":  build([2]string{"low", "high"}, param.Uniform),
		"gaussian": build([2]string{"loc", "scale"}, param.Gaussian),
	}
}
