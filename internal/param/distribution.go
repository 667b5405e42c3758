package param

import (
	"fmt"
	"math/rand/v2"

	"github.com/zclconf/go-cty/cty"
	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution kinds.
const (
	DistUniform  = "uniform"
	DistGaussian = "gaussian"
)

// Distribution is a univariate prior or initializing distribution attached
// to a parameter. For uniform, A and B are the bounds; for gaussian they are
// the mean and standard deviation.
type Distribution struct {
	Kind string
	A    float64
	B    float64
}

// Uniform returns a uniform distribution on [low, high].
func Uniform(low, high float64) Distribution {
	return Distribution{Kind: DistUniform, A: low, B: high}
}

// Gaussian returns a normal distribution.
func Gaussian(loc, scale float64) Distribution {
	return Distribution{Kind: DistGaussian, A: loc, B: scale}
}

// Validate checks the distribution's shape parameters.
func (d Distribution) Validate() error {
	switch d.Kind {
	case DistUniform:
		if !(d.A < d.B) {
			return fmt.Errorf("%w: uniform bounds must satisfy low < high, got [%s, %s]", ErrInvalidValue, FormatFloat(d.A), FormatFloat(d.B))
		}
	case DistGaussian:
		if !(d.B > 0) {
			return fmt.Errorf("%w: gaussian scale must be positive, got %s", ErrInvalidValue, FormatFloat(d.B))
		}
	default:
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidValue, d.Kind)
	}
	return nil
}

// Sampler returns a gonum distribution drawing from src.
func (d Distribution) Sampler(src rand.Source) distuv.RandLogProber {
	if d.Kind == DistGaussian {
		return distuv.Normal{Mu: d.A, Sigma: d.B, Src: src}
	}
	return distuv.Uniform{Min: d.A, Max: d.B, Src: src}
}

// LogProb evaluates the log density at x.
func (d Distribution) LogProb(x float64) float64 {
	return d.Sampler(nil).LogProb(x)
}

// Cty encodes the distribution as a cty object.
func (d Distribution) Cty() cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"dist": cty.StringVal(d.Kind),
		"a":    cty.NumberFloatVal(d.A),
		"b":    cty.NumberFloatVal(d.B),
	})
}

// String renders the distribution for display.
func (d Distribution) String() string {
	if d.Kind == DistGaussian {
		return fmt.Sprintf("<distl.gaussian loc=%s scale=%s>", FormatFloat(d.A), FormatFloat(d.B))
	}
	return fmt.Sprintf("<distl.uniform low=%s high=%s>", FormatFloat(d.A), FormatFloat(d.B))
}

// DistributionFromCty decodes a distribution object.
func DistributionFromCty(v cty.Value) (Distribution, error) {
	if v.IsNull() || !v.Type().IsObjectType() {
		return Distribution{}, fmt.Errorf("%w: distribution must be an object", ErrInvalidValue)
	}
	for _, attr := range []string{"dist", "a", "b"} {
		if !v.Type().HasAttribute(attr) {
			return Distribution{}, fmt.Errorf("%w: distribution missing %q", ErrInvalidValue, attr)
		}
	}
	kind := v.GetAttr("dist")
	a := v.GetAttr("a")
	b := v.GetAttr("b")
	if kind.Type() != cty.String || a.Type() != cty.Number || b.Type() != cty.Number {
		return Distribution{}, fmt.Errorf("%w: malformed distribution", ErrInvalidValue)
	}
	af, _ := a.AsBigFloat().Float64()
	bf, _ := b.AsBigFloat().Float64()
	d := Distribution{Kind: kind.AsString(), A: af, B: bf}
	return d, d.Validate()
}
