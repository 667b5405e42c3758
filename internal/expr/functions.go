package expr

import (
	"fmt"
	"math"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"gonum.org/v1/gonum/floats"
)

// Physical constants in SI units (IAU 2015 nominal values).
const (
	GMSun   = 1.3271244e20 // m^3 s^-2
	RSun    = 6.957e8      // m
	Day     = 86400.0      // s
	maxSpan = 1_000_000
)

// MathFunctions returns the function table available to constraint
// expressions. Angles are in radians; use rad() to convert from degrees.
func MathFunctions() map[string]function.Function {
	return map[string]function.Function{
		"sin":   unary("sin", math.Sin),
		"cos":   unary("cos", math.Cos),
		"tan":   unary("tan", math.Tan),
		"asin":  unary("asin", math.Asin),
		"acos":  unary("acos", math.Acos),
		"atan":  unary("atan", math.Atan),
		"sqrt":  unary("sqrt", math.Sqrt),
		"exp":   unary("exp", math.Exp),
		"ln":    unary("ln", math.Log),
		"log10": unary("log10", math.Log10),
		"cbrt":  unary("cbrt", math.Cbrt),
		"rad":   unary("rad", func(deg float64) float64 { return deg * math.Pi / 180 }),
		"deg":   unary("deg", func(rad float64) float64 { return rad * 180 / math.Pi }),
		"atan2": binary("atan2", math.Atan2),
		"mod":   binary("mod", func(x, y float64) float64 { return x - y*math.Floor(x/y) }),

		"abs":   stdlib.AbsoluteFunc,
		"min":   stdlib.MinFunc,
		"max":   stdlib.MaxFunc,
		"pow":   stdlib.PowFunc,
		"floor": stdlib.FloorFunc,
		"ceil":  stdlib.CeilFunc,
		"log":   stdlib.LogFunc,

		"requiv_l1":    ternary("requiv_l1", RequivL1),
		"kepler_mass":  binary("kepler_mass", KeplerMass),
		"kepler_sma":   binary("kepler_sma", KeplerSMA),
		"logg":         binary("logg", LogG),
		"true_to_mean": binary("true_to_mean", TrueToMean),
	}
}

// ScriptFunctions returns the function table for scripts: the math library
// plus array builders and a few cty stdlib helpers.
func ScriptFunctions() map[string]function.Function {
	funcs := MathFunctions()
	funcs["linspace"] = linspaceFunc
	funcs["arange"] = arangeFunc
	funcs["concat"] = stdlib.ConcatFunc
	funcs["length"] = stdlib.LengthFunc
	funcs["upper"] = stdlib.UpperFunc
	funcs["lower"] = stdlib.LowerFunc
	funcs["format"] = stdlib.FormatFunc
	return funcs
}

// Variables returns the constants available to every expression.
func Variables() map[string]cty.Value {
	return map[string]cty.Value{
		"pi":     cty.NumberFloatVal(math.Pi),
		"gm_sun": cty.NumberFloatVal(GMSun),
		"r_sun":  cty.NumberFloatVal(RSun),
	}
}

// RequivL1 is Eggleton's (1983) approximation of the volume-equivalent
// Roche lobe radius of a star with mass ratio q = M_other / M_self at
// periastron separation sma*(1-ecc).
func RequivL1(q, sma, ecc float64) float64 {
	if q <= 0 {
		return math.Inf(1)
	}
	// Eggleton's formula is written in terms of M_self / M_other.
	qe := 1 / q
	q23 := math.Pow(qe, 2.0/3.0)
	return sma * (1 - ecc) * 0.49 * q23 / (0.6*q23 + math.Log(1+math.Cbrt(qe)))
}

// KeplerMass returns the total mass in solar masses of a binary with
// semi-major axis sma (solar radii) and period (days).
func KeplerMass(sma, period float64) float64 {
	a := sma * RSun
	p := period * Day
	return 4 * math.Pi * math.Pi * a * a * a / (GMSun * p * p)
}

// KeplerSMA inverts KeplerMass: the semi-major axis in solar radii for a
// total mass in solar masses and a period in days.
func KeplerSMA(mass, period float64) float64 {
	p := period * Day
	return math.Cbrt(GMSun*mass*p*p/(4*math.Pi*math.Pi)) / RSun
}

// LogG returns the base-10 log of the surface gravity in cgs units for a
// mass in solar masses and a radius in solar radii.
func LogG(mass, requiv float64) float64 {
	r := requiv * RSun
	return math.Log10(GMSun * mass / (r * r) * 100)
}

// TrueToMean converts a true anomaly (radians) into the mean anomaly
// (radians) of an orbit with eccentricity ecc.
func TrueToMean(ecc, nu float64) float64 {
	e := 2 * math.Atan(math.Sqrt((1-ecc)/(1+ecc))*math.Tan(nu/2))
	return e - ecc*math.Sin(e)
}

// MeanToEccentric solves Kepler's equation M = E - e sin E by Newton
// iteration.
func MeanToEccentric(ecc, mean float64) float64 {
	e := mean
	if ecc > 0.8 {
		e = math.Pi
	}
	for range 50 {
		delta := (e - ecc*math.Sin(e) - mean) / (1 - ecc*math.Cos(e))
		e -= delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}
	return e
}

// EccentricToTrue converts an eccentric anomaly into a true anomaly.
func EccentricToTrue(ecc, e float64) float64 {
	return 2 * math.Atan2(math.Sqrt(1+ecc)*math.Sin(e/2), math.Sqrt(1-ecc)*math.Cos(e/2))
}

// Linspace returns n evenly spaced values on [start, stop].
func Linspace(start, stop float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, stop)
}

// Arange returns values start, start+step, ... strictly below stop.
func Arange(start, stop, step float64) ([]float64, error) {
	if step == 0 {
		return nil, fmt.Errorf("arange step cannot be zero")
	}
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil, nil
	}
	if n > maxSpan {
		return nil, fmt.Errorf("arange would produce %d values (limit %d)", n, maxSpan)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out, nil
}

var linspaceFunc = function.New(&function.Spec{
	Description: "Returns num evenly spaced numbers over [start, stop].",
	Params: []function.Parameter{
		{Name: "start", Type: cty.Number},
		{Name: "stop", Type: cty.Number},
		{Name: "num", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.List(cty.Number)),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		start, stop, num := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
		if num < 0 || num != math.Trunc(num) || num > maxSpan {
			return cty.NilVal, function.NewArgErrorf(2, "num must be a whole number in [0, %d]", maxSpan)
		}
		return numberList(Linspace(start, stop, int(num))), nil
	},
})

var arangeFunc = function.New(&function.Spec{
	Description: "Returns evenly spaced numbers in [start, stop) with the given step.",
	Params: []function.Parameter{
		{Name: "start", Type: cty.Number},
		{Name: "stop", Type: cty.Number},
		{Name: "step", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.List(cty.Number)),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		values, err := Arange(toFloat(args[0]), toFloat(args[1]), toFloat(args[2]))
		if err != nil {
			return cty.NilVal, function.NewArgError(2, err)
		}
		return numberList(values), nil
	},
})

func unary(name string, fn func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Description: name,
		Params:      []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:        function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return numberResult(name, fn(toFloat(args[0])))
		},
	})
}

func binary(name string, fn func(float64, float64) float64) function.Function {
	return function.New(&function.Spec{
		Description: name,
		Params: []function.Parameter{
			{Name: "a", Type: cty.Number},
			{Name: "b", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return numberResult(name, fn(toFloat(args[0]), toFloat(args[1])))
		},
	})
}

func ternary(name string, fn func(float64, float64, float64) float64) function.Function {
	return function.New(&function.Spec{
		Description: name,
		Params: []function.Parameter{
			{Name: "a", Type: cty.Number},
			{Name: "b", Type: cty.Number},
			{Name: "c", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return numberResult(name, fn(toFloat(args[0]), toFloat(args[1]), toFloat(args[2])))
		},
	})
}

func numberResult(name string, f float64) (cty.Value, error) {
	if math.IsNaN(f) {
		return cty.NilVal, fmt.Errorf("%s: result is not a number", name)
	}
	return cty.NumberFloatVal(f), nil
}

func toFloat(v cty.Value) float64 {
	f, _ := v.AsBigFloat().Float64()
	return f
}

func numberList(values []float64) cty.Value {
	if len(values) == 0 {
		return cty.ListValEmpty(cty.Number)
	}
	out := make([]cty.Value, len(values))
	for i, f := range values {
		out[i] = cty.NumberFloatVal(f)
	}
	return cty.ListVal(out)
}
