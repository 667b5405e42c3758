package expr_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/expr"
	"github.com/zclconf/go-cty/cty"
)

func TestCompile_EvalFloat(t *testing.T) {
	testCases := []struct {
		name     string
		src      string
		vars     map[string]float64
		expected float64
		refs     []string
	}{
		{"arithmetic", "sma * (1 - ecc)", map[string]float64{"sma": 5.3, "ecc": 0.1}, 4.77, []string{"ecc", "sma"}},
		{"trig in degrees", "ecc * sin(rad(per0))", map[string]float64{"ecc": 0.5, "per0": 90}, 0.5, []string{"ecc", "per0"}},
		{"pi is built in", "2 * pi / period", map[string]float64{"period": 1}, 2 * math.Pi, []string{"period"}},
		{"stdlib functions", "max(abs(a), pow(b, 2))", map[string]float64{"a": -3, "b": 2}, 4, []string{"a", "b"}},
		{"inverse period", "period / syncpar", map[string]float64{"period": 1, "syncpar": 2}, 0.5, []string{"period", "syncpar"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := expr.Compile(tc.src)
			require.NoError(t, err)
			assert.Equal(t, tc.refs, c.Refs)

			got, err := c.EvalFloat(tc.vars)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-9)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := expr.Compile("sinh(x)")
	require.ErrorContains(t, err, "unknown function")

	c, err := expr.Compile("a + b")
	require.NoError(t, err)
	_, err = c.EvalFloat(map[string]float64{"a": 1})
	require.ErrorContains(t, err, "not bound")

	c, err = expr.Compile("sqrt(a)")
	require.NoError(t, err)
	_, err = c.EvalFloat(map[string]float64{"a": -1})
	require.Error(t, err)
}

func TestPhysics(t *testing.T) {
	// Equal-mass binary at sma=5.3 has a Roche lobe of ~2.008 solar radii.
	assert.InDelta(t, 2.0083, expr.RequivL1(1, 5.3, 0), 1e-3)
	assert.Greater(t, expr.RequivL1(0.5, 5.3, 0), expr.RequivL1(2, 5.3, 0), "the heavier star has the larger lobe")
	assert.InDelta(t, expr.RequivL1(1, 5.3, 0)*0.5, expr.RequivL1(1, 5.3, 0.5), 1e-12)

	mass := expr.KeplerMass(5.3, 1)
	assert.InDelta(t, 2.0, mass, 0.05)
	assert.InDelta(t, 5.3, expr.KeplerSMA(mass, 1), 1e-9)

	// The Sun has log g ~ 4.438 in cgs.
	assert.InDelta(t, 4.438, expr.LogG(1, 1), 1e-3)
}

func TestLinspaceAndArange(t *testing.T) {
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, expr.Linspace(0, 1, 5))
	assert.Equal(t, []float64{3}, expr.Linspace(3, 4, 1))
	assert.Nil(t, expr.Linspace(0, 1, 0))

	got, err := expr.Arange(0, 1, 0.25)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, got)

	_, err = expr.Arange(0, 1, 0)
	require.Error(t, err)

	v, diags := parseExpr(t, "linspace(0, 1, 3)").Value(expr.NewEvalContext(nil, expr.ScriptFunctions()))
	require.False(t, diags.HasErrors(), diags.Error())
	require.True(t, v.Type().Equals(cty.List(cty.Number)))
	assert.Equal(t, 3, v.LengthInt())
}
