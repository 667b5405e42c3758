package expr_test

import (
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/expr"
)

func parseExpr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	e, err := expr.Parse(src, "test.hcl")
	require.NoError(t, err)
	return e
}

func TestAnalyze(t *testing.T) {
	a := expr.Analyze(
		parseExpr(t, `sqrt(mass)`),
		parseExpr(t, `sma * (1 - ecc)`),
		parseExpr(t, `sin(rad(incl))`),
		nil,
		parseExpr(t, `mass`),
	)

	assert.Equal(t, []string{"rad", "sin", "sqrt"}, a.Functions)
	assert.Equal(t, []string{"ecc", "incl", "mass", "sma"}, a.RootNames())
	require.Len(t, a.Traversals, 4)
	assert.Equal(t, "ecc", expr.TraversalKey(a.Traversals[0]))
}

func TestAnalyze_NestedCallsAndAttributes(t *testing.T) {
	a := expr.Analyze(parseExpr(t, `max(kepler_sma(step.get_value.m.output, period), [abs(x)][0])`))

	assert.Equal(t, []string{"abs", "kepler_sma", "max"}, a.Functions)
	assert.Equal(t, []string{"period", "step", "x"}, a.RootNames())
	assert.Equal(t, "step.get_value.m.output", expr.TraversalKey(a.Traversals[1]))
}

func TestAnalyze_Empty(t *testing.T) {
	a := expr.Analyze()
	assert.Empty(t, a.Traversals)
	assert.Empty(t, a.Functions)
	assert.Empty(t, a.RootNames())
}

func TestParse_Malformed(t *testing.T) {
	_, err := expr.Parse(`sma *`, "test.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse expression")
}
