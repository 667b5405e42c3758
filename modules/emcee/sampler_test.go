package emcee

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// gaussianPosterior has a standard normal log-probability in one dimension
// and never calls a forward model.
func gaussianPosterior(t *testing.T) *posterior {
	t.Helper()
	x := param.MustNew(param.Tags{Qualifier: "x", Context: param.ContextSystem}, param.TypeFloat, 0.0, "x")
	set, err := paramstore.New(x)
	require.NoError(t, err)
	return &posterior{
		system:  set,
		targets: []target{{uniqueid: x.UniqueID, twig: "x@system"}},
		priors:  map[string]param.Distribution{x.UniqueID: param.Gaussian(0, 1)},
		compute: func(ctx context.Context, system *paramstore.Set) (*paramstore.Set, error) {
			return paramstore.Empty(), nil
		},
	}
}

func TestSample_ShapesAndDeterminism(t *testing.T) {
	post := gaussianPosterior(t)
	start := [][]float64{{-0.1}, {0}, {0.1}, {0.2}}

	run := func() *chain {
		c, err := sample(context.Background(), post, start, 5, rand.New(rand.NewPCG(7, 7)))
		require.NoError(t, err)
		return c
	}
	c := run()
	require.Equal(t, 5, c.niters())
	require.Len(t, c.samples[0], 4)
	require.Len(t, c.samples[0][0], 1)
	require.Len(t, c.lnprobs, 5)
	require.Len(t, c.acceptance, 4)
	for _, a := range c.acceptance {
		assert.GreaterOrEqual(t, a, 0.0)
		assert.LessOrEqual(t, a, 1.0)
	}

	if diff := cmp.Diff(c.samples, run().samples); diff != "" {
		t.Errorf("same seed produced different chains (-first +second):\n%s", diff)
	}
	assert.Equal(t, []float64{-0.1}, start[0], "start positions must not be modified")
}

func TestSample_RejectsImpossibleProposals(t *testing.T) {
	post := gaussianPosterior(t)
	post.priors[post.targets[0].uniqueid] = param.Uniform(0, 1)
	start := [][]float64{{0.2}, {0.4}, {0.6}, {0.8}}

	c, err := sample(context.Background(), post, start, 20, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	for i, it := range c.samples {
		for w, s := range it {
			assert.True(t, s[0] >= 0 && s[0] <= 1, "iteration %d walker %d left the prior: %v", i, w, s[0])
			assert.False(t, math.IsInf(c.lnprobs[i][w], -1))
		}
	}
}

func TestSample_Errors(t *testing.T) {
	post := gaussianPosterior(t)

	_, err := sample(context.Background(), post, [][]float64{{0}}, 1, rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, param.ErrInvalidValue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sample(ctx, post, [][]float64{{0}, {1}}, 1, rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChain_ExtendAndPositions(t *testing.T) {
	first := &chain{
		uniqueids:  []string{"a"},
		twigs:      []string{"a@x"},
		samples:    [][][]float64{{{1}, {2}}, {{3}, {4}}},
		lnprobs:    [][]float64{{-1, -2}, {-3, -4}},
		acceptance: []float64{0.5, 1},
	}
	second := &chain{
		samples:    [][][]float64{{{5}, {6}}},
		lnprobs:    [][]float64{{-5, -6}},
		acceptance: []float64{1, 0},
	}

	got := first.extend(second)
	assert.Equal(t, 3, got.niters())
	assert.Equal(t, []string{"a"}, got.uniqueids)
	assert.InDeltaSlice(t, []float64{2.0 / 3, 2.0 / 3}, got.acceptance, 1e-12)

	last, err := got.positions(-1)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5}, {6}}, last)
	last[0][0] = 99
	assert.Equal(t, 5.0, got.samples[2][0][0], "positions returns a copy")

	firstIter, err := got.positions(0)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {2}}, firstIter)

	_, err = got.positions(3)
	assert.ErrorIs(t, err, param.ErrInvalidValue)
}

func TestChain_SolutionRoundTrip(t *testing.T) {
	c := &chain{
		uniqueids:  []string{"id-1", "id-2"},
		twigs:      []string{"teff@primary", "sma@binary"},
		samples:    [][][]float64{{{1, 2}, {3, 4}}},
		lnprobs:    [][]float64{{-1, math.Inf(-1)}},
		acceptance: []float64{0, 1},
	}
	targets := []target{{uniqueid: "id-1", twig: "teff@primary", unit: "K"}, {uniqueid: "id-2", twig: "sma@binary", unit: "solRad"}}
	params, err := c.parameters(targets, &options{burnin: 0, thin: 1})
	require.NoError(t, err)
	set, err := paramstore.New(params...)
	require.NoError(t, err)

	back, err := chainFromSolution(set)
	require.NoError(t, err)
	if diff := cmp.Diff(c, back, cmp.AllowUnexported(chain{})); diff != "" {
		t.Errorf("chain mismatch (-want +got):\n%s", diff)
	}
}

func TestLnLikelihood(t *testing.T) {
	obs := param.Tags{Dataset: "lc01", Kind: "lc", Context: param.ContextDataset}
	system, err := paramstore.New(
		param.MustNew(obs.With("qualifier", "fluxes"), param.TypeFloatArray, []float64{1, 2}, "fluxes"),
		param.MustNew(obs.With("qualifier", "sigmas"), param.TypeFloatArray, []float64{0.5, 0.5}, "sigmas"),
	)
	require.NoError(t, err)

	modelOf := func(values []float64) *paramstore.Set {
		s, err := paramstore.New(param.MustNew(param.Tags{Qualifier: "fluxes", Dataset: "lc01", Kind: "lc"}, param.TypeFloatArray, values, "model"))
		require.NoError(t, err)
		return s
	}

	lnl, ok := lnLikelihood(system, modelOf([]float64{1, 2}))
	require.True(t, ok)
	assert.Equal(t, 0.0, lnl)

	lnl, ok = lnLikelihood(system, modelOf([]float64{1.5, 2}))
	require.True(t, ok)
	assert.InDelta(t, -0.5, lnl, 1e-12)

	_, ok = lnLikelihood(system, modelOf([]float64{1}))
	assert.False(t, ok, "length mismatch")

	lnl, ok = lnLikelihood(system, paramstore.Empty())
	require.True(t, ok, "datasets without a model are skipped")
	assert.Equal(t, 0.0, lnl)
}
