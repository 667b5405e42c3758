package phoebe_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/bundle"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/modules/phoebe"
)

func newRegistry() *backend.Registry {
	r := backend.NewRegistry()
	(&phoebe.Module{}).Register(r)
	return r
}

func modelFloats(t *testing.T, b *bundle.Bundle, tags param.Tags) []float64 {
	t.Helper()
	tags.Context = param.ContextModel
	p, err := b.GetParameter(bundle.Query{Tags: tags})
	require.NoError(t, err)
	v, err := p.Floats()
	require.NoError(t, err)
	return v
}

func TestOptions_AreValid(t *testing.T) {
	require.NoError(t, newRegistry().Validate(context.Background()))
}

func TestRun_RadialVelocities(t *testing.T) {
	ctx := context.Background()
	b, err := bundle.DefaultBinary(ctx, newRegistry())
	require.NoError(t, err)

	times := []float64{0, 0.25, 0.5, 0.75}
	_, err = b.AddDataset(ctx, bundle.KindRV, bundle.DatasetOptions{Values: map[string]any{"times": times}})
	require.NoError(t, err)
	_, err = b.RunCompute(ctx, bundle.RunComputeOptions{})
	require.NoError(t, err)

	primary := modelFloats(t, b, param.Tags{Qualifier: "rvs", Component: bundle.DefaultPrimary})
	secondary := modelFloats(t, b, param.Tags{Qualifier: "rvs", Component: bundle.DefaultSecondary})
	require.Len(t, primary, len(times))
	require.Len(t, secondary, len(times))

	// q = 1: both stars move with half the relative semi-amplitude.
	k := 2 * math.Pi * 5.3 / 1 * 6.957e5 / 86400 / 2
	maxAbs := 0.0
	for i := range times {
		assert.InDelta(t, -primary[i], secondary[i], 1e-9, "index %d", i)
		maxAbs = math.Max(maxAbs, math.Abs(primary[i]))
	}
	assert.InDelta(t, k, maxAbs, 1e-6)
	// Conjunctions have no line-of-sight velocity.
	assert.InDelta(t, 0, primary[0], 1e-9)
	assert.InDelta(t, 0, primary[2], 1e-9)
}

func TestRun_LightCurveEclipse(t *testing.T) {
	ctx := context.Background()
	b, err := bundle.DefaultBinary(ctx, newRegistry())
	require.NoError(t, err)

	_, err = b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{Values: map[string]any{"times": []float64{0, 0.25, 0.5}}})
	require.NoError(t, err)
	_, err = b.RunCompute(ctx, bundle.RunComputeOptions{})
	require.NoError(t, err)

	fluxes := modelFloats(t, b, param.Tags{Qualifier: "fluxes", Dataset: "lc01"})
	require.Len(t, fluxes, 3)
	// Identical stars, edge-on: each conjunction hides one full disk.
	assert.InDelta(t, 0.5, fluxes[0], 1e-6)
	assert.InDelta(t, 1.0, fluxes[1], 1e-9)
	assert.InDelta(t, 0.5, fluxes[2], 1e-6)
}

func TestRun_ThirdLightAndDisabledDataset(t *testing.T) {
	ctx := context.Background()
	b, err := bundle.DefaultBinary(ctx, newRegistry())
	require.NoError(t, err)

	_, err = b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{
		Name:   "bright",
		Values: map[string]any{"times": []float64{0.25}, "l3": 2.0},
	})
	require.NoError(t, err)
	_, err = b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{
		Name:   "off",
		Values: map[string]any{"times": []float64{0.25}},
	})
	require.NoError(t, err)
	require.NoError(t, b.SetValue(ctx, bundle.Query{Tags: param.Tags{Qualifier: "enabled", Dataset: "off", Context: param.ContextCompute}}, false))

	_, err = b.RunCompute(ctx, bundle.RunComputeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []float64{3}, modelFloats(t, b, param.Tags{Qualifier: "fluxes", Dataset: "bright"}))
	_, err = b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "fluxes", Dataset: "off", Context: param.ContextModel}})
	assert.ErrorIs(t, err, bundle.ErrParameterNotFound)
}

func TestRun_SpotModulation(t *testing.T) {
	ctx := context.Background()
	b, err := bundle.DefaultStar(ctx, newRegistry())
	require.NoError(t, err)

	_, err = b.AddSpot(ctx, bundle.FeatureOptions{Values: map[string]any{
		"colat":   90.0,
		"long":    0.0,
		"radius":  30.0,
		"relteff": 0.9,
	}})
	require.NoError(t, err)
	_, err = b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{Values: map[string]any{"times": []float64{0, 0.5}}})
	require.NoError(t, err)
	_, err = b.RunCompute(ctx, bundle.RunComputeOptions{})
	require.NoError(t, err)

	fluxes := modelFloats(t, b, param.Tags{Qualifier: "fluxes", Dataset: "lc01"})
	want := 1 + (math.Pow(0.9, 4)-1)*2*(1-math.Cos(math.Pi/6))
	assert.InDelta(t, want, fluxes[0], 1e-9, "spot faces the observer")
	assert.InDelta(t, 1.0, fluxes[1], 1e-9, "spot on the far side")
}

func TestRun_Mesh(t *testing.T) {
	ctx := context.Background()
	b, err := bundle.DefaultStar(ctx, newRegistry())
	require.NoError(t, err)

	n, err := b.SetValueAll(ctx, bundle.Twig("ntriangles@phoebe"), 200)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = b.AddDataset(ctx, bundle.KindMesh, bundle.DatasetOptions{Values: map[string]any{
		"times":   []float64{0, 0.1},
		"columns": []string{"areas", "mus", "teffs"},
	}})
	require.NoError(t, err)
	_, err = b.RunCompute(ctx, bundle.RunComputeOptions{})
	require.NoError(t, err)

	areas, err := b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "areas", Context: param.ContextModel}})
	require.NoError(t, err)
	rows, err := areas.Matrix()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, rows[0], 200)
	total := 0.0
	for _, a := range rows[0] {
		total += a
	}
	assert.InDelta(t, 4*math.Pi, total, 1e-9)

	_, err = b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "rs", Context: param.ContextModel}})
	assert.ErrorIs(t, err, bundle.ErrParameterNotFound, "only requested columns are exposed")
}

func TestRun_Overflow(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()
	b, err := bundle.DefaultBinary(ctx, reg)
	require.NoError(t, err)
	require.NoError(t, b.SetValue(ctx, bundle.Twig("requiv@primary"), 3.0))

	be, err := reg.Compute(phoebe.Kind)
	require.NoError(t, err)
	_, err = be.Run(ctx, &backend.ComputeRequest{
		System:  b.Filter(bundle.Query{IncludeHidden: true}),
		Compute: bundle.DefaultCompute,
		Options: b.Filter(bundle.Query{Tags: param.Tags{Context: param.ContextCompute}, IncludeHidden: true}),
	})
	assert.ErrorIs(t, err, phoebe.ErrOverflow)
}

func TestRun_Cancelled(t *testing.T) {
	reg := newRegistry()
	b, err := bundle.DefaultStar(context.Background(), reg)
	require.NoError(t, err)
	_, err = b.AddDataset(context.Background(), bundle.KindLC, bundle.DatasetOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.RunCompute(ctx, bundle.RunComputeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
