package bundle_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/bundle"
	"github.com/vk/starbundle/internal/expr"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/modules/emcee"
	"github.com/vk/starbundle/modules/phoebe"
	"github.com/zclconf/go-cty/cty"
)

var ctyEqual = cmp.Comparer(func(a, b cty.Value) bool { return a.RawEquals(b) })

func newRegistry(t *testing.T) *backend.Registry {
	t.Helper()
	reg := backend.NewRegistry()
	(&phoebe.Module{}).Register(reg)
	(&emcee.Module{}).Register(reg)
	require.NoError(t, reg.Validate(context.Background()))
	return reg
}

func defaultBinary(t *testing.T) *bundle.Bundle {
	t.Helper()
	b, err := bundle.DefaultBinary(context.Background(), newRegistry(t))
	require.NoError(t, err)
	return b
}

// comp selects a component parameter, excluding constraints sharing its
// qualifier.
func comp(qualifier, component string) bundle.Query {
	return bundle.Query{Tags: param.Tags{Qualifier: qualifier, Component: component, Context: param.ContextComponent}}
}

func getFloat(t *testing.T, b *bundle.Bundle, q bundle.Query) float64 {
	t.Helper()
	f, err := b.GetFloat(q)
	require.NoError(t, err)
	return f
}

func TestDefaultBinary(t *testing.T) {
	b := defaultBinary(t)

	orbit, stars := b.Hierarchy()
	assert.Equal(t, bundle.DefaultOrbit, orbit)
	assert.Equal(t, []string{bundle.DefaultPrimary, bundle.DefaultSecondary}, stars)
	assert.Equal(t, []string{"phoebe01"}, b.Computes())
	assert.Empty(t, b.Datasets())

	// Eggleton's Roche lobe for q = 1 at sma = 5.3.
	assert.InDelta(t, 2.0083, getFloat(t, b, comp("requiv_max", bundle.DefaultPrimary)), 1e-3)
	assert.InDelta(t, 2*3.141592653589793, getFloat(t, b, comp("freq", bundle.DefaultOrbit)), 1e-12)
	assert.True(t, b.RunChecks().Passed)
}

func TestDefaultStar(t *testing.T) {
	b, err := bundle.DefaultStar(context.Background(), newRegistry(t))
	require.NoError(t, err)

	orbit, stars := b.Hierarchy()
	assert.Empty(t, orbit)
	assert.Equal(t, []string{bundle.DefaultSingleStar}, stars)
	_, err = b.GetParameter(comp("requiv_max", bundle.DefaultSingleStar))
	assert.ErrorIs(t, err, bundle.ErrParameterNotFound)

	report := b.RunChecks()
	assert.True(t, report.Passed, report.String())
}

func TestDefaultBinary_WithoutComputeBackend(t *testing.T) {
	b, err := bundle.DefaultBinary(context.Background(), backend.NewRegistry())
	require.NoError(t, err)
	assert.Empty(t, b.Computes())
}

func TestSetValue_ThenGet(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	require.NoError(t, b.SetValue(ctx, comp("teff", bundle.DefaultPrimary), 7500))
	assert.Equal(t, 7500.0, getFloat(t, b, comp("teff", bundle.DefaultPrimary)))
	assert.Equal(t, 6000.0, getFloat(t, b, comp("teff", bundle.DefaultSecondary)), "other star untouched")

	p, err := b.Get("teff@primary")
	require.NoError(t, err)
	assert.Equal(t, "K", p.Unit)
}

func TestSetValue_Errors(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	err := b.SetValue(ctx, comp("ecc", bundle.DefaultOrbit), 1.0)
	assert.ErrorIs(t, err, bundle.ErrInvalidValue)
	assert.Equal(t, 0.0, getFloat(t, b, comp("ecc", bundle.DefaultOrbit)), "rejected value is not stored")

	err = b.SetValue(ctx, comp("requiv_max", bundle.DefaultPrimary), 3)
	assert.ErrorIs(t, err, bundle.ErrConstrained)

	err = b.SetValue(ctx, bundle.Twig("teff"), 5000)
	assert.ErrorIs(t, err, bundle.ErrAmbiguous)

	err = b.SetValue(ctx, bundle.Twig("tef@primary"), 5000)
	var notFound *bundle.ParameterNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Suggestions, "teff")
}

func TestSetValue_RecomputesConstraints(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	require.NoError(t, b.SetValue(ctx, comp("sma", bundle.DefaultOrbit), 10))
	want := expr.RequivL1(1, 10, 0)
	assert.InDelta(t, want, getFloat(t, b, comp("requiv_max", bundle.DefaultPrimary)), 1e-12)
	assert.InDelta(t, want, getFloat(t, b, comp("requiv_max", bundle.DefaultSecondary)), 1e-12)
	assert.InDelta(t, 10.0, getFloat(t, b, comp("asini", bundle.DefaultOrbit)), 1e-12)

	require.NoError(t, b.SetValue(ctx, comp("period", bundle.DefaultOrbit), 2))
	assert.InDelta(t, 3.141592653589793, getFloat(t, b, comp("freq", bundle.DefaultOrbit)), 1e-12)
	assert.InDelta(t, 2.0, getFloat(t, b, comp("period", bundle.DefaultPrimary)), 1e-12, "synchronous rotation follows the orbit")
}

func TestSetValueAll(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	n, err := b.SetValueAll(ctx, bundle.Query{Tags: param.Tags{Qualifier: "teff", Context: param.ContextComponent}}, 4500)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, star := range []string{bundle.DefaultPrimary, bundle.DefaultSecondary} {
		assert.Equal(t, 4500.0, getFloat(t, b, comp("teff", star)))
	}

	_, err = b.SetValueAll(ctx, bundle.Query{Tags: param.Tags{Qualifier: "teff", Context: param.ContextComponent}}, 10)
	assert.ErrorIs(t, err, bundle.ErrInvalidValue)
	assert.Equal(t, 4500.0, getFloat(t, b, comp("teff", bundle.DefaultPrimary)), "nothing is stored when one value fails")
}

func TestFilter_ReturnsCopies(t *testing.T) {
	b := defaultBinary(t)

	stars := b.Filter(bundle.Query{Tags: param.Tags{Qualifier: "teff", Context: param.ContextComponent}})
	require.Equal(t, 2, stars.Len())
	require.NoError(t, stars.All()[0].Set(9000))
	assert.Equal(t, 6000.0, getFloat(t, b, comp("teff", bundle.DefaultPrimary)))
}

func TestNameCollisions(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	_, err := b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{Name: "obs"})
	require.NoError(t, err)
	_, err = b.AddSpot(ctx, bundle.FeatureOptions{Name: "spot", Component: bundle.DefaultPrimary})
	require.NoError(t, err)
	_, err = b.AddCompute(ctx, phoebe.Kind, bundle.ComputeOptions{Name: "fast"})
	require.NoError(t, err)
	_, err = b.AddSolver(ctx, emcee.Kind, bundle.SolverOptions{Name: "mcmc"})
	require.NoError(t, err)
	_, err = b.AddDistribution(ctx, bundle.DistributionOptions{Twig: "sma@binary", Distribution: param.Gaussian(5.3, 0.1)})
	require.NoError(t, err)

	tests := []struct {
		name string
		add  func(overwrite bool) error
	}{
		{"dataset", func(o bool) error {
			_, err := b.AddDataset(ctx, bundle.KindRV, bundle.DatasetOptions{Name: "obs", Overwrite: o})
			return err
		}},
		{"feature", func(o bool) error {
			_, err := b.AddSpot(ctx, bundle.FeatureOptions{Name: "spot", Component: bundle.DefaultSecondary, Overwrite: o})
			return err
		}},
		{"compute", func(o bool) error {
			_, err := b.AddCompute(ctx, phoebe.Kind, bundle.ComputeOptions{Name: "fast", Overwrite: o})
			return err
		}},
		{"solver", func(o bool) error {
			_, err := b.AddSolver(ctx, emcee.Kind, bundle.SolverOptions{Name: "mcmc", Overwrite: o})
			return err
		}},
		{"distribution", func(o bool) error {
			_, err := b.AddDistribution(ctx, bundle.DistributionOptions{Twig: "sma@binary", Distribution: param.Uniform(5, 6), Overwrite: o})
			return err
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := b.Len()
			assert.ErrorIs(t, tc.add(false), bundle.ErrNameCollision)
			assert.Equal(t, before, b.Len(), "a rejected add leaves the bundle unchanged")
			assert.NoError(t, tc.add(true))
		})
	}

	// The overwritten dataset is now an rv dataset.
	p, err := b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "rvs", Dataset: "obs", Component: bundle.DefaultPrimary}})
	require.NoError(t, err)
	assert.Equal(t, bundle.KindRV, p.Kind)
	d, err := b.GetDistribution("sma@binary", bundle.DefaultDists)
	require.NoError(t, err)
	assert.Equal(t, param.Uniform(5, 6), d)
}

func TestAddDataset(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	name, err := b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{Values: map[string]any{
		"times": []float64{0, 0.25, 0.5},
		"l3":    0.1,
	}})
	require.NoError(t, err)
	assert.Equal(t, "lc01", name)
	name, err = b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "lc02", name)

	times, err := b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "times", Dataset: "lc01", Context: param.ContextDataset}})
	require.NoError(t, err)
	got, err := times.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5}, got)

	// Existing computes gain the per-dataset options of the new dataset.
	enabled, err := b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "enabled", Dataset: "lc02", Compute: "phoebe01"}})
	require.NoError(t, err)
	assert.True(t, enabled.Value.True())

	_, err = b.AddDataset(ctx, "orb", bundle.DatasetOptions{})
	assert.ErrorIs(t, err, bundle.ErrUnknownKind)
	_, err = b.AddDataset(ctx, bundle.KindRV, bundle.DatasetOptions{Components: []string{"tertiary"}})
	assert.ErrorIs(t, err, bundle.ErrInvalidValue)
	_, err = b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{Values: map[string]any{"flux": 1}})
	assert.ErrorIs(t, err, bundle.ErrParameterNotFound)

	require.NoError(t, b.RemoveDataset(ctx, "lc02"))
	assert.Equal(t, []string{"lc01"}, b.Datasets())
	_, err = b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "enabled", Dataset: "lc02"}})
	assert.ErrorIs(t, err, bundle.ErrParameterNotFound)
}

func TestAddDataset_UnregisteredComputeLeavesBundleUntouched(t *testing.T) {
	ctx := context.Background()
	// A saved bundle whose phoebe01 configuration has no backend here.
	reg := backend.NewRegistry()
	(&emcee.Module{}).Register(reg)
	b, err := bundle.FromSet(ctx, reg, defaultBinary(t).Filter(bundle.Query{IncludeHidden: true}))
	require.NoError(t, err)
	before := b.Len()

	_, err = b.AddDataset(ctx, bundle.KindLC, bundle.DatasetOptions{Values: map[string]any{"times": []float64{0}}})

	require.ErrorIs(t, err, backend.ErrUnknownBackend)
	assert.Empty(t, b.Datasets())
	assert.Equal(t, before, b.Len(), "no dataset parameters are left behind")
}

func TestAddSpot(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	_, err := b.AddSpot(ctx, bundle.FeatureOptions{})
	assert.ErrorIs(t, err, bundle.ErrInvalidValue, "a binary needs an explicit component")

	name, err := b.AddSpot(ctx, bundle.FeatureOptions{Component: bundle.DefaultPrimary, Values: map[string]any{
		"colon":   45,
		"radius":  20,
		"relteff": 0.8,
	}})
	require.NoError(t, err)
	assert.Equal(t, "spot01", name)
	long, err := b.GetFloat(bundle.Query{Tags: param.Tags{Qualifier: "long", Feature: name}})
	require.NoError(t, err)
	assert.Equal(t, 45.0, long)

	_, err = b.AddFeature(ctx, "pulsation", bundle.FeatureOptions{Component: bundle.DefaultPrimary})
	assert.ErrorIs(t, err, bundle.ErrUnknownKind)
}

func TestFlipConstraint(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	require.NoError(t, b.FlipConstraint(ctx, "mass@primary", "sma"))
	err := b.SetValue(ctx, comp("sma", bundle.DefaultOrbit), 6)
	assert.ErrorIs(t, err, bundle.ErrConstrained)

	require.NoError(t, b.SetValue(ctx, comp("mass", bundle.DefaultPrimary), 2))
	assert.InDelta(t, expr.KeplerSMA(4, 1), getFloat(t, b, comp("sma", bundle.DefaultOrbit)), 1e-9)
	assert.InDelta(t, 2.0, getFloat(t, b, comp("mass", bundle.DefaultSecondary)), 1e-9)

	err = b.FlipConstraint(ctx, "requiv_max@primary", "sma")
	assert.Error(t, err)
}

func TestAddConstraint_Semidetached(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	twig, err := b.AddConstraint(ctx, bundle.ConstraintSemidetached, bundle.DefaultPrimary)
	require.NoError(t, err)
	requivMax := getFloat(t, b, comp("requiv_max", bundle.DefaultPrimary))
	assert.InDelta(t, requivMax, getFloat(t, b, comp("requiv", bundle.DefaultPrimary)), 1e-12)

	require.NoError(t, b.SetValue(ctx, comp("sma", bundle.DefaultOrbit), 8))
	assert.InDelta(t, getFloat(t, b, comp("requiv_max", bundle.DefaultPrimary)),
		getFloat(t, b, comp("requiv", bundle.DefaultPrimary)), 1e-12)
	assert.True(t, b.RunChecks().Passed, "a semidetached star sits exactly at its Roche lobe")

	require.NoError(t, b.RemoveConstraint(ctx, twig))
	require.NoError(t, b.SetValue(ctx, comp("requiv", bundle.DefaultPrimary), 1.5))
}

func TestSetValue_ConstraintExpression(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	q := bundle.Query{Tags: param.Tags{Qualifier: "freq", Component: bundle.DefaultOrbit, Context: param.ContextConstraint}}
	require.NoError(t, b.SetValue(ctx, q, "4 * pi / period"))
	assert.InDelta(t, 4*3.141592653589793, getFloat(t, b, comp("freq", bundle.DefaultOrbit)), 1e-12)

	err := b.SetValue(ctx, q, "2 * pi / sma")
	assert.Error(t, err, "expressions may only use the constraint's variables")
	assert.InDelta(t, 4*3.141592653589793, getFloat(t, b, comp("freq", bundle.DefaultOrbit)), 1e-12)
}

func TestDistributions(t *testing.T) {
	ctx := context.Background()
	b := defaultBinary(t)

	_, err := b.AddDistribution(ctx, bundle.DistributionOptions{Twig: "sma@binary", Distribution: param.Uniform(2, 1)})
	assert.ErrorIs(t, err, bundle.ErrInvalidValue)
	_, err = b.AddDistribution(ctx, bundle.DistributionOptions{Twig: "requiv_max@primary", Distribution: param.Uniform(1, 2)})
	assert.Error(t, err, "constrained parameters cannot be fitted")

	name, err := b.AddDistribution(ctx, bundle.DistributionOptions{Twig: "teff@primary", Distribution: param.Gaussian(6000, 100), Name: "priors"})
	require.NoError(t, err)
	assert.Equal(t, "priors", name)
	assert.Equal(t, []string{"priors"}, b.Distributions())

	d, err := b.GetDistribution("teff@primary", "priors")
	require.NoError(t, err)
	assert.Equal(t, param.Gaussian(6000, 100), d)

	require.NoError(t, b.RemoveDistribution(ctx, "priors"))
	assert.Empty(t, b.Distributions())
	assert.ErrorIs(t, b.RemoveDistribution(ctx, "priors"), bundle.ErrParameterNotFound)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	b, err := bundle.DefaultBinary(ctx, reg)
	require.NoError(t, err)
	require.NoError(t, b.SetValue(ctx, comp("sma", bundle.DefaultOrbit), 7.5))
	_, err = b.AddDataset(ctx, bundle.KindRV, bundle.DatasetOptions{Values: map[string]any{
		"times": []float64{0, 0.25},
	}})
	require.NoError(t, err)
	_, err = b.AddSpot(ctx, bundle.FeatureOptions{Component: bundle.DefaultSecondary})
	require.NoError(t, err)
	_, err = b.AddDistribution(ctx, bundle.DistributionOptions{Twig: "teff@primary", Distribution: param.Uniform(5000, 7000)})
	require.NoError(t, err)
	require.NoError(t, b.FlipConstraint(ctx, "mass@primary", "sma"))
	_, err = b.RunCompute(ctx, bundle.RunComputeOptions{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "binary.bundle")
	require.NoError(t, b.Save(ctx, path))
	loaded, err := bundle.Load(ctx, reg, path)
	require.NoError(t, err)

	assert.Equal(t, b.Len(), loaded.Len())
	if diff := cmp.Diff(b.Filter(bundle.Query{}).All(), loaded.Filter(bundle.Query{}).All(), ctyEqual, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("loaded bundle differs (-saved +loaded):\n%s", diff)
	}

	// Constraint links survive: sma is still driven by mass@primary.
	err = loaded.SetValue(ctx, comp("sma", bundle.DefaultOrbit), 6)
	assert.ErrorIs(t, err, bundle.ErrConstrained)
	require.NoError(t, loaded.SetValue(ctx, comp("mass", bundle.DefaultPrimary), 2))
	assert.InDelta(t, expr.KeplerSMA(2+getFloat(t, loaded, comp("mass", bundle.DefaultSecondary)), 1),
		getFloat(t, loaded, comp("sma", bundle.DefaultOrbit)), 1e-9)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := bundle.Load(context.Background(), newRegistry(t), filepath.Join(t.TempDir(), "missing.bundle"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, bundle.ErrParameterNotFound))
}
