package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

func orbitParam(q string, v float64) *param.Parameter {
	return param.MustNew(param.Tags{Qualifier: q, Component: "binary", Kind: "orbit", Context: param.ContextComponent}, param.TypeFloat, v, "")
}

func starParam(q, star string, v float64) *param.Parameter {
	return param.MustNew(param.Tags{Qualifier: q, Component: star, Kind: "star", Context: param.ContextComponent}, param.TypeFloat, v, "")
}

// newOrbitSet builds an equal-mass binary with one star and attaches the
// given templates.
func newOrbitSet(t *testing.T, templates ...Template) *paramstore.Set {
	t.Helper()
	set, err := paramstore.New(
		param.MustNew(param.Tags{Qualifier: "t0", Context: param.ContextSystem}, param.TypeFloat, 0.0, ""),
		orbitParam("period", 1), orbitParam("freq", 0), orbitParam("sma", 5.3), orbitParam("incl", 90),
		orbitParam("asini", 0), orbitParam("ecc", 0), orbitParam("per0", 0), orbitParam("q", 1),
		starParam("requiv", "primary", 1), starParam("requiv_max", "primary", 0),
	)
	require.NoError(t, err)
	for _, tmpl := range templates {
		c, err := tmpl.Build(set)
		require.NoError(t, err)
		require.NoError(t, Attach(set, c))
	}
	_, err = Recompute(set)
	require.NoError(t, err)
	return set
}

func value(t *testing.T, set *paramstore.Set, twig string) float64 {
	t.Helper()
	p, err := set.Get(paramstore.Query{Twig: twig, Tags: param.Tags{Context: param.ContextComponent}})
	require.NoError(t, err)
	f, err := p.Float()
	require.NoError(t, err)
	return f
}

func template(kind string, templates []Template) Template {
	for _, tmpl := range templates {
		if tmpl.Kind == kind {
			return tmpl
		}
	}
	panic("no template " + kind)
}

func TestRecompute_ChainsThroughDependents(t *testing.T) {
	orbit := Orbit("binary")
	star := Star("primary", "binary", true)
	set := newOrbitSet(t, template("asini", orbit), template("requiv_max", star), Semidetached("primary"))

	assert.InDelta(t, 5.3, value(t, set, "asini@binary"), 1e-9)
	assert.InDelta(t, 2.0083, value(t, set, "requiv_max@primary"), 1e-3)
	assert.InDelta(t, value(t, set, "requiv_max@primary"), value(t, set, "requiv@primary"), 1e-12)

	// Changing sma must flow through requiv_max into the semidetached requiv.
	sma, err := set.Get(paramstore.Twig("sma"))
	require.NoError(t, err)
	require.NoError(t, sma.Set(10.6))

	res, err := Recompute(set, sma.UniqueID)
	require.NoError(t, err)
	assert.Empty(t, res.Problems)
	assert.Len(t, res.Updated, 3)
	assert.InDelta(t, 4.0166, value(t, set, "requiv@primary"), 2e-3)
}

func TestAttach_RejectsConstrainedTarget(t *testing.T) {
	set := newOrbitSet(t, template("asini", Orbit("binary")))

	asini, err := set.Get(paramstore.Twig("asini@component"))
	require.NoError(t, err)
	assert.True(t, asini.IsConstrained())

	c, err := template("asini", Orbit("binary")).Build(set)
	require.NoError(t, err)
	err = Attach(set, c)
	require.ErrorIs(t, err, ErrConstrained)
}

func TestFlip(t *testing.T) {
	set := newOrbitSet(t, template("asini", Orbit("binary")))
	c := All(set)[0]

	sma, err := set.Get(paramstore.Twig("sma"))
	require.NoError(t, err)
	asini, err := set.Get(paramstore.Twig("asini@component"))
	require.NoError(t, err)

	require.NoError(t, Flip(set, c, sma.UniqueID))
	assert.True(t, sma.IsConstrained())
	assert.False(t, asini.IsConstrained())

	require.NoError(t, asini.Set(8.0))
	_, err = Recompute(set, asini.UniqueID)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, value(t, set, "sma@binary"), 1e-9)

	period, err := set.Get(paramstore.Twig("period"))
	require.NoError(t, err)
	require.ErrorIs(t, Flip(set, c, period.UniqueID), ErrNotFlippable)
}

func TestRecompute_ReportsDomainErrors(t *testing.T) {
	set := newOrbitSet(t, template("asini", Orbit("binary")))
	c := All(set)[0]
	incl, err := set.Get(paramstore.Twig("incl@binary"))
	require.NoError(t, err)
	require.NoError(t, Flip(set, c, incl.UniqueID))

	// asini larger than sma has no inclination.
	asini, err := set.Get(paramstore.Twig("asini@component"))
	require.NoError(t, err)
	require.NoError(t, asini.Set(6.0))
	res, err := Recompute(set, asini.UniqueID)
	require.NoError(t, err)
	require.Len(t, res.Problems, 1)
	assert.Contains(t, res.Problems[0].Error(), "incl@binary")
	assert.InDelta(t, 90, value(t, set, "incl@binary"), 1e-9, "value is kept on failure")
}

func TestRestore_RelinksLoadedConstraints(t *testing.T) {
	set := newOrbitSet(t, template("asini", Orbit("binary")))
	clone := set.Clone()

	asini, err := clone.Get(paramstore.Twig("asini@component"))
	require.NoError(t, err)
	asini.ConstrainedBy = ""

	require.NoError(t, Restore(clone))
	assert.True(t, asini.IsConstrained())
}
