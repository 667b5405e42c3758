package paramstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/param"
)

func float(q, component, context string, v float64) *param.Parameter {
	return param.MustNew(param.Tags{Qualifier: q, Component: component, Context: context}, param.TypeFloat, v, "")
}

func newTestSet(t *testing.T) *Set {
	t.Helper()
	s, err := New(
		float("requiv", "primary", param.ContextComponent, 1),
		float("requiv", "secondary", param.ContextComponent, 1),
		float("requiv_max", "primary", param.ContextComponent, 2.01),
		float("sma", "binary", param.ContextComponent, 5.3),
		float("ecc", "binary", param.ContextComponent, 0),
	)
	require.NoError(t, err)
	return s
}

func TestSet_AddRejectsDuplicateKey(t *testing.T) {
	s := newTestSet(t)
	err := s.Add(float("sma", "binary", param.ContextComponent, 10))
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, 5, s.Len())
}

func TestSet_AddAllIsAtomic(t *testing.T) {
	s := newTestSet(t)
	err := s.AddAll(
		float("teff", "primary", param.ContextComponent, 6000),
		float("sma", "binary", param.ContextComponent, 10),
	)
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, 5, s.Len(), "no parameter should be added on failure")
}

func TestSet_FilterByTwigAndTags(t *testing.T) {
	s := newTestSet(t)

	testCases := []struct {
		name     string
		query    Query
		expected []string
	}{
		{"qualifier twig", Twig("requiv"), []string{"requiv@primary@component", "requiv@secondary@component"}},
		{"twig with component", Twig("requiv@primary"), []string{"requiv@primary@component"}},
		{"tags", Query{Tags: param.Tags{Component: "binary"}}, []string{"sma@binary@component", "ecc@binary@component"}},
		{"glob", Twig("requiv*@primary"), []string{"requiv@primary@component", "requiv_max@primary@component"}},
		{"no match", Twig("teff"), nil},
		{"malformed twig matches nothing", Twig("requiv@@primary"), nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Filter(tc.query).Twigs()
			if tc.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestSet_GetErrors(t *testing.T) {
	s := newTestSet(t)

	p, err := s.Get(Twig("requiv@secondary"))
	require.NoError(t, err)
	assert.Equal(t, "secondary", p.Component)

	_, err = s.Get(Twig("requiv"))
	require.ErrorIs(t, err, ErrAmbiguous)
	require.ErrorIs(t, err, ErrParameterNotFound)

	_, err = s.Get(Twig("requv"))
	require.ErrorIs(t, err, ErrParameterNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Suggestions, "requiv")
	assert.Contains(t, err.Error(), "did you mean")
}

func TestSet_Remove(t *testing.T) {
	s := newTestSet(t)
	removed := s.Remove(Query{Tags: param.Tags{Component: "primary"}})
	assert.Len(t, removed, 2)
	assert.Equal(t, 3, s.Len())

	_, ok := s.ByID(removed[0].UniqueID)
	assert.False(t, ok)

	// The removed key can be reused.
	require.NoError(t, s.Add(float("requiv", "primary", param.ContextComponent, 1.5)))
}

func TestSet_FilterHonoursVisibility(t *testing.T) {
	tags := param.Tags{Solver: "emcee01", Kind: "emcee", Context: param.ContextSolver}
	cont := param.MustNew(tags.With("qualifier", "continue_from"), param.TypeString, "None", "")
	nwalkers := param.MustNew(tags.With("qualifier", "nwalkers"), param.TypeInt, 16, "", param.WithVisibleIf("continue_from:None"))
	iter := param.MustNew(tags.With("qualifier", "continue_from_iter"), param.TypeInt, -1, "", param.WithVisibleIf("continue_from:!None"))

	s, err := New(cont, nwalkers, iter)
	require.NoError(t, err)

	assert.Equal(t, []string{"continue_from", "nwalkers"}, s.Filter(Query{Tags: param.Tags{Solver: "emcee01"}}).Values("qualifier"))

	require.NoError(t, cont.Set("emcee_sol"))
	assert.Equal(t, []string{"continue_from", "continue_from_iter"}, s.Filter(Query{Tags: param.Tags{Solver: "emcee01"}}).Values("qualifier"))

	// Views keep resolving siblings against the root set.
	view := s.Filter(Query{Twig: "continue_from_iter"})
	assert.Equal(t, 1, view.Filter(Query{}).Len())

	assert.Equal(t, 3, s.Filter(Query{Tags: param.Tags{Solver: "emcee01"}, IncludeHidden: true}).Len())
}

func TestSet_CloneIsIndependent(t *testing.T) {
	s := newTestSet(t)
	c := s.Clone()
	p, err := c.Get(Twig("sma"))
	require.NoError(t, err)
	require.NoError(t, p.Set(10.0))

	orig, err := s.Get(Twig("sma"))
	require.NoError(t, err)
	f, _ := orig.Float()
	assert.Equal(t, 5.3, f)
}

// TestSet_ConcurrentAccess verifies that the set can be safely accessed by
// multiple goroutines simultaneously without data races or lost writes.
func TestSet_ConcurrentAccess(t *testing.T) {
	s := Empty()
	numGoroutines := 100
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			p := float(fmt.Sprintf("q%d", i), "c", param.ContextComponent, float64(i))
			assert.NoError(t, s.Add(p))
		}(i)
	}
	wg.Wait()

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			p, err := s.Get(Twig(fmt.Sprintf("q%d", i)))
			if assert.NoError(t, err) {
				f, _ := p.Float()
				assert.Equal(t, float64(i), f)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, numGoroutines, s.Len())
}
