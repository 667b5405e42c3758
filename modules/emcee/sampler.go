package emcee

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// chain is the history of an ensemble.
type chain struct {
	uniqueids []string
	twigs     []string
	// samples is indexed [iteration][walker][parameter].
	samples [][][]float64
	// lnprobs is indexed [iteration][walker].
	lnprobs    [][]float64
	acceptance []float64
}

func (c *chain) niters() int { return len(c.samples) }

// positions returns a copy of the walkers at iteration iter; -1 selects the
// last iteration.
func (c *chain) positions(iter int) ([][]float64, error) {
	if iter < 0 {
		iter = c.niters() + iter
	}
	if iter < 0 || iter >= c.niters() {
		return nil, fmt.Errorf("%w: continue_from_iter out of range for %d iterations", param.ErrInvalidValue, c.niters())
	}
	out := make([][]float64, len(c.samples[iter]))
	for w, s := range c.samples[iter] {
		out[w] = slices.Clone(s)
	}
	return out, nil
}

// extend appends run to c. Acceptance fractions are weighted by the number
// of iterations of each part.
func (c *chain) extend(run *chain) *chain {
	n0, n1 := float64(c.niters()), float64(run.niters())
	acc := make([]float64, len(run.acceptance))
	for w := range acc {
		prev := 0.0
		if w < len(c.acceptance) {
			prev = c.acceptance[w]
		}
		acc[w] = (prev*n0 + run.acceptance[w]*n1) / (n0 + n1)
	}
	return &chain{
		uniqueids:  c.uniqueids,
		twigs:      c.twigs,
		samples:    slices.Concat(c.samples, run.samples),
		lnprobs:    slices.Concat(c.lnprobs, run.lnprobs),
		acceptance: acc,
	}
}

// sample advances the walkers in start by niters stretch moves each.
func sample(ctx context.Context, post *posterior, start [][]float64, niters int, rng *rand.Rand) (*chain, error) {
	nw := len(start)
	if nw < 2 {
		return nil, fmt.Errorf("%w: at least 2 walkers are required, got %d", param.ErrInvalidValue, nw)
	}
	dim := len(start[0])

	pos := make([][]float64, nw)
	lnp := make([]float64, nw)
	for w := range start {
		pos[w] = slices.Clone(start[w])
		v, err := post.lnProb(ctx, pos[w])
		if err != nil {
			return nil, err
		}
		lnp[w] = v
	}

	c := &chain{}
	accepted := make([]int, nw)
	for range niters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for k := range nw {
			j := rng.IntN(nw - 1)
			if j >= k {
				j++
			}
			u := rng.Float64()
			z := math.Pow((stretchScale-1)*u+1, 2) / stretchScale
			proposal := make([]float64, dim)
			for i := range proposal {
				proposal[i] = pos[j][i] + z*(pos[k][i]-pos[j][i])
			}
			lnpy, err := post.lnProb(ctx, proposal)
			if err != nil {
				return nil, err
			}
			if math.IsInf(lnpy, -1) {
				continue
			}
			lnq := float64(dim-1)*math.Log(z) + lnpy - lnp[k]
			if math.Log(rng.Float64()) < lnq {
				pos[k], lnp[k] = proposal, lnpy
				accepted[k]++
			}
		}
		snapshot := make([][]float64, nw)
		for w := range pos {
			snapshot[w] = slices.Clone(pos[w])
		}
		c.samples = append(c.samples, snapshot)
		c.lnprobs = append(c.lnprobs, slices.Clone(lnp))
	}

	c.acceptance = make([]float64, nw)
	for w, a := range accepted {
		c.acceptance[w] = float64(a) / float64(max(niters, 1))
	}
	return c, nil
}

// parameters renders the chain as solution parameters.
func (c *chain) parameters(targets []target, opts *options) ([]*param.Parameter, error) {
	ids := make([]string, len(targets))
	twigs := make([]string, len(targets))
	units := make([]string, len(targets))
	for i, t := range targets {
		ids[i], twigs[i], units[i] = t.uniqueid, t.twig, t.unit
	}
	nwalkers := 0
	if c.niters() > 0 {
		nwalkers = len(c.samples[0])
	}

	type spec struct {
		qualifier   string
		typ         param.Type
		value       any
		description string
	}
	specs := []spec{
		{"fitted_twigs", param.TypeArray, twigs, "Twigs of the fitted parameters"},
		{"fitted_uniqueids", param.TypeArray, ids, "Uniqueids of the fitted parameters"},
		{"fitted_units", param.TypeArray, units, "Units of the fitted parameters"},
		{"samples", param.TypeArray, param.Cube(c.samples), "Samples indexed [iteration][walker][parameter]"},
		{"lnprobabilities", param.TypeArray, param.Matrix(c.lnprobs), "Log-probabilities indexed [iteration][walker]"},
		{"acceptance_fractions", param.TypeFloatArray, c.acceptance, "Fraction of accepted proposals per walker"},
		{"niters", param.TypeInt, c.niters(), "Total number of iterations"},
		{"nwalkers", param.TypeInt, nwalkers, "Number of walkers"},
		{"burnin", param.TypeInt, opts.burnin, "Iterations to discard when summarizing"},
		{"thin", param.TypeInt, opts.thin, "Thinning when summarizing"},
		{"seed", param.TypeInt, opts.seed, "Seed the sampler ran with"},
	}
	out := make([]*param.Parameter, 0, len(specs))
	for _, s := range specs {
		p, err := param.New(param.Tags{Qualifier: s.qualifier}, s.typ, s.value, s.description)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// chainFromSolution reads back a chain written by parameters.
func chainFromSolution(sol *paramstore.Set) (*chain, error) {
	get := func(qualifier string) (*param.Parameter, error) {
		return sol.Get(paramstore.Query{Tags: param.Tags{Qualifier: qualifier}, IncludeHidden: true})
	}
	c := &chain{}
	p, err := get("fitted_uniqueids")
	if err != nil {
		return nil, err
	}
	if c.uniqueids, err = p.Strings(); err != nil {
		return nil, err
	}
	if p, err = get("fitted_twigs"); err != nil {
		return nil, err
	}
	if c.twigs, err = p.Strings(); err != nil {
		return nil, err
	}
	if p, err = get("samples"); err != nil {
		return nil, err
	}
	if c.samples, err = p.Cube(); err != nil {
		return nil, err
	}
	if p, err = get("lnprobabilities"); err != nil {
		return nil, err
	}
	if c.lnprobs, err = p.Matrix(); err != nil {
		return nil, err
	}
	if p, err = get("acceptance_fractions"); err != nil {
		return nil, err
	}
	if c.acceptance, err = p.Floats(); err != nil {
		return nil, err
	}
	if c.niters() == 0 {
		return nil, fmt.Errorf("%w: solution has no samples", param.ErrInvalidValue)
	}
	if len(c.twigs) != len(c.uniqueids) {
		return nil, fmt.Errorf("%w: solution lists %d twigs for %d uniqueids", param.ErrInvalidValue, len(c.twigs), len(c.uniqueids))
	}
	return c, nil
}
