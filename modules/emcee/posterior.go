package emcee

import (
	"context"
	"errors"
	"math"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// observables pairs each observed quantity with the model quantity it is
// compared against.
var observables = []string{"fluxes", "rvs"}

// posterior evaluates the log-probability of a parameter vector.
type posterior struct {
	system  *paramstore.Set
	targets []target
	priors  map[string]param.Distribution
	compute backend.ComputeFunc
}

// lnProb returns the log prior plus the Gaussian log-likelihood of the
// observations. Parameter vectors the forward model rejects score -Inf.
// Only a cancelled context is returned as an error.
func (p *posterior) lnProb(ctx context.Context, theta []float64) (float64, error) {
	lnp := 0.0
	for i, t := range p.targets {
		if d, ok := p.priors[t.uniqueid]; ok {
			lnp += d.LogProb(theta[i])
		}
	}
	if math.IsInf(lnp, -1) || math.IsNaN(lnp) {
		return math.Inf(-1), nil
	}

	sys := p.system.Clone()
	for i, t := range p.targets {
		target, ok := sys.ByID(t.uniqueid)
		if !ok {
			return math.Inf(-1), nil
		}
		if err := target.Set(theta[i]); err != nil {
			return math.Inf(-1), nil
		}
	}

	model, err := p.compute(ctx, sys)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return math.Inf(-1), nil
	}
	lnl, ok := lnLikelihood(sys, model)
	if !ok {
		return math.Inf(-1), nil
	}
	return lnp + lnl, nil
}

// lnLikelihood compares every non-empty observation in system with model.
// Missing sigmas count as unit uncertainties. It reports false when a model
// does not match the length of its observation.
func lnLikelihood(system, model *paramstore.Set) (float64, bool) {
	chi2 := 0.0
	for _, q := range observables {
		obsParams := system.Filter(paramstore.Query{Tags: param.Tags{Qualifier: q, Context: param.ContextDataset}, IncludeHidden: true})
		for _, obs := range obsParams.All() {
			y, err := obs.Floats()
			if err != nil || len(y) == 0 {
				continue
			}
			m, err := model.Get(paramstore.Query{
				Tags:          param.Tags{Qualifier: q, Dataset: obs.Dataset, Component: obs.Component},
				IncludeHidden: true,
			})
			if err != nil {
				// Dataset disabled in the compute options.
				continue
			}
			mv, err := m.Floats()
			if err != nil || len(mv) != len(y) {
				return 0, false
			}
			sigmas := unitSigmas(len(y))
			if sp, err := system.Get(paramstore.Query{Tags: obs.Tags.With("qualifier", "sigmas"), IncludeHidden: true}); err == nil {
				if s, err := sp.Floats(); err == nil && len(s) == len(y) {
					sigmas = s
				}
			}
			for i := range y {
				r := (y[i] - mv[i]) / sigmas[i]
				chi2 += r * r
			}
		}
	}
	if math.IsNaN(chi2) || math.IsInf(chi2, 0) {
		return 0, false
	}
	return -0.5 * chi2, true
}

func unitSigmas(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
