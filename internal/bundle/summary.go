package bundle

import (
	"fmt"
	"math"
	"slices"

	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
	"gonum.org/v1/gonum/stat"
)

// ParameterSummary describes the posterior of one fitted parameter.
type ParameterSummary struct {
	Twig   string
	Unit   string
	Mean   float64
	Std    float64
	Median float64
	// Lower and Upper bound the central 68% interval.
	Lower float64
	Upper float64
}

// SolutionSummary summarizes the samples of a sampling solution after
// discarding the first burnin iterations and keeping every thin-th one.
// Samples with non-finite log-probability are skipped. Negative burnin or
// non-positive thin use the values stored in the solution.
func (b *Bundle) SolutionSummary(name string, burnin, thin int) ([]ParameterSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sol := b.set.Filter(Query{Tags: param.Tags{Solution: name, Context: param.ContextSolution}, IncludeHidden: true})
	if sol.Len() == 0 {
		return nil, fmt.Errorf("%w: no solution named %q", ErrParameterNotFound, name)
	}
	twigs, err := solutionStrings(sol, "fitted_twigs")
	if err != nil {
		return nil, err
	}
	units, _ := solutionStrings(sol, "fitted_units")
	if burnin < 0 {
		burnin = solutionInt(sol, "burnin", 0)
	}
	if thin <= 0 {
		thin = max(solutionInt(sol, "thin", 1), 1)
	}

	samplesP, err := solutionParam(sol, "samples")
	if err != nil {
		return nil, err
	}
	lnprobP, err := solutionParam(sol, "lnprobabilities")
	if err != nil {
		return nil, err
	}
	samples, err := samplesP.Cube()
	if err != nil {
		return nil, err
	}
	lnprobs, err := lnprobP.Matrix()
	if err != nil {
		return nil, err
	}

	columns := make([][]float64, len(twigs))
	for i := burnin; i < len(samples) && i < len(lnprobs); i += thin {
		for j, sample := range samples[i] {
			if j >= len(lnprobs[i]) || math.IsInf(lnprobs[i][j], 0) || len(sample) != len(twigs) {
				continue
			}
			for k, v := range sample {
				columns[k] = append(columns[k], v)
			}
		}
	}

	out := make([]ParameterSummary, len(twigs))
	for k, t := range twigs {
		s := ParameterSummary{Twig: t}
		if k < len(units) {
			s.Unit = units[k]
		}
		col := columns[k]
		if len(col) == 0 {
			return nil, fmt.Errorf("%w: no samples remain after burnin=%d thin=%d", ErrInvalidValue, burnin, thin)
		}
		s.Mean, s.Std = stat.MeanStdDev(col, nil)
		if len(col) < 2 {
			s.Std = 0
		}
		slices.Sort(col)
		s.Median = stat.Quantile(0.5, stat.Empirical, col, nil)
		s.Lower = stat.Quantile(0.16, stat.Empirical, col, nil)
		s.Upper = stat.Quantile(0.84, stat.Empirical, col, nil)
		out[k] = s
	}
	return out, nil
}

func solutionInt(sol *paramstore.Set, qualifier string, fallback int) int {
	p, err := solutionParam(sol, qualifier)
	if err != nil {
		return fallback
	}
	n, err := p.Int()
	if err != nil {
		return fallback
	}
	return n
}
