package bundle

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
	"github.com/zclconf/go-cty/cty"
)

// ContinueFromNone is the continue_from value of a fresh solver run.
const ContinueFromNone = "None"

// Solver option qualifiers the bundle keeps in sync with its contents.
const (
	optCompute      = "compute"
	optPriors       = "priors"
	optInitFrom     = "init_from"
	optContinueFrom = "continue_from"
)

// SolverOptions configures a new solver configuration.
type SolverOptions struct {
	// Name defaults to the backend kind followed by a counter: emcee01, ...
	Name      string
	Overwrite bool
	Values    map[string]any
}

// AddSolver adds a solver configuration for the backend kind and returns its
// name. Options referring to other configurations (compute, distributions,
// solutions) offer the labels currently in the bundle.
func (b *Bundle) AddSolver(ctx context.Context, kind string, opts SolverOptions) (string, error) {
	be, err := b.registry.Solver(kind)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	name := opts.Name
	if name == "" {
		name = b.nextLabelLocked(kind, "solver", param.ContextSolver)
	}

	var params []*param.Parameter
	for _, o := range be.Options() {
		p := o.Duplicate()
		p.Tags = param.Tags{Qualifier: o.Qualifier, Solver: name, Kind: kind, Context: param.ContextSolver}
		params = append(params, p)
	}
	staged, err := paramstore.New(params...)
	if err != nil {
		return "", err
	}
	b.refreshSolverChoicesLocked(staged)
	if err := applyValues(staged, opts.Values); err != nil {
		return "", fmt.Errorf("add_solver %s: %w", name, err)
	}

	if err := b.claimLabelLocked(ctx, "solver", param.ContextSolver, name, opts.Overwrite); err != nil {
		return "", err
	}
	if err := b.set.AddAll(params...); err != nil {
		return "", err
	}
	ctxlog.FromContext(ctx).Debug("Added solver.", "kind", kind, "solver", name, "parameters", len(params))
	return name, nil
}

// RemoveSolver removes a solver configuration. Solutions it produced are
// kept.
func (b *Bundle) RemoveSolver(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !slices.Contains(b.labelsLocked("solver", param.ContextSolver), name) {
		return fmt.Errorf("%w: no solver named %q", ErrParameterNotFound, name)
	}
	b.set.Remove(Query{Tags: param.Tags{Solver: name, Context: param.ContextSolver}})
	ctxlog.FromContext(ctx).Debug("Removed solver.", "solver", name)
	return nil
}

// RunSolverOptions configures a solver run.
type RunSolverOptions struct {
	// Solver may be omitted when the bundle has a single solver
	// configuration.
	Solver string
	// Solution defaults to "latest", which is always overwritten.
	Solution  string
	Overwrite bool
	// Overrides temporarily replaces solver options for this run only.
	Overrides map[string]any
}

// RunSolver runs a solver backend synchronously and stores its results in a
// new solution context. When the solver's continue_from option names an
// existing solution the backend extends it; the new solution then holds the
// combined history.
func (b *Bundle) RunSolver(ctx context.Context, opts RunSolverOptions) (string, error) {
	logger := ctxlog.FromContext(ctx)

	b.mu.RLock()
	job, report, err := b.solverJobLocked(opts)
	b.mu.RUnlock()
	if err != nil {
		return "", err
	}
	if !report.Passed {
		return "", &ChecksFailedError{Report: report}
	}

	logger.Info("Running solver.", "solver", job.name, "kind", job.backend.Kind(), "solution", job.solution,
		"compute", job.compute.name, "continue_from", job.continueFrom)
	results, err := job.backend.Run(ctx, &backend.SolverRequest{
		System:   job.compute.system,
		Solver:   job.name,
		Options:  job.options,
		Previous: job.previous,
		Compute:  job.compute.run,
	})
	if err != nil {
		return "", fmt.Errorf("run_solver %s: %w", job.name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.claimResultLabelLocked(ctx, "solution", param.ContextSolution, job.solution, DefaultSolution, opts.Overwrite); err != nil {
		return "", err
	}
	for _, p := range results {
		p.Solution = job.solution
		p.Solver = job.name
		p.Kind = job.backend.Kind()
		p.Context = param.ContextSolution
		p.Readonly = true
		if p.UniqueID == "" {
			p.UniqueID = uuid.NewString()
		}
	}
	if err := b.set.AddAll(results...); err != nil {
		return "", fmt.Errorf("run_solver %s: %w", job.name, err)
	}
	b.refreshChoicesLocked()
	logger.Info("Solver finished.", "solver", job.name, "solution", job.solution, "parameters", len(results))
	return job.solution, nil
}

type solverJob struct {
	name         string
	solution     string
	backend      backend.SolverBackend
	options      *paramstore.Set
	compute      *computeJob
	continueFrom string
	previous     *paramstore.Set
}

func (b *Bundle) solverJobLocked(opts RunSolverOptions) (*solverJob, *CheckReport, error) {
	name, err := b.resolveLabelLocked("solver", param.ContextSolver, opts.Solver)
	if err != nil {
		return nil, nil, err
	}
	solution := opts.Solution
	if solution == "" {
		solution = DefaultSolution
	}
	if err := b.checkResultLabelLocked("solution", param.ContextSolution, solution, DefaultSolution, opts.Overwrite); err != nil {
		return nil, nil, err
	}

	options := b.set.Filter(Query{Tags: param.Tags{Solver: name, Context: param.ContextSolver}, IncludeHidden: true}).Clone()
	kinds := options.Values("kind")
	if len(kinds) == 0 {
		return nil, nil, fmt.Errorf("%w: solver %q has no options", ErrParameterNotFound, name)
	}
	be, err := b.registry.Solver(kinds[0])
	if err != nil {
		return nil, nil, err
	}
	if err := applyValues(options, opts.Overrides); err != nil {
		return nil, nil, fmt.Errorf("solver %s overrides: %w", name, err)
	}

	job := &solverJob{name: name, solution: solution, backend: be, options: options, continueFrom: ContinueFromNone}

	compute := optionString(options, optCompute)
	job.compute, err = b.computeJobLocked(compute, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("solver %s: %w", name, err)
	}

	if cf := optionString(options, optContinueFrom); cf != "" && cf != ContinueFromNone {
		prev := b.set.Filter(Query{Tags: param.Tags{Solution: cf, Context: param.ContextSolution}, IncludeHidden: true})
		if prev.Len() == 0 {
			return nil, nil, fmt.Errorf("%w: solver %s continues from missing solution %q", ErrParameterNotFound, name, cf)
		}
		if kinds := prev.Values("kind"); len(kinds) > 0 && kinds[0] != be.Kind() {
			return nil, nil, fmt.Errorf("%w: solution %q was produced by %s, not %s", ErrInvalidValue, cf, kinds[0], be.Kind())
		}
		job.continueFrom = cf
		job.previous = prev.Clone()
	}

	return job, b.runChecksLocked(), nil
}

// optionString returns the string value of the option with the given
// qualifier, or "" when it is missing or not a string.
func optionString(options *paramstore.Set, qualifier string) string {
	p, err := options.Get(Query{Tags: param.Tags{Qualifier: qualifier}, IncludeHidden: true})
	if err != nil {
		return ""
	}
	s, err := p.StringValue()
	if err != nil {
		return ""
	}
	return s
}

// refreshChoicesLocked updates every solver option whose choices are labels
// of the bundle.
func (b *Bundle) refreshChoicesLocked() {
	b.refreshSolverChoicesLocked(b.set.Filter(Query{Tags: param.Tags{Context: param.ContextSolver}, IncludeHidden: true}))
}

func (b *Bundle) refreshSolverChoicesLocked(options *paramstore.Set) {
	computes := b.labelsLocked("compute", param.ContextCompute)
	dists := b.labelsLocked("distribution", param.ContextDistribution)

	for _, p := range options.All() {
		switch p.Qualifier {
		case optCompute:
			setChoices(p, computes, "")
		case optPriors, optInitFrom:
			setChoices(p, dists, "")
		case optContinueFrom:
			solutions := b.set.Filter(Query{Tags: param.Tags{Kind: p.Kind, Context: param.ContextSolution}, IncludeHidden: true}).Values("solution")
			setChoices(p, append([]string{ContinueFromNone}, solutions...), ContinueFromNone)
		}
	}
}

// setChoices replaces the choices of a choice or select parameter. A choice
// whose value is no longer offered falls back to fallback, or to the first
// choice when fallback is empty; a select drops the missing entries.
func setChoices(p *param.Parameter, choices []string, fallback string) {
	p.Choices = slices.Clone(choices)
	switch p.Type {
	case param.TypeChoice:
		current, _ := p.StringValue()
		if slices.Contains(choices, current) {
			return
		}
		switch {
		case fallback != "":
			p.Value = cty.StringVal(fallback)
		case len(choices) > 0:
			p.Value = cty.StringVal(choices[0])
		default:
			p.Value = cty.StringVal("")
		}
	case param.TypeSelect:
		current, _ := p.Strings()
		kept := slices.DeleteFunc(current, func(s string) bool { return !slices.Contains(choices, s) })
		p.Value = param.StringList(kept)
	}
}

// AdoptSolution sets each fitted parameter of a sampling solution to its
// value in the sample with the highest log-probability, and returns the
// twigs of the parameters set.
func (b *Bundle) AdoptSolution(ctx context.Context, name string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sol := b.set.Filter(Query{Tags: param.Tags{Solution: name, Context: param.ContextSolution}, IncludeHidden: true})
	if sol.Len() == 0 {
		return nil, fmt.Errorf("%w: no solution named %q", ErrParameterNotFound, name)
	}
	ids, err := solutionStrings(sol, "fitted_uniqueids")
	if err != nil {
		return nil, err
	}
	best, _, err := bestSample(sol)
	if err != nil {
		return nil, err
	}
	if len(best) != len(ids) {
		return nil, fmt.Errorf("%w: solution %q has %d fitted parameters but samples of width %d", ErrInvalidValue, name, len(ids), len(best))
	}

	targets := make([]*param.Parameter, len(ids))
	for i, id := range ids {
		p, ok := b.set.ByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: fitted parameter %s of solution %q no longer exists", ErrParameterNotFound, id, name)
		}
		if err := b.checkSettable(p); err != nil {
			return nil, err
		}
		v, err := p.Convert(best[i])
		if err == nil {
			err = p.Validate(v)
		}
		if err != nil {
			return nil, fmt.Errorf("adopt %s: %w", p.Twig(), err)
		}
		targets[i] = p
	}

	twigs := make([]string, len(targets))
	for i, p := range targets {
		_ = p.Set(best[i])
		twigs[i] = p.Twig()
	}
	ctxlog.FromContext(ctx).Info("Adopted solution.", "solution", name, "parameters", twigs)
	return twigs, b.recomputeLocked(ctx, ids...)
}

func solutionParam(sol *paramstore.Set, qualifier string) (*param.Parameter, error) {
	return sol.Get(Query{Tags: param.Tags{Qualifier: qualifier}, IncludeHidden: true})
}

func solutionStrings(sol *paramstore.Set, qualifier string) ([]string, error) {
	p, err := solutionParam(sol, qualifier)
	if err != nil {
		return nil, err
	}
	return p.Strings()
}

// bestSample returns the sample with the highest finite log-probability and
// that log-probability.
func bestSample(sol *paramstore.Set) ([]float64, float64, error) {
	samplesP, err := solutionParam(sol, "samples")
	if err != nil {
		return nil, 0, err
	}
	lnprobP, err := solutionParam(sol, "lnprobabilities")
	if err != nil {
		return nil, 0, err
	}
	samples, err := samplesP.Cube()
	if err != nil {
		return nil, 0, err
	}
	lnprobs, err := lnprobP.Matrix()
	if err != nil {
		return nil, 0, err
	}

	var best []float64
	bestLnp := math.Inf(-1)
	for i, row := range lnprobs {
		for j, lnp := range row {
			if lnp > bestLnp && i < len(samples) && j < len(samples[i]) {
				best, bestLnp = samples[i][j], lnp
			}
		}
	}
	if best == nil {
		return nil, 0, fmt.Errorf("%w: solution has no sample with finite log-probability", ErrInvalidValue)
	}
	return slices.Clone(best), bestLnp, nil
}
