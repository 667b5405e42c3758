// Package emcee provides an affine-invariant ensemble sampler (Goodman &
// Weare 2010, the "stretch move") as a solver backend.
package emcee

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
	"gonum.org/v1/gonum/stat"
)

// Kind is the solver kind this backend registers under.
const Kind = "emcee"

// stretchScale is the a parameter of the stretch move.
const stretchScale = 2.0

// ErrNoFitParameters is returned when fit_parameters is empty.
var ErrNoFitParameters = errors.New("no fit_parameters given")

// Module implements the backend.Module interface for this package.
type Module struct{}

// Register registers the solver backend.
func (m *Module) Register(r *backend.Registry) {
	r.RegisterSolver(&Backend{})
}

// Backend is the emcee solver backend.
type Backend struct{}

func (b *Backend) Kind() string { return Kind }

// Options returns the solver options of an emcee configuration.
func (b *Backend) Options() []*param.Parameter {
	mustChoice := func(qualifier, value string, choices []string, description string, opts ...param.Option) *param.Parameter {
		p, err := param.NewChoice(param.Tags{Qualifier: qualifier}, value, choices, description, opts...)
		if err != nil {
			panic(err)
		}
		return p
	}
	mustSelect := func(qualifier, description string) *param.Parameter {
		p, err := param.NewSelect(param.Tags{Qualifier: qualifier}, []string{}, nil, description)
		if err != nil {
			panic(err)
		}
		return p
	}
	integer := func(qualifier string, value int, description string, opts ...param.Option) *param.Parameter {
		return param.MustNew(param.Tags{Qualifier: qualifier}, param.TypeInt, value, description, opts...)
	}
	return []*param.Parameter{
		mustChoice("compute", "", nil, "Compute options to use when sampling"),
		mustSelect("fit_parameters", "Twigs of the parameters to fit"),
		mustSelect("init_from", "Distributions to initialize the walkers from"),
		mustSelect("priors", "Distributions to use as priors"),
		mustChoice("continue_from", "None", []string{"None"}, "Continue the sampling from an existing solution"),
		integer("continue_from_iter", -1, "Iteration of continue_from to start from; -1 uses the last",
			param.WithVisibleIf("continue_from:!None")),
		integer("nwalkers", 16, "Number of walkers", param.WithLimits(param.Float64(2), nil),
			param.WithVisibleIf("continue_from:None")),
		integer("niters", 100, "Number of iterations", param.WithLimits(param.Float64(1), nil)),
		integer("burnin", 0, "Number of iterations to discard when summarizing", param.WithLimits(param.Float64(0), nil)),
		integer("thin", 1, "Keep every thin-th iteration when summarizing", param.WithLimits(param.Float64(1), nil)),
		integer("seed", 0, "Seed of the random number generator; 0 draws a fresh one"),
	}
}

// Run samples the posterior of the fit parameters. With req.Previous set
// the chains of the previous solution are extended and returned whole.
func (b *Backend) Run(ctx context.Context, req *backend.SolverRequest) ([]*param.Parameter, error) {
	logger := ctxlog.FromContext(ctx).With("backend", Kind, "solver", req.Solver)

	opts, err := readOptions(req.Options)
	if err != nil {
		return nil, err
	}
	var prev *chain
	if req.Previous != nil {
		prev, err = chainFromSolution(req.Previous)
		if err != nil {
			return nil, fmt.Errorf("continue_from: %w", err)
		}
	}

	targets, err := b.targets(req.System, opts, prev)
	if err != nil {
		return nil, err
	}
	priors, err := backend.Distributions(req.System, opts.priors)
	if err != nil {
		return nil, fmt.Errorf("priors: %w", err)
	}

	if opts.seed == 0 {
		opts.seed = freshSeed()
		logger.Debug("Drew a fresh seed.", "seed", opts.seed)
	}
	src := rand.NewPCG(uint64(opts.seed), uint64(opts.seed)^0x9e3779b97f4a7c15)
	if prev != nil {
		src = rand.NewPCG(uint64(opts.seed)+uint64(prev.niters()), uint64(opts.seed)^0x9e3779b97f4a7c15)
	}
	rng := rand.New(src)

	post := &posterior{system: req.System, targets: targets, priors: priors, compute: req.Compute}

	var start [][]float64
	if prev != nil {
		start, err = prev.positions(opts.continueFromIter)
		if err != nil {
			return nil, err
		}
	} else {
		start, err = initialPositions(req.System, targets, opts, src)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("Sampling.", "parameters", len(targets), "walkers", len(start), "iterations", opts.niters)
	run, err := sample(ctx, post, start, opts.niters, rng)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		run = prev.extend(run)
	}
	logger.Info("Sampling finished.", "iterations", run.niters(), "acceptance", stat.Mean(run.acceptance, nil))
	return run.parameters(targets, opts)
}

// freshSeed returns a positive seed from the runtime's entropy-seeded
// generator. It is stored with the solution so the run can be repeated.
func freshSeed() int {
	return int(rand.Int32N(math.MaxInt32-1)) + 1
}

// target is a fitted parameter.
type target struct {
	uniqueid string
	twig     string
	unit     string
}

func (b *Backend) targets(system *paramstore.Set, opts *options, prev *chain) ([]target, error) {
	if prev != nil {
		out := make([]target, len(prev.uniqueids))
		for i, id := range prev.uniqueids {
			p, ok := system.ByID(id)
			if !ok {
				return nil, fmt.Errorf("%w: fitted parameter %s no longer exists", paramstore.ErrParameterNotFound, prev.twigs[i])
			}
			if p.IsConstrained() {
				return nil, fmt.Errorf("fitted parameter %s is now constrained", p.Twig())
			}
			out[i] = target{uniqueid: id, twig: prev.twigs[i], unit: p.Unit}
		}
		return out, nil
	}
	if len(opts.fitParameters) == 0 {
		return nil, ErrNoFitParameters
	}
	out := make([]target, 0, len(opts.fitParameters))
	seen := make(map[string]bool)
	for _, twig := range opts.fitParameters {
		p, err := backend.ResolveFittable(system, twig)
		if err != nil {
			return nil, fmt.Errorf("fit_parameters %q: %w", twig, err)
		}
		if seen[p.UniqueID] {
			return nil, fmt.Errorf("fit_parameters: %s listed twice", p.Twig())
		}
		seen[p.UniqueID] = true
		out = append(out, target{uniqueid: p.UniqueID, twig: p.Twig(), unit: p.Unit})
	}
	return out, nil
}

// initialPositions draws each walker from the init_from distributions. A
// parameter without one starts in a small ball around its current value.
func initialPositions(system *paramstore.Set, targets []target, opts *options, src rand.Source) ([][]float64, error) {
	dists, err := backend.Distributions(system, opts.initFrom)
	if err != nil {
		return nil, fmt.Errorf("init_from: %w", err)
	}
	samplers := make([]func() float64, len(targets))
	for i, t := range targets {
		if d, ok := dists[t.uniqueid]; ok {
			samplers[i] = d.Sampler(src).Rand
			continue
		}
		p, _ := system.ByID(t.uniqueid)
		v, err := p.Float()
		if err != nil {
			return nil, err
		}
		scale := 1e-4 * math.Max(math.Abs(v), 1)
		samplers[i] = param.Gaussian(v, scale).Sampler(src).Rand
	}

	walkers := make([][]float64, opts.nwalkers)
	for w := range walkers {
		walkers[w] = make([]float64, len(targets))
		for i, draw := range samplers {
			walkers[w][i] = draw()
		}
	}
	return walkers, nil
}
