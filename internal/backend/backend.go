package backend

import (
	"context"

	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// ComputeRequest is the input to a compute run.
type ComputeRequest struct {
	// System is a snapshot of the bundle: components, datasets, features and
	// constraints, with any temporary overrides already applied.
	System *paramstore.Set
	// Compute is the label of the compute configuration being run.
	Compute string
	// Options holds the compute configuration's parameters.
	Options *paramstore.Set
	// Datasets lists the enabled datasets, in bundle order.
	Datasets []string
}

// Options are the parameters a compute backend adds to a new compute
// configuration. Every call to ComputeBackend.Options returns fresh
// parameters; tags other than qualifier are filled in by the bundle.
type Options struct {
	// Global options are created once per compute configuration.
	Global []*param.Parameter
	// PerStar options are created once per star and tagged with it.
	PerStar []*param.Parameter
	// PerDataset options are created once per dataset, including datasets
	// added after the compute configuration.
	PerDataset []*param.Parameter
}

// ComputeBackend produces synthetic observables for a system.
type ComputeBackend interface {
	Kind() string
	Options() Options
	// Run returns model parameters. Each result carries dataset, component
	// and kind tags; the bundle adds the model name and context.
	Run(ctx context.Context, req *ComputeRequest) ([]*param.Parameter, error)
}

// ComputeFunc runs the forward model on a modified system and returns the
// resulting model parameters. Solvers receive one to evaluate likelihoods.
type ComputeFunc func(ctx context.Context, system *paramstore.Set) (*paramstore.Set, error)

// SolverRequest is the input to a solver run.
type SolverRequest struct {
	System  *paramstore.Set
	Solver  string
	Options *paramstore.Set
	// Previous holds the parameters of the solution being continued, or is
	// nil for a fresh run.
	Previous *paramstore.Set
	// Compute evaluates the forward model with the solver's compute options.
	Compute ComputeFunc
}

// SolverBackend fits parameters of a system.
type SolverBackend interface {
	Kind() string
	// Options returns fresh solver-context parameters. Choices that depend
	// on the bundle (compute labels, distributions, solutions) are refreshed
	// by the bundle.
	Options() []*param.Parameter
	// Run returns solution parameters; the bundle adds the solution name
	// and context.
	Run(ctx context.Context, req *SolverRequest) ([]*param.Parameter, error)
}
