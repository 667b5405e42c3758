package bundle

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/constraint"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// systemContexts are the contexts handed to backends.
var systemContexts = []string{
	param.ContextSystem,
	param.ContextComponent,
	param.ContextConstraint,
	param.ContextDataset,
	param.ContextFeature,
	param.ContextDistribution,
}

// ComputeOptions configures a new compute configuration.
type ComputeOptions struct {
	// Name defaults to the backend kind followed by a counter: phoebe01, ...
	Name      string
	Overwrite bool
	// Values maps twigs, resolved within the new configuration, to values.
	Values map[string]any
}

// AddCompute adds a compute configuration for the backend kind and returns
// its name.
func (b *Bundle) AddCompute(ctx context.Context, kind string, opts ComputeOptions) (string, error) {
	be, err := b.registry.Compute(kind)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	name := opts.Name
	if name == "" {
		name = b.nextLabelLocked(kind, "compute", param.ContextCompute)
	}

	tag := func(o *param.Parameter, component, dataset string) *param.Parameter {
		p := o.Duplicate()
		p.Tags = param.Tags{Qualifier: o.Qualifier, Component: component, Dataset: dataset, Compute: name, Kind: kind, Context: param.ContextCompute}
		return p
	}
	options := be.Options()
	_, stars := backend.Hierarchy(b.set)
	var params []*param.Parameter
	for _, o := range options.Global {
		params = append(params, tag(o, "", ""))
	}
	for _, star := range stars {
		for _, o := range options.PerStar {
			params = append(params, tag(o, star, ""))
		}
	}
	for _, dataset := range b.labelsLocked("dataset", param.ContextDataset) {
		for _, o := range options.PerDataset {
			params = append(params, tag(o, "", dataset))
		}
	}

	staged, err := paramstore.New(params...)
	if err != nil {
		return "", err
	}
	if err := applyValues(staged, opts.Values); err != nil {
		return "", fmt.Errorf("add_compute %s: %w", name, err)
	}

	if err := b.claimLabelLocked(ctx, "compute", param.ContextCompute, name, opts.Overwrite); err != nil {
		return "", err
	}
	if err := b.set.AddAll(params...); err != nil {
		return "", err
	}
	b.refreshChoicesLocked()
	ctxlog.FromContext(ctx).Debug("Added compute.", "kind", kind, "compute", name, "parameters", len(params))
	return name, nil
}

// RemoveCompute removes a compute configuration. Models it produced are
// kept.
func (b *Bundle) RemoveCompute(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !slices.Contains(b.labelsLocked("compute", param.ContextCompute), name) {
		return fmt.Errorf("%w: no compute named %q", ErrParameterNotFound, name)
	}
	b.set.Remove(Query{Tags: param.Tags{Compute: name, Context: param.ContextCompute}})
	b.refreshChoicesLocked()
	ctxlog.FromContext(ctx).Debug("Removed compute.", "compute", name)
	return nil
}

// RunComputeOptions configures a compute run.
type RunComputeOptions struct {
	// Compute may be omitted when the bundle has a single compute
	// configuration.
	Compute string
	// Model defaults to "latest", which is always overwritten.
	Model     string
	Overwrite bool
	// Overrides temporarily replaces compute options for this run only. Keys
	// are twigs resolved within the compute configuration.
	Overrides map[string]any
}

// RunCompute runs the compute backend synchronously and stores its results
// in a new model context. It fails with ErrChecksFailed, wrapping the check
// report, when RunChecks does not pass.
func (b *Bundle) RunCompute(ctx context.Context, opts RunComputeOptions) (string, error) {
	logger := ctxlog.FromContext(ctx)

	b.mu.RLock()
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	err := b.checkResultLabelLocked("model", param.ContextModel, model, DefaultModel, opts.Overwrite)
	var (
		job    *computeJob
		report *CheckReport
	)
	if err == nil {
		job, err = b.computeJobLocked(opts.Compute, opts.Overrides)
	}
	if err == nil {
		report = b.runComputeChecksLocked()
	}
	b.mu.RUnlock()
	if err != nil {
		return "", err
	}
	if !report.Passed {
		return "", &ChecksFailedError{Report: report}
	}

	logger.Info("Running compute.", "compute", job.name, "kind", job.backend.Kind(), "model", model, "datasets", job.datasets)
	results, err := job.backend.Run(ctx, &backend.ComputeRequest{
		System:   job.system,
		Compute:  job.name,
		Options:  job.options,
		Datasets: job.datasets,
	})
	if err != nil {
		return "", fmt.Errorf("run_compute %s: %w", job.name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.claimResultLabelLocked(ctx, "model", param.ContextModel, model, DefaultModel, opts.Overwrite); err != nil {
		return "", err
	}
	for _, p := range results {
		p.Model = model
		p.Compute = job.name
		p.Context = param.ContextModel
		p.Readonly = true
		if p.UniqueID == "" {
			p.UniqueID = uuid.NewString()
		}
	}
	if err := b.set.AddAll(results...); err != nil {
		return "", fmt.Errorf("run_compute %s: %w", job.name, err)
	}
	logger.Info("Compute finished.", "compute", job.name, "model", model, "parameters", len(results))
	return model, nil
}

// computeJob is everything a compute run needs, captured under the lock.
type computeJob struct {
	name     string
	backend  backend.ComputeBackend
	system   *paramstore.Set
	options  *paramstore.Set
	datasets []string
}

// run evaluates the forward model on a modified system. Constraints are
// recomputed first; a constraint problem fails the evaluation.
func (j *computeJob) run(ctx context.Context, system *paramstore.Set) (*paramstore.Set, error) {
	sys := system.Clone()
	res, err := constraint.Recompute(sys)
	if err != nil {
		return nil, err
	}
	if len(res.Problems) > 0 {
		return nil, res.Problems[0]
	}
	out, err := j.backend.Run(ctx, &backend.ComputeRequest{
		System:   sys,
		Compute:  j.name,
		Options:  j.options,
		Datasets: j.datasets,
	})
	if err != nil {
		return nil, err
	}
	return paramstore.New(out...)
}

func (b *Bundle) computeJobLocked(name string, overrides map[string]any) (*computeJob, error) {
	name, err := b.resolveLabelLocked("compute", param.ContextCompute, name)
	if err != nil {
		return nil, err
	}
	kind, err := b.computeKindLocked(name)
	if err != nil {
		return nil, err
	}
	be, err := b.registry.Compute(kind)
	if err != nil {
		return nil, err
	}

	options := b.set.Filter(Query{Tags: param.Tags{Compute: name, Context: param.ContextCompute}, IncludeHidden: true}).Clone()
	if err := applyValues(options, overrides); err != nil {
		return nil, fmt.Errorf("compute %s overrides: %w", name, err)
	}

	var datasets []string
	for _, d := range b.labelsLocked("dataset", param.ContextDataset) {
		enabled, err := options.Get(Query{Tags: param.Tags{Qualifier: "enabled", Dataset: d}, IncludeHidden: true})
		if err == nil {
			if on, err := enabled.Bool(); err == nil && !on {
				continue
			}
		}
		datasets = append(datasets, d)
	}

	return &computeJob{
		name:     name,
		backend:  be,
		system:   b.systemSnapshotLocked(),
		options:  options,
		datasets: datasets,
	}, nil
}

// systemSnapshotLocked clones the parameters describing the system.
func (b *Bundle) systemSnapshotLocked() *paramstore.Set {
	out := paramstore.Empty()
	for _, p := range b.set.All() {
		if slices.Contains(systemContexts, p.Context) {
			_ = out.Add(p.Clone())
		}
	}
	return out
}

// resolveLabelLocked returns name, or the only label of its kind when name
// is empty.
func (b *Bundle) resolveLabelLocked(tag, context, name string) (string, error) {
	labels := b.labelsLocked(tag, context)
	if name == "" {
		switch len(labels) {
		case 0:
			return "", fmt.Errorf("%w: bundle has no %s configuration", ErrParameterNotFound, tag)
		case 1:
			return labels[0], nil
		}
		return "", fmt.Errorf("%w: %s must be one of %v", ErrAmbiguous, tag, labels)
	}
	if !slices.Contains(labels, name) {
		return "", fmt.Errorf("%w: no %s named %q (available: %v)", ErrParameterNotFound, tag, name, labels)
	}
	return name, nil
}

// checkResultLabelLocked reports whether a result label may be written.
// The default label is always overwritable.
func (b *Bundle) checkResultLabelLocked(tag, context, name, always string, overwrite bool) error {
	if name == always || overwrite {
		return nil
	}
	if slices.Contains(b.labelsLocked(tag, context), name) {
		return fmt.Errorf("%w: %s %q already exists; set overwrite to replace it", ErrNameCollision, tag, name)
	}
	return nil
}

func (b *Bundle) claimResultLabelLocked(ctx context.Context, tag, context, name, always string, overwrite bool) error {
	return b.claimLabelLocked(ctx, tag, context, name, overwrite || name == always)
}
