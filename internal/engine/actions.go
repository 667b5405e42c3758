package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/starbundle/internal/bundle"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/zclconf/go-cty/cty"
)

// DefaultHandlers returns the handler table of every script action.
func DefaultHandlers() *Handlers {
	h := NewHandlers()
	h.Register("bundle", handle(bundleInput{Kind: "binary"}, runBundle))
	h.Register("save", handle(saveInput{}, runSave))
	h.Register("print", handle(printInput{}, runPrint))

	h.Register("get_value", handle(queryInput{}, runGetValue))
	h.Register("set_value", handle(setValueInput{}, runSetValue))
	h.Register("set_value_all", handle(setValueInput{}, runSetValueAll))

	h.Register("add_dataset", handle(addInput{}, runAddDataset))
	h.Register("remove_dataset", handle(nameInput{}, runRemove((*bundle.Bundle).RemoveDataset)))
	h.Register("add_feature", handle(addFeatureInput{Kind: bundle.KindSpot}, runAddFeature))
	h.Register("remove_feature", handle(nameInput{}, runRemove((*bundle.Bundle).RemoveFeature)))
	h.Register("add_compute", handle(addInput{}, runAddCompute))
	h.Register("remove_compute", handle(nameInput{}, runRemove((*bundle.Bundle).RemoveCompute)))
	h.Register("add_solver", handle(addInput{}, runAddSolver))
	h.Register("remove_solver", handle(nameInput{}, runRemove((*bundle.Bundle).RemoveSolver)))
	h.Register("add_distribution", handle(addDistributionInput{}, runAddDistribution))
	h.Register("remove_distribution", handle(nameInput{}, runRemove((*bundle.Bundle).RemoveDistribution)))

	h.Register("add_constraint", handle(addConstraintInput{}, runAddConstraint))
	h.Register("remove_constraint", handle(twigInput{}, runRemoveConstraint))
	h.Register("flip_constraint", handle(flipInput{}, runFlipConstraint))

	h.Register("run_checks", handle(runChecksInput{}, runChecks))
	h.Register("run_compute", handle(runComputeInput{}, runCompute))
	h.Register("run_solver", handle(runSolverInput{}, runSolver))
	h.Register("adopt_solution", handle(solutionInput{}, runAdoptSolution))
	h.Register("summary", handle(summaryInput{Burnin: -1, Thin: -1}, runSummary))
	h.Register("plot", handle(plotInput{}, runPlot))
	return h
}

type bundleInput struct {
	// Kind is binary or star. Ignored when Path is set.
	Kind string `sb:"kind,optional"`
	Path string `sb:"path,optional"`
}

func runBundle(ctx context.Context, s *State, in *bundleInput) (any, error) {
	var (
		b   *bundle.Bundle
		err error
	)
	switch {
	case in.Path != "":
		b, err = bundle.Load(ctx, s.Registry, in.Path)
	case in.Kind == "binary":
		b, err = bundle.DefaultBinary(ctx, s.Registry)
	case in.Kind == "star":
		b, err = bundle.DefaultStar(ctx, s.Registry)
	default:
		return nil, fmt.Errorf("%w: bundle kind %q (expected binary or star)", bundle.ErrUnknownKind, in.Kind)
	}
	if err != nil {
		return nil, err
	}
	if s.Bundle != nil {
		ctxlog.FromContext(ctx).Warn("Replacing the current bundle.")
	}
	s.Bundle = b

	orbit, stars := b.Hierarchy()
	return cty.ObjectVal(map[string]cty.Value{
		"orbit": cty.StringVal(orbit),
		"stars": param.StringList(stars),
	}), nil
}

type saveInput struct {
	Path string `sb:"path"`
}

func runSave(ctx context.Context, s *State, in *saveInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return in.Path, b.Save(ctx, in.Path)
}

type printInput struct {
	Twig          string `sb:"twig,optional"`
	Context       string `sb:"context,optional"`
	IncludeHidden bool   `sb:"include_hidden,optional"`
}

func runPrint(ctx context.Context, s *State, in *printInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	q := bundle.Query{Twig: in.Twig, Tags: param.Tags{Context: in.Context}, IncludeHidden: in.IncludeHidden}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	set := b.Filter(q)
	fmt.Fprint(s.Out, set.String())
	return set.Len(), nil
}

type queryInput struct {
	Twig    string `sb:"twig"`
	Context string `sb:"context,optional"`
}

func (in queryInput) query() bundle.Query {
	return bundle.Query{Twig: in.Twig, Tags: param.Tags{Context: in.Context}}
}

func runGetValue(ctx context.Context, s *State, in *queryInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return b.GetValue(in.query())
}

type setValueInput struct {
	Twig    string    `sb:"twig"`
	Context string    `sb:"context,optional"`
	Value   cty.Value `sb:"value"`
}

func (in setValueInput) query() bundle.Query {
	return queryInput{Twig: in.Twig, Context: in.Context}.query()
}

func runSetValue(ctx context.Context, s *State, in *setValueInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	if err := b.SetValue(ctx, in.query(), in.Value); err != nil {
		return nil, err
	}
	return b.GetValue(in.query())
}

func runSetValueAll(ctx context.Context, s *State, in *setValueInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return b.SetValueAll(ctx, in.query(), in.Value)
}

// addInput is shared by add_dataset, add_compute and add_solver.
type addInput struct {
	Kind       string               `sb:"kind"`
	Name       string               `sb:"name,optional"`
	Overwrite  bool                 `sb:"overwrite,optional"`
	Components []string             `sb:"components,optional"`
	Values     map[string]cty.Value `sb:"values,optional"`
}

func runAddDataset(ctx context.Context, s *State, in *addInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return b.AddDataset(ctx, in.Kind, bundle.DatasetOptions{
		Name:       in.Name,
		Overwrite:  in.Overwrite,
		Components: in.Components,
		Values:     plain(in.Values),
	})
}

func runAddCompute(ctx context.Context, s *State, in *addInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	if len(in.Components) > 0 {
		return nil, fmt.Errorf("%w: components only applies to datasets", bundle.ErrInvalidValue)
	}
	return b.AddCompute(ctx, in.Kind, bundle.ComputeOptions{Name: in.Name, Overwrite: in.Overwrite, Values: plain(in.Values)})
}

func runAddSolver(ctx context.Context, s *State, in *addInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	if len(in.Components) > 0 {
		return nil, fmt.Errorf("%w: components only applies to datasets", bundle.ErrInvalidValue)
	}
	return b.AddSolver(ctx, in.Kind, bundle.SolverOptions{Name: in.Name, Overwrite: in.Overwrite, Values: plain(in.Values)})
}

type addFeatureInput struct {
	Kind      string               `sb:"kind,optional"`
	Name      string               `sb:"name,optional"`
	Overwrite bool                 `sb:"overwrite,optional"`
	Component string               `sb:"component,optional"`
	Values    map[string]cty.Value `sb:"values,optional"`
}

func runAddFeature(ctx context.Context, s *State, in *addFeatureInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return b.AddFeature(ctx, in.Kind, bundle.FeatureOptions{
		Name:      in.Name,
		Overwrite: in.Overwrite,
		Component: in.Component,
		Values:    plain(in.Values),
	})
}

type addDistributionInput struct {
	Twig string `sb:"twig"`
	// Distribution is built with uniform() or gaussian().
	Distribution cty.Value `sb:"distribution"`
	Name         string    `sb:"name,optional"`
	Overwrite    bool      `sb:"overwrite,optional"`
}

func runAddDistribution(ctx context.Context, s *State, in *addDistributionInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	dist, err := param.DistributionFromCty(in.Distribution)
	if err != nil {
		return nil, err
	}
	return b.AddDistribution(ctx, bundle.DistributionOptions{
		Twig:         in.Twig,
		Distribution: dist,
		Name:         in.Name,
		Overwrite:    in.Overwrite,
	})
}

type nameInput struct {
	Name string `sb:"name"`
}

func runRemove(remove func(*bundle.Bundle, context.Context, string) error) func(context.Context, *State, *nameInput) (any, error) {
	return func(ctx context.Context, s *State, in *nameInput) (any, error) {
		b, err := s.bundle()
		if err != nil {
			return nil, err
		}
		return nil, remove(b, ctx, in.Name)
	}
}

type addConstraintInput struct {
	Kind      string `sb:"kind"`
	Component string `sb:"component"`
}

func runAddConstraint(ctx context.Context, s *State, in *addConstraintInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return b.AddConstraint(ctx, in.Kind, in.Component)
}

type twigInput struct {
	Twig string `sb:"twig"`
}

func runRemoveConstraint(ctx context.Context, s *State, in *twigInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return nil, b.RemoveConstraint(ctx, in.Twig)
}

type flipInput struct {
	Twig     string `sb:"twig"`
	SolveFor string `sb:"solve_for"`
}

func runFlipConstraint(ctx context.Context, s *State, in *flipInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return nil, b.FlipConstraint(ctx, in.Twig, in.SolveFor)
}

type runChecksInput struct {
	// Raise turns a failed report into a step failure.
	Raise bool `sb:"raise,optional"`
}

func runChecks(ctx context.Context, s *State, in *runChecksInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	report := b.RunChecks()
	fmt.Fprintln(s.Out, report.Render())
	if in.Raise && !report.Passed {
		return nil, &bundle.ChecksFailedError{Report: report}
	}
	return report.Passed, nil
}

type runComputeInput struct {
	Compute   string               `sb:"compute,optional"`
	Model     string               `sb:"model,optional"`
	Overwrite bool                 `sb:"overwrite,optional"`
	Overrides map[string]cty.Value `sb:"overrides,optional"`
}

func runCompute(ctx context.Context, s *State, in *runComputeInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return b.RunCompute(ctx, bundle.RunComputeOptions{
		Compute:   in.Compute,
		Model:     in.Model,
		Overwrite: in.Overwrite,
		Overrides: plain(in.Overrides),
	})
}

type runSolverInput struct {
	Solver    string               `sb:"solver,optional"`
	Solution  string               `sb:"solution,optional"`
	Overwrite bool                 `sb:"overwrite,optional"`
	Overrides map[string]cty.Value `sb:"overrides,optional"`
}

func runSolver(ctx context.Context, s *State, in *runSolverInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return b.RunSolver(ctx, bundle.RunSolverOptions{
		Solver:    in.Solver,
		Solution:  in.Solution,
		Overwrite: in.Overwrite,
		Overrides: plain(in.Overrides),
	})
}

type solutionInput struct {
	Solution string `sb:"solution"`
}

func runAdoptSolution(ctx context.Context, s *State, in *solutionInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	return b.AdoptSolution(ctx, in.Solution)
}

type summaryInput struct {
	Solution string `sb:"solution"`
	Burnin   int    `sb:"burnin,optional"`
	Thin     int    `sb:"thin,optional"`
}

func runSummary(ctx context.Context, s *State, in *summaryInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	rows, err := b.SolutionSummary(in.Solution, in.Burnin, in.Thin)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(s.Out, renderSummary(rows))
	return len(rows), nil
}

type plotInput struct {
	Twig      string `sb:"twig,optional"`
	Context   string `sb:"context,optional"`
	X         string `sb:"x,optional"`
	Y         string `sb:"y,optional"`
	Style     string `sb:"style,optional"`
	TimeIndex int    `sb:"time_index,optional"`
	// Path receives the series as CSV. They go to the output when empty.
	Path string `sb:"path,optional"`
}

func runPlot(ctx context.Context, s *State, in *plotInput) (any, error) {
	b, err := s.bundle()
	if err != nil {
		return nil, err
	}
	series, err := b.Plot(bundle.PlotOptions{
		Query:     bundle.Query{Twig: in.Twig, Tags: param.Tags{Context: in.Context}},
		X:         in.X,
		Y:         in.Y,
		Style:     in.Style,
		TimeIndex: in.TimeIndex,
	})
	if err != nil {
		return nil, err
	}
	if in.Path == "" {
		return len(series), bundle.WriteCSV(s.Out, series)
	}

	f, err := os.Create(in.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create plot file: %w", err)
	}
	defer f.Close()
	if err := bundle.WriteCSV(f, series); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("Wrote plot data.", "path", in.Path, "series", len(series))
	return len(series), f.Close()
}

// plain widens decoded argument maps for the bundle API.
func plain(values map[string]cty.Value) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
