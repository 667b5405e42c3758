package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
)

// ErrUnknownBackend is returned when a kind has no registered backend.
var ErrUnknownBackend = errors.New("unknown backend")

// Module is the interface that all backend modules implement to be
// registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the registered compute and solver backends for a single
// application instance.
type Registry struct {
	compute map[string]ComputeBackend
	solver  map[string]SolverBackend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		compute: make(map[string]ComputeBackend),
		solver:  make(map[string]SolverBackend),
	}
}

// RegisterCompute registers a compute backend under its kind.
func (r *Registry) RegisterCompute(b ComputeBackend) {
	if _, exists := r.compute[b.Kind()]; exists {
		panic(fmt.Sprintf("compute backend '%s' already registered", b.Kind()))
	}
	slog.Debug("Registering compute backend.", "kind", b.Kind())
	r.compute[b.Kind()] = b
}

// RegisterSolver registers a solver backend under its kind.
func (r *Registry) RegisterSolver(b SolverBackend) {
	if _, exists := r.solver[b.Kind()]; exists {
		panic(fmt.Sprintf("solver backend '%s' already registered", b.Kind()))
	}
	slog.Debug("Registering solver backend.", "kind", b.Kind())
	r.solver[b.Kind()] = b
}

// Compute looks up a compute backend.
func (r *Registry) Compute(kind string) (ComputeBackend, error) {
	b, ok := r.compute[kind]
	if !ok {
		return nil, unknown("compute", kind, r.ComputeKinds())
	}
	return b, nil
}

// Solver looks up a solver backend.
func (r *Registry) Solver(kind string) (SolverBackend, error) {
	b, ok := r.solver[kind]
	if !ok {
		return nil, unknown("solver", kind, r.SolverKinds())
	}
	return b, nil
}

// ComputeKinds returns the registered compute kinds, sorted.
func (r *Registry) ComputeKinds() []string {
	return sortedKeys(r.compute)
}

// SolverKinds returns the registered solver kinds, sorted.
func (r *Registry) SolverKinds() []string {
	return sortedKeys(r.solver)
}

// Validate checks that every backend describes a usable set of options:
// each qualifier appears once and every option has a default value.
func (r *Registry) Validate(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	check := func(role, kind string, opts ...[]*param.Parameter) {
		seen := make(map[string]bool)
		for _, o := range slices.Concat(opts...) {
			if o.Qualifier == "" {
				errs = append(errs, fmt.Sprintf("%s backend '%s': option without qualifier", role, kind))
				continue
			}
			if seen[o.Qualifier] {
				errs = append(errs, fmt.Sprintf("%s backend '%s': option '%s' declared twice", role, kind, o.Qualifier))
			}
			seen[o.Qualifier] = true
			if o.Value.IsNull() && o.Type != param.TypeString {
				errs = append(errs, fmt.Sprintf("%s backend '%s': option '%s' has no default", role, kind, o.Qualifier))
			}
		}
		logger.Debug("Validated backend.", "role", role, "kind", kind, "options", len(seen))
	}

	for _, kind := range r.ComputeKinds() {
		opts := r.compute[kind].Options()
		check("compute", kind, opts.Global, opts.PerStar, opts.PerDataset)
	}
	for _, kind := range r.SolverKinds() {
		check("solver", kind, r.solver[kind].Options())
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func unknown(role, kind string, known []string) error {
	var near []string
	for _, k := range known {
		if levenshtein.ComputeDistance(kind, k) <= 2 {
			near = append(near, k)
		}
	}
	msg := fmt.Sprintf("%s backend %q (available: %s)", role, kind, strings.Join(known, ", "))
	if len(near) > 0 {
		msg += fmt.Sprintf("; did you mean %s?", strings.Join(near, ", "))
	}
	return fmt.Errorf("%w: %s", ErrUnknownBackend, msg)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
