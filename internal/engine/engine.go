package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/bundle"
	"github.com/vk/starbundle/internal/config"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/expr"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

var (
	// ErrUnknownAction is returned for a step whose action has no handler.
	ErrUnknownAction = errors.New("unknown action")
	// ErrNoBundle is returned when a step needs a bundle before any
	// bundle step ran.
	ErrNoBundle = errors.New("no bundle; start the script with a bundle step")
)

// State is what handlers operate on.
type State struct {
	Bundle   *bundle.Bundle
	Registry *backend.Registry
	Out      io.Writer
}

// bundle returns the current bundle or ErrNoBundle.
func (s *State) bundle() (*bundle.Bundle, error) {
	if s.Bundle == nil {
		return nil, ErrNoBundle
	}
	return s.Bundle, nil
}

// Engine executes scripts step by step.
type Engine struct {
	converter config.Converter
	handlers  *Handlers
	functions map[string]function.Function
	state     *State
	outputs   map[string]map[string]cty.Value

	done  atomic.Int64
	total atomic.Int64
}

// New creates an engine whose bundles use the backends of reg. Output of
// print, summary, checks and plot steps goes to out.
func New(reg *backend.Registry, converter config.Converter, out io.Writer) *Engine {
	funcs := expr.ScriptFunctions()
	maps.Copy(funcs, distributionFunctions())
	return &Engine{
		converter: converter,
		handlers:  DefaultHandlers(),
		functions: funcs,
		state:     &State{Registry: reg, Out: out},
		outputs:   make(map[string]map[string]cty.Value),
	}
}

// Bundle returns the bundle the script built, or nil before a bundle step.
func (e *Engine) Bundle() *bundle.Bundle {
	return e.state.Bundle
}

// Output returns the output of a finished step.
func (e *Engine) Output(action, name string) (cty.Value, bool) {
	v, ok := e.outputs[action][name]
	return v, ok
}

// Progress reports how many steps of the running script have finished. It
// is safe to call from other goroutines.
func (e *Engine) Progress() (done, total int) {
	return int(e.done.Load()), int(e.total.Load())
}

// Validate checks that every step names a known action and passes only
// arguments that action accepts. Nothing runs if it fails.
func (e *Engine) Validate(script *config.Script) error {
	var errs []error
	for _, step := range script.Steps {
		handler, err := e.handlers.Lookup(step.Action)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %s: %w", step.Range, step.Address(), err))
			continue
		}
		if err := e.converter.CheckArguments(handler.NewInput(), step.Arguments); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.Address(), err))
		}
	}
	return errors.Join(errs...)
}

// Run executes the steps of script in order and stops at the first failure.
func (e *Engine) Run(ctx context.Context, script *config.Script) error {
	logger := ctxlog.FromContext(ctx)
	if err := e.Validate(script); err != nil {
		return err
	}
	vars, err := e.evalVars(script.Vars)
	if err != nil {
		return err
	}
	logger.Debug("Script variables evaluated.", "count", len(vars))

	e.done.Store(0)
	e.total.Store(int64(len(script.Steps)))
	for _, step := range script.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runStep(ctx, step, vars); err != nil {
			return fmt.Errorf("%s: %s failed: %w", step.Range, step.Address(), err)
		}
		e.done.Add(1)
	}
	logger.Debug("Script finished.", "steps", len(script.Steps))
	return nil
}

func (e *Engine) runStep(ctx context.Context, step *config.Step, vars map[string]cty.Value) error {
	logger := ctxlog.FromContext(ctx).With("step", step.Address())
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Info("Starting step.")

	handler, err := e.handlers.Lookup(step.Action)
	if err != nil {
		return err
	}
	input := handler.NewInput()
	if err := e.converter.DecodeBody(ctx, input, step.Arguments, e.evalContext(vars)); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}

	native, err := handler.Fn(ctx, e.state, input)
	if err != nil {
		return err
	}
	output := cty.NullVal(cty.DynamicPseudoType)
	if native != nil {
		if output, err = e.converter.ToCtyValue(native); err != nil {
			return fmt.Errorf("failed to convert output: %w", err)
		}
	}
	if e.outputs[step.Action] == nil {
		e.outputs[step.Action] = make(map[string]cty.Value)
	}
	e.outputs[step.Action][step.Name] = output

	logger.Info("Finished step.")
	return nil
}

// evalVars evaluates script variables. Variables see constants and
// functions but not each other.
func (e *Engine) evalVars(raw map[string]hcl.Expression) (map[string]cty.Value, error) {
	evalCtx := expr.NewEvalContext(nil, e.functions)
	out := make(map[string]cty.Value, len(raw))
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		v, diags := raw[name].Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("variable %q: %w", name, diags)
		}
		out[name] = v
	}
	return out, nil
}

// evalContext exposes var.* and the outputs of finished steps.
func (e *Engine) evalContext(vars map[string]cty.Value) *hcl.EvalContext {
	steps := make(map[string]cty.Value, len(e.outputs))
	for action, byName := range e.outputs {
		instances := make(map[string]cty.Value, len(byName))
		for name, output := range byName {
			instances[name] = cty.ObjectVal(map[string]cty.Value{"output": output})
		}
		steps[action] = cty.ObjectVal(instances)
	}
	return expr.NewEvalContext(map[string]cty.Value{
		"var":  cty.ObjectVal(vars),
		"step": cty.ObjectVal(steps),
	}, e.functions)
}
