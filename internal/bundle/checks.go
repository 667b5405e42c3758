package bundle

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/constraint"
	"github.com/vk/starbundle/internal/param"
	"github.com/zclconf/go-cty/cty"
)

// Check levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// overflowTolerance absorbs rounding in semi-detached systems, where requiv
// is constrained to equal requiv_max.
const overflowTolerance = 1e-9

// ck2004 atmosphere table bounds, in K.
const (
	ck2004MinTeff = 3500
	ck2004MaxTeff = 50000
)

// CheckItem is a single finding of RunChecks.
type CheckItem struct {
	Level   string
	Message string
	// Twigs lists the parameters involved.
	Twigs []string
}

// CheckReport is the outcome of RunChecks. Passed is false when any item
// has LevelError; warnings alone do not fail the report.
type CheckReport struct {
	Passed  bool
	Message string
	Items   []CheckItem
}

// Errors returns the error-level items.
func (r *CheckReport) Errors() []CheckItem {
	return r.level(LevelError)
}

// Warnings returns the warning-level items.
func (r *CheckReport) Warnings() []CheckItem {
	return r.level(LevelWarning)
}

func (r *CheckReport) level(level string) []CheckItem {
	var out []CheckItem
	for _, it := range r.Items {
		if it.Level == level {
			out = append(out, it)
		}
	}
	return out
}

var (
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#fab387"))
	errItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
	twigStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7f849c"))
)

// Render formats the report for a terminal.
func (r *CheckReport) Render() string {
	var sb strings.Builder
	if r.Passed {
		sb.WriteString(passStyle.Render("Run checks: PASSED"))
	} else {
		sb.WriteString(failStyle.Render("Run checks: FAILED"))
	}
	for _, it := range r.Items {
		sb.WriteString("\n")
		style := warnStyle
		if it.Level == LevelError {
			style = errItemStyle
		}
		sb.WriteString(style.Render(fmt.Sprintf("  %-7s %s", strings.ToUpper(it.Level), it.Message)))
		if len(it.Twigs) > 0 {
			sb.WriteString(" ")
			sb.WriteString(twigStyle.Render("[" + strings.Join(it.Twigs, ", ") + "]"))
		}
	}
	return sb.String()
}

func (r *CheckReport) String() string {
	if r.Passed {
		if len(r.Items) == 0 {
			return "Run checks: PASSED"
		}
		return fmt.Sprintf("Run checks: PASSED with %d warning(s)", len(r.Items))
	}
	return "Run checks: FAILED: " + r.Message
}

func (r *CheckReport) add(level string, msg string, twigs ...string) {
	r.Items = append(r.Items, CheckItem{Level: level, Message: msg, Twigs: twigs})
}

// finish sets Passed and Message from the items.
func (r *CheckReport) finish() *CheckReport {
	r.Passed = true
	for _, it := range r.Items {
		if it.Level == LevelError {
			r.Passed = false
			r.Message = it.Message
			return r
		}
	}
	if len(r.Items) > 0 {
		r.Message = r.Items[0].Message
	}
	return r
}

// RunChecks reports whether the system is physically valid and the compute
// and solver configurations are runnable. It never modifies the bundle.
func (b *Bundle) RunChecks() *CheckReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.runChecksLocked()
}

func (b *Bundle) runChecksLocked() *CheckReport {
	r := &CheckReport{}
	b.checkSystemLocked(r)
	b.checkSolversLocked(r)
	return r.finish()
}

// runComputeChecksLocked is the subset of the checks that gates a forward
// model: solver configuration is not consulted.
func (b *Bundle) runComputeChecksLocked() *CheckReport {
	r := &CheckReport{}
	b.checkSystemLocked(r)
	return r.finish()
}

func (b *Bundle) checkSystemLocked(r *CheckReport) {
	b.checkOrbitLocked(r)
	b.checkStarsLocked(r)
	b.checkConstraintsLocked(r)
	b.checkFeaturesLocked(r)
	b.checkDatasetsLocked(r)
	b.checkComputesLocked(r)
}

// lookupFloat returns the value of the single parameter matching tags.
func (b *Bundle) lookupFloat(tags param.Tags) (*param.Parameter, float64, bool) {
	p, err := b.set.Get(Query{Tags: tags, IncludeHidden: true})
	if err != nil {
		return nil, 0, false
	}
	f, err := p.Float()
	if err != nil {
		return nil, 0, false
	}
	return p, f, true
}

func (b *Bundle) checkOrbitLocked(r *CheckReport) {
	orbit, _ := backend.Hierarchy(b.set)
	if orbit == "" {
		return
	}
	tags := param.Tags{Component: orbit, Context: param.ContextComponent}
	if p, ecc, ok := b.lookupFloat(tags.With("qualifier", "ecc")); ok && (ecc < 0 || ecc >= 1) {
		r.add(LevelError, fmt.Sprintf("eccentricity %s of %s must be in [0, 1)", param.FormatFloat(ecc), orbit), p.Twig())
	}
	if p, q, ok := b.lookupFloat(tags.With("qualifier", "q")); ok && q <= 0 {
		r.add(LevelError, fmt.Sprintf("mass ratio %s of %s must be positive", param.FormatFloat(q), orbit), p.Twig())
	}
	if p, sma, ok := b.lookupFloat(tags.With("qualifier", "sma")); ok && sma <= 0 {
		r.add(LevelError, fmt.Sprintf("semi-major axis %s of %s must be positive", param.FormatFloat(sma), orbit), p.Twig())
	}
}

func (b *Bundle) checkStarsLocked(r *CheckReport) {
	_, stars := backend.Hierarchy(b.set)
	for _, star := range stars {
		tags := param.Tags{Component: star, Context: param.ContextComponent}
		rp, requiv, ok := b.lookupFloat(tags.With("qualifier", "requiv"))
		if !ok {
			continue
		}
		if requiv <= 0 {
			r.add(LevelError, fmt.Sprintf("requiv %s of %s must be positive", param.FormatFloat(requiv), star), rp.Twig())
		}
		mp, requivMax, ok := b.lookupFloat(tags.With("qualifier", "requiv_max"))
		if !ok {
			continue
		}
		if requiv > requivMax*(1+overflowTolerance) {
			r.add(LevelError, fmt.Sprintf("%s is overflowing at periastron (requiv=%s, requiv_max=%s)",
				star, param.FormatFloat(requiv), param.FormatFloat(requivMax)), rp.Twig(), mp.Twig())
		}
	}
}

// checkConstraintsLocked evaluates every constraint without storing the
// result, so a pending invalid value is reported even when it was logged
// and not applied.
func (b *Bundle) checkConstraintsLocked(r *CheckReport) {
	ordered, err := constraint.Order(b.set)
	if err != nil {
		r.add(LevelError, err.Error())
		return
	}
	for _, c := range ordered {
		target, ok := b.set.ByID(c.SolveFor)
		if !ok {
			r.add(LevelError, fmt.Sprintf("constraint %s targets a missing parameter", c.Twig()), c.Twig())
			continue
		}
		f, err := constraint.Evaluate(b.set, c)
		switch {
		case err != nil:
			r.add(LevelError, fmt.Sprintf("constraint %s cannot be evaluated: %v", c.Twig(), err), c.Twig(), target.Twig())
		case math.IsInf(f, 0):
			r.add(LevelError, fmt.Sprintf("constraint %s overflows", c.Twig()), c.Twig(), target.Twig())
		default:
			if err := target.Validate(cty.NumberFloatVal(f)); err != nil {
				r.add(LevelError, fmt.Sprintf("constraint %s gives %s = %s: %v", c.Twig(), target.Twig(), param.FormatFloat(f), err),
					c.Twig(), target.Twig())
			}
		}
	}
}

func (b *Bundle) checkFeaturesLocked(r *CheckReport) {
	features := b.set.Filter(Query{Tags: param.Tags{Kind: KindSpot, Context: param.ContextFeature}, IncludeHidden: true})
	for _, name := range features.Values("feature") {
		tags := param.Tags{Feature: name, Context: param.ContextFeature}
		if p, radius, ok := b.lookupFloat(tags.With("qualifier", "radius")); ok {
			switch {
			case radius <= 0:
				r.add(LevelError, fmt.Sprintf("spot %s radius must be positive", name), p.Twig())
			case radius > 90:
				r.add(LevelWarning, fmt.Sprintf("spot %s covers more than a hemisphere", name), p.Twig())
			}
		}
		if p, relteff, ok := b.lookupFloat(tags.With("qualifier", "relteff")); ok && relteff <= 0 {
			r.add(LevelError, fmt.Sprintf("spot %s relteff must be positive", name), p.Twig())
		}
	}
}

// observedColumns lists, per dataset kind, the arrays that must match times.
var observedColumns = map[string][]string{
	KindLC: {"fluxes", "sigmas"},
	KindRV: {"rvs", "sigmas"},
}

func (b *Bundle) checkDatasetsLocked(r *CheckReport) {
	for _, ds := range b.labelsLocked("dataset", param.ContextDataset) {
		view := b.set.Filter(Query{Tags: param.Tags{Dataset: ds, Context: param.ContextDataset}, IncludeHidden: true})
		for _, times := range view.Filter(Query{Tags: param.Tags{Qualifier: "times"}, IncludeHidden: true}).All() {
			t, err := times.Floats()
			if err != nil {
				continue
			}
			if !slices.IsSorted(t) {
				r.add(LevelError, fmt.Sprintf("times of %s must be sorted", ds), times.Twig())
			}
			for _, col := range observedColumns[times.Kind] {
				p, err := view.Get(Query{Tags: times.Tags.With("qualifier", col), IncludeHidden: true})
				if err != nil {
					continue
				}
				v, err := p.Floats()
				if err != nil || len(v) == 0 {
					continue
				}
				if len(v) != len(t) {
					r.add(LevelError, fmt.Sprintf("%s has %d entries but times has %d", p.Twig(), len(v), len(t)), p.Twig(), times.Twig())
				}
			}
		}
	}
}

func (b *Bundle) checkComputesLocked(r *CheckReport) {
	_, stars := backend.Hierarchy(b.set)
	datasets := b.labelsLocked("dataset", param.ContextDataset)
	for _, compute := range b.labelsLocked("compute", param.ContextCompute) {
		options := b.set.Filter(Query{Tags: param.Tags{Compute: compute, Context: param.ContextCompute}, IncludeHidden: true})
		for _, atm := range options.Filter(Query{Tags: param.Tags{Qualifier: "atm"}, IncludeHidden: true}).All() {
			if v, _ := atm.StringValue(); v != "ck2004" {
				continue
			}
			if p, teff, ok := b.lookupFloat(param.Tags{Qualifier: "teff", Component: atm.Component, Context: param.ContextComponent}); ok &&
				(teff < ck2004MinTeff || teff > ck2004MaxTeff) {
				r.add(LevelError, fmt.Sprintf("teff %s of %s is outside the ck2004 atmosphere table [%d, %d]; choose another atm in %s",
					param.FormatFloat(teff), atm.Component, ck2004MinTeff, ck2004MaxTeff, compute), p.Twig(), atm.Twig())
			}
		}
		if len(stars) == 1 {
			for _, dist := range options.Filter(Query{Tags: param.Tags{Qualifier: "distortion_method"}, IncludeHidden: true}).All() {
				if v, _ := dist.StringValue(); v == "roche" {
					r.add(LevelWarning, fmt.Sprintf("roche distortion of single star %s is treated as rotstar", dist.Component), dist.Twig())
				}
			}
		}
		if len(datasets) == 0 {
			continue
		}
		enabled := 0
		for _, ds := range datasets {
			p, err := options.Get(Query{Tags: param.Tags{Qualifier: "enabled", Dataset: ds}, IncludeHidden: true})
			if err != nil {
				enabled++
				continue
			}
			if on, err := p.Bool(); err != nil || on {
				enabled++
			}
		}
		if enabled == 0 {
			r.add(LevelWarning, fmt.Sprintf("compute %s has no enabled datasets", compute))
		}
	}
}

func (b *Bundle) checkSolversLocked(r *CheckReport) {
	computes := b.labelsLocked("compute", param.ContextCompute)
	dists := b.labelsLocked("distribution", param.ContextDistribution)
	solutions := b.labelsLocked("solution", param.ContextSolution)

	for _, solver := range b.labelsLocked("solver", param.ContextSolver) {
		options := b.set.Filter(Query{Tags: param.Tags{Solver: solver, Context: param.ContextSolver}, IncludeHidden: true})
		if p, err := options.Get(Query{Tags: param.Tags{Qualifier: optCompute}, IncludeHidden: true}); err == nil {
			if v, _ := p.StringValue(); !slices.Contains(computes, v) {
				r.add(LevelError, fmt.Sprintf("solver %s refers to missing compute %q", solver, v), p.Twig())
			}
		}
		for _, q := range []string{optPriors, optInitFrom} {
			p, err := options.Get(Query{Tags: param.Tags{Qualifier: q}, IncludeHidden: true})
			if err != nil {
				continue
			}
			labels, _ := p.Strings()
			for _, l := range labels {
				if !slices.Contains(dists, l) {
					r.add(LevelError, fmt.Sprintf("solver %s %s refers to missing distribution %q", solver, q, l), p.Twig())
				}
			}
		}
		if p, err := options.Get(Query{Tags: param.Tags{Qualifier: optContinueFrom}, IncludeHidden: true}); err == nil {
			if v, _ := p.StringValue(); v != "" && v != ContinueFromNone && !slices.Contains(solutions, v) {
				r.add(LevelError, fmt.Sprintf("solver %s continues from missing solution %q", solver, v), p.Twig())
			}
		}
		if p, err := options.Get(Query{Tags: param.Tags{Qualifier: "fit_parameters"}, IncludeHidden: true}); err == nil {
			twigs, _ := p.Strings()
			for _, t := range twigs {
				if _, err := backend.ResolveFittable(b.set, t); err != nil {
					r.add(LevelError, fmt.Sprintf("solver %s cannot fit %q: %v", solver, t, err), p.Twig())
				}
			}
		}
	}
}
