package bundle

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/vk/starbundle/internal/param"
)

// Plot styles.
const (
	StyleDefault       = "default"
	StyleLnProbability = "lnprobability"
	StyleTrace         = "trace"
)

// defaultY is the dependent column plotted for each dataset kind.
var defaultY = map[string]string{
	KindLC: "fluxes",
	KindRV: "rvs",
}

// PlotOptions selects what Plot extracts.
type PlotOptions struct {
	// Query selects the datasets, models or solution to plot.
	Query Query
	// X and Y are qualifiers. X defaults to times; Y defaults to the
	// observable of the dataset kind. For the trace style Y is the twig of
	// a fitted parameter.
	X     string
	Y     string
	Style string
	// TimeIndex picks the exposure of a mesh column.
	TimeIndex int
}

// Series is one plottable line.
type Series struct {
	Label string
	Twig  string
	X     []float64
	Y     []float64
	XUnit string
	YUnit string
}

// Plot extracts plottable series from the parameters matching
// opts.Query. Rendering is left to the caller.
func (b *Bundle) Plot(opts PlotOptions) ([]Series, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch opts.Style {
	case "", StyleDefault:
		return b.plotObservablesLocked(opts)
	case StyleLnProbability:
		return b.plotLnProbLocked(opts)
	case StyleTrace:
		return b.plotTraceLocked(opts)
	}
	return nil, fmt.Errorf("%w: plot style %q (expected %s, %s or %s)", ErrInvalidValue, opts.Style, StyleDefault, StyleLnProbability, StyleTrace)
}

func (b *Bundle) plotObservablesLocked(opts PlotOptions) ([]Series, error) {
	x := opts.X
	if x == "" {
		x = "times"
	}
	var out []Series
	for _, p := range b.set.Filter(opts.Query).All() {
		y := opts.Y
		if y == "" {
			y = defaultY[p.Kind]
		}
		if y == "" || p.Qualifier != y {
			continue
		}
		xp, err := b.set.Get(Query{Tags: p.Tags.With("qualifier", x), IncludeHidden: true})
		if err != nil {
			// rv observations keep times per star, lc ones per dataset.
			xp, err = b.set.Get(Query{Tags: p.Tags.With("qualifier", x).With("component", ""), IncludeHidden: true})
			if err != nil {
				continue
			}
		}
		xs, ys, err := plotColumns(xp, p, opts.TimeIndex)
		if err != nil {
			return nil, err
		}
		if len(ys) == 0 {
			continue
		}
		if len(xs) != len(ys) {
			return nil, fmt.Errorf("%w: %s has %d values but %s has %d", ErrInvalidValue, p.Twig(), len(ys), xp.Twig(), len(xs))
		}
		out = append(out, Series{
			Label: seriesLabel(p),
			Twig:  p.Twig(),
			X:     xs,
			Y:     ys,
			XUnit: xp.Unit,
			YUnit: p.Unit,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: nothing to plot for %s", ErrParameterNotFound, opts.Query.String())
	}
	return out, nil
}

// plotColumns reads x and y as flat arrays, or as row index of per-time
// arrays for mesh columns.
func plotColumns(xp, yp *param.Parameter, index int) ([]float64, []float64, error) {
	if yp.Kind != KindMesh || yp.Qualifier == "times" {
		xs, err := xp.Floats()
		if err != nil {
			return nil, nil, err
		}
		ys, err := yp.Floats()
		return xs, ys, err
	}
	row := func(p *param.Parameter) ([]float64, error) {
		m, err := p.Matrix()
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= len(m) {
			return nil, fmt.Errorf("%w: time index %d out of range for %s (%d exposures)", ErrInvalidValue, index, p.Twig(), len(m))
		}
		return m[index], nil
	}
	ys, err := row(yp)
	if err != nil {
		return nil, nil, err
	}
	if xp.Qualifier == "times" {
		xs := make([]float64, len(ys))
		for i := range xs {
			xs[i] = float64(i)
		}
		return xs, ys, nil
	}
	xs, err := row(xp)
	return xs, ys, err
}

func seriesLabel(p *param.Parameter) string {
	var label string
	for _, v := range []string{p.Dataset, p.Component, p.Model} {
		if v == "" {
			continue
		}
		if label != "" {
			label += "@"
		}
		label += v
	}
	if label == "" {
		return p.Twig()
	}
	return label
}

func (b *Bundle) solutionForPlotLocked(q Query) (string, error) {
	sols := b.set.Filter(Query{Twig: q.Twig, Tags: q.Tags, IncludeHidden: true}).Values("solution")
	switch len(sols) {
	case 0:
		return "", fmt.Errorf("%w: no solution matches %s", ErrParameterNotFound, q.String())
	case 1:
		return sols[0], nil
	}
	return "", fmt.Errorf("%w: query matches solutions %v", ErrAmbiguous, sols)
}

func (b *Bundle) plotLnProbLocked(opts PlotOptions) ([]Series, error) {
	name, err := b.solutionForPlotLocked(opts.Query)
	if err != nil {
		return nil, err
	}
	sol := b.set.Filter(Query{Tags: param.Tags{Solution: name, Context: param.ContextSolution}, IncludeHidden: true})
	p, err := solutionParam(sol, "lnprobabilities")
	if err != nil {
		return nil, err
	}
	lnprobs, err := p.Matrix()
	if err != nil {
		return nil, err
	}
	return walkerSeries(name, p.Twig(), len(lnprobs), func(i, w int) (float64, bool) {
		if w >= len(lnprobs[i]) {
			return 0, false
		}
		return lnprobs[i][w], true
	}, ""), nil
}

func (b *Bundle) plotTraceLocked(opts PlotOptions) ([]Series, error) {
	name, err := b.solutionForPlotLocked(opts.Query)
	if err != nil {
		return nil, err
	}
	sol := b.set.Filter(Query{Tags: param.Tags{Solution: name, Context: param.ContextSolution}, IncludeHidden: true})
	twigs, err := solutionStrings(sol, "fitted_twigs")
	if err != nil {
		return nil, err
	}
	k := 0
	if opts.Y != "" {
		k = slices.Index(twigs, opts.Y)
		if k < 0 {
			return nil, fmt.Errorf("%w: %q is not fitted in %s (fitted: %v)", ErrParameterNotFound, opts.Y, name, twigs)
		}
	}
	units, _ := solutionStrings(sol, "fitted_units")
	unit := ""
	if k < len(units) {
		unit = units[k]
	}
	p, err := solutionParam(sol, "samples")
	if err != nil {
		return nil, err
	}
	samples, err := p.Cube()
	if err != nil {
		return nil, err
	}
	return walkerSeries(name, twigs[k], len(samples), func(i, w int) (float64, bool) {
		if w >= len(samples[i]) || k >= len(samples[i][w]) {
			return 0, false
		}
		return samples[i][w][k], true
	}, unit), nil
}

// walkerSeries builds one series per walker over niters iterations.
func walkerSeries(solution, twig string, niters int, at func(iter, walker int) (float64, bool), unit string) []Series {
	var out []Series
	for w := 0; ; w++ {
		s := Series{Label: fmt.Sprintf("%s walker %d", solution, w), Twig: twig, YUnit: unit}
		for i := range niters {
			if v, ok := at(i, w); ok {
				s.X = append(s.X, float64(i))
				s.Y = append(s.Y, v)
			}
		}
		if len(s.Y) == 0 {
			return out
		}
		out = append(out, s)
	}
}

// WriteCSV writes series in long format: label, twig, x, y.
func WriteCSV(w io.Writer, series []Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"label", "twig", "x", "y"}); err != nil {
		return err
	}
	for _, s := range series {
		for i := range s.X {
			if err := cw.Write([]string{
				s.Label,
				s.Twig,
				strconv.FormatFloat(s.X[i], 'g', -1, 64),
				strconv.FormatFloat(s.Y[i], 'g', -1, 64),
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
