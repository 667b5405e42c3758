package testutil

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// FlatCompute is a compute backend that returns a constant flux for every
// time of every light curve dataset. It counts its runs.
type FlatCompute struct {
	// Name is the kind it registers under; "flat" when empty.
	Name string
	// Level is the flux returned, read from the "level" option when unset.
	Level float64

	runs atomic.Int64
}

func (f *FlatCompute) Kind() string {
	if f.Name == "" {
		return "flat"
	}
	return f.Name
}

func (f *FlatCompute) Options() backend.Options {
	return backend.Options{
		Global: []*param.Parameter{
			param.MustNew(param.Tags{Qualifier: "level"}, param.TypeFloat, 1.0, "Flux returned at every time"),
		},
		PerDataset: []*param.Parameter{
			param.MustNew(param.Tags{Qualifier: "enabled"}, param.TypeBool, true, "Whether to create synthetics in compute/solver run"),
		},
	}
}

// Runs reports how many times Run was called.
func (f *FlatCompute) Runs() int {
	return int(f.runs.Load())
}

func (f *FlatCompute) Run(ctx context.Context, req *backend.ComputeRequest) ([]*param.Parameter, error) {
	f.runs.Add(1)
	level := f.Level
	if level == 0 {
		p, err := req.Options.Get(paramstore.Query{Tags: param.Tags{Qualifier: "level"}, IncludeHidden: true})
		if err != nil {
			return nil, err
		}
		if level, err = p.Float(); err != nil {
			return nil, err
		}
	}

	var out []*param.Parameter
	for _, ds := range req.Datasets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		times, err := req.System.Get(paramstore.Query{
			Tags:          param.Tags{Qualifier: "times", Dataset: ds, Context: param.ContextDataset},
			IncludeHidden: true,
		})
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds, err)
		}
		ts, err := times.Floats()
		if err != nil {
			return nil, err
		}
		fluxes := make([]float64, len(ts))
		for i := range fluxes {
			fluxes[i] = level
		}
		tags := param.Tags{Qualifier: "fluxes", Dataset: ds, Kind: "lc"}
		p, err := param.New(tags, param.TypeFloatArray, fluxes, "Synthetic flux", param.WithUnit("W/m2"))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
