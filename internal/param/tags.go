package param

import "strings"

// Context values used throughout a bundle.
const (
	ContextSystem       = "system"
	ContextComponent    = "component"
	ContextConstraint   = "constraint"
	ContextDataset      = "dataset"
	ContextFeature      = "feature"
	ContextCompute      = "compute"
	ContextSolver       = "solver"
	ContextSolution     = "solution"
	ContextModel        = "model"
	ContextDistribution = "distribution"
)

// TagNames lists every tag dimension in canonical order.
var TagNames = []string{
	"qualifier",
	"component",
	"dataset",
	"feature",
	"compute",
	"solver",
	"solution",
	"model",
	"distribution",
	"kind",
	"context",
}

// Tags is the composite key of a parameter. Any field may be empty except
// Qualifier and Context.
type Tags struct {
	Qualifier    string
	Component    string
	Dataset      string
	Feature      string
	Compute      string
	Solver       string
	Solution     string
	Model        string
	Distribution string
	Kind         string
	Context      string
}

// Get returns the value of the named tag.
func (t Tags) Get(name string) string {
	switch name {
	case "qualifier":
		return t.Qualifier
	case "component":
		return t.Component
	case "dataset":
		return t.Dataset
	case "feature":
		return t.Feature
	case "compute":
		return t.Compute
	case "solver":
		return t.Solver
	case "solution":
		return t.Solution
	case "model":
		return t.Model
	case "distribution":
		return t.Distribution
	case "kind":
		return t.Kind
	case "context":
		return t.Context
	}
	return ""
}

// With returns a copy of the tags with the named tag replaced. Unknown
// names are ignored.
func (t Tags) With(name, value string) Tags {
	switch name {
	case "qualifier":
		t.Qualifier = value
	case "component":
		t.Component = value
	case "dataset":
		t.Dataset = value
	case "feature":
		t.Feature = value
	case "compute":
		t.Compute = value
	case "solver":
		t.Solver = value
	case "solution":
		t.Solution = value
	case "model":
		t.Model = value
	case "distribution":
		t.Distribution = value
	case "kind":
		t.Kind = value
	case "context":
		t.Context = value
	}
	return t
}

// Values returns the non-empty tag values in canonical order.
func (t Tags) Values() []string {
	out := make([]string, 0, len(TagNames))
	for _, name := range TagNames {
		if v := t.Get(name); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Key is the uniqueness key of the full tag tuple.
func (t Tags) Key() string {
	parts := make([]string, len(TagNames))
	for i, name := range TagNames {
		parts[i] = t.Get(name)
	}
	return strings.Join(parts, "|")
}

// Twig renders the tags as a twig, qualifier first.
func (t Tags) Twig() string {
	return strings.Join(t.Values(), "@")
}
