package hcl

import (
	"fmt"
	"maps"
	"math"
	"os"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
	"github.com/zclconf/go-cty/cty"
)

// FormatVersion is written to every persisted bundle.
const FormatVersion = 1

// infName is the identifier used for infinite numbers, which HCL has no
// literal for.
const infName = "inf"

type bundleFile struct {
	Version    int               `hcl:"format_version"`
	Parameters []*parameterBlock `hcl:"parameter,block"`
}

type parameterBlock struct {
	Type string `hcl:"type,label"`

	UniqueID     string `hcl:"uniqueid"`
	Qualifier    string `hcl:"qualifier"`
	Component    string `hcl:"component,optional"`
	Dataset      string `hcl:"dataset,optional"`
	Feature      string `hcl:"feature,optional"`
	Compute      string `hcl:"compute,optional"`
	Solver       string `hcl:"solver,optional"`
	Solution     string `hcl:"solution,optional"`
	Model        string `hcl:"model,optional"`
	Distribution string `hcl:"distribution,optional"`
	Kind         string `hcl:"kind,optional"`
	Context      string `hcl:"context"`

	Value       cty.Value `hcl:"value"`
	Unit        string    `hcl:"unit,optional"`
	Description string    `hcl:"description,optional"`
	Choices     []string  `hcl:"choices,optional"`
	LimitMin    *float64  `hcl:"limit_min,optional"`
	LimitMax    *float64  `hcl:"limit_max,optional"`
	Exclusive   bool      `hcl:"exclusive_max,optional"`
	VisibleIf   string    `hcl:"visible_if,optional"`
	Readonly    bool      `hcl:"readonly,optional"`

	Expression string            `hcl:"expression,optional"`
	Vars       map[string]string `hcl:"vars,optional"`
	SolveFor   string            `hcl:"solve_for,optional"`
	Forms      map[string]string `hcl:"forms,optional"`
}

// EncodeSet renders every parameter of set, hidden ones included, as an
// HCL document.
func EncodeSet(set *paramstore.Set) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()
	root.SetAttributeValue("format_version", cty.NumberIntVal(FormatVersion))

	for _, p := range set.All() {
		root.AppendNewline()
		body := root.AppendNewBlock("parameter", []string{string(p.Type)}).Body()

		body.SetAttributeValue("uniqueid", cty.StringVal(p.UniqueID))
		for _, name := range param.TagNames {
			if v := p.Tags.Get(name); v != "" {
				body.SetAttributeValue(name, cty.StringVal(v))
			}
		}
		body.SetAttributeRaw("value", tokensForValue(p.Value))

		setString(body, "unit", p.Unit)
		setString(body, "description", p.Description)
		if len(p.Choices) > 0 {
			body.SetAttributeValue("choices", param.StringList(p.Choices))
		}
		if p.Limits != nil {
			if p.Limits.Min != nil {
				body.SetAttributeRaw("limit_min", tokensForValue(cty.NumberFloatVal(*p.Limits.Min)))
			}
			if p.Limits.Max != nil {
				body.SetAttributeRaw("limit_max", tokensForValue(cty.NumberFloatVal(*p.Limits.Max)))
			}
			if p.Limits.ExclusiveMax {
				body.SetAttributeValue("exclusive_max", cty.True)
			}
		}
		setString(body, "visible_if", p.VisibleIf)
		if p.Readonly {
			body.SetAttributeValue("readonly", cty.True)
		}
		setString(body, "expression", p.Expression)
		if len(p.Vars) > 0 {
			body.SetAttributeValue("vars", stringMap(p.Vars))
		}
		setString(body, "solve_for", p.SolveFor)
		if len(p.Forms) > 0 {
			body.SetAttributeValue("forms", stringMap(p.Forms))
		}
	}
	return f.Bytes()
}

// DecodeSet parses a persisted bundle.
func DecodeSet(src []byte, filename string) (*paramstore.Set, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse bundle %s: %w", filename, diags)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{infName: cty.PositiveInfinity},
	}
	var root bundleFile
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode bundle %s: %w", filename, diags)
	}
	if root.Version != FormatVersion {
		return nil, fmt.Errorf("bundle %s: unsupported format_version %d", filename, root.Version)
	}

	params := make([]*param.Parameter, 0, len(root.Parameters))
	for _, b := range root.Parameters {
		p, err := b.toParameter()
		if err != nil {
			return nil, fmt.Errorf("bundle %s: %w", filename, err)
		}
		params = append(params, p)
	}
	return paramstore.New(params...)
}

// WriteFile saves set to path.
func WriteFile(path string, set *paramstore.Set) error {
	if err := os.WriteFile(path, EncodeSet(set), 0o644); err != nil {
		return fmt.Errorf("failed to save bundle: %w", err)
	}
	return nil
}

// ReadFile loads a set from path.
func ReadFile(path string) (*paramstore.Set, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return DecodeSet(src, path)
}

func (b *parameterBlock) toParameter() (*param.Parameter, error) {
	p := &param.Parameter{
		Tags: param.Tags{
			Qualifier:    b.Qualifier,
			Component:    b.Component,
			Dataset:      b.Dataset,
			Feature:      b.Feature,
			Compute:      b.Compute,
			Solver:       b.Solver,
			Solution:     b.Solution,
			Model:        b.Model,
			Distribution: b.Distribution,
			Kind:         b.Kind,
			Context:      b.Context,
		},
		UniqueID:    b.UniqueID,
		Type:        param.Type(b.Type),
		Unit:        b.Unit,
		Description: b.Description,
		Choices:     b.Choices,
		VisibleIf:   b.VisibleIf,
		Readonly:    b.Readonly,
		Expression:  b.Expression,
		Vars:        b.Vars,
		SolveFor:    b.SolveFor,
		Forms:       b.Forms,
	}
	if b.LimitMin != nil || b.LimitMax != nil || b.Exclusive {
		p.Limits = &param.Limits{Min: b.LimitMin, Max: b.LimitMax, ExclusiveMax: b.Exclusive}
	}

	v, err := p.Convert(b.Value)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", p.Twig(), err)
	}
	// Limits are not re-validated: out-of-limit constrained values are
	// legitimately persisted.
	p.Value = v
	return p, nil
}

func setString(body *hclwrite.Body, name, value string) {
	if value != "" {
		body.SetAttributeValue(name, cty.StringVal(value))
	}
}

func stringMap(m map[string]string) cty.Value {
	attrs := make(map[string]cty.Value, len(m))
	for k, v := range m {
		attrs[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(attrs)
}

// tokensForValue is hclwrite.TokensForValue with support for infinite
// numbers, written as the `inf` variable.
func tokensForValue(v cty.Value) hclwrite.Tokens {
	if !hasInf(v) {
		return hclwrite.TokensForValue(v)
	}
	switch {
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		toks := hclwrite.TokensForIdentifier(infName)
		if f < 0 {
			minus := &hclwrite.Token{Type: hclsyntax.TokenMinus, Bytes: []byte{'-'}}
			toks = append(hclwrite.Tokens{minus}, toks...)
		}
		return toks
	case v.Type().IsObjectType() || v.Type().IsMapType():
		m := v.AsValueMap()
		keys := slices.Sorted(maps.Keys(m))
		attrs := make([]hclwrite.ObjectAttrTokens, len(keys))
		for i, k := range keys {
			attrs[i] = hclwrite.ObjectAttrTokens{
				Name:  hclwrite.TokensForValue(cty.StringVal(k)),
				Value: tokensForValue(m[k]),
			}
		}
		return hclwrite.TokensForObject(attrs)
	}
	var elems []hclwrite.Tokens
	for it := v.ElementIterator(); it.Next(); {
		_, e := it.Element()
		elems = append(elems, tokensForValue(e))
	}
	return hclwrite.TokensForTuple(elems)
}

func hasInf(v cty.Value) bool {
	if v.IsNull() || !v.IsKnown() {
		return false
	}
	if v.Type() == cty.Number {
		f, _ := v.AsBigFloat().Float64()
		return math.IsInf(f, 0)
	}
	if !v.CanIterateElements() {
		return false
	}
	for it := v.ElementIterator(); it.Next(); {
		if _, e := it.Element(); hasInf(e) {
			return true
		}
	}
	return false
}
