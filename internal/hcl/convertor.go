package hcl

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/hashicorp/hcl/v2"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// TagName is the struct tag read by DecodeBody.
const TagName = "sb"

var (
	ctyValueType = reflect.TypeOf(cty.Value{})
	ctyMapType   = reflect.TypeOf(map[string]cty.Value{})
)

// Converter is the HCL-specific implementation of the config.Converter interface.
type Converter struct{}

// NewConverter creates a new HCL converter.
func NewConverter() *Converter {
	return &Converter{}
}

type fieldSpec struct {
	name     string
	optional bool
	index    int
}

// fieldsOf lists the tagged fields of a struct type in declaration order.
func fieldsOf(t reflect.Type) []fieldSpec {
	var out []fieldSpec
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get(TagName)
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		out = append(out, fieldSpec{
			name:     parts[0],
			optional: slices.Contains(parts[1:], "optional"),
			index:    i,
		})
	}
	return out
}

// DecodeBody evaluates HCL expressions and populates the provided Go struct
// using reflection. Fields of type cty.Value or map[string]cty.Value receive
// the evaluated value as is.
func (c *Converter) DecodeBody(
	ctx context.Context,
	inputStruct any,
	args map[string]hcl.Expression,
	evalCtx *hcl.EvalContext,
) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting HCL body decoding.", "arguments", len(args))

	if err := c.CheckArguments(inputStruct, args); err != nil {
		return err
	}
	structVal := reflect.ValueOf(inputStruct).Elem()

	for _, f := range fieldsOf(structVal.Type()) {
		argExpr, provided := args[f.name]
		if !provided {
			continue
		}
		val, diags := argExpr.Value(evalCtx)
		if diags.HasErrors() {
			return diags
		}
		if val.IsNull() && f.optional {
			continue
		}
		if err := c.decode(ctx, val, structVal.Field(f.index).Addr().Interface()); err != nil {
			return fmt.Errorf("failed to decode argument '%s': %w", f.name, err)
		}
	}
	logger.Debug("Finished HCL body decoding successfully.")
	return nil
}

// CheckArguments matches argument names against the `sb` tags of
// inputStruct. Nothing is evaluated, so it is safe to call before any step
// runs.
func (c *Converter) CheckArguments(inputStruct any, args map[string]hcl.Expression) error {
	structVal := reflect.ValueOf(inputStruct)
	if structVal.Kind() != reflect.Ptr || structVal.IsNil() || structVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("inputStruct must be a non-nil pointer to a struct")
	}
	fields := fieldsOf(structVal.Elem().Type())

	known := make([]string, len(fields))
	for i, f := range fields {
		known[i] = f.name
	}
	for _, name := range sortedKeys(args) {
		if !slices.Contains(known, name) {
			return unsupportedArgument(name, known, args[name].Range())
		}
	}
	for _, f := range fields {
		if _, provided := args[f.name]; !provided && !f.optional {
			return fmt.Errorf("missing required argument %q", f.name)
		}
	}
	return nil
}

// decode handles the conversion and decoding of a cty.Value into a Go pointer.
func (c *Converter) decode(ctx context.Context, val cty.Value, goVal any) error {
	logger := ctxlog.FromContext(ctx)
	valPtr := reflect.ValueOf(goVal)
	if valPtr.Kind() != reflect.Ptr {
		return fmt.Errorf("target for decoding must be a pointer, got %T", goVal)
	}
	if !val.IsWhollyKnown() {
		return fmt.Errorf("value is not known")
	}

	switch valPtr.Elem().Type() {
	case ctyValueType:
		valPtr.Elem().Set(reflect.ValueOf(val))
		return nil
	case ctyMapType:
		if val.IsNull() {
			return nil
		}
		if !val.Type().IsObjectType() && !val.Type().IsMapType() {
			return fmt.Errorf("expected an object, got %s", val.Type().FriendlyName())
		}
		valPtr.Elem().Set(reflect.ValueOf(val.AsValueMap()))
		return nil
	}

	impliedType, err := gocty.ImpliedType(valPtr.Elem().Interface())
	if err != nil {
		logger.Debug("Could not imply cty.Type from Go type, attempting direct decoding.", "go_type", valPtr.Elem().Type().String(), "error", err)
		return gocty.FromCtyValue(val, goVal)
	}

	logger.Debug("Preparing to decode value.",
		"source_type", val.Type().FriendlyName(),
		"target_type", impliedType.FriendlyName(),
	)

	convertedVal, err := convert.Convert(val, impliedType)
	if err != nil {
		return fmt.Errorf("cannot convert %s to required type %s: %w", val.Type().FriendlyName(), impliedType.FriendlyName(), err)
	}
	return gocty.FromCtyValue(convertedVal, goVal)
}

// ToCtyValue converts a native Go value into its corresponding cty.Value.
func (c *Converter) ToCtyValue(v any) (cty.Value, error) {
	if v == nil {
		return cty.NilVal, nil
	}
	if cv, ok := v.(cty.Value); ok {
		return cv, nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}

func unsupportedArgument(name string, known []string, rng hcl.Range) error {
	best, bestDist := "", len(name)/2+2
	for _, k := range known {
		if d := levenshtein.ComputeDistance(name, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	if best != "" {
		return fmt.Errorf("%s: unsupported argument %q; did you mean %q?", rng, name, best)
	}
	return fmt.Errorf("%s: unsupported argument %q", rng, name)
}

func sortedKeys(m map[string]hcl.Expression) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
