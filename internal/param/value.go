package param

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// ErrInvalidValue is returned when a value does not fit a parameter.
var ErrInvalidValue = errors.New("invalid value")

// ToCty converts a native Go value into a cty.Value. cty.Value inputs are
// returned unchanged.
func ToCty(v any) (cty.Value, error) {
	switch tv := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return tv, nil
	case int:
		return cty.NumberIntVal(int64(tv)), nil
	case float64:
		if math.IsNaN(tv) {
			return cty.NilVal, fmt.Errorf("NaN is not a valid value")
		}
		return cty.NumberFloatVal(tv), nil
	case []float64:
		return FloatList(tv), nil
	case []string:
		return StringList(tv), nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type for %T: %w", v, err)
	}
	return gocty.ToCtyValue(v, ty)
}

// FloatList builds a list(number) value, empty lists included.
func FloatList(values []float64) cty.Value {
	if len(values) == 0 {
		return cty.ListValEmpty(cty.Number)
	}
	out := make([]cty.Value, len(values))
	for i, f := range values {
		if math.IsNaN(f) {
			// cty numbers cannot hold NaN.
			f = math.Inf(1)
		}
		out[i] = cty.NumberFloatVal(f)
	}
	return cty.ListVal(out)
}

// StringList builds a list(string) value, empty lists included.
func StringList(values []string) cty.Value {
	if len(values) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	out := make([]cty.Value, len(values))
	for i, s := range values {
		out[i] = cty.StringVal(s)
	}
	return cty.ListVal(out)
}

// Convert turns an arbitrary input into the canonical cty representation
// for the parameter's type. Numbers are normalized through float64 so
// values compare equal after a persistence round trip.
func (p *Parameter) Convert(v any) (cty.Value, error) {
	val, err := ToCty(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if val.IsNull() || !val.IsKnown() {
		return cty.NilVal, fmt.Errorf("%w: value must be known and not null", ErrInvalidValue)
	}

	switch p.Type {
	case TypeFloat:
		n, err := convert.Convert(val, cty.Number)
		if err != nil {
			return cty.NilVal, fmt.Errorf("%w: expected number, got %s", ErrInvalidValue, val.Type().FriendlyName())
		}
		return normalizeNumber(n), nil
	case TypeInt:
		n, err := convert.Convert(val, cty.Number)
		if err != nil {
			return cty.NilVal, fmt.Errorf("%w: expected integer, got %s", ErrInvalidValue, val.Type().FriendlyName())
		}
		if !n.AsBigFloat().IsInt() {
			return cty.NilVal, fmt.Errorf("%w: expected integer, got %s", ErrInvalidValue, FormatValue(n))
		}
		i, _ := n.AsBigFloat().Int64()
		return cty.NumberIntVal(i), nil
	case TypeBool:
		b, err := convert.Convert(val, cty.Bool)
		if err != nil {
			return cty.NilVal, fmt.Errorf("%w: expected bool, got %s", ErrInvalidValue, val.Type().FriendlyName())
		}
		return b, nil
	case TypeString, TypeChoice, TypeConstraint:
		s, err := convert.Convert(val, cty.String)
		if err != nil {
			return cty.NilVal, fmt.Errorf("%w: expected string, got %s", ErrInvalidValue, val.Type().FriendlyName())
		}
		return s, nil
	case TypeSelect:
		if val.Type() == cty.String {
			return StringList([]string{val.AsString()}), nil
		}
		l, err := convert.Convert(val, cty.List(cty.String))
		if err != nil {
			return cty.NilVal, fmt.Errorf("%w: expected list of strings, got %s", ErrInvalidValue, val.Type().FriendlyName())
		}
		return l, nil
	case TypeFloatArray:
		l, err := convert.Convert(val, cty.List(cty.Number))
		if err != nil {
			return cty.NilVal, fmt.Errorf("%w: expected list of numbers, got %s", ErrInvalidValue, val.Type().FriendlyName())
		}
		floats, err := toFloats(l)
		if err != nil {
			return cty.NilVal, err
		}
		return FloatList(floats), nil
	case TypeArray, TypeDistribution:
		return normalizeNested(val)
	}
	return cty.NilVal, fmt.Errorf("%w: unsupported parameter type %q", ErrInvalidValue, p.Type)
}

// Validate checks a converted value against choices and limits.
func (p *Parameter) Validate(v cty.Value) error {
	switch p.Type {
	case TypeChoice:
		if len(p.Choices) > 0 && !slices.Contains(p.Choices, v.AsString()) {
			return fmt.Errorf("%w: %q not one of [%s]", ErrInvalidValue, v.AsString(), strings.Join(p.Choices, ", "))
		}
	case TypeSelect:
		if len(p.Choices) == 0 {
			return nil
		}
		for it := v.ElementIterator(); it.Next(); {
			_, e := it.Element()
			if !slices.Contains(p.Choices, e.AsString()) {
				return fmt.Errorf("%w: %q not one of [%s]", ErrInvalidValue, e.AsString(), strings.Join(p.Choices, ", "))
			}
		}
	case TypeFloat, TypeInt:
		if p.Limits == nil {
			return nil
		}
		f, _ := v.AsBigFloat().Float64()
		if p.Limits.Min != nil && f < *p.Limits.Min {
			return fmt.Errorf("%w: %s below lower limit %s", ErrInvalidValue, FormatFloat(f), FormatFloat(*p.Limits.Min))
		}
		if p.Limits.Max != nil {
			if p.Limits.ExclusiveMax && f >= *p.Limits.Max {
				return fmt.Errorf("%w: %s must be below %s", ErrInvalidValue, FormatFloat(f), FormatFloat(*p.Limits.Max))
			}
			if !p.Limits.ExclusiveMax && f > *p.Limits.Max {
				return fmt.Errorf("%w: %s above upper limit %s", ErrInvalidValue, FormatFloat(f), FormatFloat(*p.Limits.Max))
			}
		}
	}
	return nil
}

// Set converts, validates and stores a new value.
func (p *Parameter) Set(v any) error {
	val, err := p.Convert(v)
	if err != nil {
		return err
	}
	if err := p.Validate(val); err != nil {
		return err
	}
	p.Value = val
	return nil
}

// Float returns the value of a numeric parameter.
func (p *Parameter) Float() (float64, error) {
	if p.Value.Type() != cty.Number {
		return 0, fmt.Errorf("parameter %s is not numeric", p.Twig())
	}
	f, _ := p.Value.AsBigFloat().Float64()
	return f, nil
}

// Int returns the value of an int parameter.
func (p *Parameter) Int() (int, error) {
	f, err := p.Float()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Bool returns the value of a bool parameter.
func (p *Parameter) Bool() (bool, error) {
	if p.Value.Type() != cty.Bool {
		return false, fmt.Errorf("parameter %s is not a bool", p.Twig())
	}
	return p.Value.True(), nil
}

// StringValue returns the value of a string-like parameter.
func (p *Parameter) StringValue() (string, error) {
	if p.Value.Type() != cty.String {
		return "", fmt.Errorf("parameter %s is not a string", p.Twig())
	}
	return p.Value.AsString(), nil
}

// Floats returns the value of a float array parameter.
func (p *Parameter) Floats() ([]float64, error) {
	return toFloats(p.Value)
}

// Strings returns the value of a select parameter.
func (p *Parameter) Strings() ([]string, error) {
	var out []string
	if !p.Value.CanIterateElements() {
		return nil, fmt.Errorf("parameter %s is not a list", p.Twig())
	}
	for it := p.Value.ElementIterator(); it.Next(); {
		_, e := it.Element()
		if e.Type() != cty.String {
			return nil, fmt.Errorf("parameter %s is not a list of strings", p.Twig())
		}
		out = append(out, e.AsString())
	}
	return out, nil
}

func toFloats(v cty.Value) ([]float64, error) {
	if !v.CanIterateElements() {
		return nil, fmt.Errorf("%w: expected a list of numbers", ErrInvalidValue)
	}
	out := make([]float64, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		_, e := it.Element()
		if e.IsNull() || e.Type() != cty.Number {
			return nil, fmt.Errorf("%w: expected a list of numbers", ErrInvalidValue)
		}
		f, _ := e.AsBigFloat().Float64()
		out = append(out, f)
	}
	return out, nil
}

// normalizeNested rewrites nested collections as tuples and objects with
// float64-normalized numbers, the shape an HCL round trip produces.
func normalizeNested(v cty.Value) (cty.Value, error) {
	switch {
	case v.IsNull() || !v.IsKnown():
		return cty.NilVal, fmt.Errorf("%w: nested values must be known and not null", ErrInvalidValue)
	case v.Type() == cty.Number:
		return normalizeNumber(v), nil
	case v.Type() == cty.String || v.Type() == cty.Bool:
		return v, nil
	case v.Type().IsObjectType() || v.Type().IsMapType():
		attrs := make(map[string]cty.Value)
		for it := v.ElementIterator(); it.Next(); {
			k, e := it.Element()
			n, err := normalizeNested(e)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k.AsString()] = n
		}
		return cty.ObjectVal(attrs), nil
	case v.CanIterateElements():
		elems := make([]cty.Value, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, e := it.Element()
			n, err := normalizeNested(e)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, n)
		}
		return cty.TupleVal(elems), nil
	}
	return cty.NilVal, fmt.Errorf("%w: unsupported nested value of type %s", ErrInvalidValue, v.Type().FriendlyName())
}

// Matrix builds a nested array value from rows.
func Matrix(rows [][]float64) cty.Value {
	out := make([]cty.Value, len(rows))
	for i, row := range rows {
		out[i] = floatTuple(row)
	}
	return cty.TupleVal(out)
}

// Cube builds a three-level nested array value.
func Cube(blocks [][][]float64) cty.Value {
	out := make([]cty.Value, len(blocks))
	for i, block := range blocks {
		out[i] = Matrix(block)
	}
	return cty.TupleVal(out)
}

func floatTuple(values []float64) cty.Value {
	out := make([]cty.Value, len(values))
	for i, f := range values {
		if math.IsNaN(f) {
			f = math.Inf(-1)
		}
		out[i] = cty.NumberFloatVal(f)
	}
	return cty.TupleVal(out)
}

// Matrix returns the value of a two-level array parameter.
func (p *Parameter) Matrix() ([][]float64, error) {
	return toMatrix(p.Value)
}

// Cube returns the value of a three-level array parameter.
func (p *Parameter) Cube() ([][][]float64, error) {
	if !p.Value.CanIterateElements() {
		return nil, fmt.Errorf("parameter %s is not an array", p.Twig())
	}
	var out [][][]float64
	for it := p.Value.ElementIterator(); it.Next(); {
		_, e := it.Element()
		m, err := toMatrix(e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func toMatrix(v cty.Value) ([][]float64, error) {
	if v.IsNull() || !v.CanIterateElements() {
		return nil, fmt.Errorf("%w: expected a nested array", ErrInvalidValue)
	}
	var out [][]float64
	for it := v.ElementIterator(); it.Next(); {
		_, e := it.Element()
		row, err := toFloats(e)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func normalizeNumber(v cty.Value) cty.Value {
	f, _ := v.AsBigFloat().Float64()
	return cty.NumberFloatVal(f)
}

// FormatFloat renders a float with the shortest exact representation.
func FormatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Sprint(f)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FormatValue renders a cty value for display.
func FormatValue(v cty.Value) string {
	if v.IsNull() {
		return "None"
	}
	if !v.IsKnown() {
		return "(unknown)"
	}
	switch {
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return FormatFloat(f)
	case v.Type() == cty.String:
		return v.AsString()
	case v.Type() == cty.Bool:
		return strconv.FormatBool(v.True())
	case v.CanIterateElements():
		var parts []string
		n := 0
		for it := v.ElementIterator(); it.Next(); n++ {
			if n == 8 {
				parts = append(parts, "...")
				break
			}
			k, e := it.Element()
			if v.Type().IsObjectType() || v.Type().IsMapType() {
				parts = append(parts, k.AsString()+"="+FormatValue(e))
				continue
			}
			parts = append(parts, FormatValue(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return v.GoString()
}
