package remote

import (
	"fmt"
	"math"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/param"
	"github.com/zclconf/go-cty/cty"
)

// JSON has no infinities; they travel as these strings.
const (
	posInf = "inf"
	negInf = "-inf"
)

// encodeRequest renders a compute request as the JSON-compatible payload
// sent to the worker.
func encodeRequest(req *backend.ComputeRequest) (map[string]any, error) {
	encode := func(params []*param.Parameter) ([]any, error) {
		out := make([]any, 0, len(params))
		for _, p := range params {
			v, err := ctyToInterface(p.Value)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", p.Twig(), err)
			}
			out = append(out, map[string]any{
				"uniqueid": p.UniqueID,
				"twig":     p.Twig(),
				"tags":     encodeTags(p.Tags),
				"type":     string(p.Type),
				"unit":     p.Unit,
				"value":    v,
			})
		}
		return out, nil
	}

	system, err := encode(req.System.All())
	if err != nil {
		return nil, err
	}
	options, err := encode(req.Options.All())
	if err != nil {
		return nil, err
	}
	datasets := make([]any, len(req.Datasets))
	for i, ds := range req.Datasets {
		datasets[i] = ds
	}
	return map[string]any{
		"compute":  req.Compute,
		"datasets": datasets,
		"system":   system,
		"options":  options,
	}, nil
}

func encodeTags(t param.Tags) map[string]any {
	out := make(map[string]any)
	for _, name := range param.TagNames {
		if v := t.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

// decodeReply turns the worker's reply into model parameters. The reply is
// an object with a "results" list, or an "error" string.
func decodeReply(reply any) ([]*param.Parameter, error) {
	obj, ok := reply.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: reply is %T, expected an object", ErrWorker, reply)
	}
	if msg, ok := obj["error"].(string); ok && msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrWorker, msg)
	}
	raw, ok := obj["results"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: reply has no results list", ErrWorker)
	}

	out := make([]*param.Parameter, 0, len(raw))
	for i, r := range raw {
		p, err := decodeResult(r)
		if err != nil {
			return nil, fmt.Errorf("%w: result %d: %v", ErrWorker, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeResult(raw any) (*param.Parameter, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", raw)
	}
	tagsRaw, _ := obj["tags"].(map[string]any)
	var tags param.Tags
	for name, v := range tagsRaw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("tag %q is %T, expected a string", name, v)
		}
		tags = tags.With(name, s)
	}
	if tags.Qualifier == "" {
		return nil, fmt.Errorf("missing qualifier")
	}
	if tags.Dataset == "" {
		return nil, fmt.Errorf("%s has no dataset tag", tags.Qualifier)
	}

	typ := param.Type("float_array")
	if s, ok := obj["type"].(string); ok && s != "" {
		typ = param.Type(s)
	}
	switch typ {
	case param.TypeFloatArray, param.TypeArray, param.TypeFloat:
	default:
		return nil, fmt.Errorf("%s: unsupported result type %q", tags.Qualifier, typ)
	}
	value, err := interfaceToCty(obj["value"])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tags.Qualifier, err)
	}
	unit, _ := obj["unit"].(string)
	return param.New(tags, typ, value, "Synthetic "+tags.Qualifier, param.WithUnit(unit))
}

// ctyToInterface converts a cty.Value to plain Go values that encode as
// JSON.
func ctyToInterface(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			f, _ := val.AsBigFloat().Float64()
			switch {
			case math.IsInf(f, 1):
				return posInf, nil
			case math.IsInf(f, -1):
				return negInf, nil
			}
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			e, err := ctyToInterface(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = e
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			e, err := ctyToInterface(v)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
}

// interfaceToCty converts decoded JSON back into a cty.Value. The strings
// "inf" and "-inf" become infinite numbers.
func interfaceToCty(data any) (cty.Value, error) {
	if data == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	switch v := data.(type) {
	case string:
		switch v {
		case posInf:
			return cty.PositiveInfinity, nil
		case negInf:
			return cty.NegativeInfinity, nil
		}
		return cty.StringVal(v), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case bool:
		return cty.BoolVal(v), nil
	case map[string]any:
		attrs := make(map[string]cty.Value, len(v))
		for key, val := range v {
			e, err := interfaceToCty(val)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[key] = e
		}
		return cty.ObjectVal(attrs), nil
	case []any:
		if len(v) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(v))
		for _, val := range v {
			e, err := interfaceToCty(val)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, e)
		}
		return cty.TupleVal(elems), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported type for conversion to cty.Value: %T", v)
	}
}
