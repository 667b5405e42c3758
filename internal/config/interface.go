package config

import (
	"context"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Loader is the interface for a format-specific script loader.
type Loader interface {
	// Load reads scripts from the given paths, translates them into the
	// format-agnostic model, and returns a matching Converter.
	Load(ctx context.Context, paths ...string) (*Script, Converter, error)
}

// Converter is the interface for a format-specific data binding and type
// conversion implementation. It acts as the bridge between raw step
// arguments and the Go input structs of step handlers.
type Converter interface {
	// DecodeBody evaluates step arguments and decodes them into a target Go
	// struct. Fields are matched by their `sb` tag; a tag with the
	// `optional` flag may be omitted. Unknown arguments are an error.
	DecodeBody(
		ctx context.Context,
		inputStruct any,
		args map[string]hcl.Expression,
		evalCtx *hcl.EvalContext,
	) error

	// CheckArguments reports unknown or missing arguments for a target Go
	// struct without evaluating any expression.
	CheckArguments(inputStruct any, args map[string]hcl.Expression) error

	// ToCtyValue converts a native Go value into its equivalent cty.Value.
	ToCtyValue(v any) (cty.Value, error)
}
