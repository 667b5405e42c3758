// Package param defines the Parameter, the single unit of state held by a
// bundle. A parameter is addressed by a set of tags (qualifier, component,
// dataset, context, ...) and carries a typed value backed by cty.
package param
