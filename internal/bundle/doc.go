// Package bundle implements the modeling bundle: a hierarchical parameter
// store describing a binary or single star together with its datasets,
// features, compute and solver configurations, models, solutions and
// distributions.
//
// Every value lives in a param.Parameter addressed by its tags. Derived
// parameters are driven by constraints (package constraint) and are
// recomputed whenever one of their inputs changes. Compute and solver
// work is delegated to backends looked up by kind in a backend.Registry.
//
// A Bundle is safe for concurrent use. Read operations return copies of
// parameters; all changes go through the Bundle's methods.
package bundle
