// Package constraint keeps derived parameters consistent with the
// parameters they are computed from.
//
// A constraint is itself a parameter (context "constraint") holding an
// expression over aliases. Each alias is bound to the uniqueid of another
// parameter, and one alias, the solve-for target, receives the result. The
// package provides:
//
//   - the built-in library of constraint templates for binaries and single
//     stars (library.go),
//   - Attach / Detach to install or remove a constraint in a parameter set,
//   - Recompute, which re-evaluates dependent constraints in dependency
//     order after a parameter changes,
//   - Flip, which re-targets a constraint to another of its aliases using
//     the inverse forms stored on it.
//
// Evaluation problems such as an expression overflowing to infinity or
// leaving its domain are reported as Problems, not errors: the bundle logs
// them and keeps the configuration, so that run_checks can explain it.
package constraint
