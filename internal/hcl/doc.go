// Package hcl provides the concrete HCL implementation for the configuration
// loading and data conversion interfaces defined in the `config` package,
// and the HCL file format used to persist bundles.
//
// A persisted bundle is a flat list of `parameter` blocks, one per
// parameter, labelled with the parameter type. Constraints are ordinary
// parameters carrying their expression, alias bindings and inverse forms,
// so a bundle reloads without consulting the built-in constraint library.
package hcl
