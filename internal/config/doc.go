// Package config defines the format-agnostic model of a bundle script,
// along with the core interfaces (Loader, Converter) for loading scripts
// and binding their arguments to Go values.
//
// The `config.Script` is the single source of truth for the `engine`
// package. Concrete implementations of the interfaces, such as for HCL, are
// provided in separate packages.
package config
