// Package backend defines the contracts between a bundle and the engines
// that compute synthetic observables or fit parameters.
//
// A backend is registered by kind (for example "phoebe" or "emcee") in a
// Registry. Backends are compiled into the binary as modules; each module's
// Register method adds its backends to the registry at startup, and the
// registry is validated before any bundle uses it.
//
// Backends never see the bundle itself. They receive cloned parameter sets
// and return new parameters, which the bundle tags with the model or
// solution name and merges into its own store.
package backend
