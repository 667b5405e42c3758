// Package paramstore provides a thread-safe, ordered, in-memory collection
// of parameters: the ParameterSet that backs a bundle and every filtered
// view of it.
//
// # Characteristics
//
//   - **Ordered:** iteration follows insertion order, which only matters for display
//   - **Unique:** the full tag tuple of a parameter is its key; duplicates are rejected
//   - **Thread-Safe:** a sync.RWMutex guards the slice and both indexes
//   - **Views:** Filter returns a new Set sharing the same *param.Parameter pointers
//
// Lookups that must resolve to exactly one parameter (Get) report a
// NotFoundError with "did you mean" suggestions, or an AmbiguousError
// listing the candidate twigs.
package paramstore
