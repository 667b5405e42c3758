// Package expr parses and evaluates the small HCL expression language used
// by constraints and scripts, and provides the function library available
// to both.
package expr
