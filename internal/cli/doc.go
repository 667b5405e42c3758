// Package cli turns command-line arguments into an app.Config. Flag
// defaults come from the settings file and STARBUNDLE_* environment, and
// usage or parse failures are reported as an ExitError carrying the
// process exit code.
package cli
