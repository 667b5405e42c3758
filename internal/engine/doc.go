// Package engine runs bundle scripts. A script is a sequence of `step`
// blocks, each naming a bundle operation (its action) and a label. Steps run
// in source order against a single bundle; the outputs of earlier steps are
// available to later ones as `step.<action>.<name>.output`, and script
// variables as `var.<name>`.
package engine
