package config

import (
	"github.com/hashicorp/hcl/v2"
)

// Script is the unified, format-agnostic representation of a script: its
// variables and its steps in source order.
type Script struct {
	Vars  map[string]hcl.Expression
	Steps []*Step
}

// Step is the format-agnostic representation of a `step` block. Action
// names the bundle operation; Name labels the step in logs and errors.
type Step struct {
	Action    string
	Name      string
	Arguments map[string]hcl.Expression
	Range     hcl.Range
}

// Address returns the step's address as written in the script.
func (s *Step) Address() string {
	return "step." + s.Action + "." + s.Name
}
