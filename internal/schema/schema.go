// Package schema holds the gohcl decoding targets for script files.
package schema

import (
	"github.com/hashicorp/hcl/v2"
)

// Step represents a `step` block: one bundle operation. Its attributes are
// the operation's arguments.
type Step struct {
	Action string   `hcl:"action,label"`
	Name   string   `hcl:"name,label"`
	Body   hcl.Body `hcl:",remain"`
}

// Vars represents a `vars` block. Its attributes are available to every
// step as `var.<name>`.
type Vars struct {
	Body hcl.Body `hcl:",remain"`
}

// ScriptFile represents the top-level structure of a script file.
type ScriptFile struct {
	Vars  []*Vars `hcl:"vars,block"`
	Steps []*Step `hcl:"step,block"`
}
