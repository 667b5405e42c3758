package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/starbundle/internal/config"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/schema"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL script loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every script found under paths. Steps keep their source order;
// files are read in lexical order.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Script, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := findAllHCLFiles(paths)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no .hcl scripts found in %v", paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	script := &config.Script{Vars: make(map[string]hcl.Expression)}
	parser := hclparse.NewParser()
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		if err := l.decodeInto(script, hclFile.Body, file); err != nil {
			return nil, nil, err
		}
	}

	logger.Debug("HCL loading complete.", "vars", len(script.Vars), "steps", len(script.Steps))
	return script, NewConverter(), nil
}

// Parse loads a single script held in memory.
func (l *Loader) Parse(src []byte, filename string) (*config.Script, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	script := &config.Script{Vars: make(map[string]hcl.Expression)}
	if err := l.decodeInto(script, hclFile.Body, filename); err != nil {
		return nil, err
	}
	return script, nil
}

func (l *Loader) decodeInto(script *config.Script, body hcl.Body, filename string) error {
	var root schema.ScriptFile
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	for _, vars := range root.Vars {
		attrs, diags := vars.Body.JustAttributes()
		if diags.HasErrors() {
			return fmt.Errorf("invalid vars block in %s: %w", filename, diags)
		}
		for name, attr := range attrs {
			if _, dup := script.Vars[name]; dup {
				return fmt.Errorf("%s: variable %q is declared twice", attr.NameRange, name)
			}
			script.Vars[name] = attr.Expr
		}
	}

	seen := make(map[string]bool, len(script.Steps))
	for _, s := range script.Steps {
		seen[s.Address()] = true
	}
	for _, s := range root.Steps {
		step, err := translateStep(s)
		if err != nil {
			return err
		}
		if seen[step.Address()] {
			return fmt.Errorf("%s: %s is declared twice", step.Range, step.Address())
		}
		seen[step.Address()] = true
		script.Steps = append(script.Steps, step)
	}
	return nil
}

func translateStep(s *schema.Step) (*config.Step, error) {
	attrs, diags := s.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("step %q %q: %w", s.Action, s.Name, diags)
	}
	args := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		args[name] = attr.Expr
	}
	return &config.Step{
		Action:    s.Action,
		Name:      s.Name,
		Arguments: args,
		Range:     s.Body.MissingItemRange(),
	}, nil
}

// findAllHCLFiles walks all given paths and returns a flat list of all .hcl files found.
func findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return allFiles, nil
}
