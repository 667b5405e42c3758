package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestLoader_StepsKeepSourceOrder(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"main.hcl": `
vars {
  sma = 5.3
}

step "default_binary" "create" {}

step "set_value" "sma" {
  twig  = "sma@binary"
  value = var.sma
}

step "run_compute" "model" {
  model = "latest"
}
`,
		"notes.txt": "not a script",
	})

	script, conv, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, conv)

	require.Len(t, script.Steps, 3)
	require.Equal(t, "default_binary", script.Steps[0].Action)
	require.Equal(t, "set_value", script.Steps[1].Action)
	require.Equal(t, "sma", script.Steps[1].Name)
	require.Equal(t, "step.run_compute.model", script.Steps[2].Address())
	require.Contains(t, script.Steps[1].Arguments, "twig")
	require.Contains(t, script.Steps[1].Arguments, "value")

	require.Contains(t, script.Vars, "sma")
	v, diags := script.Vars["sma"].Value(nil)
	require.False(t, diags.HasErrors())
	require.Equal(t, cty.Number, v.Type())
	f, _ := v.AsBigFloat().Float64()
	require.Equal(t, 5.3, f)
}

func TestLoader_FilesReadInLexicalOrder(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"b.hcl": `step "run_checks" "checks" {}`,
		"a.hcl": `step "default_binary" "create" {}`,
	})

	script, _, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, script.Steps, 2)
	require.Equal(t, "default_binary", script.Steps[0].Action)
	require.Equal(t, "run_checks", script.Steps[1].Action)
}

func TestLoader_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "duplicate step",
			files:   map[string]string{"main.hcl": "step \"run_checks\" \"c\" {}\nstep \"run_checks\" \"c\" {}\n"},
			wantErr: "declared twice",
		},
		{
			name: "duplicate variable",
			files: map[string]string{
				"a.hcl": "vars {\n  x = 1\n}\n",
				"b.hcl": "vars {\n  x = 2\n}\n",
			},
			wantErr: `variable "x" is declared twice`,
		},
		{
			name:    "unknown block",
			files:   map[string]string{"main.hcl": "runner \"x\" {}\n"},
			wantErr: "failed to decode HCL file",
		},
		{
			name:    "nested block in step",
			files:   map[string]string{"main.hcl": "step \"set_value\" \"x\" {\n  arguments {}\n}\n"},
			wantErr: `step "set_value" "x"`,
		},
		{
			name:    "no scripts",
			files:   map[string]string{"readme.md": "nothing"},
			wantErr: "no .hcl scripts found",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeFiles(t, tc.files)
			_, _, err := NewLoader().Load(context.Background(), dir)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoader_MissingPath(t *testing.T) {
	_, _, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.ErrorContains(t, err, "error accessing path")
}

func TestLoader_Parse(t *testing.T) {
	script, err := NewLoader().Parse([]byte(`step "save" "out" { filename = "b.hcl" }`), "inline.hcl")
	require.NoError(t, err)
	require.Len(t, script.Steps, 1)
	require.Equal(t, "save", script.Steps[0].Action)
}
