package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/app"
)

// isolate keeps the developer's config and environment out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STARBUNDLE_CONFIG", "")
	t.Setenv("STARBUNDLE_LOG_LEVEL", "")
	t.Setenv("STARBUNDLE_LOG_FORMAT", "")
	t.Setenv("STARBUNDLE_LOG_FILE", "")
	t.Setenv("STARBUNDLE_HEALTHCHECK_PORT", "")
}

func TestParse(t *testing.T) {
	isolate(t)
	out := &bytes.Buffer{}

	cfg, exit, err := Parse([]string{"-log-level", "DEBUG", "-log-file", "run.log", "a.hcl", "scripts"}, out)
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, &app.Config{
		ScriptPaths: []string{"a.hcl", "scripts"},
		LogFormat:   "text",
		LogLevel:    "debug",
		LogFile:     "run.log",
	}, cfg)
}

func TestParse_EnvDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("STARBUNDLE_LOG_FORMAT", "json")
	t.Setenv("STARBUNDLE_HEALTHCHECK_PORT", "9090")

	cfg, _, err := Parse([]string{"main.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 9090, cfg.HealthcheckPort)

	cfg, _, err = Parse([]string{"-log-format", "text", "main.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.LogFormat, "flags override the environment")
}

func TestParse_ShouldExit(t *testing.T) {
	isolate(t)
	for _, args := range [][]string{{"-h"}, {}} {
		out := &bytes.Buffer{}
		cfg, exit, err := Parse(args, out)
		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	}
}

func TestParse_Errors(t *testing.T) {
	isolate(t)
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"-bogus", "a.hcl"}, "flag provided but not defined: -bogus"},
		{"bad format", []string{"-log-format", "xml", "a.hcl"}, "invalid log-format"},
		{"bad level", []string{"-log-level", "loud", "a.hcl"}, "invalid log-level"},
		{"bad port", []string{"-healthcheck-port", "-1", "a.hcl"}, "invalid healthcheck port"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, exit, err := Parse(tc.args, &bytes.Buffer{})
			assert.False(t, exit)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.want)
		})
	}
}

func TestParse_BadConfigFile(t *testing.T) {
	isolate(t)
	t.Setenv("STARBUNDLE_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	_, _, err := Parse([]string{"a.hcl"}, &bytes.Buffer{})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, exitErr.Message, "read config")
}
