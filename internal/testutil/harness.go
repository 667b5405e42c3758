package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/app"
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/hcl"
)

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Output    string
	Err       error
	App       *app.App
}

// RunIntegrationTest provides a standardized harness for running integration tests
// using a default background context.
func RunIntegrationTest(t *testing.T, files map[string]string, modules ...backend.Module) *HarnessResult {
	t.Helper()
	return RunIntegrationTestWithContext(context.Background(), t, files, modules...)
}

// RunIntegrationTestWithContext writes files into a temporary directory,
// builds an app over it with the given backend modules and runs the script.
// With no modules the app registers its core backends.
func RunIntegrationTestWithContext(ctx context.Context, t *testing.T, files map[string]string, modules ...backend.Module) *HarnessResult {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	cfg := &app.Config{
		ScriptPaths: []string{dir},
		LogLevel:    "debug",
		LogFormat:   "text",
	}
	out := &app.SafeBuffer{}
	logs := &app.SafeBuffer{}

	var testApp *app.App
	var panicErr any
	func() {
		defer func() {
			if r := recover(); r != nil {
				if os.Getenv("STARBUNDLE_TEST_LOGS") == "true" {
					t.Logf("--- HARNESS RECOVERED PANIC ---\n%q", fmt.Sprintf("%v", r))
				}
				panicErr = r
			}
		}()
		testApp = app.NewApp(out, logs, cfg, hcl.NewLoader(), modules...)
	}()

	if panicErr != nil {
		return &HarnessResult{
			LogOutput: logs.String(),
			Output:    out.String(),
			Err:       fmt.Errorf("application startup panicked | %v", panicErr),
		}
	}
	t.Cleanup(func() { _ = testApp.Close() })

	runErr := testApp.Run(ctx)

	if os.Getenv("STARBUNDLE_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
	}

	return &HarnessResult{
		LogOutput: logs.String(),
		Output:    out.String(),
		Err:       runErr,
		App:       testApp,
	}
}
