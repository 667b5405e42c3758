package app

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/hcl"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates a new app instance for system testing. It returns the
// app, its script output and its log output.
func SetupAppTest(t *testing.T, appConfig *Config, modules ...backend.Module) (*App, *SafeBuffer, *SafeBuffer) {
	t.Helper()

	outBuffer := &SafeBuffer{}
	logBuffer := &SafeBuffer{}
	appConfig.LogLevel = "debug"
	if appConfig.LogFormat == "" {
		appConfig.LogFormat = "text"
	}
	testApp := NewApp(outBuffer, logBuffer, appConfig, hcl.NewLoader(), modules...)

	t.Cleanup(func() {
		_ = testApp.Close()
		if os.Getenv("STARBUNDLE_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, outBuffer, logBuffer
}
