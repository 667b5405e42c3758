package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertStepRan checks the log output within a HarnessResult to confirm that a
// specific step has finished.
func AssertStepRan(t *testing.T, result *HarnessResult, action, name string) {
	t.Helper()

	want := fmt.Sprintf("msg=\"Finished step.\" step=step.%s.%s", action, name)
	require.True(t,
		strings.Contains(result.LogOutput, want),
		"expected log output for step '%s.%s' was not found in logs", action, name,
	)
}

// AssertStepNotRan is the inverse of AssertStepRan.
func AssertStepNotRan(t *testing.T, result *HarnessResult, action, name string) {
	t.Helper()

	want := fmt.Sprintf("step=step.%s.%s", action, name)
	require.False(t,
		strings.Contains(result.LogOutput, want),
		"step '%s.%s' should not have started", action, name,
	)
}
