package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/starbundle/internal/bundle"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/testutil"
)

const fitScript = `
	vars {
		walkers = 4
	}

	step "bundle" "star" {
		kind = "star"
	}

	step "add_dataset" "lc" {
		kind = "lc"
		values = {
			times  = [0, 0.25, 0.5]
			fluxes = [1.2, 1.2, 1.2]
			sigmas = [0.05, 0.05, 0.05]
		}
	}

	step "add_distribution" "init" {
		twig         = "l3@lc01"
		name         = "init"
		distribution = uniform(0.1, 0.9)
	}

	step "add_solver" "mcmc" {
		kind = "emcee"
		name = "mcmc"
		values = {
			fit_parameters = ["l3@lc01"]
			init_from      = ["init"]
			priors         = ["init"]
			nwalkers       = var.walkers
			niters         = 5
			seed           = 3
		}
	}

	step "run_solver" "first" {
		solution = "first"
	}
`

// TestTutorial_ContinueFromAccumulatesIterations resumes a sampler run from
// the previous solution in a second file.
func TestTutorial_ContinueFromAccumulatesIterations(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	files := map[string]string{
		"01_fit.hcl": fitScript,
		"02_continue.hcl": `
			step "run_solver" "second" {
				solution  = "second"
				overrides = {
					continue_from = step.run_solver.first.output
					niters        = 7
				}
			}

			step "summary" "second" {
				solution = "second"
			}
		`,
	}

	// --- Act ---
	result := testutil.RunIntegrationTest(t, files)

	// --- Assert ---
	require.NoError(t, result.Err)
	testutil.AssertStepRan(t, result, "run_solver", "first")
	testutil.AssertStepRan(t, result, "summary", "second")

	b := result.App.Engine().Bundle()
	assert.Equal(t, []string{"first", "second"}, b.Solutions())

	niters := func(solution string) int {
		p, err := b.GetParameter(bundle.Query{Tags: param.Tags{Qualifier: "niters", Solution: solution, Context: param.ContextSolution}})
		require.NoError(t, err)
		n, err := p.Int()
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 5, niters("first"))
	assert.Equal(t, 12, niters("second"))
	assert.Contains(t, result.Output, "l3@lc01")
}

// TestTutorial_ContinueFromUnknownSolution fails the run.
func TestTutorial_ContinueFromUnknownSolution(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	files := map[string]string{
		"01_fit.hcl": fitScript,
		"02_continue.hcl": `
			step "run_solver" "second" {
				solution  = "second"
				overrides = { continue_from = "nope" }
			}
		`,
	}

	// --- Act ---
	result := testutil.RunIntegrationTest(t, files)

	// --- Assert ---
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "step.run_solver.second failed")
	testutil.AssertStepRan(t, result, "run_solver", "first")
}
