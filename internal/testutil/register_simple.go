package testutil

import "github.com/vk/starbundle/internal/backend"

// SimpleModule is a test helper for easily creating a mock module that
// registers a single compute or solver backend.
type SimpleModule struct {
	Compute backend.ComputeBackend
	Solver  backend.SolverBackend
}

// Register implements the backend.Module interface.
func (m *SimpleModule) Register(r *backend.Registry) {
	if m.Compute != nil {
		r.RegisterCompute(m.Compute)
	}
	if m.Solver != nil {
		r.RegisterSolver(m.Solver)
	}
}
