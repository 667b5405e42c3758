package bundle

import (
	"context"
	"fmt"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/constraint"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/hcl"
	"github.com/vk/starbundle/internal/paramstore"
)

// Save writes every parameter of the bundle, hidden ones and results
// included, to path.
func (b *Bundle) Save(ctx context.Context, path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := hcl.WriteFile(path, b.set); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Saved bundle.", "path", path, "parameters", b.set.Len())
	return nil
}

// Load reads a bundle written by Save. Constraint links are rebuilt from the
// stored constraints; values are taken as saved and not recomputed.
func Load(ctx context.Context, reg *backend.Registry, path string) (*Bundle, error) {
	set, err := hcl.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := fromSet(reg, set)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	ctxlog.FromContext(ctx).Info("Loaded bundle.", "path", path, "parameters", b.Len())
	return b, nil
}

// FromSet builds a bundle around parameters decoded elsewhere.
func FromSet(ctx context.Context, reg *backend.Registry, set *paramstore.Set) (*Bundle, error) {
	b, err := fromSet(reg, set)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Created bundle from parameters.", "parameters", b.Len())
	return b, nil
}

func fromSet(reg *backend.Registry, set *paramstore.Set) (*Bundle, error) {
	if err := constraint.Restore(set); err != nil {
		return nil, err
	}
	b := New(reg)
	b.set = set
	b.refreshChoicesLocked()
	return b, nil
}
