package bundle

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// KindSpot is the feature kind of a circular spot on a star.
const KindSpot = "spot"

// featureAliases maps legacy option names to current qualifiers.
var featureAliases = map[string]string{
	"colon": "long",
}

// FeatureOptions configures a new feature.
type FeatureOptions struct {
	// Name defaults to the kind followed by a counter: spot01, spot02, ...
	Name      string
	Overwrite bool
	// Component is the star carrying the feature. It may be omitted when the
	// bundle holds a single star.
	Component string
	Values    map[string]any
}

// AddFeature attaches a feature of the given kind to a star and returns its
// name.
func (b *Bundle) AddFeature(ctx context.Context, kind string, opts FeatureOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, stars := backend.Hierarchy(b.set)
	component := opts.Component
	switch {
	case component == "" && len(stars) == 1:
		component = stars[0]
	case component == "":
		return "", fmt.Errorf("%w: %s requires a star component (one of %v)", ErrInvalidValue, kind, stars)
	case !slices.Contains(stars, component):
		return "", fmt.Errorf("%w: %q is not a star (stars: %v)", ErrInvalidValue, component, stars)
	}

	name := opts.Name
	if name == "" {
		name = b.nextLabelLocked(kind, "feature", param.ContextFeature)
	}

	params, err := featureParams(kind, name, component)
	if err != nil {
		return "", err
	}
	staged, err := paramstore.New(params...)
	if err != nil {
		return "", err
	}
	values := make(map[string]any, len(opts.Values))
	for k, v := range opts.Values {
		if alias, ok := featureAliases[k]; ok {
			k = alias
		}
		values[k] = v
	}
	if err := applyValues(staged, values); err != nil {
		return "", fmt.Errorf("add_feature %s: %w", name, err)
	}

	if err := b.claimLabelLocked(ctx, "feature", param.ContextFeature, name, opts.Overwrite); err != nil {
		return "", err
	}
	if err := b.set.AddAll(params...); err != nil {
		return "", err
	}
	ctxlog.FromContext(ctx).Debug("Added feature.", "kind", kind, "feature", name, "component", component)
	return name, nil
}

// AddSpot is AddFeature for a spot.
func (b *Bundle) AddSpot(ctx context.Context, opts FeatureOptions) (string, error) {
	return b.AddFeature(ctx, KindSpot, opts)
}

// RemoveFeature removes a feature.
func (b *Bundle) RemoveFeature(ctx context.Context, name string) error {
	return b.removeLabel(ctx, "feature", param.ContextFeature, name)
}

func featureParams(kind, name, component string) ([]*param.Parameter, error) {
	if kind != KindSpot {
		return nil, fmt.Errorf("%w: feature kind %q (expected %s)", ErrUnknownKind, kind, KindSpot)
	}
	return newCatalog(param.Tags{Component: component, Feature: name, Kind: kind, Context: param.ContextFeature}).
		float("colat", 0, "deg", "Colatitude of the center of the spot wrt spin axis", param.WithLimits(zero, deg180)).
		float("long", 0, "deg", "Longitude of the center of the spot wrt spin axis", param.WithLimits(zero, deg360)).
		float("radius", 1, "deg", "Angular radius of the spot").
		float("relteff", 1, "", "Temperature of the spot relative to the intrinsic temperature").
		params, nil
}
