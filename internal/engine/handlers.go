package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/agnivade/levenshtein"
)

// Handler binds a script action to its Go implementation.
type Handler struct {
	// NewInput returns a pointer to a fresh input struct, pre-filled with
	// the defaults of optional arguments.
	NewInput func() any
	Fn       func(ctx context.Context, s *State, input any) (any, error)
}

// Handlers holds all the registered action handlers.
type Handlers struct {
	all map[string]*Handler
}

// NewHandlers creates an empty handler table.
func NewHandlers() *Handlers {
	return &Handlers{all: make(map[string]*Handler)}
}

// Register adds the handler for an action.
func (h *Handlers) Register(action string, handler *Handler) {
	if _, exists := h.all[action]; exists {
		panic(fmt.Sprintf("handler for action '%s' already registered", action))
	}
	slog.Debug("Registering action handler.", "action", action)
	h.all[action] = handler
}

// Lookup returns the handler of an action.
func (h *Handlers) Lookup(action string) (*Handler, error) {
	if handler, ok := h.all[action]; ok {
		return handler, nil
	}
	best, bestDist := "", len(action)/2+2
	for _, known := range h.Actions() {
		if d := levenshtein.ComputeDistance(action, known); d < bestDist {
			best, bestDist = known, d
		}
	}
	if best != "" {
		return nil, fmt.Errorf("%w %q; did you mean %q?", ErrUnknownAction, action, best)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAction, action)
}

// Actions lists the registered actions in sorted order.
func (h *Handlers) Actions() []string {
	out := make([]string, 0, len(h.all))
	for action := range h.all {
		out = append(out, action)
	}
	slices.Sort(out)
	return out
}

// handle adapts a typed handler function. def holds the values optional
// arguments take when a step omits them.
func handle[T any](def T, fn func(ctx context.Context, s *State, in *T) (any, error)) *Handler {
	return &Handler{
		NewInput: func() any {
			in := def
			return &in
		},
		Fn: func(ctx context.Context, s *State, input any) (any, error) {
			return fn(ctx, s, input.(*T))
		},
	}
}
