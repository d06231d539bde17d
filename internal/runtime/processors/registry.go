// Package processors holds the named user functions a scenario can call:
// plain function steps, beforeRequest hooks and whileTrue loop predicates.
package processors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/vu"
)

// Request is the publish a beforeRequest hook observes. Hooks may rewrite
// any field; the publish uses whatever the last hook left behind.
type Request struct {
	Topic   string
	Payload any
	Options map[string]any
}

// Function runs as a standalone scenario step.
type Function func(ctx context.Context, v *vu.Context, sink events.Sink) error

// Hook runs immediately before a publish.
type Hook func(ctx context.Context, req *Request, v *vu.Context, sink events.Sink) error

// Predicate decides whether a loop keeps iterating.
type Predicate func(ctx context.Context, v *vu.Context) (bool, error)

// Registry maps names to processors. It is safe for concurrent use; lookups
// happen at compile time and from every virtual user.
type Registry struct {
	mu         sync.RWMutex
	functions  map[string]Function
	hooks      map[string]Hook
	predicates map[string]Predicate
}

func NewRegistry() *Registry {
	return &Registry{
		functions:  make(map[string]Function),
		hooks:      make(map[string]Hook),
		predicates: make(map[string]Predicate),
	}
}

// RegisterFunction adds or replaces a function step.
func (r *Registry) RegisterFunction(name string, fn Function) error {
	if name == "" {
		return errspkg.ErrProcessorNameEmpty
	}
	if fn == nil {
		return fmt.Errorf("function %q: %w", name, errspkg.ErrProcessorNil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
	return nil
}

// RegisterHook adds or replaces a beforeRequest hook.
func (r *Registry) RegisterHook(name string, hook Hook) error {
	if name == "" {
		return errspkg.ErrProcessorNameEmpty
	}
	if hook == nil {
		return fmt.Errorf("hook %q: %w", name, errspkg.ErrProcessorNil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = hook
	return nil
}

// RegisterPredicate adds or replaces a whileTrue predicate.
func (r *Registry) RegisterPredicate(name string, p Predicate) error {
	if name == "" {
		return errspkg.ErrProcessorNameEmpty
	}
	if p == nil {
		return fmt.Errorf("predicate %q: %w", name, errspkg.ErrProcessorNil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[name] = p
	return nil
}

func (r *Registry) Function(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[name]
	return fn, ok
}

func (r *Registry) Hook(name string) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[name]
	return h, ok
}

func (r *Registry) Predicate(name string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predicates[name]
	return p, ok
}

// Names lists registered names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string][]string{
		"function":  sortedKeys(r.functions),
		"hook":      sortedKeys(r.hooks),
		"predicate": sortedKeys(r.predicates),
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
