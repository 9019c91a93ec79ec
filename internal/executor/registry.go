package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc executes one call's payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Kind describes a registered call kind.
type Kind struct {
	Name        string
	Description string
	Profile     Profile
	// LocalOnly kinds touch process-local state and never leave the api process.
	LocalOnly bool
	Handler   HandlerFunc
}

// Registry maps kind names to handlers. The api process and every worker
// build the same registry so calls can run on either side.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind. Registering the same name twice is an error.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" {
		return fmt.Errorf("register kind: name is required")
	}
	if k.Handler == nil {
		return fmt.Errorf("register kind %q: handler is required", k.Name)
	}
	if k.Profile.Name == "" {
		k.Profile = ProfileForKind(k.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[k.Name]; exists {
		return fmt.Errorf("register kind %q: already registered", k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

// MustRegister is Register that panics on error, for wiring at startup.
func (r *Registry) MustRegister(k Kind) {
	if err := r.Register(k); err != nil {
		panic(err)
	}
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// Kinds lists registered kinds sorted by name.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs call through its handler and marshals the result.
func (r *Registry) Invoke(ctx context.Context, call Call) (json.RawMessage, error) {
	k, ok := r.Lookup(call.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, call.Kind)
	}

	result, err := k.Handler(ctx, call.Payload)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", call.Kind, err)
	}
	return out, nil
}

// Typed adapts a strongly typed function into a HandlerFunc.
func Typed[In, Out any](fn func(context.Context, In) (Out, error)) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in In
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		return fn(ctx, in)
	}
}
