package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler executes one task's business logic.
//
// A returned error (or a panic) is treated as a failed attempt. Handlers that
// hit a permanent problem should return Skipped so they are not retried.
type Handler interface {
	Execute(ctx context.Context, def Definition) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, def Definition) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, def Definition) (Result, error) {
	return f(ctx, def)
}

// Registry is the id -> handler dispatch table built at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds h under id. Registering the same id twice is a programming error.
func (r *Registry) Register(id string, h Handler) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("register handler: empty id")
	}
	if h == nil {
		return fmt.Errorf("register handler %q: nil handler", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("register handler %q: already registered", id)
	}
	r.handlers[id] = h
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(id string, h Handler) {
	if err := r.Register(id, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for id, or a *ConfigError wrapping ErrUnknownTask.
func (r *Registry) Lookup(id string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{TaskID: id, Err: ErrUnknownTask}
	}
	return h, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
