package task

import (
	"context"
	"fmt"
	"sync"
)

// Handler is the Go function behind a callback. Execution details, including
// RequestSelfRequeue, are reachable through ctx.
type Handler func(ctx context.Context, params Params) error

// PeriodicDispatcher runs the inner handler of a periodic task.
type PeriodicDispatcher func(ctx context.Context, inner Handler, params Params) error

// Registry is the dispatch table that resolves callbacks to handlers.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[string]Handler
	methods  map[string]map[string]Handler
	names    map[string]string
	periodic PeriodicDispatcher
}

// NewRegistry creates an empty registry whose periodic dispatcher invokes the
// inner handler directly.
func NewRegistry() *Registry {
	return &Registry{
		funcs:   make(map[string]Handler),
		methods: make(map[string]map[string]Handler),
		names:   make(map[string]string),
		periodic: func(ctx context.Context, inner Handler, params Params) error {
			return inner(ctx, params)
		},
	}
}

// RegisterFunc binds a free-function callback name to h.
func (r *Registry) RegisterFunc(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = h
}

// RegisterMethod binds a (target, method) callback to h.
func (r *Registry) RegisterMethod(target, method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.methods[target]
	if !ok {
		m = make(map[string]Handler)
		r.methods[target] = m
	}
	m[method] = h
}

// SetDisplayName sets the label used for every callback on target in logs.
func (r *Registry) SetDisplayName(target, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[target] = name
}

// SetPeriodicDispatcher replaces the dispatcher used for periodic tasks.
func (r *Registry) SetPeriodicDispatcher(d PeriodicDispatcher) {
	if d == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.periodic = d
}

// Lookup returns the handler registered for cb.
func (r *Registry) Lookup(cb Callback) (Handler, error) {
	if err := cb.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var h Handler
	if cb.IsMethod() {
		h = r.methods[cb.Target][cb.Method]
	} else {
		h = r.funcs[cb.Function]
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s is not registered", ErrInvalidCallback, cb.String())
	}
	return h, nil
}

// Resolve returns the invocable for t, routing periodic tasks through the
// periodic dispatcher.
func (r *Registry) Resolve(t *Task) (Handler, error) {
	inner, err := r.Lookup(t.Callback)
	if err != nil {
		return nil, err
	}
	if !t.IsPeriodic() {
		return inner, nil
	}

	r.mu.RLock()
	dispatch := r.periodic
	r.mu.RUnlock()

	return func(ctx context.Context, params Params) error {
		return dispatch(ctx, inner, params)
	}, nil
}

// Label renders cb for humans, preferring the target's display name.
func (r *Registry) Label(cb Callback) string {
	if cb.IsMethod() {
		r.mu.RLock()
		name, ok := r.names[cb.Target]
		r.mu.RUnlock()
		if ok && name != "" {
			return name
		}
	}
	return cb.String()
}

// Synopsis renders t as a call expression for logs.
func (r *Registry) Synopsis(t *Task) string {
	return Synopsis(r.Label(t.Callback), t.Params)
}
