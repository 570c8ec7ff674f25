package tx

import (
	"context"
	"math"
	"sort"
)

// ContextState is the per-context description of the current transaction.
type ContextState struct {
	Name      string
	ReadOnly  bool
	Isolation Isolation
	Active    bool
}

// Registry holds the transactional state bound to one logical execution context:
// bound resources, the ordered synchronization list and the current transaction's
// name, read-only flag, isolation and active flag.
//
// A Registry is owned by a single goroutine at a time and is not safe for
// concurrent mutation. Goroutines that run their own units of work need their own
// Registry (see Detach).
type Registry struct {
	resources        map[any]any
	synchronizations []Synchronization
	syncActive       bool
	state            ContextState
}

func NewRegistry() *Registry {
	return &Registry{resources: make(map[any]any)}
}

type registryKey struct{}

// WithRegistry returns ctx carrying a Registry, reusing one that is already present.
func WithRegistry(ctx context.Context) (context.Context, *Registry) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r := RegistryFrom(ctx); r != nil {
		return ctx, r
	}
	r := NewRegistry()
	return context.WithValue(ctx, registryKey{}, r), r
}

// Detach returns ctx carrying a fresh Registry, hiding any registry of the parent.
// Use it before handing ctx to another goroutine.
func Detach(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, registryKey{}, NewRegistry())
}

// RegistryFrom returns the Registry bound to ctx, or nil.
func RegistryFrom(ctx context.Context) *Registry {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(registryKey{}).(*Registry)
	return r
}

// Resource returns the value bound for key, or nil.
func (r *Registry) Resource(key any) any {
	return r.resources[key]
}

func (r *Registry) HasResource(key any) bool {
	_, ok := r.resources[key]
	return ok
}

// BindResource binds value for key. Binding an already bound key is an illegal state.
func (r *Registry) BindResource(key any, value any) error {
	if value == nil {
		return Errorf(KindIllegalState, "resource value for key [%v] must not be nil", key)
	}
	if _, ok := r.resources[key]; ok {
		return Errorf(KindIllegalState, "already value bound for key [%v]", key)
	}
	r.resources[key] = value
	return nil
}

// UnbindResource removes and returns the value bound for key.
func (r *Registry) UnbindResource(key any) (any, error) {
	value, ok := r.resources[key]
	if !ok {
		return nil, Errorf(KindIllegalState, "no value bound for key [%v]", key)
	}
	delete(r.resources, key)
	return value, nil
}

func (r *Registry) IsSynchronizationActive() bool {
	return r.syncActive
}

// InitSynchronization activates an empty callback list.
func (r *Registry) InitSynchronization() error {
	if r.syncActive {
		return Errorf(KindIllegalState, "cannot activate transaction synchronization - already active")
	}
	r.syncActive = true
	r.synchronizations = nil
	return nil
}

func (r *Registry) RegisterSynchronization(s Synchronization) error {
	if s == nil {
		return Errorf(KindIllegalState, "synchronization must not be nil")
	}
	if !r.syncActive {
		return Errorf(KindIllegalState, "transaction synchronization is not active")
	}
	r.synchronizations = append(r.synchronizations, s)
	return nil
}

// Synchronizations returns a snapshot sorted by Order, stable for equal orders.
func (r *Registry) Synchronizations() []Synchronization {
	if !r.syncActive || len(r.synchronizations) == 0 {
		return nil
	}
	out := make([]Synchronization, len(r.synchronizations))
	copy(out, r.synchronizations)
	sort.SliceStable(out, func(i, j int) bool {
		return orderOf(out[i]) < orderOf(out[j])
	})
	return out
}

func (r *Registry) ClearSynchronization() error {
	if !r.syncActive {
		return Errorf(KindIllegalState, "cannot deactivate transaction synchronization - not active")
	}
	r.syncActive = false
	r.synchronizations = nil
	return nil
}

func (r *Registry) CurrentTransactionName() string { return r.state.Name }

func (r *Registry) SetCurrentTransactionName(name string) { r.state.Name = name }

func (r *Registry) IsCurrentTransactionReadOnly() bool { return r.state.ReadOnly }

func (r *Registry) SetCurrentTransactionReadOnly(readOnly bool) { r.state.ReadOnly = readOnly }

// CurrentIsolation is IsolationDefault when the transaction did not request one.
func (r *Registry) CurrentIsolation() Isolation { return r.state.Isolation }

func (r *Registry) SetCurrentIsolation(i Isolation) { r.state.Isolation = i }

func (r *Registry) IsActualTransactionActive() bool { return r.state.Active }

func (r *Registry) SetActualTransactionActive(active bool) { r.state.Active = active }

// State returns a copy of the current transaction fields.
func (r *Registry) State() ContextState { return r.state }

// SetState restores transaction fields captured by State.
func (r *Registry) SetState(s ContextState) { r.state = s }

// Clear resets synchronization and transaction fields. Bound resources stay.
func (r *Registry) Clear() {
	r.syncActive = false
	r.synchronizations = nil
	r.state = ContextState{}
}

func orderOf(s Synchronization) int {
	if o, ok := s.(Ordered); ok {
		return o.Order()
	}
	return math.MaxInt
}
