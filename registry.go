package cachehouse

import "sync"

// BackendSource is the read side of a Registry, the only part wrappers use.
type BackendSource interface {
	HasInstance() bool
	Instance() (Backend, error)
}

// Registry is a slot holding at most one active Backend.
//
// Backends register themselves on construction. The first registration wins:
// SetActive on an occupied registry returns ErrBackendAlreadyActive and leaves
// the active backend untouched, so two goroutines racing through startup can
// never both end up active. The core never empties a registry; Reset is for
// tests and explicit teardown.
type Registry struct {
	mu     sync.RWMutex
	active Backend
}

var _ BackendSource = (*Registry)(nil)

func NewRegistry() *Registry { return &Registry{} }

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide registry used when neither the backend
// Options nor the wrapper name one.
func DefaultRegistry() *Registry { return defaultRegistry }

func (r *Registry) HasInstance() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil
}

func (r *Registry) Instance() (Backend, error) {
	r.mu.RLock()
	b := r.active
	r.mu.RUnlock()
	if b == nil {
		return nil, ErrNoBackend
	}
	return b, nil
}

func (r *Registry) SetActive(b Backend) error {
	if b == nil {
		return ErrNoBackend
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrBackendAlreadyActive
	}
	r.active = b
	return nil
}

// Reset empties the slot and returns the backend that was active, if any.
// The returned backend is not closed.
func (r *Registry) Reset() Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.active
	r.active = nil
	return prev
}
