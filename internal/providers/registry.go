package providers

import (
	"strings"
	"sync"
)

// Descriptor identifies a registered provider: its type plus an optional key,
// so that several providers of one type can coexist.
type Descriptor struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
}

// String returns "type" or "type/key".
func (d Descriptor) String() string {
	if d.Key == "" {
		return d.Type
	}
	return d.Type + "/" + d.Key
}

// Registration pairs a provider with the descriptor it was registered under.
type Registration struct {
	Descriptor Descriptor
	Provider   Provider
}

// Registry is the set of active providers. It is read for every dispatched
// message and written only by administrative add/remove calls.
type Registry struct {
	mu      sync.RWMutex
	entries []Registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// TryAdd registers p under (p.Type(), key). It returns false when that
// descriptor is already present or p is nil.
func (r *Registry) TryAdd(p Provider, key string) bool {
	if p == nil {
		return false
	}
	d := Descriptor{Type: p.Type(), Key: key}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(d) >= 0 {
		return false
	}
	r.entries = append(r.entries, Registration{Descriptor: d, Provider: p})
	return true
}

// TryRemove unregisters the provider registered under (p.Type(), key).
func (r *Registry) TryRemove(p Provider, key string) bool {
	if p == nil {
		return false
	}
	_, ok := r.Remove(Descriptor{Type: p.Type(), Key: key})
	return ok
}

// TryRemoveDescriptor unregisters whatever provider is registered under d.
func (r *Registry) TryRemoveDescriptor(d Descriptor) bool {
	_, ok := r.Remove(d)
	return ok
}

// Remove unregisters d and returns the provider that was registered under it.
func (r *Registry) Remove(d Descriptor) (Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(d)
	if i < 0 {
		return nil, false
	}
	p := r.entries[i].Provider
	r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
	return p, true
}

// Lookup returns the provider registered under d.
func (r *Registry) Lookup(d Descriptor) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexLocked(d); i >= 0 {
		return r.entries[i].Provider, true
	}
	return nil, false
}

// Describe returns a point-in-time copy of the registered descriptors in
// registration order.
func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor
	}
	return out
}

// Snapshot returns a point-in-time copy of the registrations. Later adds and
// removes do not affect the returned slice.
func (r *Registry) Snapshot() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) indexLocked(d Descriptor) int {
	for i, e := range r.entries {
		if e.Descriptor == d {
			return i
		}
	}
	return -1
}

// ParseDescriptor parses the String form "type" or "type/key".
func ParseDescriptor(s string) Descriptor {
	kind, key, _ := strings.Cut(s, "/")
	return Descriptor{Type: kind, Key: key}
}
