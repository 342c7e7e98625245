// Package vendors hosts the adapter registry and the concrete vendor
// storefront adapters.
package vendors

import (
	"fmt"
	"sort"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
)

// StaticRegistry resolves adapters by slug from a map fixed at startup.
// Registration happens once during wiring; the map is read-only afterwards,
// so lookups need no locking.
type StaticRegistry struct {
	adapters map[vendor.Slug]vendor.Adapter
}

// NewStaticRegistry creates a registry from the given adapters.
func NewStaticRegistry(adapters ...vendor.Adapter) (*StaticRegistry, error) {
	m := make(map[vendor.Slug]vendor.Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := m[a.Slug()]; dup {
			return nil, fmt.Errorf("vendors: duplicate adapter registration for %q", a.Slug())
		}
		m[a.Slug()] = a
	}
	return &StaticRegistry{adapters: m}, nil
}

// Get returns the adapter for slug.
func (r *StaticRegistry) Get(slug vendor.Slug) (vendor.Adapter, error) {
	a, ok := r.adapters[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q", vendor.ErrAdapterNotRegistered, slug)
	}
	return a, nil
}

// List returns all registered adapters in slug order.
func (r *StaticRegistry) List() []vendor.Adapter {
	out := make([]vendor.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug() < out[j].Slug() })
	return out
}

// Ensure StaticRegistry implements vendor.Registry
var _ vendor.Registry = (*StaticRegistry)(nil)
