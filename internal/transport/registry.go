package transport

import (
	"fmt"
	"sort"

	"PatchDiscovery/internal/ports"
)

// Registry keeps a mapping from transport names to stream sources.
type Registry struct {
	sources map[string]ports.StreamSource
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]ports.StreamSource{}}
}

// Register adds or replaces a stream source.
func (r *Registry) Register(source ports.StreamSource) {
	if r.sources == nil {
		r.sources = map[string]ports.StreamSource{}
	}
	r.sources[source.Name()] = source
}

// Resolve returns a stream source by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.StreamSource, error) {
	if source, ok := r.sources[name]; ok {
		return source, nil
	}
	return nil, fmt.Errorf("transport %s is not registered (known: %v)", name, r.Names())
}

// Names lists registered transports in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
