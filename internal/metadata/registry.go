package metadata

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry holds the metadata of every served entity.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*EntityMetadata
}

func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*EntityMetadata)}
}

// Register validates and adds an entity, replacing any previous version.
func (r *Registry) Register(md *EntityMetadata) error {
	if md == nil {
		return fmt.Errorf("%w: nil metadata", ErrInvalidMetadata)
	}
	if err := md.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[md.Name] = md
	return nil
}

// Get returns the metadata of the named entity.
func (r *Registry) Get(name string) (*EntityMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	md, ok := r.entities[name]
	return md, ok
}

// Names returns the registered entity names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entities))
}
