package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a chat provider from an instance configuration.
type Factory func(cfg InstanceConfig) (Provider, error)

// SpeechFactory constructs a speech provider from an instance configuration.
type SpeechFactory func(cfg InstanceConfig) (SpeechProvider, error)

// Registration couples a provider type's static metadata with its factory.
// Exactly one of Factory / SpeechFactory is set, matching Metadata.Kind.
type Registration struct {
	Metadata      Metadata
	Factory       Factory
	SpeechFactory SpeechFactory
}

// Registry maps provider-type ids to factories and metadata. It is an
// explicit object constructed once at process start and passed by reference;
// there is no package-level registration.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Registration
}

// NewRegistry creates an empty provider-type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Registration)}
}

// Register adds a provider type. Re-registering an id is a programming error.
func (r *Registry) Register(reg Registration) error {
	if reg.Metadata.ID == "" {
		return fmt.Errorf("provider registration missing id")
	}
	switch reg.Metadata.Kind {
	case KindLLM:
		if reg.Factory == nil {
			return fmt.Errorf("provider %q: llm registration requires Factory", reg.Metadata.ID)
		}
	case KindSpeech:
		if reg.SpeechFactory == nil {
			return fmt.Errorf("provider %q: speech registration requires SpeechFactory", reg.Metadata.ID)
		}
	default:
		return fmt.Errorf("provider %q: unknown kind %q", reg.Metadata.ID, reg.Metadata.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[reg.Metadata.ID]; exists {
		return fmt.Errorf("provider %q already registered", reg.Metadata.ID)
	}
	r.types[reg.Metadata.ID] = reg
	return nil
}

// Lookup returns the registration for a provider-type id.
func (r *Registry) Lookup(id string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.types[id]
	return reg, ok
}

// List returns the metadata of all registered provider types, sorted by id.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.types))
	for _, reg := range r.types {
		out = append(out, reg.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
