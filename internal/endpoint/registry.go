package endpoint

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when no factory is registered for a template ID.
var ErrNotFound = errors.New("connector template not registered")

// SourceFactory creates a source instance.
type SourceFactory func() (Source, error)

// SinkFactory creates a sink instance.
type SinkFactory func() (Sink, error)

// ParserFactory creates a parser instance.
type ParserFactory func() (Parser, error)

// Registry holds source, sink and parser factories indexed by template ID.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
	parsers map[string]ParserFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
		parsers: make(map[string]ParserFactory),
	}
}

// RegisterSource adds a source factory.
// Panics if the template ID is already registered.
func (r *Registry) RegisterSource(templateID string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[templateID]; exists {
		panic(fmt.Sprintf("source factory already registered: %s", templateID))
	}
	r.sources[templateID] = factory
}

// RegisterSink adds a sink factory.
// Panics if the template ID is already registered.
func (r *Registry) RegisterSink(templateID string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[templateID]; exists {
		panic(fmt.Sprintf("sink factory already registered: %s", templateID))
	}
	r.sinks[templateID] = factory
}

// RegisterParser adds a parser factory.
// Panics if the parser ID is already registered.
func (r *Registry) RegisterParser(id string, factory ParserFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.parsers[id]; exists {
		panic(fmt.Sprintf("parser factory already registered: %s", id))
	}
	r.parsers[id] = factory
}

// CreateSource instantiates a source by template ID.
func (r *Registry) CreateSource(templateID string) (Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[templateID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %q: %w", templateID, ErrNotFound)
	}
	return factory()
}

// CreateSink instantiates a sink by template ID.
func (r *Registry) CreateSink(templateID string) (Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[templateID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink %q: %w", templateID, ErrNotFound)
	}
	return factory()
}

// CreateParser instantiates a parser by ID.
func (r *Registry) CreateParser(id string) (Parser, error) {
	r.mu.RLock()
	factory, ok := r.parsers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("parser %q: %w", id, ErrNotFound)
	}
	return factory()
}

// ParserForMimeType returns the first registered parser claiming the MIME
// type. Parsers are checked in ID order so the choice is stable.
func (r *Registry) ParserForMimeType(mimeType string) (Parser, error) {
	for _, id := range r.Parsers() {
		p, err := r.CreateParser(id)
		if err != nil {
			return nil, err
		}
		for _, mt := range p.MimeTypes() {
			if mt == mimeType {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("parser for %q: %w", mimeType, ErrNotFound)
}

// Sources returns registered source template IDs, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

// Sinks returns registered sink template IDs, sorted.
func (r *Registry) Sinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sinks)
}

// Parsers returns registered parser IDs, sorted.
func (r *Registry) Parsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.parsers)
}

func sortedKeys[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// --- Default Global Registry ---

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the global registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterSource adds a source factory to the default registry.
func RegisterSource(templateID string, factory SourceFactory) {
	defaultRegistry.RegisterSource(templateID, factory)
}

// RegisterSink adds a sink factory to the default registry.
func RegisterSink(templateID string, factory SinkFactory) {
	defaultRegistry.RegisterSink(templateID, factory)
}

// RegisterParser adds a parser factory to the default registry.
func RegisterParser(id string, factory ParserFactory) {
	defaultRegistry.RegisterParser(id, factory)
}
