package bundle

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/keys"
)

// MemoryLocator keeps bundles in memory. Content can be changed at any time; opened bundles
// read through to the current content.
type MemoryLocator struct {
	mu      sync.RWMutex
	bundles map[string]map[language.Tag]map[string]any
}

// NewMemoryLocator creates an empty in-memory locator.
func NewMemoryLocator() *MemoryLocator {
	return &MemoryLocator{bundles: map[string]map[language.Tag]map[string]any{}}
}

// Set stores value under identifier for the culture partition of a bundle, creating the
// bundle when needed. Use culture.Invariant for the neutral partition.
func (m *MemoryLocator) Set(scope, namespace string, c language.Tag, identifier string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bundle(keys.BundleName(scope, namespace))
	partition, ok := b[c]
	if !ok {
		partition = map[string]any{}
		b[c] = partition
	}
	partition[identifier] = value
}

// SetAll merges values into the culture partition of a bundle.
func (m *MemoryLocator) SetAll(scope, namespace string, c language.Tag, values map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bundle(keys.BundleName(scope, namespace))
	partition, ok := b[c]
	if !ok {
		partition = make(map[string]any, len(values))
		b[c] = partition
	}
	maps.Copy(partition, values)
}

// Delete removes identifier from the culture partition of a bundle.
func (m *MemoryLocator) Delete(scope, namespace string, c language.Tag, identifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.bundles[keys.BundleName(scope, namespace)]; ok {
		delete(b[c], identifier)
	}
}

func (m *MemoryLocator) bundle(key string) map[language.Tag]map[string]any {
	b, ok := m.bundles[key]
	if !ok {
		b = map[language.Tag]map[string]any{}
		m.bundles[key] = b
	}
	return b
}

func (m *MemoryLocator) Locate(_ context.Context, scope, namespace string) (Source, error) {
	key := keys.BundleName(scope, namespace)

	m.mu.RLock()
	_, ok := m.bundles[key]
	m.mu.RUnlock()

	if !ok {
		return nil, notFound(scope, namespace)
	}
	return &memorySource{owner: m, key: key}, nil
}

func (m *MemoryLocator) EnumerateCultures(_ context.Context, src Source) ([]language.Tag, error) {
	ms, ok := src.(*memorySource)
	if !ok || ms.owner != m {
		return nil, fmt.Errorf("source %q does not belong to this memory locator", src.Location())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var tags []language.Tag
	for tag := range m.bundles[ms.key] {
		if tag != culture.Invariant {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

type memorySource struct {
	owner *MemoryLocator
	key   string
}

func (s *memorySource) Location() string {
	return "memory://" + s.key
}

func (s *memorySource) Open(_ context.Context) (Bundle, error) {
	return &memoryBundle{owner: s.owner, key: s.key}, nil
}

type memoryBundle struct {
	owner *MemoryLocator
	key   string
}

func (b *memoryBundle) Lookup(identifier string, c language.Tag) (any, bool) {
	b.owner.mu.RLock()
	defer b.owner.mu.RUnlock()

	partitions := b.owner.bundles[b.key]
	for tag := c; ; tag = tag.Parent() {
		if v, ok := partitions[tag][identifier]; ok {
			return v, true
		}
		if tag.IsRoot() {
			return nil, false
		}
	}
}
