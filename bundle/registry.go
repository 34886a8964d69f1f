// Package bundle owns the handles to resource bundles. A handle is loaded at most once per
// scope and namespace, and the cultures each bundle offers are discovered on load.
package bundle

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/pitabwire/util"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/keys"
	"github.com/pitabwire/lexicon/telemetry"
)

const telemetryPkg = "lexicon/bundle"

// Handle references an opened bundle. Handles are immutable; only the bundle content they
// point to may change underneath.
type Handle struct {
	scope     string
	namespace string
	location  string
	bundle    Bundle
}

func (h *Handle) Scope() string     { return h.scope }
func (h *Handle) Namespace() string { return h.namespace }
func (h *Handle) Location() string  { return h.location }

// Key is the registry key of the handle, scope + "." + namespace.
func (h *Handle) Key() string {
	return keys.BundleName(h.scope, h.namespace)
}

// cultureSet is an append-only ordered set of cultures.
type cultureSet struct {
	tags []language.Tag
	seen map[language.Tag]struct{}
}

func newCultureSet() *cultureSet {
	s := &cultureSet{seen: map[language.Tag]struct{}{}}
	s.add(culture.Invariant)
	return s
}

func (s *cultureSet) add(tag language.Tag) {
	if _, ok := s.seen[tag]; ok {
		return
	}
	s.seen[tag] = struct{}{}
	s.tags = append(s.tags, tag)
}

// Registry caches bundle handles per scope and namespace.
type Registry struct {
	locator Locator
	tracer  telemetry.Tracer
	loads   metric.Int64Counter

	group singleflight.Group

	mu         sync.RWMutex
	handles    map[string]*Handle
	generation uint64

	culturesMu sync.RWMutex
	cultures   map[string]*cultureSet
	all        *cultureSet
}

// NewRegistry creates a registry that locates bundles through locator.
func NewRegistry(locator Locator) *Registry {
	return &Registry{
		locator:  locator,
		tracer:   telemetry.NewTracer(telemetryPkg),
		loads:    telemetry.DimensionlessMeasure(telemetryPkg, "/loads", "Count of physical bundle loads"),
		handles:  map[string]*Handle{},
		cultures: map[string]*cultureSet{},
		all:      newCultureSet(),
	}
}

func (r *Registry) cached(key string) (*Handle, uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	return h, r.generation, ok
}

// GetOrLoad returns the handle for scope and namespace, loading it on first use. Concurrent
// first callers share a single load and never observe a partially initialised handle.
func (r *Registry) GetOrLoad(ctx context.Context, scope, namespace string) (*Handle, error) {
	key := keys.BundleName(scope, namespace)
	h, generation, ok := r.cached(key)
	if ok {
		return h, nil
	}

	// A load started before Reset must not be shared with callers arriving after it.
	flight := key + "#" + strconv.FormatUint(generation, 10)
	v, err, _ := r.group.Do(flight, func() (any, error) {
		if h, _, ok := r.cached(key); ok {
			return h, nil
		}

		h, loadErr := r.load(ctx, scope, namespace)
		if loadErr != nil {
			return nil, loadErr
		}

		r.mu.Lock()
		if r.generation == generation {
			r.handles[key] = h
		}
		r.mu.Unlock()

		return h, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Handle), nil
}

func (r *Registry) load(ctx context.Context, scope, namespace string) (h *Handle, err error) {
	ctx, span := r.tracer.Start(ctx, "GetOrLoad",
		trace.WithAttributes(telemetry.AttrBundleKey.String(keys.BundleName(scope, namespace))))
	defer func() { r.tracer.End(ctx, span, err) }()

	log := util.Log(ctx).WithField("scope", scope).WithField("namespace", namespace)

	src, err := r.locator.Locate(ctx, scope, namespace)
	if err != nil {
		if errors.Is(err, ErrBundleNotFound) || errors.Is(err, ErrBundleLoad) {
			return nil, err
		}
		return nil, &LoadError{Scope: scope, Namespace: namespace, Err: err}
	}

	b, err := src.Open(ctx)
	if err != nil {
		return nil, &LoadError{Scope: scope, Namespace: namespace, Location: src.Location(), Err: err}
	}

	r.discoverCultures(ctx, keys.BundleName(scope, namespace), src)
	r.loads.Add(ctx, 1)

	log.WithField("location", src.Location()).Debug("bundle loaded")

	return &Handle{scope: scope, namespace: namespace, location: src.Location(), bundle: b}, nil
}

// discoverCultures records the cultures src offers. Failures leave only the invariant culture.
func (r *Registry) discoverCultures(ctx context.Context, key string, src Source) {
	tags, err := r.locator.EnumerateCultures(ctx, src)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("bundle", key).
			WithField("location", src.Location()).
			Warn("could not discover bundle cultures")
	}

	r.culturesMu.Lock()
	defer r.culturesMu.Unlock()

	set, ok := r.cultures[key]
	if !ok {
		set = newCultureSet()
		r.cultures[key] = set
	}
	for _, tag := range tags {
		set.add(tag)
		r.all.add(tag)
	}
}

// Lookup reads identifier for culture from the bundle behind h. Absence is not an error.
func (r *Registry) Lookup(_ context.Context, h *Handle, identifier string, c language.Tag) (any, bool) {
	if h == nil || h.bundle == nil || identifier == "" {
		return nil, false
	}
	return h.bundle.Lookup(identifier, c)
}

// AvailableCultures returns a snapshot of the cultures discovered for scope and namespace,
// invariant first. Bundles not loaded yet report only the invariant culture.
func (r *Registry) AvailableCultures(scope, namespace string) []language.Tag {
	r.culturesMu.RLock()
	defer r.culturesMu.RUnlock()

	set, ok := r.cultures[keys.BundleName(scope, namespace)]
	if !ok {
		return []language.Tag{culture.Invariant}
	}
	return slices.Clone(set.tags)
}

// AllCultures returns the union of every culture discovered so far.
func (r *Registry) AllCultures() []language.Tag {
	r.culturesMu.RLock()
	defer r.culturesMu.RUnlock()
	return slices.Clone(r.all.tags)
}

// Handles returns the number of cached handles.
func (r *Registry) Handles() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Reset drops every cached handle so the next GetOrLoad opens bundles again. Discovered
// cultures are kept; the set only grows.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = map[string]*Handle{}
	r.generation++
}
