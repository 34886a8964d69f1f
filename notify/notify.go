// Package notify propagates bundle changes: it invalidates affected cached results and tells
// the consumers whose ownership chain the change touches to re-resolve.
package notify

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/pitabwire/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/cache"
	"github.com/pitabwire/lexicon/chain"
	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/keys"
	"github.com/pitabwire/lexicon/telemetry"
)

const telemetryPkg = "lexicon/notify"

// Kind classifies a change event.
type Kind int

const (
	// Other asks listeners to re-resolve without touching the cache.
	Other Kind = iota
	// ValueChanged reports a single resource value that changed.
	ValueChanged
	// BundleReloaded reports that bundle content was replaced wholesale.
	BundleReloaded
)

func (k Kind) String() string {
	switch k {
	case ValueChanged:
		return "value_changed"
	case BundleReloaded:
		return "bundle_reloaded"
	default:
		return "other"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "value_changed":
		*k = ValueChanged
	case "bundle_reloaded":
		*k = BundleReloaded
	case "other", "":
		*k = Other
	default:
		return fmt.Errorf("unknown change kind %q", text)
	}
	return nil
}

// ChangeEvent describes a change to bundle content or to the context consumers resolve in.
type ChangeEvent struct {
	Kind Kind `json:"kind"`
	// Key is the identifier or effective key that changed.
	Key string `json:"key,omitempty"`
	// Culture limits the change to a culture and its sub-cultures; the invariant culture
	// applies to all.
	Culture  language.Tag `json:"culture"`
	OldValue any          `json:"old_value,omitempty"`
	NewValue any          `json:"new_value,omitempty"`
	// Sender is the ownership chain node the change originates from, nil for everything.
	Sender any `json:"-"`
}

// Listener is a consumer interested in changes. Listeners must be comparable, typically
// pointers, so they can be unsubscribed.
type Listener interface {
	// Targets returns the chain nodes the listener resolves values for.
	Targets() []any
	// Update is called when a change affects one of the targets.
	Update(ctx context.Context, ev ChangeEvent)
}

// Notifier fans change events out to listeners.
type Notifier struct {
	cache      *cache.Cache
	walker     chain.Walker
	maxDepth   int
	inheriting bool
	onReload   func(ctx context.Context, ev ChangeEvent)

	published metric.Int64Counter

	mu        sync.RWMutex
	listeners []Listener
}

// Option configures a Notifier.
type Option func(n *Notifier)

// WithCache invalidates entries of c on value and bundle changes.
func WithCache(c *cache.Cache) Option {
	return func(n *Notifier) {
		n.cache = c
	}
}

// WithWalker decides listener relevance by walking the ownership chain.
func WithWalker(w chain.Walker, maxDepth int) Option {
	return func(n *Notifier) {
		n.walker = w
		n.maxDepth = maxDepth
	}
}

// WithInheritingDefaults treats every change as relevant to every listener.
func WithInheritingDefaults(inheriting bool) Option {
	return func(n *Notifier) {
		n.inheriting = inheriting
	}
}

// WithReloadHook runs fn for every BundleReloaded event, before listeners are updated.
func WithReloadHook(fn func(ctx context.Context, ev ChangeEvent)) Option {
	return func(n *Notifier) {
		n.onReload = fn
	}
}

// New creates a notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		published: telemetry.DimensionlessMeasure(telemetryPkg, "/published", "Count of published change events"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers l. Subscribing twice has no effect.
func (n *Notifier) Subscribe(l Listener) {
	if l == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if slices.Contains(n.listeners, l) {
		return
	}
	n.listeners = append(n.listeners, l)
}

// Unsubscribe removes l and reports whether it was registered.
func (n *Notifier) Unsubscribe(l Listener) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := slices.Index(n.listeners, l)
	if i < 0 {
		return false
	}
	n.listeners = slices.Delete(n.listeners, i, i+1)
	return true
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Publish applies ev to the cache and updates every affected listener. It returns the cache
// keys that were invalidated.
func (n *Notifier) Publish(ctx context.Context, ev ChangeEvent) []cache.Key {
	n.published.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ev.Kind.String())))

	log := util.Log(ctx).WithField("kind", ev.Kind.String()).WithField("key", ev.Key)

	var removed []cache.Key
	switch ev.Kind {
	case ValueChanged:
		removed = n.invalidate(func(k cache.Key, v any) bool {
			return matchesKey(k, ev.Key) && coversEntry(ev.Culture, k) && !reflect.DeepEqual(v, ev.NewValue)
		})
	case BundleReloaded:
		removed = n.invalidate(func(k cache.Key, _ any) bool {
			return coversEntry(ev.Culture, k)
		})
		if n.onReload != nil {
			n.onReload(ctx, ev)
		}
	case Other:
	}

	n.mu.RLock()
	listeners := slices.Clone(n.listeners)
	n.mu.RUnlock()

	updated := 0
	for _, l := range listeners {
		if !n.affected(ctx, l, ev) {
			continue
		}
		n.update(ctx, l, ev)
		updated++
	}

	log.WithField("invalidated", len(removed)).WithField("updated", updated).Debug("change published")
	return removed
}

func (n *Notifier) invalidate(pred func(cache.Key, any) bool) []cache.Key {
	if n.cache == nil {
		return nil
	}
	return n.cache.Invalidate(pred)
}

func matchesKey(k cache.Key, key string) bool {
	return k.Key == key || keys.Identifier(k.Key) == key
}

func coversEntry(evCulture language.Tag, k cache.Key) bool {
	if evCulture == culture.Invariant {
		return true
	}
	entryCulture, err := culture.Parse(k.Culture)
	if err != nil {
		return true
	}
	return culture.Covers(evCulture, entryCulture)
}

// affected reports whether ev concerns l. Unknown relations count as affected.
func (n *Notifier) affected(ctx context.Context, l Listener, ev ChangeEvent) bool {
	if ev.Sender == nil || n.inheriting {
		return true
	}
	if !reflect.TypeOf(ev.Sender).Comparable() {
		return true
	}

	for _, target := range l.Targets() {
		if target == nil {
			continue
		}
		if reflect.TypeOf(target).Comparable() && target == ev.Sender {
			return true
		}

		found, err := chain.IsAncestorOrSelf(n.walker, target, ev.Sender, n.maxDepth)
		if err != nil {
			util.Log(ctx).WithError(err).Debug("ownership chain walk failed, updating listener")
			return true
		}
		if found {
			return true
		}
	}
	return false
}

func (n *Notifier) update(ctx context.Context, l Listener, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			util.Log(ctx).WithField("panic", r).WithField("kind", ev.Kind.String()).
				Error("listener panicked while handling a change")
		}
	}()
	l.Update(ctx, ev)
}
