// Package engine turns a possibly incomplete key into concrete lookup candidates and reads
// them from the bundle registry.
package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/bundle"
	"github.com/pitabwire/lexicon/chain"
	"github.com/pitabwire/lexicon/defaults"
	"github.com/pitabwire/lexicon/keys"
)

var (
	// ErrKeyNotFound is returned when no candidate of a key exists in its bundle.
	ErrKeyNotFound = errors.New("key not found")
	// ErrDeferredNotFound is returned when a scope or namespace default is not available yet.
	// Callers re-resolve once notified.
	ErrDeferredNotFound = errors.New("resolution deferred until the ownership chain is complete")
)

// DefaultSeparator joins a consumer name and property into an automatic identifier.
const DefaultSeparator = "_"

// Target describes the consumer a value is resolved for.
type Target struct {
	// Node is the consumer's position in the ownership chain, nil when it has none.
	Node any
	// Name is the external name of the consumer, used to build automatic identifiers.
	Name string
	// Property is the name of the property receiving the value.
	Property string
	// Separator overrides the engine separator for automatic identifiers.
	Separator string
}

// Candidate is one key tried during resolution.
type Candidate struct {
	Key          keys.CompositeKey
	EffectiveKey string
}

// Resolution is a successful lookup.
type Resolution struct {
	Value        any
	Key          keys.CompositeKey
	EffectiveKey string
	Scope        string
	Namespace    string
}

// Engine resolves keys against a bundle registry.
type Engine struct {
	registry *bundle.Registry
	defaults *defaults.Resolver

	defaultScope     string
	defaultNamespace string
	separator        string
}

// Option configures an Engine.
type Option func(e *Engine)

// WithDefaultScope is used when neither the key nor the ownership chain names a scope.
func WithDefaultScope(scope string) Option {
	return func(e *Engine) {
		e.defaultScope = scope
	}
}

// WithDefaultNamespace is used when neither the key nor the ownership chain names a namespace.
func WithDefaultNamespace(namespace string) Option {
	return func(e *Engine) {
		e.defaultNamespace = namespace
	}
}

// WithSeparator sets the separator of automatic identifiers.
func WithSeparator(separator string) Option {
	return func(e *Engine) {
		e.separator = separator
	}
}

// New creates an engine. resolver may be nil when consumers never rely on inherited defaults.
func New(registry *bundle.Registry, resolver *defaults.Resolver, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		defaults:  resolver,
		separator: DefaultSeparator,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates lists the keys tried for key in order. An explicit identifier yields exactly one
// candidate; otherwise the target name qualified by its property comes first, then the bare
// name.
func (e *Engine) Candidates(key string, target Target) []Candidate {
	parsed := keys.Parse(key)
	if parsed.HasIdentifier() {
		return []Candidate{{Key: parsed, EffectiveKey: keys.Format(parsed)}}
	}
	if target.Name == "" {
		return nil
	}

	separator := target.Separator
	if separator == "" {
		separator = e.separator
	}

	ids := make([]string, 0, 2)
	if target.Property != "" {
		ids = append(ids, target.Name+separator+target.Property)
	}
	ids = append(ids, target.Name)

	candidates := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		k := parsed.WithIdentifier(id)
		candidates = append(candidates, Candidate{Key: k, EffectiveKey: keys.Format(k)})
	}
	return candidates
}

// Bundle returns the scope and namespace candidate reads from, filling gaps from the ownership
// chain of target and then from the engine defaults. Empty results mean no bundle applies.
func (e *Engine) Bundle(ctx context.Context, c Candidate, target Target) (string, string, error) {
	scope, err := e.fill(ctx, c.Key.Scope, target, chain.SelectScope, e.defaultScope)
	if err != nil {
		return "", "", err
	}
	namespace, err := e.fill(ctx, c.Key.Namespace, target, chain.SelectNamespace, e.defaultNamespace)
	if err != nil {
		return "", "", err
	}
	return scope, namespace, nil
}

func (e *Engine) fill(ctx context.Context, value string, target Target, sel chain.Selector, fallback string) (string, error) {
	if value != "" {
		return value, nil
	}
	if e.defaults != nil && target.Node != nil {
		inherited, status := e.defaults.Resolve(ctx, target.Node, sel)
		switch status {
		case defaults.Found:
			return inherited, nil
		case defaults.Deferred:
			return "", fmt.Errorf("%w: %s", ErrDeferredNotFound, sel)
		case defaults.Missing:
		}
	}
	return fallback, nil
}

// Lookup reads a single candidate. Bundle errors are returned; absence is reported as false.
func (e *Engine) Lookup(ctx context.Context, c Candidate, target Target, culture language.Tag) (Resolution, bool, error) {
	scope, namespace, err := e.Bundle(ctx, c, target)
	if err != nil {
		return Resolution{}, false, err
	}
	return e.Read(ctx, scope, namespace, c, culture)
}

// Read looks c up in the bundle of an already resolved scope and namespace.
func (e *Engine) Read(ctx context.Context, scope, namespace string, c Candidate, culture language.Tag) (Resolution, bool, error) {
	if scope == "" || namespace == "" {
		return Resolution{}, false, nil
	}

	h, err := e.registry.GetOrLoad(ctx, scope, namespace)
	if err != nil {
		return Resolution{}, false, err
	}

	value, ok := e.registry.Lookup(ctx, h, c.Key.Identifier, culture)
	if !ok {
		return Resolution{}, false, nil
	}

	return Resolution{
		Value:        value,
		Key:          c.Key,
		EffectiveKey: c.EffectiveKey,
		Scope:        scope,
		Namespace:    namespace,
	}, true, nil
}

// Qualified returns the key of c with the bundle it was read from filled in.
func Qualified(c Candidate, scope, namespace string) string {
	return keys.Format(keys.CompositeKey{Scope: scope, Namespace: namespace, Identifier: c.Key.Identifier})
}

// Resolve tries the candidates of key in order and returns the first hit.
func (e *Engine) Resolve(ctx context.Context, key string, target Target, culture language.Tag) (Resolution, error) {
	for _, c := range e.Candidates(key, target) {
		res, ok, err := e.Lookup(ctx, c, target, culture)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return res, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
}
