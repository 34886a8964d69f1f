// Package defaults finds the scope and namespace a consumer inherits from its ownership chain,
// deferring the answer when the chain is not complete yet.
package defaults

import (
	"context"
	"reflect"
	"sync"

	"github.com/pitabwire/util"

	"github.com/pitabwire/lexicon/chain"
)

// Status is the outcome of a default lookup.
type Status int

const (
	// Missing means no default exists and none can be expected later.
	Missing Status = iota
	// Found means a default was read from the target or one of its owners.
	Found
	// Deferred means no default exists yet and a watch fires once the chain changes.
	Deferred
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Deferred:
		return "deferred"
	default:
		return "missing"
	}
}

// ReadyFunc runs once when the chain of a deferred target changes.
type ReadyFunc func(ctx context.Context, target any)

type watch struct {
	ctx context.Context
}

// Resolver looks up inherited defaults and tracks deferred targets. Targets must be comparable.
type Resolver struct {
	walker   chain.Walker
	accessor chain.DefaultAccessor
	observer chain.Observer
	maxDepth int
	onReady  ReadyFunc

	mu      sync.Mutex
	watches map[any]*watch
}

// Option configures a Resolver.
type Option func(r *Resolver)

// WithObserver enables deferred resolution through o.
func WithObserver(o chain.Observer) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

// WithMaxDepth bounds every chain walk.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		r.maxDepth = depth
	}
}

// WithReadyFunc sets the callback run when a deferred target may now resolve.
func WithReadyFunc(fn ReadyFunc) Option {
	return func(r *Resolver) {
		r.onReady = fn
	}
}

// NewResolver creates a resolver walking chains with walker and reading defaults with accessor.
func NewResolver(walker chain.Walker, accessor chain.DefaultAccessor, opts ...Option) *Resolver {
	r := &Resolver{
		walker:   walker,
		accessor: accessor,
		maxDepth: chain.DefaultMaxDepth,
		watches:  map[any]*watch{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the default selected by selector for target. When no owner provides one and
// the chain can still change, a single watch is kept for target and Deferred is returned.
func (r *Resolver) Resolve(ctx context.Context, target any, selector chain.Selector) (string, Status) {
	if target == nil || r.walker == nil || r.accessor == nil {
		return "", Missing
	}

	value := ""
	err := chain.Walk(r.walker, target, r.maxDepth, func(node any) bool {
		value = r.accessor.Default(node, selector)
		return value == ""
	})
	if value != "" {
		return value, Found
	}
	if err != nil {
		util.Log(ctx).WithError(err).WithField("selector", selector.String()).
			Debug("ownership chain walk terminated early")
	}

	if r.register(ctx, target) {
		return "", Deferred
	}
	return "", Missing
}

func (r *Resolver) register(ctx context.Context, target any) bool {
	if r.observer == nil || !reflect.TypeOf(target).Comparable() {
		return false
	}

	r.mu.Lock()
	if _, ok := r.watches[target]; ok {
		r.mu.Unlock()
		return true
	}
	w := &watch{ctx: context.WithoutCancel(ctx)}
	r.watches[target] = w
	r.mu.Unlock()

	if r.observer.OnAncestorChanged(target, func() { r.fire(target, w) }) {
		return true
	}

	r.mu.Lock()
	if r.watches[target] == w {
		delete(r.watches, target)
	}
	r.mu.Unlock()
	return false
}

// fire removes the watch before running the callback so a re-registration from within the
// callback creates a new watch.
func (r *Resolver) fire(target any, w *watch) {
	r.mu.Lock()
	current, ok := r.watches[target]
	if !ok || current != w {
		r.mu.Unlock()
		return
	}
	delete(r.watches, target)
	r.mu.Unlock()

	if r.onReady != nil {
		r.onReady(w.ctx, target)
	}
}

// Pending reports whether target has a registered watch.
func (r *Resolver) Pending(target any) bool {
	if target == nil || !reflect.TypeOf(target).Comparable() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watches[target]
	return ok
}

// PendingCount returns the number of registered watches.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}

// Cancel drops the watch of target; a later observer callback is ignored.
func (r *Resolver) Cancel(target any) {
	if target == nil || !reflect.TypeOf(target).Comparable() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watches, target)
}
