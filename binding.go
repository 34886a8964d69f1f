package lexicon

import (
	"context"
	"sync"

	"github.com/pitabwire/lexicon/notify"
)

// Binding keeps a resolved value current. It re-resolves whenever a change event concerns its
// target and reports the new state through its callback.
type Binding[T any] struct {
	svc      *Service
	req      Request
	onChange func(ctx context.Context, value T, found bool, err error)

	mu    sync.RWMutex
	value T
	found bool
	err   error
}

// Bind resolves req and subscribes the binding to change events. A deferred result is not an
// error for a binding: it resolves again once the ownership chain completes. Close releases it.
func Bind[T any](
	ctx context.Context,
	s *Service,
	req Request,
	onChange func(ctx context.Context, value T, found bool, err error),
) *Binding[T] {
	b := &Binding[T]{svc: s, req: req, onChange: onChange}
	b.refresh(ctx)
	s.Subscribe(b)
	return b
}

func (b *Binding[T]) refresh(ctx context.Context) {
	value, found, err := Resolve[T](ctx, b.svc, b.req)

	b.mu.Lock()
	b.value, b.found, b.err = value, found, err
	b.mu.Unlock()
}

// Targets returns the consumer node the binding resolves for.
func (b *Binding[T]) Targets() []any {
	if b.req.Target.Node == nil {
		return nil
	}
	return []any{b.req.Target.Node}
}

// Update re-resolves the binding and runs its callback.
func (b *Binding[T]) Update(ctx context.Context, _ notify.ChangeEvent) {
	b.refresh(ctx)

	if b.onChange != nil {
		value, found, err := b.Value()
		b.onChange(ctx, value, found, err)
	}
}

// Value returns the latest resolution.
func (b *Binding[T]) Value() (T, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value, b.found, b.err
}

// Close unsubscribes the binding and drops any pending deferred watch of its target.
func (b *Binding[T]) Close() {
	b.svc.Unsubscribe(b)
	if b.svc.defaults != nil && b.req.Target.Node != nil {
		b.svc.defaults.Cancel(b.req.Target.Node)
	}
}
