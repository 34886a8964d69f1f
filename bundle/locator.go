package bundle

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// Bundle is a culture-partitioned collection of resources. Lookup falls back from a culture
// to its parents and finally the invariant partition; absence is reported as false.
type Bundle interface {
	Lookup(identifier string, culture language.Tag) (any, bool)
}

// Source is a located, not yet opened, bundle.
type Source interface {
	Location() string
	Open(ctx context.Context) (Bundle, error)
}

// Locator finds bundles physically. Locate returns an error matching ErrBundleNotFound when it
// has nothing for the scope and namespace; any other error is treated as a load failure.
type Locator interface {
	Locate(ctx context.Context, scope, namespace string) (Source, error)
	EnumerateCultures(ctx context.Context, src Source) ([]language.Tag, error)
}

// Chain returns a Locator asking each locator in turn. The first one that does not report
// ErrBundleNotFound answers; when all are exhausted the bundle is not found.
func Chain(locators ...Locator) Locator {
	return chainLocator(locators)
}

type chainLocator []Locator

type chainedSource struct {
	Source
	owner Locator
}

func (c chainLocator) Locate(ctx context.Context, scope, namespace string) (Source, error) {
	for _, l := range c {
		src, err := l.Locate(ctx, scope, namespace)
		if err == nil {
			return &chainedSource{Source: src, owner: l}, nil
		}
		if !errors.Is(err, ErrBundleNotFound) {
			return nil, err
		}
	}
	return nil, notFound(scope, namespace)
}

func (c chainLocator) EnumerateCultures(ctx context.Context, src Source) ([]language.Tag, error) {
	cs, ok := src.(*chainedSource)
	if !ok {
		return nil, fmt.Errorf("source %q was not located by this chain", src.Location())
	}
	return cs.owner.EnumerateCultures(ctx, cs.Source)
}
