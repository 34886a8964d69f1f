package bundle

import (
	"errors"
	"fmt"
)

var (
	// ErrBundleNotFound is returned when no locator knows a bundle for a scope and namespace.
	ErrBundleNotFound = errors.New("bundle not found")
	// ErrBundleLoad matches every LoadError.
	ErrBundleLoad = errors.New("bundle could not be loaded")
)

// LoadError reports a bundle that exists but could not be opened. It unwraps to both
// ErrBundleLoad and the underlying cause.
type LoadError struct {
	Scope     string
	Namespace string
	Location  string
	Err       error
}

func (e *LoadError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("could not load bundle %s.%s from %s: %v", e.Scope, e.Namespace, e.Location, e.Err)
	}
	return fmt.Sprintf("could not load bundle %s.%s: %v", e.Scope, e.Namespace, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrBundleLoad, e.Err}
}

func notFound(scope, namespace string) error {
	return fmt.Errorf("%w: %s.%s", ErrBundleNotFound, scope, namespace)
}
