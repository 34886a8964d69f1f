// Package chain describes the ownership chain consumers live in. The chain itself belongs to
// the embedding UI or document layer; lexicon only walks it through the interfaces below.
package chain

import (
	"errors"
	"fmt"
)

// Selector picks which inherited default is looked up on a node.
type Selector int

const (
	SelectScope Selector = iota
	SelectNamespace
)

func (s Selector) String() string {
	switch s {
	case SelectScope:
		return "scope"
	case SelectNamespace:
		return "namespace"
	default:
		return fmt.Sprintf("selector(%d)", int(s))
	}
}

// DefaultMaxDepth bounds a walk when no explicit depth is configured.
const DefaultMaxDepth = 256

var (
	// ErrDepthExceeded is returned when a walk passes the configured depth, usually a cycle.
	ErrDepthExceeded = errors.New("ownership chain depth exceeded")
	// ErrNilWalker is returned when no walker is configured.
	ErrNilWalker = errors.New("no ownership chain walker configured")
)

// Walker returns the owner of node, or nil when node is a root. Nodes must be comparable.
type Walker interface {
	Parent(node any) (any, error)
}

// WalkerFunc adapts a function to Walker.
type WalkerFunc func(node any) (any, error)

func (f WalkerFunc) Parent(node any) (any, error) { return f(node) }

// DefaultAccessor reads a default scope or namespace attached to a node, "" when unset.
type DefaultAccessor interface {
	Default(node any, selector Selector) string
}

// DefaultAccessorFunc adapts a function to DefaultAccessor.
type DefaultAccessorFunc func(node any, selector Selector) string

func (f DefaultAccessorFunc) Default(node any, selector Selector) string { return f(node, selector) }

// Observer registers fn to run when the ancestors of node change. It returns false when node
// cannot report such changes.
type Observer interface {
	OnAncestorChanged(node any, fn func()) bool
}

// Walk visits node and then each of its ancestors until visit returns false or the chain ends.
// It fails with ErrDepthExceeded after maxDepth steps and returns walker errors unchanged.
func Walk(w Walker, node any, maxDepth int, visit func(node any) bool) error {
	if w == nil {
		return ErrNilWalker
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	for depth := 0; node != nil; depth++ {
		if depth > maxDepth {
			return ErrDepthExceeded
		}
		if !visit(node) {
			return nil
		}

		parent, err := w.Parent(node)
		if err != nil {
			return fmt.Errorf("walking ownership chain: %w", err)
		}
		node = parent
	}

	return nil
}

// IsAncestorOrSelf reports whether candidate is node itself or one of its owners.
func IsAncestorOrSelf(w Walker, node, candidate any, maxDepth int) (bool, error) {
	found := false
	err := Walk(w, node, maxDepth, func(n any) bool {
		found = n == candidate
		return !found
	})
	return found, err
}
