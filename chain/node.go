package chain

import (
	"errors"
	"sync"
)

// ErrNotNode is returned by Tree when asked about a value that is not a *Node.
var ErrNotNode = errors.New("value is not a chain node")

// Node is a minimal ownership tree usable wherever no richer UI tree exists, such as tools
// and tests. A Node carries an optional name and inherited scope/namespace defaults.
type Node struct {
	name string

	mu        sync.RWMutex
	parent    *Node
	scope     string
	namespace string
	watchers  []func()
}

// NewNode creates a detached node.
func NewNode(name string) *Node {
	return &Node{name: name}
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the owner of n, nil for a root.
func (n *Node) Parent() *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// SetParent re-parents n and notifies every ancestor watcher registered on n or its descendants.
func (n *Node) SetParent(parent *Node) {
	n.mu.Lock()
	n.parent = parent
	n.mu.Unlock()

	n.notify()
}

// SetDefaults attaches default scope and namespace values to n.
func (n *Node) SetDefaults(scope, namespace string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scope = scope
	n.namespace = namespace
}

func (n *Node) defaultFor(sel Selector) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if sel == SelectScope {
		return n.scope
	}
	return n.namespace
}

func (n *Node) watch(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.watchers = append(n.watchers, fn)
}

// notify runs and drops the watchers of n. Watchers are one-shot, matching a re-parent
// being the event that may complete a pending chain.
func (n *Node) notify() {
	n.mu.Lock()
	watchers := n.watchers
	n.watchers = nil
	n.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

// Tree implements Walker, DefaultAccessor and Observer over *Node values.
type Tree struct{}

func (Tree) Parent(node any) (any, error) {
	n, ok := node.(*Node)
	if !ok {
		return nil, ErrNotNode
	}
	if p := n.Parent(); p != nil {
		return p, nil
	}
	return nil, nil
}

func (Tree) Default(node any, sel Selector) string {
	n, ok := node.(*Node)
	if !ok {
		return ""
	}
	return n.defaultFor(sel)
}

// OnAncestorChanged fires fn once, the next time the root of node's current chain is re-parented.
func (Tree) OnAncestorChanged(node any, fn func()) bool {
	n, ok := node.(*Node)
	if !ok {
		return false
	}

	root := n
	for range DefaultMaxDepth {
		p := root.Parent()
		if p == nil {
			break
		}
		root = p
	}
	root.watch(fn)
	return true
}
