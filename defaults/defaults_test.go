package defaults_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/pitabwire/lexicon/chain"
	"github.com/pitabwire/lexicon/defaults"
)

type DefaultsTestSuite struct {
	suite.Suite
}

func TestDefaultsSuite(t *testing.T) {
	suite.Run(t, new(DefaultsTestSuite))
}

func (s *DefaultsTestSuite) TestResolveFromOwners() {
	window := chain.NewNode("window")
	window.SetDefaults("App", "Strings")
	panel := chain.NewNode("panel")
	panel.SetDefaults("", "Panel")
	button := chain.NewNode("button")
	panel.SetParent(window)
	button.SetParent(panel)

	r := defaults.NewResolver(chain.Tree{}, chain.Tree{}, defaults.WithObserver(chain.Tree{}))

	testCases := []struct {
		name     string
		target   any
		selector chain.Selector
		value    string
		status   defaults.Status
	}{
		{name: "scope from root", target: button, selector: chain.SelectScope, value: "App", status: defaults.Found},
		{name: "nearest namespace wins", target: button, selector: chain.SelectNamespace, value: "Panel", status: defaults.Found},
		{name: "own value", target: window, selector: chain.SelectNamespace, value: "Strings", status: defaults.Found},
		{name: "nil target", target: nil, selector: chain.SelectScope, status: defaults.Missing},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			value, status := r.Resolve(context.Background(), tc.target, tc.selector)
			s.Equal(tc.status, status)
			s.Equal(tc.value, value)
		})
	}
	s.Zero(r.PendingCount())
}

func (s *DefaultsTestSuite) TestMissingWithoutObserver() {
	r := defaults.NewResolver(chain.Tree{}, chain.Tree{})

	value, status := r.Resolve(context.Background(), chain.NewNode("orphan"), chain.SelectScope)
	s.Empty(value)
	s.Equal(defaults.Missing, status)
	s.Zero(r.PendingCount())
}

func (s *DefaultsTestSuite) TestDeferredWatchFiresOnce() {
	var fired []any
	r := defaults.NewResolver(chain.Tree{}, chain.Tree{},
		defaults.WithObserver(chain.Tree{}),
		defaults.WithReadyFunc(func(_ context.Context, target any) {
			fired = append(fired, target)
		}),
	)
	ctx := context.Background()

	button := chain.NewNode("button")

	_, status := r.Resolve(ctx, button, chain.SelectScope)
	s.Equal(defaults.Deferred, status)
	_, status = r.Resolve(ctx, button, chain.SelectNamespace)
	s.Equal(defaults.Deferred, status)
	s.True(r.Pending(button))
	s.Equal(1, r.PendingCount())

	window := chain.NewNode("window")
	window.SetDefaults("App", "Strings")
	button.SetParent(window)

	s.Equal([]any{button}, fired)
	s.False(r.Pending(button))

	value, status := r.Resolve(ctx, button, chain.SelectScope)
	s.Equal(defaults.Found, status)
	s.Equal("App", value)

	// a second change does not fire a removed watch
	button.SetParent(chain.NewNode("other"))
	s.Len(fired, 1)
}

func (s *DefaultsTestSuite) TestCancelDropsWatch() {
	fired := 0
	r := defaults.NewResolver(chain.Tree{}, chain.Tree{},
		defaults.WithObserver(chain.Tree{}),
		defaults.WithReadyFunc(func(context.Context, any) { fired++ }),
	)

	button := chain.NewNode("button")
	_, status := r.Resolve(context.Background(), button, chain.SelectScope)
	s.Require().Equal(defaults.Deferred, status)

	r.Cancel(button)
	s.False(r.Pending(button))

	button.SetParent(chain.NewNode("window"))
	s.Zero(fired)
}

func (s *DefaultsTestSuite) TestWalkFailureTerminates() {
	walker := chain.WalkerFunc(func(any) (any, error) {
		return nil, errors.New("detached")
	})
	observer := observerFunc(func(any, func()) bool { return false })

	r := defaults.NewResolver(walker, chain.DefaultAccessorFunc(func(any, chain.Selector) string { return "" }),
		defaults.WithObserver(observer))

	value, status := r.Resolve(context.Background(), "target", chain.SelectScope)
	s.Empty(value)
	s.Equal(defaults.Missing, status)
	s.Zero(r.PendingCount())
}

func (s *DefaultsTestSuite) TestCycleIsBounded() {
	loop := chain.WalkerFunc(func(node any) (any, error) { return node, nil })
	calls := 0
	accessor := chain.DefaultAccessorFunc(func(any, chain.Selector) string {
		calls++
		return ""
	})

	r := defaults.NewResolver(loop, accessor, defaults.WithMaxDepth(8))
	_, status := r.Resolve(context.Background(), "self", chain.SelectScope)

	s.Equal(defaults.Missing, status)
	s.LessOrEqual(calls, 9)
}

type observerFunc func(node any, fn func()) bool

func (f observerFunc) OnAncestorChanged(node any, fn func()) bool { return f(node, fn) }
