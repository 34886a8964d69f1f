package notify_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/cache"
	"github.com/pitabwire/lexicon/chain"
	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/notify"
)

type recordingListener struct {
	mu      sync.Mutex
	targets []any
	events  []notify.ChangeEvent
	panics  bool
}

func (l *recordingListener) Targets() []any { return l.targets }

func (l *recordingListener) Update(_ context.Context, ev notify.ChangeEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if l.panics {
		panic("listener failure")
	}
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type NotifyTestSuite struct {
	suite.Suite
}

func TestNotifySuite(t *testing.T) {
	suite.Run(t, new(NotifyTestSuite))
}

var stringType = reflect.TypeFor[string]()

func (s *NotifyTestSuite) TestValueChangedInvalidatesMatchingEntries() {
	c := cache.New(0)
	frFR := language.MustParse("fr-FR")
	enUS := language.MustParse("en-US")

	stale := cache.NewKey(frFR, stringType, "Greeting")
	qualified := cache.NewKey(frFR, stringType, "Strings:Greeting")
	english := cache.NewKey(enUS, stringType, "Greeting")
	unchanged := cache.NewKey(frFR, reflect.TypeFor[any](), "Greeting")
	unrelated := cache.NewKey(frFR, stringType, "Farewell")

	c.Put(stale, "Salut")
	c.Put(qualified, "Salut")
	c.Put(english, "Hi")
	c.Put(unchanged, "Bonjour")
	c.Put(unrelated, "Au revoir")

	n := notify.New(notify.WithCache(c))
	removed := n.Publish(context.Background(), notify.ChangeEvent{
		Kind:     notify.ValueChanged,
		Key:      "Greeting",
		Culture:  frFR,
		NewValue: "Bonjour",
	})

	s.ElementsMatch([]cache.Key{stale, qualified}, removed)
	s.Equal(3, c.Len())
}

func (s *NotifyTestSuite) TestParentCultureCoversSubCultures() {
	c := cache.New(0)
	frFR := cache.NewKey(language.MustParse("fr-FR"), stringType, "Greeting")
	frCA := cache.NewKey(language.MustParse("fr-CA"), stringType, "Greeting")
	de := cache.NewKey(language.German, stringType, "Greeting")
	c.Put(frFR, "Salut")
	c.Put(frCA, "Allo")
	c.Put(de, "Hallo")

	n := notify.New(notify.WithCache(c))
	removed := n.Publish(context.Background(), notify.ChangeEvent{
		Kind:     notify.ValueChanged,
		Key:      "Greeting",
		Culture:  language.French,
		NewValue: "Bonjour",
	})
	s.ElementsMatch([]cache.Key{frFR, frCA}, removed)

	removed = n.Publish(context.Background(), notify.ChangeEvent{
		Kind:     notify.ValueChanged,
		Key:      "Greeting",
		NewValue: "Servus",
	})
	s.Equal([]cache.Key{de}, removed)
}

func (s *NotifyTestSuite) TestBundleReloaded() {
	c := cache.New(0)
	fr := cache.NewKey(language.French, stringType, "A")
	en := cache.NewKey(language.English, stringType, "B")
	c.Put(fr, "a")
	c.Put(en, "b")

	reloads := 0
	n := notify.New(notify.WithCache(c), notify.WithReloadHook(func(context.Context, notify.ChangeEvent) {
		reloads++
	}))

	removed := n.Publish(context.Background(), notify.ChangeEvent{Kind: notify.BundleReloaded, Culture: language.French})
	s.Equal([]cache.Key{fr}, removed)
	s.Equal(1, reloads)

	removed = n.Publish(context.Background(), notify.ChangeEvent{Kind: notify.BundleReloaded})
	s.Equal([]cache.Key{en}, removed)
	s.Equal(2, reloads)

	removed = n.Publish(context.Background(), notify.ChangeEvent{Kind: notify.Other})
	s.Empty(removed)
}

func (s *NotifyTestSuite) TestListenerRelevance() {
	window := chain.NewNode("window")
	panel := chain.NewNode("panel")
	button := chain.NewNode("button")
	panel.SetParent(window)
	button.SetParent(panel)
	sibling := chain.NewNode("sibling")
	sibling.SetParent(window)

	inPanel := &recordingListener{targets: []any{button}}
	inSibling := &recordingListener{targets: []any{sibling}}
	isPanel := &recordingListener{targets: []any{panel}}
	detached := &recordingListener{targets: []any{chain.NewNode("detached")}}

	n := notify.New(notify.WithWalker(chain.Tree{}, 0))
	for _, l := range []*recordingListener{inPanel, inSibling, isPanel, detached} {
		n.Subscribe(l)
	}
	s.Equal(4, n.Len())

	ctx := context.Background()
	n.Publish(ctx, notify.ChangeEvent{Kind: notify.Other, Sender: panel})
	s.Equal(1, inPanel.count())
	s.Equal(0, inSibling.count())
	s.Equal(1, isPanel.count())
	s.Equal(0, detached.count())

	n.Publish(ctx, notify.ChangeEvent{Kind: notify.Other})
	s.Equal(2, inPanel.count())
	s.Equal(1, inSibling.count())
	s.Equal(2, isPanel.count())
	s.Equal(1, detached.count())
}

func (s *NotifyTestSuite) TestWalkFailureCountsAsAffected() {
	broken := chain.WalkerFunc(func(any) (any, error) { return nil, errors.New("tree disposed") })
	l := &recordingListener{targets: []any{"label"}}

	n := notify.New(notify.WithWalker(broken, 0))
	n.Subscribe(l)
	n.Publish(context.Background(), notify.ChangeEvent{Kind: notify.Other, Sender: "window"})

	s.Equal(1, l.count())
}

func (s *NotifyTestSuite) TestInheritingDefaultsUpdatesEveryone() {
	l := &recordingListener{targets: []any{chain.NewNode("unrelated")}}

	n := notify.New(notify.WithWalker(chain.Tree{}, 0), notify.WithInheritingDefaults(true))
	n.Subscribe(l)
	n.Publish(context.Background(), notify.ChangeEvent{Kind: notify.Other, Sender: chain.NewNode("window")})

	s.Equal(1, l.count())
}

func (s *NotifyTestSuite) TestPanickingListenerDoesNotStopFanOut() {
	first := &recordingListener{panics: true}
	second := &recordingListener{}

	n := notify.New()
	n.Subscribe(first)
	n.Subscribe(second)

	s.NotPanics(func() {
		n.Publish(context.Background(), notify.ChangeEvent{Kind: notify.Other})
	})
	s.Equal(1, first.count())
	s.Equal(1, second.count())
}

func (s *NotifyTestSuite) TestSubscribeUnsubscribe() {
	l := &recordingListener{}
	n := notify.New()

	n.Subscribe(l)
	n.Subscribe(l)
	s.Equal(1, n.Len())

	s.True(n.Unsubscribe(l))
	s.False(n.Unsubscribe(l))
	s.Zero(n.Len())

	n.Publish(context.Background(), notify.ChangeEvent{Kind: notify.Other})
	s.Zero(l.count())
}

func (s *NotifyTestSuite) TestKindText() {
	for _, k := range []notify.Kind{notify.Other, notify.ValueChanged, notify.BundleReloaded} {
		text, err := k.MarshalText()
		s.Require().NoError(err)

		var back notify.Kind
		s.Require().NoError(back.UnmarshalText(text))
		s.Equal(k, back)
	}

	var k notify.Kind
	s.Error(k.UnmarshalText([]byte("exploded")))
	s.Equal(culture.Invariant, notify.ChangeEvent{}.Culture)
}
