package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/bundle"
	"github.com/pitabwire/lexicon/chain"
	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/defaults"
	"github.com/pitabwire/lexicon/engine"
)

type EngineTestSuite struct {
	suite.Suite

	memory   *bundle.MemoryLocator
	registry *bundle.Registry
	resolver *defaults.Resolver
	engine   *engine.Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.memory = bundle.NewMemoryLocator()
	s.memory.Set("App", "A.Strings", language.English, "Hello", "Hi")
	s.memory.Set("App", "Resources", culture.Invariant, "Btn1", "Click")
	s.memory.Set("App", "Resources", culture.Invariant, "Btn2_Content", "Press")
	s.memory.Set("App", "Resources", culture.Invariant, "Btn2", "Unused")
	s.memory.Set("Shop", "Labels", culture.Invariant, "Title", "Shop")

	s.registry = bundle.NewRegistry(s.memory)
	s.resolver = defaults.NewResolver(chain.Tree{}, chain.Tree{}, defaults.WithObserver(chain.Tree{}))
	s.engine = engine.New(s.registry, s.resolver,
		engine.WithDefaultScope("App"),
		engine.WithDefaultNamespace("Resources"),
	)
}

func (s *EngineTestSuite) TestCandidates() {
	testCases := []struct {
		name     string
		key      string
		target   engine.Target
		expected []string
	}{
		{name: "explicit identifier", key: "A.Strings:Hello", target: engine.Target{Name: "Btn1", Property: "Content"}, expected: []string{"A.Strings:Hello"}},
		{name: "property qualified then bare", key: "", target: engine.Target{Name: "Btn1", Property: "Content"}, expected: []string{"Btn1_Content", "Btn1"}},
		{name: "custom separator", key: "", target: engine.Target{Name: "Btn1", Property: "Content", Separator: "."}, expected: []string{"Btn1.Content", "Btn1"}},
		{name: "no property", key: "", target: engine.Target{Name: "Btn1"}, expected: []string{"Btn1"}},
		{name: "keeps bundle of key", key: "Shop:Labels:", target: engine.Target{Name: "Title", Property: "Text"}, expected: []string{"Shop:Labels:Title_Text", "Shop:Labels:Title"}},
		{name: "no name", key: "", target: engine.Target{Property: "Content"}},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			var got []string
			for _, c := range s.engine.Candidates(tc.key, tc.target) {
				got = append(got, c.EffectiveKey)
			}
			s.Equal(tc.expected, got)
		})
	}
}

func (s *EngineTestSuite) TestResolve() {
	ctx := context.Background()

	testCases := []struct {
		name         string
		key          string
		target       engine.Target
		culture      language.Tag
		value        any
		effectiveKey string
		err          error
	}{
		{name: "explicit key", key: "A.Strings:Hello", culture: language.English, value: "Hi", effectiveKey: "A.Strings:Hello"},
		{name: "sub culture", key: "A.Strings:Hello", culture: language.MustParse("en-GB"), value: "Hi", effectiveKey: "A.Strings:Hello"},
		{name: "bare name fallback", target: engine.Target{Name: "Btn1", Property: "Content"}, value: "Click", effectiveKey: "Btn1"},
		{name: "property qualified wins", target: engine.Target{Name: "Btn2", Property: "Content"}, value: "Press", effectiveKey: "Btn2_Content"},
		{name: "full key", key: "Shop:Labels:Title", value: "Shop", effectiveKey: "Shop:Labels:Title"},
		{name: "missing key", key: "Resources:Nope", err: engine.ErrKeyNotFound},
		{name: "missing bundle", key: "Nope:Hello", err: bundle.ErrBundleNotFound},
		{name: "no candidates", key: "", err: engine.ErrKeyNotFound},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			res, err := s.engine.Resolve(ctx, tc.key, tc.target, tc.culture)
			if tc.err != nil {
				s.Require().ErrorIs(err, tc.err)
				return
			}
			s.Require().NoError(err)
			s.Equal(tc.value, res.Value)
			s.Equal(tc.effectiveKey, res.EffectiveKey)
		})
	}
}

func (s *EngineTestSuite) TestInheritedDefaults() {
	ctx := context.Background()

	window := chain.NewNode("window")
	window.SetDefaults("Shop", "Labels")
	label := chain.NewNode("label")
	label.SetParent(window)

	res, err := s.engine.Resolve(ctx, "Title", engine.Target{Node: label}, culture.Invariant)
	s.Require().NoError(err)
	s.Equal("Shop", res.Value)
	s.Equal("Shop", res.Scope)
	s.Equal("Labels", res.Namespace)
}

func (s *EngineTestSuite) TestDeferredUntilChainIsComplete() {
	ctx := context.Background()
	label := chain.NewNode("label")

	_, err := s.engine.Resolve(ctx, "Title", engine.Target{Node: label}, culture.Invariant)
	s.Require().ErrorIs(err, engine.ErrDeferredNotFound)
	s.NotErrorIs(err, engine.ErrKeyNotFound)
	s.True(s.resolver.Pending(label))

	window := chain.NewNode("window")
	window.SetDefaults("Shop", "Labels")
	label.SetParent(window)
	s.False(s.resolver.Pending(label))

	res, err := s.engine.Resolve(ctx, "Title", engine.Target{Node: label}, culture.Invariant)
	s.Require().NoError(err)
	s.Equal("Shop", res.Value)
}

func (s *EngineTestSuite) TestQualified() {
	candidates := s.engine.Candidates("", engine.Target{Name: "Btn1", Property: "Content"})
	s.Require().Len(candidates, 2)
	s.Equal("App:Resources:Btn1", engine.Qualified(candidates[1], "App", "Resources"))
	s.Equal("Resources:Btn1_Content", engine.Qualified(candidates[0], "", "Resources"))
}
