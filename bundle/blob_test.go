package bundle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"gocloud.dev/blob/memblob"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/bundle"
	"github.com/pitabwire/lexicon/culture"
)

type BlobLocatorTestSuite struct {
	suite.Suite

	locator *bundle.BlobLocator
}

func TestBlobLocatorSuite(t *testing.T) {
	suite.Run(t, new(BlobLocatorTestSuite))
}

func (s *BlobLocatorTestSuite) SetupTest() {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	s.T().Cleanup(func() { _ = bucket.Close() })

	files := map[string]string{
		"App/Strings.toml":               "Hello = \"Hello\"\nBye = \"Bye\"\n",
		"App/fr/Strings.toml":            "Hello = \"Bonjour\"\n",
		"App/fr-CH/Strings.yaml":         "Hello: Grüezi\n",
		"App/de/Other.json":              `{"Hello": "Hallo"}`,
		"App/not_a_culture/Strings.toml": "Hello = \"ignored\"\n",
		"Web/de/Strings.json":            `{"Hello": "Hallo"}`,
	}
	for key, body := range files {
		s.Require().NoError(bucket.WriteAll(ctx, key, []byte(body), nil))
	}

	s.locator = bundle.NewBlobLocator(bucket)
}

func (s *BlobLocatorTestSuite) TestLocateAndLookup() {
	ctx := context.Background()
	registry := bundle.NewRegistry(s.locator)

	h, err := registry.GetOrLoad(ctx, "App", "Strings")
	s.Require().NoError(err)
	s.Equal("App/Strings", h.Location())

	testCases := []struct {
		name       string
		identifier string
		culture    language.Tag
		expected   any
		found      bool
	}{
		{name: "invariant", identifier: "Hello", culture: culture.Invariant, expected: "Hello", found: true},
		{name: "culture file", identifier: "Hello", culture: language.French, expected: "Bonjour", found: true},
		{name: "yaml culture file", identifier: "Hello", culture: language.MustParse("fr-CH"), expected: "Grüezi", found: true},
		{name: "sub culture falls back to parent", identifier: "Hello", culture: language.MustParse("fr-BE"), expected: "Bonjour", found: true},
		{name: "missing in culture falls back to invariant", identifier: "Bye", culture: language.MustParse("fr-CH"), expected: "Bye", found: true},
		{name: "missing", identifier: "Nope", culture: language.French},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			v, ok := registry.Lookup(ctx, h, tc.identifier, tc.culture)
			s.Equal(tc.found, ok)
			s.Equal(tc.expected, v)
		})
	}

	s.ElementsMatch(
		[]language.Tag{culture.Invariant, language.French, language.MustParse("fr-CH")},
		registry.AvailableCultures("App", "Strings"),
	)
}

func (s *BlobLocatorTestSuite) TestCultureOnlyBundle() {
	ctx := context.Background()
	registry := bundle.NewRegistry(s.locator)

	h, err := registry.GetOrLoad(ctx, "Web", "Strings")
	s.Require().NoError(err)

	v, ok := registry.Lookup(ctx, h, "Hello", language.MustParse("de-AT"))
	s.True(ok)
	s.Equal("Hallo", v)

	_, ok = registry.Lookup(ctx, h, "Hello", language.French)
	s.False(ok)
}

func (s *BlobLocatorTestSuite) TestMissingBundle() {
	_, err := s.locator.Locate(context.Background(), "App", "Missing")
	s.Require().ErrorIs(err, bundle.ErrBundleNotFound)

	_, err = s.locator.Locate(context.Background(), "", "Strings")
	s.Require().ErrorIs(err, bundle.ErrBundleNotFound)
}

func (s *BlobLocatorTestSuite) TestOpenBlobLocatorByURL() {
	l, err := bundle.OpenBlobLocator(context.Background(), "mem://")
	s.Require().NoError(err)
	s.Require().NoError(l.Close())

	_, err = bundle.OpenBlobLocator(context.Background(), "nope://bucket")
	s.Require().Error(err)
}
