package lexicon

import (
	"github.com/pitabwire/lexicon/bundle"
	"github.com/pitabwire/lexicon/convert"
	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/engine"
)

//nolint:gochecknoglobals // re-exported sentinels
var (
	ErrBundleNotFound   = bundle.ErrBundleNotFound
	ErrBundleLoad       = bundle.ErrBundleLoad
	ErrKeyNotFound      = engine.ErrKeyNotFound
	ErrDeferredNotFound = engine.ErrDeferredNotFound
	ErrConversion       = convert.ErrConversion
	ErrInvalidCulture   = culture.ErrInvalidCulture
)
