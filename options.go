package lexicon

import (
	"context"

	"github.com/pitabwire/util"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/bundle"
	"github.com/pitabwire/lexicon/chain"
	"github.com/pitabwire/lexicon/config"
	"github.com/pitabwire/lexicon/convert"
	"github.com/pitabwire/lexicon/telemetry"
)

// WithName overrides the service name taken from the configuration.
func WithName(name string) Option {
	return func(_ context.Context, s *Service) {
		s.name = name
	}
}

// WithConfig replaces the configuration read from the environment. The value should embed
// config.ConfigurationDefault or implement the config interfaces it needs.
func WithConfig(cfg any) Option {
	return func(_ context.Context, s *Service) {
		s.configuration = cfg
		if svc, ok := cfg.(config.ConfigurationService); ok && svc.Name() != "" {
			s.name = svc.Name()
		}
	}
}

// WithLogger adds options to the service logger. Level, time format and colour still follow
// the configuration.
func WithLogger(opts ...util.Option) Option {
	return func(_ context.Context, s *Service) {
		s.logOpts = append(s.logOpts, opts...)
	}
}

// WithTelemetry installs the OpenTelemetry providers when the service is built.
func WithTelemetry(opts ...telemetry.Option) Option {
	return func(_ context.Context, s *Service) {
		s.withTelemetry = true
		s.telemetryOpts = append(s.telemetryOpts, opts...)
	}
}

// WithLocator adds a bundle locator. Locators are asked in the order they were added, before
// any locator opened from the configured bundle URL.
func WithLocator(locator bundle.Locator) Option {
	return func(_ context.Context, s *Service) {
		if locator != nil {
			s.locators = append(s.locators, locator)
		}
	}
}

// WithBundleURL opens a bucket holding bundle files, e.g. file:///srv/bundles or mem://.
func WithBundleURL(url string) Option {
	return func(ctx context.Context, s *Service) {
		locator, err := bundle.OpenBlobLocator(ctx, url)
		if err != nil {
			s.initErrs = append(s.initErrs, err)
			return
		}
		s.locators = append(s.locators, locator)
		s.closers = append(s.closers, func(context.Context) error { return locator.Close() })
	}
}

// WithOwnershipChain lets consumers inherit scope and namespace defaults from their owners.
// observer may be nil, in which case incomplete chains are reported as missing.
func WithOwnershipChain(walker chain.Walker, accessor chain.DefaultAccessor, observer chain.Observer) Option {
	return func(_ context.Context, s *Service) {
		s.walker = walker
		s.accessor = accessor
		s.observer = observer
	}
}

// WithInheritingDefaults marks the ownership chain as inheriting, so every change event is
// delivered to every listener.
func WithInheritingDefaults() Option {
	return func(_ context.Context, s *Service) {
		s.inheriting = true
	}
}

// WithConverter replaces the converter used when a request carries none.
func WithConverter(c convert.Converter) Option {
	return func(_ context.Context, s *Service) {
		if c != nil {
			s.converter = c
		}
	}
}

// WithCulture sets the initial process-wide culture, overriding the configured one.
func WithCulture(tag language.Tag) Option {
	return func(_ context.Context, s *Service) {
		s.culture = tag
		s.cultureSet = true
	}
}
