// Package lexicon resolves localized text and typed assets by composite key against
// culture-specific resource bundles, keeping resolved values consistent while bundles change.
package lexicon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pitabwire/util"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/bundle"
	"github.com/pitabwire/lexicon/cache"
	"github.com/pitabwire/lexicon/chain"
	"github.com/pitabwire/lexicon/changefeed"
	"github.com/pitabwire/lexicon/config"
	"github.com/pitabwire/lexicon/convert"
	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/defaults"
	"github.com/pitabwire/lexicon/engine"
	"github.com/pitabwire/lexicon/notify"
	"github.com/pitabwire/lexicon/telemetry"
	"github.com/pitabwire/lexicon/workerpool"
)

type contextKey string

func (c contextKey) String() string {
	return "lexicon/" + string(c)
}

const (
	ctxKeyService = contextKey("serviceKey")
	telemetryPkg  = "lexicon"
)

// Service holds together every component taking part in resolution. One instance is meant to
// live for the lifetime of the application and is closed explicitly.
type Service struct {
	name          string
	configuration any
	logger        *util.LogEntry

	telemetryManager telemetry.Manager
	tracer           telemetry.Tracer

	locators []bundle.Locator
	closers  []func(ctx context.Context) error

	walker   chain.Walker
	accessor chain.DefaultAccessor
	observer chain.Observer

	converter  convert.Converter
	inheriting bool

	registry *bundle.Registry
	defaults *defaults.Resolver
	engine   *engine.Engine
	cache    *cache.Cache
	notifier *notify.Notifier

	origin    string
	publisher *changefeed.Publisher
	relay     *changefeed.Relay
	pool      workerpool.WorkerPool

	cultureMu  sync.RWMutex
	culture    language.Tag
	cultureSet bool

	logOpts       []util.Option
	telemetryOpts []telemetry.Option
	withTelemetry bool

	initErrs  []error
	closeOnce sync.Once
}

// Option configures a Service.
type Option func(ctx context.Context, s *Service)

// NewService builds a service from the environment configuration and the supplied options.
// The returned context carries the service and its logger.
func NewService(ctx context.Context, opts ...Option) (context.Context, *Service, error) {
	defaultCfg, err := config.FromEnv[config.ConfigurationDefault]()
	if err != nil {
		return ctx, nil, fmt.Errorf("could not read configuration: %w", err)
	}

	s := &Service{
		name:          defaultCfg.Name(),
		configuration: &defaultCfg,
		logger:        util.Log(ctx),
		tracer:        telemetry.NewTracer(telemetryPkg),
		converter:     convert.Default(),
		origin:        changefeed.NewOrigin(),
	}

	for _, opt := range opts {
		opt(ctx, s)
	}

	if s.withTelemetry {
		if err = s.setupTelemetry(ctx); err != nil {
			s.initErrs = append(s.initErrs, err)
		}
	}
	s.setupLogger(ctx)

	ctx = util.ContextWithLogger(ctx, s.logger)
	ctx = ToContext(ctx, s)
	ctx = config.ToContext(ctx, s.configuration)

	if initErr := s.build(ctx); initErr != nil {
		s.initErrs = append(s.initErrs, initErr)
	}

	if len(s.initErrs) > 0 {
		err = errors.Join(s.initErrs...)
		_ = s.Close(ctx)
		return ctx, nil, err
	}

	s.Log(ctx).WithField("culture", culture.Name(s.Culture())).Debug("lexicon service ready")
	return ctx, s, nil
}

func (s *Service) setupTelemetry(ctx context.Context) error {
	cfg, ok := s.configuration.(config.ConfigurationTelemetry)
	if !ok {
		return errors.New("configuration object not of type : ConfigurationTelemetry")
	}

	extOpts := []telemetry.Option{}
	if svc, isSvc := s.configuration.(config.ConfigurationService); isSvc {
		extOpts = append(extOpts, telemetry.WithService(svc))
	}
	if loc, isLoc := s.configuration.(config.ConfigurationLocalization); isLoc {
		extOpts = append(extOpts, telemetry.WithLocalization(loc))
	}
	extOpts = append(extOpts, s.telemetryOpts...)

	s.telemetryManager = telemetry.NewManager(ctx, cfg, extOpts...)
	if err := s.telemetryManager.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return nil
}

func (s *Service) setupLogger(ctx context.Context) {
	opts := slices.Clone(s.logOpts)
	if cfg, ok := s.configuration.(config.ConfigurationLogLevel); ok {
		if logLevel, err := util.ParseLevel(cfg.LoggingLevel()); err == nil {
			opts = append(opts, util.WithLogLevel(logLevel))
		}
		opts = append(opts,
			util.WithLogTimeFormat(cfg.LoggingTimeFormat()),
			util.WithLogNoColor(!cfg.LoggingColored()))
		if cfg.LoggingShowStackTrace() {
			opts = append(opts, util.WithLogStackTrace())
		}
	}

	if s.telemetryManager != nil && s.telemetryManager.LogHandler() != nil {
		opts = append(opts, util.WithLogHandler(s.telemetryManager.LogHandler()))
	}

	s.logger = util.NewLogger(ctx, opts...).WithField("service", s.Name())
}

// build wires the components once every option has been applied.
func (s *Service) build(ctx context.Context) error {
	cfg, _ := s.configuration.(config.ConfigurationLocalization)

	if cfg != nil {
		tag, err := culture.Parse(cfg.GetDefaultCulture())
		if err != nil {
			return fmt.Errorf("default culture: %w", err)
		}
		if !s.cultureSet {
			s.culture = tag
		}

		if url := cfg.GetBundleURL(); url != "" {
			locator, err := bundle.OpenBlobLocator(ctx, url)
			if err != nil {
				return err
			}
			s.locators = append(s.locators, locator)
			s.closers = append(s.closers, func(context.Context) error { return locator.Close() })
		}
	}

	var locator bundle.Locator
	switch len(s.locators) {
	case 0:
		return errors.New("no bundle locator configured")
	case 1:
		locator = s.locators[0]
	default:
		locator = bundle.Chain(s.locators...)
	}

	maxDepth := chain.DefaultMaxDepth
	cacheSize := cache.DefaultSize
	var engineOpts []engine.Option
	if cfg != nil {
		if cfg.GetMaxChainDepth() > 0 {
			maxDepth = cfg.GetMaxChainDepth()
		}
		cacheSize = cfg.GetResultCacheSize()
		s.inheriting = s.inheriting || cfg.IsInheritingDefaults()
		engineOpts = append(engineOpts,
			engine.WithDefaultScope(cfg.GetDefaultScope()),
			engine.WithDefaultNamespace(cfg.GetDefaultNamespace()))
		if sep := cfg.GetKeySeparator(); sep != "" {
			engineOpts = append(engineOpts, engine.WithSeparator(sep))
		}
	}

	s.registry = bundle.NewRegistry(locator)
	s.cache = cache.New(cacheSize)
	s.notifier = notify.New(
		notify.WithCache(s.cache),
		notify.WithWalker(s.walker, maxDepth),
		notify.WithInheritingDefaults(s.inheriting),
		notify.WithReloadHook(func(ctx context.Context, _ notify.ChangeEvent) {
			s.registry.Reset()
		}),
	)

	if s.walker != nil && s.accessor != nil {
		s.defaults = defaults.NewResolver(s.walker, s.accessor,
			defaults.WithObserver(s.observer),
			defaults.WithMaxDepth(maxDepth),
			defaults.WithReadyFunc(func(ctx context.Context, target any) {
				s.notifier.Publish(ctx, notify.ChangeEvent{Kind: notify.Other, Sender: target})
			}),
		)
	}
	s.engine = engine.New(s.registry, s.defaults, engineOpts...)

	pool, err := workerpool.New(ctx, asWorkerPoolConfig(s.configuration),
		workerpool.WithPoolLogger(s.logger))
	if err != nil {
		return fmt.Errorf("could not create worker pool: %w", err)
	}
	s.pool = pool

	if err = s.setupChangeFeed(ctx); err != nil {
		return err
	}

	if cfg != nil && len(cfg.GetPreloadBundles()) > 0 {
		return s.Preload(ctx, cfg.GetPreloadBundles()...)
	}
	return nil
}

func asWorkerPoolConfig(cfg any) config.ConfigurationWorkerPool {
	wcfg, _ := cfg.(config.ConfigurationWorkerPool)
	return wcfg
}

func (s *Service) setupChangeFeed(ctx context.Context) error {
	cfg, ok := s.configuration.(config.ConfigurationChangeFeed)
	if !ok || cfg.GetChangeEventsURL() == "" {
		return nil
	}

	publisher, err := changefeed.OpenPublisher(ctx, cfg.GetChangeEventsURL(), s.origin)
	if err != nil {
		return err
	}
	s.publisher = publisher
	s.closers = append(s.closers, publisher.Close)

	relay, err := changefeed.OpenRelay(ctx, cfg.GetChangeEventsSubscriptionURL(), s.notifier, s.origin)
	if err != nil {
		return err
	}
	s.relay = relay
	s.closers = append(s.closers, relay.Close)
	return nil
}

// ToContext pushes a service instance into the supplied context.
func ToContext(ctx context.Context, s *Service) context.Context {
	return context.WithValue(ctx, ctxKeyService, s)
}

// FromContext obtains a service instance propagated through the context.
func FromContext(ctx context.Context) *Service {
	s, ok := ctx.Value(ctxKeyService).(*Service)
	if !ok {
		return nil
	}
	return s
}

// Name of the service, used for telemetry and logs.
func (s *Service) Name() string {
	return s.name
}

// Config returns the configuration object the service was built with.
func (s *Service) Config() any {
	return s.configuration
}

// Log returns the service logger bound to ctx.
func (s *Service) Log(ctx context.Context) *util.LogEntry {
	return s.logger.WithContext(ctx)
}

// Culture returns the process-wide culture used when a request carries none.
func (s *Service) Culture() language.Tag {
	s.cultureMu.RLock()
	defer s.cultureMu.RUnlock()
	return s.culture
}

// SetCulture changes the process-wide culture, drops every cached result and asks every
// listener to re-resolve.
func (s *Service) SetCulture(ctx context.Context, tag language.Tag) {
	s.cultureMu.Lock()
	s.culture = tag
	s.cultureMu.Unlock()

	s.cache.Clear()
	s.notifier.Publish(ctx, notify.ChangeEvent{Kind: notify.Other, Culture: tag})
}

// AvailableCultures returns the cultures discovered for a bundle.
func (s *Service) AvailableCultures(scope, namespace string) []language.Tag {
	return s.registry.AvailableCultures(scope, namespace)
}

// AllCultures returns every culture discovered so far across bundles.
func (s *Service) AllCultures() []language.Tag {
	return s.registry.AllCultures()
}

// CacheStats reports the result cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Subscribe registers a listener for change events.
func (s *Service) Subscribe(l notify.Listener) {
	s.notifier.Subscribe(l)
}

// Unsubscribe removes a listener and reports whether it was registered.
func (s *Service) Unsubscribe(l notify.Listener) bool {
	return s.notifier.Unsubscribe(l)
}

// Publish applies ev locally and forwards it to the change feed when one is configured.
func (s *Service) Publish(ctx context.Context, ev notify.ChangeEvent) error {
	s.notifier.Publish(ctx, ev)

	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("could not forward change event: %w", err)
	}
	return nil
}

// Run relays change events from other processes until ctx ends. Without a configured change
// feed it returns immediately.
func (s *Service) Run(ctx context.Context) error {
	if s.relay == nil {
		return nil
	}
	return s.relay.Run(ctx)
}

// Preload opens the named bundles concurrently. Names have the form scope/namespace.
func (s *Service) Preload(ctx context.Context, bundles ...string) error {
	tasks := make([]func(context.Context) error, 0, len(bundles))
	for _, name := range bundles {
		scope, namespace, ok := strings.Cut(name, "/")
		if !ok || scope == "" || namespace == "" {
			return fmt.Errorf("invalid bundle name %q, expected scope/namespace", name)
		}
		tasks = append(tasks, func(ctx context.Context) error {
			_, err := s.registry.GetOrLoad(ctx, scope, namespace)
			return err
		})
	}
	return workerpool.RunAll(ctx, s.pool, tasks...)
}

// Close releases pools, feeds, bucket handles and telemetry providers.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			errs = append(errs, s.closers[i](ctx))
		}
		if s.pool != nil {
			s.pool.Shutdown()
		}
		if s.telemetryManager != nil {
			errs = append(errs, s.telemetryManager.Shutdown(ctx))
		}
	})
	return errors.Join(errs...)
}
