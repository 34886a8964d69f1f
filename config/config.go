package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type contextKey string

func (c contextKey) String() string {
	return "lexicon/config/" + string(c)
}

const ctxKeyConfiguration = contextKey("configurationKey")

// ToContext adds service configuration to the current supplied context.
func ToContext(ctx context.Context, config any) context.Context {
	return context.WithValue(ctx, ctxKeyConfiguration, config)
}

// FromContext extracts service configuration from the supplied context if any exist.
func FromContext[T any](ctx context.Context) T {
	if cfg, ok := ctx.Value(ctxKeyConfiguration).(T); ok {
		return cfg
	}
	var zero T
	return zero
}

// FromEnv convenience method to process configs.
func FromEnv[T any]() (T, error) {
	return env.ParseAs[T]()
}

// FillEnv convenience method to fill a config object with environment data.
func FillEnv(v any) error {
	return env.Parse(v)
}

// FromFile reads defaults and the environment first, then applies the YAML or TOML file at
// path on top. Values present in the file win.
func FromFile[T any](path string) (T, error) {
	cfg, err := FromEnv[T]()
	if err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return cfg, nil
}

type ConfigurationDefault struct {
	ServiceName        string `envDefault:"lexicon" env:"SERVICE_NAME"        yaml:"service_name"        toml:"service_name"`
	ServiceEnvironment string `envDefault:""        env:"SERVICE_ENVIRONMENT" yaml:"service_environment" toml:"service_environment"`
	ServiceVersion     string `envDefault:""        env:"SERVICE_VERSION"     yaml:"service_version"     toml:"service_version"`

	LogLevel          string `envDefault:"info"                      env:"LOG_LEVEL"            yaml:"log_level"            toml:"log_level"`
	LogTimeFormat     string `envDefault:"2006-01-02T15:04:05Z07:00" env:"LOG_TIME_FORMAT"      yaml:"log_time_format"      toml:"log_time_format"`
	LogColored        bool   `envDefault:"true"                      env:"LOG_COLORED"          yaml:"log_colored"          toml:"log_colored"`
	LogShowStackTrace bool   `envDefault:"false"                     env:"LOG_SHOW_STACK_TRACE" yaml:"log_show_stack_trace" toml:"log_show_stack_trace"`

	OpenTelemetryDisable    bool    `envDefault:"false" env:"OPENTELEMETRY_DISABLE"        yaml:"opentelemetry_disable"        toml:"opentelemetry_disable"`
	OpenTelemetryTraceRatio float64 `envDefault:"0.1"   env:"OPENTELEMETRY_TRACE_ID_RATIO" yaml:"opentelemetry_trace_id_ratio" toml:"opentelemetry_trace_id_ratio"`

	WorkerPoolCapacity       int    `envDefault:"16" env:"WORKER_POOL_CAPACITY"        yaml:"worker_pool_capacity"        toml:"worker_pool_capacity"`
	WorkerPoolExpiryDuration string `envDefault:"1s" env:"WORKER_POOL_EXPIRY_DURATION" yaml:"worker_pool_expiry_duration" toml:"worker_pool_expiry_duration"`

	BundleURL          string   `envDefault:""          env:"LEXICON_BUNDLE_URL"          yaml:"bundle_url"          toml:"bundle_url"`
	DefaultCulture     string   `envDefault:""          env:"LEXICON_DEFAULT_CULTURE"     yaml:"default_culture"     toml:"default_culture"`
	DefaultScope       string   `envDefault:""          env:"LEXICON_DEFAULT_SCOPE"       yaml:"default_scope"       toml:"default_scope"`
	DefaultNamespace   string   `envDefault:"Resources" env:"LEXICON_DEFAULT_NAMESPACE"   yaml:"default_namespace"   toml:"default_namespace"`
	KeySeparator       string   `envDefault:"_"         env:"LEXICON_KEY_SEPARATOR"       yaml:"key_separator"       toml:"key_separator"`
	ResultCacheSize    int      `envDefault:"4096"      env:"LEXICON_RESULT_CACHE_SIZE"   yaml:"result_cache_size"   toml:"result_cache_size"`
	MaxChainDepth      int      `envDefault:"256"       env:"LEXICON_MAX_CHAIN_DEPTH"     yaml:"max_chain_depth"     toml:"max_chain_depth"`
	InheritingDefaults bool     `envDefault:"false"     env:"LEXICON_INHERITING_DEFAULTS" yaml:"inheriting_defaults" toml:"inheriting_defaults"`
	PreloadBundles     []string `envDefault:""          env:"LEXICON_PRELOAD_BUNDLES"     yaml:"preload_bundles"     toml:"preload_bundles"`

	ChangeEventsURL string `envDefault:"" env:"LEXICON_CHANGE_EVENTS_URL" yaml:"change_events_url" toml:"change_events_url"`
	ChangeEventsSub string `envDefault:"" env:"LEXICON_CHANGE_EVENTS_SUB" yaml:"change_events_sub" toml:"change_events_sub"`
}

type ConfigurationService interface {
	Name() string
	Environment() string
	Version() string
}

var _ ConfigurationService = new(ConfigurationDefault)

func (c *ConfigurationDefault) Name() string {
	return c.ServiceName
}

func (c *ConfigurationDefault) Environment() string {
	return c.ServiceEnvironment
}

func (c *ConfigurationDefault) Version() string {
	return c.ServiceVersion
}

type ConfigurationLogLevel interface {
	LoggingLevel() string
	LoggingTimeFormat() string
	LoggingColored() bool
	LoggingShowStackTrace() bool
	LoggingLevelIsDebug() bool
}

var _ ConfigurationLogLevel = new(ConfigurationDefault)

func (c *ConfigurationDefault) LoggingLevel() string {
	return strings.ToLower(c.LogLevel)
}

func (c *ConfigurationDefault) LoggingTimeFormat() string {
	return c.LogTimeFormat
}

func (c *ConfigurationDefault) LoggingColored() bool {
	return c.LogColored
}

func (c *ConfigurationDefault) LoggingShowStackTrace() bool {
	return c.LogShowStackTrace
}

func (c *ConfigurationDefault) LoggingLevelIsDebug() bool {
	return c.LoggingLevel() == "debug" || c.LoggingLevel() == "trace"
}

type ConfigurationTelemetry interface {
	DisableOpenTelemetry() bool
	SamplingRatio() float64
}

var _ ConfigurationTelemetry = new(ConfigurationDefault)

func (c *ConfigurationDefault) DisableOpenTelemetry() bool {
	return c.OpenTelemetryDisable
}

func (c *ConfigurationDefault) SamplingRatio() float64 {
	return c.OpenTelemetryTraceRatio
}

type ConfigurationWorkerPool interface {
	GetCapacity() int
	GetExpiryDuration() time.Duration
}

var _ ConfigurationWorkerPool = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetCapacity() int {
	return c.WorkerPoolCapacity
}

func (c *ConfigurationDefault) GetExpiryDuration() time.Duration {
	if c.WorkerPoolExpiryDuration != "" {
		if d, err := time.ParseDuration(c.WorkerPoolExpiryDuration); err == nil {
			return d
		}
	}
	return time.Second
}

// ConfigurationLocalization configures where bundles come from and how keys resolve.
type ConfigurationLocalization interface {
	GetBundleURL() string
	GetDefaultCulture() string
	GetDefaultScope() string
	GetDefaultNamespace() string
	GetKeySeparator() string
	GetResultCacheSize() int
	GetMaxChainDepth() int
	IsInheritingDefaults() bool
	GetPreloadBundles() []string
}

var _ ConfigurationLocalization = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetBundleURL() string {
	return c.BundleURL
}

func (c *ConfigurationDefault) GetDefaultCulture() string {
	return c.DefaultCulture
}

func (c *ConfigurationDefault) GetDefaultScope() string {
	return c.DefaultScope
}

func (c *ConfigurationDefault) GetDefaultNamespace() string {
	return c.DefaultNamespace
}

func (c *ConfigurationDefault) GetKeySeparator() string {
	return c.KeySeparator
}

func (c *ConfigurationDefault) GetResultCacheSize() int {
	return c.ResultCacheSize
}

func (c *ConfigurationDefault) GetMaxChainDepth() int {
	return c.MaxChainDepth
}

func (c *ConfigurationDefault) IsInheritingDefaults() bool {
	return c.InheritingDefaults
}

// GetPreloadBundles lists bundles, as scope/namespace, opened when the service starts.
func (c *ConfigurationDefault) GetPreloadBundles() []string {
	var bundles []string
	for _, b := range c.PreloadBundles {
		if b = strings.TrimSpace(b); b != "" {
			bundles = append(bundles, b)
		}
	}
	return bundles
}

// ConfigurationChangeFeed names the pubsub topic and subscription change events travel on.
type ConfigurationChangeFeed interface {
	GetChangeEventsURL() string
	GetChangeEventsSubscriptionURL() string
}

var _ ConfigurationChangeFeed = new(ConfigurationDefault)

func (c *ConfigurationDefault) GetChangeEventsURL() string {
	return c.ChangeEventsURL
}

// GetChangeEventsSubscriptionURL falls back to the topic URL, which suits drivers like
// mem:// and nats:// where one URL opens both.
func (c *ConfigurationDefault) GetChangeEventsSubscriptionURL() string {
	if c.ChangeEventsSub != "" {
		return c.ChangeEventsSub
	}
	return c.ChangeEventsURL
}
