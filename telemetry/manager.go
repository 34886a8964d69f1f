package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklogs "go.opentelemetry.io/otel/sdk/log"
	sdkmetrics "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/pitabwire/lexicon/config"
)

// Resource attributes describing how a lexicon process resolves values.
//
//nolint:gochecknoglobals // OpenTelemetry attribute keys must be global for reuse
var (
	ResBundleURLKey        = attribute.Key("lexicon.bundle_url")
	ResDefaultCultureKey   = attribute.Key("lexicon.default_culture")
	ResDefaultScopeKey     = attribute.Key("lexicon.default_scope")
	ResDefaultNamespaceKey = attribute.Key("lexicon.default_namespace")
	ResChangeFeedKey       = attribute.Key("lexicon.change_feed")
)

// LatencyBoundaries are the histogram buckets, in milliseconds, of every method latency. Cache
// hits resolve in microseconds while bundle loads can take a bucket round trip.
//
//nolint:gochecknoglobals // shared read-only bucket layout
var LatencyBoundaries = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000}

// Manager installs the global OpenTelemetry providers of a process.
type Manager interface {
	Init(ctx context.Context) error
	Disabled() bool
	LogHandler() slog.Handler
	Shutdown(ctx context.Context) error
}

type manager struct {
	cfg      config.ConfigurationTelemetry
	disabled bool

	serviceName        string
	serviceVersion     string
	serviceEnvironment string
	attributes         []attribute.KeyValue

	propagator    propagation.TextMapPropagator
	spanExporter  sdktrace.SpanExporter
	metricsReader sdkmetrics.Reader
	logExporter   sdklogs.Exporter

	logHandler slog.Handler
	shutdowns  []func(context.Context) error
}

// NewManager creates a manager; nothing is installed before Init.
func NewManager(ctx context.Context, cfg config.ConfigurationTelemetry, opts ...Option) Manager {
	m := &manager{
		cfg:         cfg,
		serviceName: "lexicon",
		disabled:    cfg != nil && cfg.DisableOpenTelemetry(),
	}
	for _, opt := range opts {
		opt(ctx, m)
	}
	return m
}

func (m *manager) Disabled() bool {
	return m.disabled
}

func (m *manager) LogHandler() slog.Handler {
	return m.logHandler
}

// Init installs tracer, meter and logger providers. Exporters not supplied as options come from
// the OTEL_*_EXPORTER variables and default to none.
func (m *manager) Init(ctx context.Context) error {
	if m.disabled {
		return nil
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, m.resourceAttributes()...))
	if err != nil {
		return err
	}

	if m.propagator == nil {
		m.propagator = autoprop.NewTextMapPropagator()
	}
	otel.SetTextMapPropagator(m.propagator)

	m.spanExporter, err = fromEnv(ctx, "OTEL_TRACES_EXPORTER", m.spanExporter,
		func(ctx context.Context) (sdktrace.SpanExporter, error) { return autoexport.NewSpanExporter(ctx) })
	if err != nil {
		return err
	}
	m.metricsReader, err = fromEnv(ctx, "OTEL_METRICS_EXPORTER", m.metricsReader,
		func(ctx context.Context) (sdkmetrics.Reader, error) { return autoexport.NewMetricReader(ctx) })
	if err != nil {
		return err
	}
	m.logExporter, err = fromEnv(ctx, "OTEL_LOGS_EXPORTER", m.logExporter,
		func(ctx context.Context) (sdklogs.Exporter, error) { return autoexport.NewLogExporter(ctx) })
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.samplingRatio()))),
		sdktrace.WithBatcher(m.spanExporter),
		sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	mp := sdkmetrics.NewMeterProvider(
		sdkmetrics.WithReader(m.metricsReader),
		sdkmetrics.WithResource(res),
		sdkmetrics.WithView(latencyView()))
	otel.SetMeterProvider(mp)

	lp := sdklogs.NewLoggerProvider(
		sdklogs.WithResource(res),
		sdklogs.WithProcessor(sdklogs.NewBatchProcessor(m.logExporter)))
	global.SetLoggerProvider(lp)

	m.shutdowns = append(m.shutdowns, tp.Shutdown, mp.Shutdown, lp.Shutdown)

	m.logHandler = otelslog.NewHandler(m.serviceName,
		otelslog.WithLoggerProvider(lp),
		otelslog.WithSource(true),
		otelslog.WithAttributes(res.Attributes()...))
	return nil
}

// Shutdown flushes and stops the providers in reverse order of installation.
func (m *manager) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(m.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, m.shutdowns[i](ctx))
	}
	m.shutdowns = nil
	return errors.Join(errs...)
}

func (m *manager) resourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(m.serviceName),
		semconv.ServiceVersion(m.serviceVersion),
		semconv.DeploymentEnvironmentName(m.serviceEnvironment),
		semconv.ProcessPID(os.Getpid()),
		semconv.ProcessRuntimeName("go"),
		semconv.ProcessRuntimeVersion(runtime.Version()),
	}
	return append(attrs, m.attributes...)
}

func (m *manager) samplingRatio() float64 {
	if m.cfg == nil {
		return 1
	}
	return m.cfg.SamplingRatio()
}

// fromEnv keeps a supplied exporter, otherwise builds one from the environment with "none" as
// the default choice.
func fromEnv[T any](ctx context.Context, variable string, supplied T, build func(context.Context) (T, error)) (T, error) {
	if any(supplied) != nil {
		return supplied, nil
	}
	if os.Getenv(variable) == "" {
		_ = os.Setenv(variable, "none")
	}
	return build(ctx)
}

// latencyView gives every */latency histogram buckets that separate cache hits from bundle loads.
func latencyView() sdkmetrics.View {
	return sdkmetrics.NewView(
		sdkmetrics.Instrument{Name: "*/latency", Kind: sdkmetrics.InstrumentKindHistogram},
		sdkmetrics.Stream{Aggregation: sdkmetrics.AggregationExplicitBucketHistogram{Boundaries: LatencyBoundaries}},
	)
}
