package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdklogs "go.opentelemetry.io/otel/sdk/log"
	sdkmetrics "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pitabwire/lexicon/config"
)

type Option func(ctx context.Context, m *manager)

// WithDisableTracing disables all providers.
func WithDisableTracing() Option {
	return func(_ context.Context, m *manager) {
		m.disabled = true
	}
}

// WithService tags the telemetry resource with the service identity.
func WithService(svc config.ConfigurationService) Option {
	return func(_ context.Context, m *manager) {
		if svc == nil {
			return
		}
		if svc.Name() != "" {
			m.serviceName = svc.Name()
		}
		m.serviceVersion = svc.Version()
		m.serviceEnvironment = svc.Environment()
	}
}

// WithLocalization tags the telemetry resource with the bundle source and defaults values are
// resolved against. Unset values are left out.
func WithLocalization(cfg config.ConfigurationLocalization) Option {
	return func(_ context.Context, m *manager) {
		if cfg == nil {
			return
		}
		for _, kv := range []attribute.KeyValue{
			ResBundleURLKey.String(cfg.GetBundleURL()),
			ResDefaultCultureKey.String(cfg.GetDefaultCulture()),
			ResDefaultScopeKey.String(cfg.GetDefaultScope()),
			ResDefaultNamespaceKey.String(cfg.GetDefaultNamespace()),
		} {
			if kv.Value.AsString() != "" {
				m.attributes = append(m.attributes, kv)
			}
		}
		if feed, ok := cfg.(config.ConfigurationChangeFeed); ok {
			m.attributes = append(m.attributes, ResChangeFeedKey.Bool(feed.GetChangeEventsURL() != ""))
		}
	}
}

// WithPropagationTextMap specifies the trace baggage carrier to use.
func WithPropagationTextMap(carrier propagation.TextMapPropagator) Option {
	return func(_ context.Context, m *manager) {
		m.propagator = carrier
	}
}

// WithTraceExporter specifies the trace exporter to use.
func WithTraceExporter(exporter sdktrace.SpanExporter) Option {
	return func(_ context.Context, m *manager) {
		m.spanExporter = exporter
	}
}

// WithMetricsReader specifies the metrics reader to use.
func WithMetricsReader(reader sdkmetrics.Reader) Option {
	return func(_ context.Context, m *manager) {
		m.metricsReader = reader
	}
}

// WithTraceLogsExporter specifies the logs exporter to use.
func WithTraceLogsExporter(exporter sdklogs.Exporter) Option {
	return func(_ context.Context, m *manager) {
		m.logExporter = exporter
	}
}
