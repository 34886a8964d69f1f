package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetrics "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/lexicon/config"
	"github.com/pitabwire/lexicon/telemetry"
)

type TelemetryTestSuite struct {
	suite.Suite

	spans   *tracetest.InMemoryExporter
	reader  *sdkmetrics.ManualReader
	manager telemetry.Manager
}

func TestTelemetrySuite(t *testing.T) {
	suite.Run(t, new(TelemetryTestSuite))
}

func (s *TelemetryTestSuite) SetupSuite() {
	ctx := context.Background()
	s.spans = tracetest.NewInMemoryExporter()
	s.reader = sdkmetrics.NewManualReader()

	s.manager = telemetry.NewManager(ctx, nil,
		telemetry.WithService(&config.ConfigurationDefault{ServiceName: "lexicon-test"}),
		telemetry.WithLocalization(&config.ConfigurationDefault{
			BundleURL:        "mem://bundles",
			DefaultCulture:   "fr-FR",
			DefaultNamespace: "Resources",
			ChangeEventsURL:  "mem://events",
		}),
		telemetry.WithTraceExporter(s.spans),
		telemetry.WithMetricsReader(s.reader),
	)
	s.Require().NoError(s.manager.Init(ctx))
	s.NotNil(s.manager.LogHandler())
}

func (s *TelemetryTestSuite) TearDownSuite() {
	s.Require().NoError(s.manager.Shutdown(context.Background()))
}

func (s *TelemetryTestSuite) flush() {
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	s.Require().True(ok)
	s.Require().NoError(tp.ForceFlush(context.Background()))
}

func (s *TelemetryTestSuite) TestTracerRecordsStatus() {
	s.spans.Reset()
	tracer := telemetry.NewTracer("lexicon/test")

	ctx, span := tracer.Start(context.Background(), "Succeeds")
	tracer.End(ctx, span, nil)

	ctx, span = tracer.Start(context.Background(), "Fails")
	tracer.End(ctx, span, errors.New("boom"))

	s.flush()
	stubs := s.spans.GetSpans()
	s.Require().Len(stubs, 2)
	s.Equal("Succeeds", stubs[0].Name)
	s.Equal(codes.Ok, stubs[0].Status.Code)
	s.Equal("Fails", stubs[1].Name)
	s.Equal(codes.Error, stubs[1].Status.Code)
}

func (s *TelemetryTestSuite) TestCountersAreExported() {
	ctx := context.Background()
	counter := telemetry.DimensionlessMeasure("lexicon/test", "/calls", "test calls")
	counter.Add(ctx, 3)

	var rm metricdata.ResourceMetrics
	s.Require().NoError(s.reader.Collect(ctx, &rm))

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "lexicon/test/calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			s.Require().True(ok)
			s.Require().Len(sum.DataPoints, 1)
			s.Equal(int64(3), sum.DataPoints[0].Value)
			found = true
		}
	}
	s.True(found)
}

func (s *TelemetryTestSuite) TestResourceDescribesLocalization() {
	ctx := context.Background()
	telemetry.DimensionlessMeasure("lexicon/test", "/resource", "test resource").Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	s.Require().NoError(s.reader.Collect(ctx, &rm))
	s.Require().NotNil(rm.Resource)

	testCases := []struct {
		name     string
		key      attribute.Key
		expected attribute.Value
		present  bool
	}{
		{name: "service", key: attribute.Key("service.name"), expected: attribute.StringValue("lexicon-test"), present: true},
		{name: "bundle url", key: telemetry.ResBundleURLKey, expected: attribute.StringValue("mem://bundles"), present: true},
		{name: "culture", key: telemetry.ResDefaultCultureKey, expected: attribute.StringValue("fr-FR"), present: true},
		{name: "namespace", key: telemetry.ResDefaultNamespaceKey, expected: attribute.StringValue("Resources"), present: true},
		{name: "change feed", key: telemetry.ResChangeFeedKey, expected: attribute.BoolValue(true), present: true},
		{name: "unset scope omitted", key: telemetry.ResDefaultScopeKey},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			v, ok := rm.Resource.Set().Value(tc.key)
			s.Equal(tc.present, ok)
			if tc.present {
				s.Equal(tc.expected, v)
			}
		})
	}
}

func (s *TelemetryTestSuite) TestLatencyUsesLexiconBuckets() {
	ctx := context.Background()
	tracer := telemetry.NewTracer("lexicon/buckets")
	sCtx, span := tracer.Start(ctx, "Lookup")
	tracer.End(sCtx, span, nil)

	var rm metricdata.ResourceMetrics
	s.Require().NoError(s.reader.Collect(ctx, &rm))

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "lexicon/buckets/latency" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			s.Require().True(ok)
			s.Require().NotEmpty(hist.DataPoints)
			s.Equal(telemetry.LatencyBoundaries, hist.DataPoints[0].Bounds)
			found = true
		}
	}
	s.True(found)
}

func (s *TelemetryTestSuite) TestErrorCode() {
	s.Equal("ok", telemetry.ErrorCode(nil))
	s.Equal("canceled", telemetry.ErrorCode(context.Canceled))
	s.Equal("deadline exceeded", telemetry.ErrorCode(context.DeadlineExceeded))
	s.Equal("err", telemetry.ErrorCode(errors.New("x")))
}

func (s *TelemetryTestSuite) TestDisabledManager() {
	m := telemetry.NewManager(context.Background(), &config.ConfigurationDefault{OpenTelemetryDisable: true})
	s.True(m.Disabled())
	s.Require().NoError(m.Init(context.Background()))
	s.Nil(m.LogHandler())
	s.Require().NoError(m.Shutdown(context.Background()))
}
