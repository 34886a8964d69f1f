package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Units follow the case-sensitive UCUM abbreviations.
const (
	unitDimensionless = "1"
	unitMilliseconds  = "ms"
)

func packageMeter(pkg string) metric.Meter {
	attrs := []attribute.KeyValue{AttrPackageKey.String(pkg)}
	return otel.Meter(pkg, metric.WithInstrumentationAttributes(attrs...))
}

// LatencyMeasure returns the method latency histogram of a package.
func LatencyMeasure(pkg string) metric.Float64Histogram {
	m, err := packageMeter(pkg).Float64Histogram(
		pkg+"/latency",
		metric.WithDescription("Latency distribution of method calls"),
		metric.WithUnit(unitMilliseconds),
	)
	if err != nil {
		// Only invalid instrument names fail here, which is a programming error.
		panic(fmt.Sprintf("pkg=%q: %v", pkg, err))
	}
	return m
}

// DimensionlessMeasure creates a counter of plain occurrences such as cache hits.
func DimensionlessMeasure(pkg string, meterName string, description string) metric.Int64Counter {
	m, err := packageMeter(pkg).Int64Counter(
		pkg+meterName,
		metric.WithDescription(description),
		metric.WithUnit(unitDimensionless),
	)
	if err != nil {
		panic(fmt.Sprintf("pkg=%q meter=%q: %v", pkg, meterName, err))
	}
	return m
}
