package observability

import (
	"context"
	"fmt"
	"strings"

	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMeter builds the meter provider and installs it globally
func InitMeter(ctx context.Context, cfg *Config) (*sdkmetric.MeterProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: meter initialization requires a config")
	}

	if !cfg.Enabled {
		mp := sdkmetric.NewMeterProvider()
		setGlobals(nil, mp)
		return mp, nil
	}

	exporter, err := newHTTPMetricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to create OTLP metric exporter: %w", err)
	}

	mp, err := NewMeterProvider(ctx, cfg, exporter)
	if err != nil {
		return nil, err
	}
	setGlobals(nil, mp)
	return mp, nil
}

// NewMeterProvider wires exporter through a periodic reader
func NewMeterProvider(ctx context.Context, cfg *Config, exporter sdkmetric.Exporter) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		return sdkmetric.NewMeterProvider(), nil
	}
	if exporter == nil {
		return nil, fmt.Errorf("observability: metric exporter cannot be nil when OpenTelemetry is enabled")
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to build resource information: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricExportInterval))
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

func newHTTPMetricExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	endpoint, err := normalizeOTLPHTTPPath(cfg.ExporterEndpoint, "/v1/metrics")
	if err != nil {
		return nil, fmt.Errorf("observability: invalid OTLP HTTP endpoint: %w", err)
	}

	options := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(endpoint)}
	if strings.HasPrefix(endpoint, "http://") {
		options = append(options, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, options...)
}
