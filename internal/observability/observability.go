// Package observability sets up OpenTelemetry metrics and traces.
//
// When disabled, Init installs SDK providers that record nothing and export
// nowhere, so instrumented packages can call otel.Meter and otel.Tracer
// unconditionally. When enabled, metrics go through a periodic reader and
// traces through a batcher, both to OTLP over HTTP.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/codeindex-mcp/internal/config"
)

const (
	defaultServiceName     = "codeindex"
	defaultShutdownTimeout = 5 * time.Second
	resourceServiceNameKey = "service.name"
)

// Config keeps the OpenTelemetry settings resolved from the root configuration
type Config struct {
	Enabled              bool
	ServiceName          string
	ExporterEndpoint     string
	MetricExportInterval time.Duration
}

// ShutdownFunc flushes and stops the installed providers
type ShutdownFunc func(context.Context) error

// FromConfig extracts and validates observability settings
func FromConfig(cfg *config.Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: nil root configuration provided")
	}
	c := &Config{
		Enabled:              cfg.OTelEnabled,
		ServiceName:          strings.TrimSpace(cfg.OTelServiceName),
		ExporterEndpoint:     strings.TrimSpace(cfg.OTelExporterOTLPEndpoint),
		MetricExportInterval: cfg.OTelMetricExportInterval,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate fills defaults and checks the exporter endpoint when enabled
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.MetricExportInterval <= 0 {
		c.MetricExportInterval = 60 * time.Second
	}
	if !c.Enabled {
		return nil
	}

	if c.ExporterEndpoint == "" {
		return fmt.Errorf("observability: OTLP exporter endpoint is required when OpenTelemetry is enabled")
	}
	if !strings.HasPrefix(c.ExporterEndpoint, "http://") && !strings.HasPrefix(c.ExporterEndpoint, "https://") {
		return fmt.Errorf("observability: OTLP exporter endpoint must include http or https scheme")
	}
	parsed, err := url.Parse(c.ExporterEndpoint)
	if err != nil {
		return fmt.Errorf("observability: invalid OTLP exporter endpoint: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("observability: OTLP exporter endpoint must include a host")
	}
	return nil
}

// Init installs global tracer and meter providers
func Init(ctx context.Context, rootCfg *config.Config) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	cfg, err := FromConfig(rootCfg)
	if err != nil {
		return noop, err
	}

	tp, err := InitTracer(ctx, cfg)
	if err != nil {
		return noop, err
	}

	mp, err := InitMeter(ctx, cfg)
	if err != nil {
		_ = NewShutdownFunc(tp, nil)(ctx)
		return noop, err
	}

	return NewShutdownFunc(tp, mp), nil
}

// NewShutdownFunc shuts down tp and mp, joining their errors
func NewShutdownFunc(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) ShutdownFunc {
	return func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
			defer cancel()
		}

		var errs []error
		if tp != nil {
			if err := tp.Shutdown(ctx); err != nil {
				log.Printf("observability: failed to shutdown tracer provider: %v", err)
				errs = append(errs, fmt.Errorf("tracer provider: %w", err))
			}
		}
		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				log.Printf("observability: failed to shutdown meter provider: %v", err)
				errs = append(errs, fmt.Errorf("meter provider: %w", err))
			}
		}
		return errors.Join(errs...)
	}
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attribute.String(resourceServiceNameKey, cfg.ServiceName)),
	)
}

func defaultPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// normalizeOTLPHTTPPath appends the signal path (/v1/metrics, /v1/traces)
// unless endpoint already ends with it
func normalizeOTLPHTTPPath(endpoint, suffix string) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	suffix = "/" + strings.Trim(suffix, "/")
	trimmed := strings.TrimSuffix(parsed.Path, "/")
	switch {
	case trimmed == "":
		parsed.Path = suffix
	case strings.HasSuffix(trimmed, suffix):
		parsed.Path = trimmed
	default:
		parsed.Path = trimmed + suffix
	}
	return parsed.String(), nil
}

// setGlobals installs the providers process-wide
func setGlobals(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) {
	if tp != nil {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(defaultPropagator())
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
	}
}
