package indexer

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

// instruments are the coordinator's OpenTelemetry metrics. They report to
// whatever meter provider is installed globally.
type instruments struct {
	files        metric.Int64Counter
	chunks       metric.Int64Counter
	runDuration  metric.Float64Histogram
	registration metric.Registration
}

func newInstruments(c *Coordinator, logger *log.Logger) *instruments {
	meter := otel.Meter("codeindex/indexer")
	noopMeter := noop.NewMeterProvider().Meter("codeindex/indexer")
	m := &instruments{}

	var err error
	m.files, err = meter.Int64Counter("codeindex.indexer.files",
		metric.WithDescription("Files processed by kind and outcome"),
		metric.WithUnit("{file}"))
	if err != nil {
		logger.Printf("indexer: failed to create files counter: %v", err)
		m.files, _ = noopMeter.Int64Counter("codeindex.indexer.files")
	}

	m.chunks, err = meter.Int64Counter("codeindex.indexer.chunks",
		metric.WithDescription("Chunk vectors written"),
		metric.WithUnit("{chunk}"))
	if err != nil {
		logger.Printf("indexer: failed to create chunks counter: %v", err)
		m.chunks, _ = noopMeter.Int64Counter("codeindex.indexer.chunks")
	}

	m.runDuration, err = meter.Float64Histogram("codeindex.indexer.run.duration",
		metric.WithDescription("Duration of one drain of the work queue"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Printf("indexer: failed to create run duration histogram: %v", err)
		m.runDuration, _ = noopMeter.Float64Histogram("codeindex.indexer.run.duration")
	}

	queue, err := meter.Int64ObservableGauge("codeindex.indexer.queue.depth",
		metric.WithDescription("Paths waiting to be processed"),
		metric.WithUnit("{file}"))
	if err != nil {
		logger.Printf("indexer: failed to create queue gauge: %v", err)
		return m
	}
	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(queue, int64(c.QueueDepth()))
		return nil
	}, queue)
	if err != nil {
		logger.Printf("indexer: failed to register queue gauge: %v", err)
	}
	return m
}

func (m *instruments) recordItem(ctx context.Context, kind types.ChangeKind, res outcome, chunks int) {
	m.files.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("outcome", res.String()),
	))
	if chunks > 0 {
		m.chunks.Add(ctx, int64(chunks))
	}
}

func (m *instruments) recordRun(ctx context.Context, s Summary) {
	m.runDuration.Record(ctx, s.Duration.Seconds(), metric.WithAttributes(
		attribute.Bool("full", s.Full),
	))
}

func (m *instruments) close() {
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}
