// Package tracing wraps OpenTelemetry span creation for the three
// traversal points the core wants distributed-tracing visibility into:
// pipeline traversal, durable-queue push/pop, and protocol
// auto-detection.
//
// Manager builds a trace.TracerProvider from one of jaeger/otlp/console
// exporters, exposing a single Tracer for span creation. The span names
// below (pipeline.queue, durablequeue.push_tail, durablequeue.pop_head,
// protocol.detect) name FlowCore's own traversal points.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config controls the tracer provider's exporter and sampling.
type Config struct {
	Enabled     bool
	ServiceName string
	Exporter    string // "jaeger", "otlp", "console"
	Endpoint    string
	SampleRate  float64
}

// Manager owns the tracer provider and hands out the one Tracer every
// instrumented call site uses.
type Manager struct {
	cfg      Config
	logger   *logrus.Logger
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewManager builds a Manager. When cfg.Enabled is false the returned
// Manager's Tracer is otel's global no-op tracer, so instrumented call
// sites don't need an enabled check of their own.
func NewManager(cfg Config, logger *logrus.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{cfg: cfg, logger: logger, tracer: otel.Tracer("flowcore/noop")}, nil
	}

	m := &Manager{cfg: cfg, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("tracing: creating exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", m.cfg.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing: building resource: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(m.cfg.SampleRate)),
	)
	otel.SetTracerProvider(m.provider)
	m.tracer = m.provider.Tracer("github.com/sswcorp/flowcore")
	return nil
}

func (m *Manager) createExporter() (sdktrace.SpanExporter, error) {
	switch m.cfg.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.cfg.Endpoint)))
	case "console":
		return newConsoleExporter(m.logger), nil
	case "otlp", "":
		client := otlptracehttp.NewClient(otlptracehttp.WithEndpointURL(m.cfg.Endpoint))
		return otlptrace.New(context.Background(), client)
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", m.cfg.Exporter)
	}
}

// Tracer returns the tracer every span-creation helper below uses.
func (m *Manager) Tracer() oteltrace.Tracer { return m.tracer }

// Shutdown flushes and stops the tracer provider. It is a no-op when
// tracing is disabled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// StartPipelineQueue starts a span around one pipeline.Queue traversal.
func (m *Manager) StartPipelineQueue(ctx context.Context, pipelineName string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, "pipeline.queue", oteltrace.WithAttributes(
		attribute.String("flowcore.pipeline", pipelineName),
	))
}

// StartQueuePushTail starts a span around one durable queue PushTail call.
func (m *Manager) StartQueuePushTail(ctx context.Context, destination string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, "durablequeue.push_tail", oteltrace.WithAttributes(
		attribute.String("flowcore.destination", destination),
	))
}

// StartQueuePopHead starts a span around one durable queue PopHead call.
func (m *Manager) StartQueuePopHead(ctx context.Context, destination string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, "durablequeue.pop_head", oteltrace.WithAttributes(
		attribute.String("flowcore.destination", destination),
	))
}

// StartProtocolDetect starts a span around one connection's auto-detect
// state-machine pass.
func (m *Manager) StartProtocolDetect(ctx context.Context, listener string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, "protocol.detect", oteltrace.WithAttributes(
		attribute.String("flowcore.listener", listener),
	))
}

// consoleExporter logs spans through logrus instead of shipping them,
// used for the "console" exporter choice in local/dev deployments.
type consoleExporter struct {
	logger *logrus.Logger
}

func newConsoleExporter(logger *logrus.Logger) *consoleExporter {
	return &consoleExporter{logger: logger}
}

func (c *consoleExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		c.logger.WithFields(logrus.Fields{
			"span":     s.Name(),
			"trace_id": s.SpanContext().TraceID().String(),
			"duration": s.EndTime().Sub(s.StartTime()).Round(time.Microsecond),
		}).Debug("span finished")
	}
	return nil
}

func (c *consoleExporter) Shutdown(ctx context.Context) error { return nil }
