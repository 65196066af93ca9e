package telemetry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const instrumentationName = "whatsapp-gateway"

// Init configura tracer e meter provider globali con esportazione su file
// ruotati in dir. La funzione restituita svuota e chiude gli exporter.
func Init(ctx context.Context, dir string, log zerolog.Logger) (func(), error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(instrumentationName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceFile := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "gateway_traces.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricsFile := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "gateway_metrics.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second)),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
		if err := mp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown meter provider")
		}
		traceFile.Close()
		metricsFile.Close()
	}
	return cleanup, nil
}

// Metrics raggruppa i contatori della pipeline. Un *Metrics nil non registra nulla.
type Metrics struct {
	messagesReceived metric.Int64Counter
	mediaFailures    metric.Int64Counter
	deliveries       metric.Int64Counter
	reconnects       metric.Int64Counter
}

// NewMetrics crea i contatori sul meter provider globale (no-op se Init non è stato chiamato)
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	messagesReceived, err := meter.Int64Counter("gateway.messages.received",
		metric.WithDescription("Inbound messages normalized"))
	if err != nil {
		return nil, err
	}
	mediaFailures, err := meter.Int64Counter("gateway.media.failures",
		metric.WithDescription("Media downloads or writes that failed"))
	if err != nil {
		return nil, err
	}
	deliveries, err := meter.Int64Counter("gateway.webhook.deliveries",
		metric.WithDescription("Webhook delivery attempts by result"))
	if err != nil {
		return nil, err
	}
	reconnects, err := meter.Int64Counter("gateway.reconnects",
		metric.WithDescription("Scheduled reconnection attempts"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		messagesReceived: messagesReceived,
		mediaFailures:    mediaFailures,
		deliveries:       deliveries,
		reconnects:       reconnects,
	}, nil
}

func (m *Metrics) MessageReceived(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) MediaFailed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.mediaFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) WebhookDelivered(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) ReconnectScheduled(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Tracer restituisce il tracer globale del gateway
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
