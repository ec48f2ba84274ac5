// Package tracing configures the OpenTelemetry tracer provider used for relay spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	logx "chanrelay/pkg/logx"
)

type Config struct {
	Enabled bool
	// Exporter is "stdout" (default) or "otlp".
	Exporter    string
	Endpoint    string
	Insecure    bool
	SampleRate  float64
	ServiceName string
	Version     string

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

type Manager struct {
	cfg      Config
	log      logx.Logger
	provider *sdktrace.TracerProvider
}

func New(cfg Config, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "chanrelay"
	}
	return &Manager{cfg: cfg, log: log}
}

// Init installs the global tracer provider. With tracing disabled the
// global no-op provider stays in place.
func (m *Manager) Init(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Debug("tracing disabled")
		return nil
	}
	exporter, err := m.exporter(ctx)
	if err != nil {
		return err
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", m.cfg.ServiceName),
		attribute.String("service.version", m.cfg.Version),
	)
	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.cfg.SampleRate))),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	m.log.Info("tracing initialized",
		logx.String("exporter", m.exporterName()),
		logx.Any("sample_rate", m.cfg.SampleRate),
	)
	return nil
}

func (m *Manager) exporterName() string {
	if strings.EqualFold(strings.TrimSpace(m.cfg.Exporter), "otlp") {
		return "otlp"
	}
	return "stdout"
}

func (m *Manager) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if m.exporterName() == "otlp" {
		opts := []otlptracehttp.Option{}
		if ep := strings.TrimSpace(m.cfg.Endpoint); ep != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(ep))
		}
		if m.cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		return exp, nil
	}
	w := m.cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	return exp, nil
}

// Tracer returns a tracer from the installed provider (no-op when disabled).
func (m *Manager) Tracer(name string) trace.Tracer {
	if m.provider != nil {
		return m.provider.Tracer(name)
	}
	return otel.Tracer(name)
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.provider.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	m.provider = nil
	return nil
}
