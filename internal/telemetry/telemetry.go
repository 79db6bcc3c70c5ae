package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/disorderedmaterials/dissolve-sub015"

type Config struct {
	ServiceName string
	RunID       string
	// TraceExporter is "stdout" or "none".
	TraceExporter string
	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string
	// Writer receives stdout exporter output.
	Writer io.Writer
	// Registry receives the otel metrics when exporting to prometheus; nil creates one per Init.
	Registry *prometheus.Registry
}

func DefaultConfig() Config {
	return Config{ServiceName: "dissolve", TraceExporter: "none", MetricExporter: "prometheus"}
}

var (
	handlerMu sync.RWMutex
	handler   http.Handler = promhttp.Handler()
)

// MetricsHandler serves every registered metric.
func MetricsHandler() http.Handler {
	handlerMu.RLock()
	defer handlerMu.RUnlock()
	return handler
}

// Tracer returns the run's tracer.
func Tracer() trace.Tracer { return otel.Tracer(instrumentation) }

// Init installs the global tracer and meter providers. The returned function flushes and stops
// them.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	var shutdowns []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("run.id", cfg.RunID),
	)

	switch cfg.TraceExporter {
	case "", "none":
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(writer(cfg)))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	default:
		return nil, fmt.Errorf("%w: trace %q", ErrUnknownExporter, cfg.TraceExporter)
	}

	switch cfg.MetricExporter {
	case "", "none":
	case "prometheus":
		reg := cfg.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		exp, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
		handlerMu.Lock()
		handler = promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, reg}, promhttp.HandlerOpts{})
		handlerMu.Unlock()
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(writer(cfg)))
		if err != nil {
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	default:
		return nil, fmt.Errorf("%w: metric %q", ErrUnknownExporter, cfg.MetricExporter)
	}
	return shutdown, nil
}

func writer(cfg Config) io.Writer {
	if cfg.Writer != nil {
		return cfg.Writer
	}
	return io.Discard
}

// Serve exposes MetricsHandler on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
