package instrumentation

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "uma-oauth"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// instrumentationPrefix prefixes every meter and tracer name
	instrumentationPrefix = "github.com/giantswarm/uma-oauth/"
)

// Metric exporters
const (
	MetricExporterNone       = "none"
	MetricExporterPrometheus = "prometheus"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// MetricExporter selects where metrics go: "prometheus" (default when
	// enabled) or "none".
	MetricExporter string

	// Registerer receives the Prometheus collector. When nil a private
	// registry is created and served by Handler.
	Registerer prometheus.Registerer

	// LogClientIPs controls whether client IP addresses are included in traces and metrics.
	// Client IP addresses may be personal data under GDPR.
	LogClientIPs bool

	// Resource allows custom resource attributes
	// If nil, default resource is created with service name and version
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	// gatherer backs Handler; nil when metrics are not exported to Prometheus
	gatherer prometheus.Gatherer

	metrics *Metrics

	// registered during New() only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricExporter == "" {
		config.MetricExporter = MetricExporterPrometheus
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders builds the SDK meter and tracer providers.
func (i *Instrumentation) initializeProviders() error {
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(i.resource))
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)

	switch i.config.MetricExporter {
	case MetricExporterNone:
		i.meterProvider = noop.NewMeterProvider()
		return nil
	case MetricExporterPrometheus:
	default:
		return fmt.Errorf("unsupported metric exporter %q", i.config.MetricExporter)
	}

	registerer := i.config.Registerer
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer = registry
		i.gatherer = registry
	} else if g, ok := registerer.(prometheus.Gatherer); ok {
		i.gatherer = g
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(i.resource),
		sdkmetric.WithReader(exporter),
	)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	return nil
}

// Shutdown flushes and stops all providers. It is safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Handler serves the collected metrics in the Prometheus exposition format.
// It responds 404 when no Prometheus registry is available.
func (i *Instrumentation) Handler() http.Handler {
	if i.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(i.gatherer, promhttp.HandlerOpts{})
}

// Meter returns a named meter for the given scope, such as "http", "server",
// "storage", "jose" or "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationPrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationPrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs returns whether client IP addresses should be logged
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// StorageSizes groups the callbacks observed by the storage size gauges.
// Nil callbacks are skipped.
type StorageSizes struct {
	Tokens  StorageSizeCallback
	Clients StorageSizeCallback
	Codes   StorageSizeCallback
	Tickets StorageSizeCallback
}

// RegisterStorageSizeCallbacks registers callbacks for the storage size gauges.
// Storage implementations call this from SetInstrumentation.
func (i *Instrumentation) RegisterStorageSizeCallbacks(sizes StorageSizes) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	meter := i.Meter("storage")
	m := i.metrics

	_, err := meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if sizes.Tokens != nil {
				observer.ObserveInt64(m.StorageTokensCount, sizes.Tokens())
			}
			if sizes.Clients != nil {
				observer.ObserveInt64(m.StorageClientsCount, sizes.Clients())
			}
			if sizes.Codes != nil {
				observer.ObserveInt64(m.StorageCodesCount, sizes.Codes())
			}
			if sizes.Tickets != nil {
				observer.ObserveInt64(m.StorageTicketsCount, sizes.Tickets())
			}
			return nil
		},
		m.StorageTokensCount,
		m.StorageClientsCount,
		m.StorageCodesCount,
		m.StorageTicketsCount,
	)

	return err
}
