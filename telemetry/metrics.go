package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/meadowfold/cattery"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal           metric.Int64Counter
	requestDuration         metric.Float64Histogram
	requestsByEndpointTotal metric.Int64Counter

	mutationsTotal   metric.Int64Counter
	mutationDuration metric.Float64Histogram

	invalidationDispatchesTotal metric.Int64Counter
	invalidationPathsTotal      metric.Int64Counter
	invalidationDuration        metric.Float64Histogram

	upstreamRequestsTotal   metric.Int64Counter
	upstreamRequestDuration metric.Float64Histogram

	cdnPurgesTotal     metric.Int64Counter
	cdnPurgePathsTotal metric.Int64Counter

	uploadsIssuedTotal metric.Int64Counter

	cleanupDeletedTotal metric.Int64Counter
	cleanupFailedTotal  metric.Int64Counter
	cleanupDuration     metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "catteryd"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	// Build resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	// Setup OTLP exporter if endpoint configured
	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	// Setup Prometheus exporter if enabled
	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	// Build meter provider options
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	// Create meter and instruments
	meter := mp.Meter(meterName)

	requestsTotal, err := meter.Int64Counter(
		"cattery_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	requestDuration, err := meter.Float64Histogram(
		"cattery_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	requestsByEndpointTotal, err := meter.Int64Counter(
		"cattery_http_requests_by_endpoint_total",
		metric.WithDescription("Total number of HTTP requests by endpoint (detail metric)"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	mutationsTotal, err := meter.Int64Counter(
		"cattery_mutations_total",
		metric.WithDescription("Total catalog mutations by entity kind and operation"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return err
	}

	mutationDuration, err := meter.Float64Histogram(
		"cattery_mutation_duration_seconds",
		metric.WithDescription("Catalog mutation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return err
	}

	invalidationDispatchesTotal, err := meter.Int64Counter(
		"cattery_invalidation_dispatches_total",
		metric.WithDescription("Total invalidation dispatches"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return err
	}

	invalidationPathsTotal, err := meter.Int64Counter(
		"cattery_invalidation_paths_total",
		metric.WithDescription("Total stale paths dispatched for regeneration"),
		metric.WithUnit("{path}"),
	)
	if err != nil {
		return err
	}

	invalidationDuration, err := meter.Float64Histogram(
		"cattery_invalidation_duration_seconds",
		metric.WithDescription("Duration of invalidation dispatches"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	)
	if err != nil {
		return err
	}

	upstreamRequestsTotal, err := meter.Int64Counter(
		"cattery_upstream_requests_total",
		metric.WithDescription("Total requests to upstream services (renderer, CDN, object store)"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	upstreamRequestDuration, err := meter.Float64Histogram(
		"cattery_upstream_request_duration_seconds",
		metric.WithDescription("Duration of upstream service requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	)
	if err != nil {
		return err
	}

	cdnPurgesTotal, err := meter.Int64Counter(
		"cattery_cdn_purges_total",
		metric.WithDescription("Total CDN purge requests"),
		metric.WithUnit("{purge}"),
	)
	if err != nil {
		return err
	}

	cdnPurgePathsTotal, err := meter.Int64Counter(
		"cattery_cdn_purge_paths_total",
		metric.WithDescription("Total paths submitted for CDN purge"),
		metric.WithUnit("{path}"),
	)
	if err != nil {
		return err
	}

	uploadsIssuedTotal, err := meter.Int64Counter(
		"cattery_uploads_issued_total",
		metric.WithDescription("Total upload capabilities issued"),
		metric.WithUnit("{capability}"),
	)
	if err != nil {
		return err
	}

	cleanupDeletedTotal, err := meter.Int64Counter(
		"cattery_cleanup_deleted_total",
		metric.WithDescription("Total objects deleted by the cleanup agent"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return err
	}

	cleanupFailedTotal, err := meter.Int64Counter(
		"cattery_cleanup_failed_total",
		metric.WithDescription("Total object deletions that failed after retry"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return err
	}

	cleanupDuration, err := meter.Float64Histogram(
		"cattery_cleanup_duration_seconds",
		metric.WithDescription("Duration of cleanup agent runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		requestsTotal:               requestsTotal,
		requestDuration:             requestDuration,
		requestsByEndpointTotal:     requestsByEndpointTotal,
		mutationsTotal:              mutationsTotal,
		mutationDuration:            mutationDuration,
		invalidationDispatchesTotal: invalidationDispatchesTotal,
		invalidationPathsTotal:      invalidationPathsTotal,
		invalidationDuration:        invalidationDuration,
		upstreamRequestsTotal:       upstreamRequestsTotal,
		upstreamRequestDuration:     upstreamRequestDuration,
		cdnPurgesTotal:              cdnPurgesTotal,
		cdnPurgePathsTotal:          cdnPurgePathsTotal,
		uploadsIssuedTotal:          uploadsIssuedTotal,
		cleanupDeletedTotal:         cleanupDeletedTotal,
		cleanupFailedTotal:          cleanupFailedTotal,
		cleanupDuration:             cleanupDuration,
		meterProvider:               mp,
		promHandler:                 promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
// Call this from the logging middleware after the request completes.
// The endpoint is read from request tags set by middleware and handlers.
func RecordHTTP(ctx context.Context, r *http.Request, status int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	tags := GetTags(r)

	endpoint := ""
	if tags != nil {
		endpoint = tags.Endpoint
	}

	statusClass := StatusClass(status)

	// Shared metrics: low cardinality {method, status_class}
	sharedAttrs := []attribute.KeyValue{
		attribute.String("method", r.Method),
		attribute.String("status_class", statusClass),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(sharedAttrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(sharedAttrs...))

	// Detail metric: higher cardinality, only when endpoint is set
	if endpoint != "" {
		detailAttrs := []attribute.KeyValue{
			attribute.String("method", r.Method),
			attribute.String("endpoint", endpoint),
			attribute.String("status_class", statusClass),
		}
		globalMetrics.requestsByEndpointTotal.Add(ctx, 1, metric.WithAttributes(detailAttrs...))
	}
}

// RecordMutation records a committed or failed catalog mutation.
func RecordMutation(ctx context.Context, kind, op, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.mutationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.mutationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordInvalidation records one completed invalidation dispatch.
func RecordInvalidation(ctx context.Context, paths, failed int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	outcome := "success"
	if failed > 0 {
		outcome = "partial"
	}
	if failed == paths && paths > 0 {
		outcome = "failure"
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	globalMetrics.invalidationDispatchesTotal.Add(ctx, 1, attrs)
	globalMetrics.invalidationPathsTotal.Add(ctx, int64(paths), attrs)
	globalMetrics.invalidationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordUpstream records one upstream service request. Called by the
// instrumented transport.
func RecordUpstream(ctx context.Context, target, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("target", target),
		attribute.String("outcome", outcome),
	}
	globalMetrics.upstreamRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.upstreamRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCDNPurge records one CDN purge batch.
func RecordCDNPurge(ctx context.Context, paths int, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	globalMetrics.cdnPurgesTotal.Add(ctx, 1, attrs)
	globalMetrics.cdnPurgePathsTotal.Add(ctx, int64(paths), attrs)
}

// RecordUploadsIssued records issued upload capabilities.
// mode is "local" or "remote".
func RecordUploadsIssued(ctx context.Context, mode string, count int, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	globalMetrics.uploadsIssuedTotal.Add(ctx, int64(count), attrs)
}

// RecordCleanup records one cleanup agent run.
func RecordCleanup(ctx context.Context, deleted, failed int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	globalMetrics.cleanupDeletedTotal.Add(ctx, int64(deleted))
	globalMetrics.cleanupFailedTotal.Add(ctx, int64(failed))
	globalMetrics.cleanupDuration.Record(ctx, duration.Seconds())
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
