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
	meterName = "github.com/wolfeidau/objcache"
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
	responseBytesTotal      metric.Int64Counter
	requestDuration         metric.Float64Histogram
	requestsByEndpointTotal metric.Int64Counter

	storeTotal      metric.Int64Counter
	storeBytesTotal metric.Int64Counter
	storeDuration   metric.Float64Histogram
	storeSize       metric.Float64Histogram

	lookupTotal    metric.Int64Counter
	lookupDuration metric.Float64Histogram

	ingestChunksTotal metric.Int64Counter
	ingestBytesTotal  metric.Int64Counter

	contentOpsTotal      metric.Int64Counter
	contentOpDuration    metric.Float64Histogram
	contentOpBytesTotal  metric.Int64Counter
	persistTotal         metric.Int64Counter
	persistDuration      metric.Float64Histogram
	persistDocBytes      metric.Int64Gauge
	evictionRunsTotal    metric.Int64Counter
	evictionRunDuration  metric.Float64Histogram
	evictedTotal         metric.Int64Counter
	evictedBytesTotal    metric.Int64Counter
	evictionPressure     metric.Int64Gauge
	usageEntries         metric.Int64Gauge
	usageBytes           metric.Int64Gauge
	sweepRunsTotal       metric.Int64Counter
	sweepRemovedTotal    metric.Int64Counter
	sweepFreedBytesTotal metric.Int64Counter
	sweepDuration        metric.Float64Histogram

	viewOpensTotal     metric.Int64Counter
	viewEvictionsTotal metric.Int64Counter
	viewMappings       metric.Int64Gauge
	viewPinned         metric.Int64Gauge

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
		cfg.ServiceName = "objcache"
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
		"objcache_http_requests_total",
		metric.WithDescription("Total number of admin HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	responseBytesTotal, err := meter.Int64Counter(
		"objcache_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in admin HTTP responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	requestDuration, err := meter.Float64Histogram(
		"objcache_http_request_duration_seconds",
		metric.WithDescription("Admin HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	requestsByEndpointTotal, err := meter.Int64Counter(
		"objcache_http_requests_by_endpoint_total",
		metric.WithDescription("Total number of admin HTTP requests by endpoint (detail metric)"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	storeTotal, err := meter.Int64Counter(
		"objcache_store_total",
		metric.WithDescription("Total store operations by source and outcome"),
		metric.WithUnit("{store}"),
	)
	if err != nil {
		return err
	}

	storeBytesTotal, err := meter.Int64Counter(
		"objcache_store_bytes_total",
		metric.WithDescription("Total bytes admitted by store operations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	storeDuration, err := meter.Float64Histogram(
		"objcache_store_duration_seconds",
		metric.WithDescription("Duration of store operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	storeSize, err := meter.Float64Histogram(
		"objcache_store_size_bytes",
		metric.WithDescription("Size of objects admitted to the cache"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536, 131072, 262144, 524288, 1048576, 2097152, 4194304, 8388608, 16777216, 33554432, 67108864, 134217728, 268435456, 536870912, 1073741824),
	)
	if err != nil {
		return err
	}

	lookupTotal, err := meter.Int64Counter(
		"objcache_lookup_total",
		metric.WithDescription("Total cache lookups by operation and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	lookupDuration, err := meter.Float64Histogram(
		"objcache_lookup_duration_seconds",
		metric.WithDescription("Duration of cache lookups"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return err
	}

	ingestChunksTotal, err := meter.Int64Counter(
		"objcache_ingest_chunks_total",
		metric.WithDescription("Total chunks processed by the ingest decoder"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return err
	}

	ingestBytesTotal, err := meter.Int64Counter(
		"objcache_ingest_bytes_total",
		metric.WithDescription("Total decoded bytes produced by the ingest decoder"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	contentOpsTotal, err := meter.Int64Counter(
		"objcache_content_ops_total",
		metric.WithDescription("Total content store operations"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	contentOpDuration, err := meter.Float64Histogram(
		"objcache_content_op_duration_seconds",
		metric.WithDescription("Duration of content store operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}

	contentOpBytesTotal, err := meter.Int64Counter(
		"objcache_content_op_bytes_total",
		metric.WithDescription("Total bytes transferred in content store operations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	persistTotal, err := meter.Int64Counter(
		"objcache_persist_total",
		metric.WithDescription("Total metadata document persists"),
		metric.WithUnit("{persist}"),
	)
	if err != nil {
		return err
	}

	persistDuration, err := meter.Float64Histogram(
		"objcache_persist_duration_seconds",
		metric.WithDescription("Duration of metadata document persists"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}

	persistDocBytes, err := meter.Int64Gauge(
		"objcache_persist_doc_bytes",
		metric.WithDescription("Size of the last persisted metadata document"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	evictionRunsTotal, err := meter.Int64Counter(
		"objcache_eviction_runs_total",
		metric.WithDescription("Total eviction runs by mode"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	evictionRunDuration, err := meter.Float64Histogram(
		"objcache_eviction_run_duration_seconds",
		metric.WithDescription("Duration of eviction runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	evictedTotal, err := meter.Int64Counter(
		"objcache_evicted_total",
		metric.WithDescription("Total entries removed from the cache by reason"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	evictedBytesTotal, err := meter.Int64Counter(
		"objcache_evicted_bytes_total",
		metric.WithDescription("Total bytes freed by entry removal"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	evictionPressure, err := meter.Int64Gauge(
		"objcache_eviction_pressure_percent",
		metric.WithDescription("Budget pressure at the last eviction run (0-100+)"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return err
	}

	usageEntries, err := meter.Int64Gauge(
		"objcache_entries",
		metric.WithDescription("Current number of live cache entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	usageBytes, err := meter.Int64Gauge(
		"objcache_content_bytes",
		metric.WithDescription("Current bytes held by cache content files"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	sweepRunsTotal, err := meter.Int64Counter(
		"objcache_sweep_runs_total",
		metric.WithDescription("Total janitor sweep runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	sweepRemovedTotal, err := meter.Int64Counter(
		"objcache_sweep_removed_total",
		metric.WithDescription("Total items removed by janitor sweeps by category"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	sweepFreedBytesTotal, err := meter.Int64Counter(
		"objcache_sweep_freed_bytes_total",
		metric.WithDescription("Total bytes freed by janitor sweeps"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	sweepDuration, err := meter.Float64Histogram(
		"objcache_sweep_duration_seconds",
		metric.WithDescription("Duration of janitor sweep cycles"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	viewOpensTotal, err := meter.Int64Counter(
		"objcache_view_opens_total",
		metric.WithDescription("Total mapped view opens by outcome"),
		metric.WithUnit("{open}"),
	)
	if err != nil {
		return err
	}

	viewEvictionsTotal, err := meter.Int64Counter(
		"objcache_view_evictions_total",
		metric.WithDescription("Total mappings evicted from the view pool by mode"),
		metric.WithUnit("{mapping}"),
	)
	if err != nil {
		return err
	}

	viewMappings, err := meter.Int64Gauge(
		"objcache_view_mappings",
		metric.WithDescription("Current mappings held by the view pool"),
		metric.WithUnit("{mapping}"),
	)
	if err != nil {
		return err
	}

	viewPinned, err := meter.Int64Gauge(
		"objcache_view_pinned_mappings",
		metric.WithDescription("Current mappings with at least one open view"),
		metric.WithUnit("{mapping}"),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		requestsTotal:           requestsTotal,
		responseBytesTotal:      responseBytesTotal,
		requestDuration:         requestDuration,
		requestsByEndpointTotal: requestsByEndpointTotal,
		storeTotal:              storeTotal,
		storeBytesTotal:         storeBytesTotal,
		storeDuration:           storeDuration,
		storeSize:               storeSize,
		lookupTotal:             lookupTotal,
		lookupDuration:          lookupDuration,
		ingestChunksTotal:       ingestChunksTotal,
		ingestBytesTotal:        ingestBytesTotal,
		contentOpsTotal:         contentOpsTotal,
		contentOpDuration:       contentOpDuration,
		contentOpBytesTotal:     contentOpBytesTotal,
		persistTotal:            persistTotal,
		persistDuration:         persistDuration,
		persistDocBytes:         persistDocBytes,
		evictionRunsTotal:       evictionRunsTotal,
		evictionRunDuration:     evictionRunDuration,
		evictedTotal:            evictedTotal,
		evictedBytesTotal:       evictedBytesTotal,
		evictionPressure:        evictionPressure,
		usageEntries:            usageEntries,
		usageBytes:              usageBytes,
		sweepRunsTotal:          sweepRunsTotal,
		sweepRemovedTotal:       sweepRemovedTotal,
		sweepFreedBytesTotal:    sweepFreedBytesTotal,
		sweepDuration:           sweepDuration,
		viewOpensTotal:          viewOpensTotal,
		viewEvictionsTotal:      viewEvictionsTotal,
		viewMappings:            viewMappings,
		viewPinned:              viewPinned,
		meterProvider:           mp,
		promHandler:             promHandler,
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

// RecordHTTP records admin HTTP request metrics.
// Call this from the logging middleware after the request completes.
// Cache result and endpoint are read from request tags set by middleware and handlers.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	tags := GetTags(r)

	cacheResult := string(CacheNA)
	endpoint := ""
	if tags != nil {
		if tags.CacheResult != "" {
			cacheResult = string(tags.CacheResult)
		}
		endpoint = tags.Endpoint
	}

	statusClass := StatusClass(status)

	// Shared metrics: low cardinality {status_class, cache_result}
	sharedAttrs := []attribute.KeyValue{
		attribute.String("status_class", statusClass),
		attribute.String("cache_result", cacheResult),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(sharedAttrs...))
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, metric.WithAttributes(sharedAttrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(sharedAttrs...))

	// Detail metric: higher cardinality, only when endpoint is set
	if endpoint != "" {
		detailAttrs := []attribute.KeyValue{
			attribute.String("endpoint", endpoint),
			attribute.String("status_class", statusClass),
			attribute.String("cache_result", cacheResult),
		}
		globalMetrics.requestsByEndpointTotal.Add(ctx, 1, metric.WithAttributes(detailAttrs...))
	}
}

// RecordStore records one store operation.
// source is "bytes", "stream", "base64" or "file"; outcome is "stored",
// "invalid", "capacity" or "error".
func RecordStore(ctx context.Context, source, outcome string, size int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	}
	globalMetrics.storeTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.storeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if size > 0 {
		globalMetrics.storeBytesTotal.Add(ctx, size, metric.WithAttributes(attrs...))
		globalMetrics.storeSize.Record(ctx, float64(size), metric.WithAttributes(attrs...))
	}
}

// RecordLookup records one cache lookup.
// op is "load", "mapped" or "check"; result is "hit", "miss", "expired",
// "corrupt" or "error".
func RecordLookup(ctx context.Context, op, result string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("result", result),
	}
	globalMetrics.lookupTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.lookupDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordIngest records chunked decode progress for one ingest.
// encoding is "base64" or "raw".
func RecordIngest(ctx context.Context, encoding string, chunks int, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("encoding", encoding),
	}
	globalMetrics.ingestChunksTotal.Add(ctx, int64(chunks), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.ingestBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordContentOp records content store operation metrics.
func RecordContentOp(ctx context.Context, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.contentOpsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.contentOpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.contentOpBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordPersist records one metadata document persist.
func RecordPersist(ctx context.Context, outcome string, docBytes int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
	}
	globalMetrics.persistTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.persistDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if docBytes > 0 {
		globalMetrics.persistDocBytes.Record(ctx, docBytes)
	}
}

// RecordEvictionRun records one eviction run.
// mode is "planned" or "force"; pressure is the budget pressure that
// triggered the run.
func RecordEvictionRun(ctx context.Context, mode string, pressure float64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
	}
	globalMetrics.evictionRunsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.evictionRunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	globalMetrics.evictionPressure.Record(ctx, int64(pressure*100))
}

// RecordEvicted records entries removed from the cache.
// reason is "lru", "expired", "corrupt" or "clear". Orphaned files with
// no entry are counted by RecordSweep instead.
func RecordEvicted(ctx context.Context, reason string, entries int, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("reason", reason),
	}
	globalMetrics.evictedTotal.Add(ctx, int64(entries), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.evictedBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// UpdateUsage updates the live entry and byte gauges.
// Called synchronously after operations that change cache totals.
func UpdateUsage(ctx context.Context, entries int, bytes int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.usageEntries.Record(ctx, int64(entries))
	globalMetrics.usageBytes.Record(ctx, bytes)
}

// RecordSweep records one janitor sweep cycle.
// Called unconditionally per cycle.
func RecordSweep(ctx context.Context, expired, orphans, staleTemps int, bytesFreed int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	globalMetrics.sweepRunsTotal.Add(ctx, 1)
	globalMetrics.sweepDuration.Record(ctx, duration.Seconds())
	globalMetrics.sweepRemovedTotal.Add(ctx, int64(expired), metric.WithAttributes(attribute.String("category", "expired")))
	globalMetrics.sweepRemovedTotal.Add(ctx, int64(orphans), metric.WithAttributes(attribute.String("category", "orphan")))
	globalMetrics.sweepRemovedTotal.Add(ctx, int64(staleTemps), metric.WithAttributes(attribute.String("category", "stale_temp")))
	if bytesFreed > 0 {
		globalMetrics.sweepFreedBytesTotal.Add(ctx, bytesFreed)
	}
}

// RecordViewOpen records a mapped view open.
// outcome is "hit", "mapped" or "error": "hit" when an existing mapping
// was reused, "mapped" when a new mapping was created.
func RecordViewOpen(ctx context.Context, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	globalMetrics.viewOpensTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordViewEviction records a mapping evicted from the view pool.
// mode is "idle" when the mapping was unmapped immediately, "deferred" when
// unmapping waits for open views to close.
func RecordViewEviction(ctx context.Context, mode string) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("mode", mode)}
	globalMetrics.viewEvictionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// UpdateViewState updates the view pool gauges.
// Called synchronously after pool operations.
func UpdateViewState(ctx context.Context, mappings, pinned int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.viewMappings.Record(ctx, int64(mappings))
	globalMetrics.viewPinned.Record(ctx, int64(pinned))
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
