package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
)

const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

type K string
type V string

type KV struct {
	Key   K
	Value V
}

func (k K) V(val string) KV {
	return KV{
		Key:   k,
		Value: V(val),
	}
}

func NewKV(key string, val string) KV {
	return K(key).V(val)
}

type Reporter interface {
	HttpHandler() http.Handler

	IncrementEvaluation(flag string, inExperiment bool)
	AddDeliveredRecords(count int, streamType string, outcome string)
	ObserveDeliveryDuration(streamType string, operation string, duration time.Duration)

	StartSpan(ctx context.Context, name string, attributes ...KV) (context.Context, trace.Span)
	ForceFlush(ctx context.Context)

	InstrumentHttp(operation string, method string, handler http.HandlerFunc) http.HandlerFunc
	InstrumentHttpClient(handler http.RoundTripper, attributes ...KV) http.RoundTripper
	InstrumentGrpcClient(opts []grpc.DialOption) []grpc.DialOption

	InstrumentRedis(rdb redis.UniversalClient)
	InstrumentAws(opts *aws.Config)

	Shutdown()
}

const (
	traceName   = "github.com/configcat/configcat-experiment-hook"
	serviceName = "configcat-experiment-hook"
)

type reporter struct {
	conf           *config.DiagConfig
	registry       *prometheus.Registry
	metricsHandler *metricsHandler
	traceHandler   *traceHandler
	tracer         trace.Tracer
	log            log.Logger
}

func NewReporter(conf *config.DiagConfig, version string, log log.Logger) Reporter {
	logger := log.WithPrefix("telemetry")
	res := buildResource(version)

	var mh *metricsHandler
	var th *traceHandler
	var tracer trace.Tracer
	var registry *prometheus.Registry
	if conf.IsMetricsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if conf.Metrics.Prometheus.Enabled {
			registry = prometheus.NewRegistry()
		}
		mh = newMetricsHandler(ctx, res, &conf.Metrics, registry, logger)
	}
	if conf.IsTracesEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		th = newTraceHandler(ctx, res, &conf.Traces, logger)
		if th != nil {
			tracer = th.provider.Tracer(traceName)
		}
	}

	return &reporter{
		conf:           conf,
		registry:       registry,
		metricsHandler: mh,
		traceHandler:   th,
		tracer:         tracer,
		log:            logger,
	}
}

func NewEmptyReporter() Reporter {
	return &reporter{conf: &config.DiagConfig{}}
}

// HttpHandler serves the Prometheus exposition of the reporter's own
// registry, or nil when the Prometheus exporter is off.
func (r *reporter) HttpHandler() http.Handler {
	if r.registry == nil || r.metricsHandler == nil {
		return nil
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *reporter) ForceFlush(ctx context.Context) {
	if r.metricsHandler != nil {
		err := r.metricsHandler.provider.ForceFlush(ctx)
		if err != nil {
			r.log.Errorf("failed to force flush metrics: %v", err)
		}
	}
	if r.traceHandler != nil {
		err := r.traceHandler.provider.ForceFlush(ctx)
		if err != nil {
			r.log.Errorf("failed to force flush traces: %v", err)
		}
	}
}

func (r *reporter) IncrementEvaluation(flag string, inExperiment bool) {
	if r.metricsHandler == nil {
		return
	}
	r.metricsHandler.incrementEvaluation(flag, inExperiment)
}

func (r *reporter) AddDeliveredRecords(count int, streamType string, outcome string) {
	if r.metricsHandler == nil {
		return
	}
	r.metricsHandler.addDeliveredRecords(count, streamType, outcome)
}

func (r *reporter) ObserveDeliveryDuration(streamType string, operation string, duration time.Duration) {
	if r.metricsHandler == nil {
		return
	}
	r.metricsHandler.observeDeliveryDuration(streamType, operation, duration)
}

func (r *reporter) StartSpan(ctx context.Context, name string, attributes ...KV) (context.Context, trace.Span) {
	if r.tracer == nil {
		return noop.NewTracerProvider().Tracer("noop").Start(ctx, "noop", trace.WithAttributes(toAttributeArray(attributes...)...))
	}
	return r.tracer.Start(ctx, name, trace.WithAttributes(toAttributeArray(attributes...)...), trace.WithSpanKind(trace.SpanKindInternal))
}

func (r *reporter) InstrumentHttp(operation string, method string, handler http.HandlerFunc) http.HandlerFunc {
	var otelOpts []otelhttp.Option
	if r.metricsHandler != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(r.metricsHandler.provider), otelhttp.WithMetricAttributesFn(func(r *http.Request) []attribute.KeyValue {
			return []attribute.KeyValue{semconv.HTTPRoute(r.URL.Path)}
		}))
	}
	if r.traceHandler != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(r.traceHandler.provider))
	}
	if len(otelOpts) > 0 {
		return otelhttp.NewHandler(handler, "HTTP "+method+" "+operation, otelOpts...).ServeHTTP
	}
	return handler
}

func (r *reporter) InstrumentHttpClient(handler http.RoundTripper, attributes ...KV) http.RoundTripper {
	var otelOpts []otelhttp.Option
	if r.metricsHandler != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(r.metricsHandler.provider))
		if len(attributes) > 0 {
			arr := toAttributeArray(attributes...)
			otelOpts = append(otelOpts, otelhttp.WithMetricAttributesFn(func(r *http.Request) []attribute.KeyValue {
				return append(arr, semconv.HTTPRoute(r.URL.Path))
			}))
		}
	}
	if r.traceHandler != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(r.traceHandler.provider))
	}
	if len(otelOpts) > 0 {
		return otelhttp.NewTransport(handler, otelOpts...)
	}
	return handler
}

// InstrumentGrpcClient appends a stats handler to the dial options of an
// outgoing gRPC connection.
func (r *reporter) InstrumentGrpcClient(opts []grpc.DialOption) []grpc.DialOption {
	var otelOpts []otelgrpc.Option
	if r.metricsHandler != nil {
		otelOpts = append(otelOpts, otelgrpc.WithMeterProvider(r.metricsHandler.provider))
	}
	if r.traceHandler != nil {
		otelOpts = append(otelOpts, otelgrpc.WithTracerProvider(r.traceHandler.provider))
	}
	if len(otelOpts) > 0 {
		return append(opts, grpc.WithStatsHandler(otelgrpc.NewClientHandler(otelOpts...)))
	}
	return opts
}

func (r *reporter) InstrumentRedis(rdb redis.UniversalClient) {
	if r.metricsHandler != nil {
		err := redisotel.InstrumentMetrics(rdb, redisotel.WithMeterProvider(r.metricsHandler.provider))
		if err != nil {
			r.log.Errorf("failed to instrument redis: %v", err)
		}
	}
	if r.traceHandler != nil {
		err := redisotel.InstrumentTracing(rdb, redisotel.WithTracerProvider(r.traceHandler.provider))
		if err != nil {
			r.log.Errorf("failed to instrument redis: %v", err)
		}
	}
}

func (r *reporter) InstrumentAws(opts *aws.Config) {
	if r.traceHandler != nil {
		otelaws.AppendMiddlewares(&opts.APIOptions, otelaws.WithTracerProvider(r.traceHandler.provider))
	}
}

func (r *reporter) Shutdown() {
	if r.metricsHandler != nil {
		r.metricsHandler.shutdown()
	}
	if r.traceHandler != nil {
		r.traceHandler.shutdown()
	}
}

func buildResource(version string) *resource.Resource {
	res, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		))
	return res
}

func toAttributeArray(attributes ...KV) []attribute.KeyValue {
	var result []attribute.KeyValue
	for _, attr := range attributes {
		result = append(result, attribute.String(string(attr.Key), string(attr.Value)))
	}
	return result
}
