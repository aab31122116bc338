package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/otlptranslator"
	otelhost "go.opentelemetry.io/contrib/instrumentation/host"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type metricsHandler struct {
	evaluations      otelmetric.Int64Counter
	deliveredRecords otelmetric.Int64Counter
	deliveryDuration otelmetric.Float64Histogram
	provider         *metric.MeterProvider
	log              log.Logger

	ctx       context.Context
	ctxCancel func()
}

const (
	meterName = "github.com/configcat/configcat-experiment-hook"
)

func newMetricsHandler(ctx context.Context, resource *resource.Resource, conf *config.MetricsConfig, registry prometheus.Registerer, log log.Logger) *metricsHandler {
	if !conf.Prometheus.Enabled && !conf.Otlp.Enabled {
		return nil
	}
	logger := log.WithPrefix("metrics")
	providerOpts := []metric.Option{metric.WithResource(resource)}
	if conf.Prometheus.Enabled {
		promOpts := []promexporter.Option{
			promexporter.WithNamespace("configcat"),
			promexporter.WithTranslationStrategy(otlptranslator.UnderscoreEscapingWithSuffixes),
		}
		if registry != nil {
			promOpts = append(promOpts, promexporter.WithRegisterer(registry))
		}
		exporter, err := promexporter.New(promOpts...)
		if err != nil {
			logger.Errorf("failed to configure Prometheus exporter: %s", err)
			return nil
		}
		providerOpts = append(providerOpts, metric.WithReader(exporter))
		logger.Reportf("prometheus exporter enabled on /metrics")
	}
	if conf.Otlp.Enabled {
		switch conf.Otlp.Protocol {
		case "grpc":
			var opts []otlpmetricgrpc.Option
			if conf.Otlp.Endpoint != "" {
				opts = append(opts, otlpmetricgrpc.WithEndpoint(conf.Otlp.Endpoint))
			}
			opts = append(opts, otlpmetricgrpc.WithInsecure())
			r, err := otlpmetricgrpc.New(ctx, opts...)
			if err != nil {
				logger.Errorf("failed to configure OTLP gRPC exporter: %s", err)
				return nil
			}
			providerOpts = append(providerOpts, metric.WithReader(metric.NewPeriodicReader(r)))
		case "http", "https":
			var opts []otlpmetrichttp.Option
			if conf.Otlp.Endpoint != "" {
				opts = append(opts, otlpmetrichttp.WithEndpoint(conf.Otlp.Endpoint))
			}
			if conf.Otlp.Protocol == "http" {
				opts = append(opts, otlpmetrichttp.WithInsecure())
			}
			r, err := otlpmetrichttp.New(ctx, opts...)
			if err != nil {
				logger.Errorf("failed to configure OTLP HTTP exporter: %s", err)
				return nil
			}
			providerOpts = append(providerOpts, metric.WithReader(metric.NewPeriodicReader(r)))
		}
		var ep string
		if conf.Otlp.Endpoint != "" {
			ep = " to " + conf.Otlp.Endpoint
		}
		logger.Reportf("otlp exporter enabled over %s%s", conf.Otlp.Protocol, ep)
	}
	return newMetricsHandlerWithOpts(providerOpts, logger)
}

func newMetricsHandlerWithOpts(opts []metric.Option, logger log.Logger) *metricsHandler {
	provider := metric.NewMeterProvider(opts...)
	meter := provider.Meter(meterName)

	err := otelruntime.Start(otelruntime.WithMeterProvider(provider))
	if err != nil {
		logger.Errorf("failed to start runtime metrics: %s", err)
	}
	err = otelhost.Start(otelhost.WithMeterProvider(provider))
	if err != nil {
		logger.Errorf("failed to start host metrics: %s", err)
	}

	evaluations, err := meter.Int64Counter("evaluations",
		otelmetric.WithDescription("Total number of flag evaluations seen by the experiment hook."))
	if err != nil {
		logger.Errorf("failed to configure evaluations counter: %s", err)
		return nil
	}

	deliveredRecords, err := meter.Int64Counter("delivery.records",
		otelmetric.WithDescription("Total number of event records handed to the delivery stream, by outcome."))
	if err != nil {
		logger.Errorf("failed to configure delivered records counter: %s", err)
		return nil
	}

	deliveryDuration, err := meter.Float64Histogram("delivery.duration",
		otelmetric.WithDescription("Latency of the delivery stream calls."),
		otelmetric.WithUnit("s"))
	if err != nil {
		logger.Errorf("failed to configure delivery duration histogram: %s", err)
		return nil
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &metricsHandler{
		evaluations:      evaluations,
		deliveredRecords: deliveredRecords,
		deliveryDuration: deliveryDuration,
		provider:         provider,
		log:              logger,
		ctx:              ctx,
		ctxCancel:        ctxCancel,
	}
}

func (r *metricsHandler) incrementEvaluation(flag string, inExperiment bool) {
	r.evaluations.Add(r.ctx, 1, otelmetric.WithAttributes(
		attribute.Key("flag").String(flag),
		attribute.Key("experiment").String(strconv.FormatBool(inExperiment)),
	))
}

func (r *metricsHandler) addDeliveredRecords(count int, streamType string, outcome string) {
	if count <= 0 {
		return
	}
	r.deliveredRecords.Add(r.ctx, int64(count), otelmetric.WithAttributes(
		attribute.Key("type").String(streamType),
		attribute.Key("outcome").String(outcome),
	))
}

func (r *metricsHandler) observeDeliveryDuration(streamType string, operation string, duration time.Duration) {
	r.deliveryDuration.Record(r.ctx, duration.Seconds(), otelmetric.WithAttributes(
		attribute.Key("type").String(streamType),
		attribute.Key("operation").String(operation),
	))
}

func (r *metricsHandler) shutdown() {
	r.log.Reportf("initiating metrics shutdown")
	r.ctxCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.provider.Shutdown(ctx)
	if err != nil {
		r.log.Errorf("shutdown error: %s", err)
	}
	r.log.Reportf("metrics shutdown complete")
}
