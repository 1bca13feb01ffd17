/*
 * Copyright (C) 2025 Tuplejump, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not
 * use this file except in compliance with the License. You may obtain a copy of
 * the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
 * WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
 * License for the specific language governing permissions and limitations under
 * the License.
 */

// Package otelgo wires the write engine into OpenTelemetry. Traces and
// metrics ship over OTLP gRPC; when the collector is disabled every call
// degrades to a no-op so the hot path carries no conditional wiring.
package otelgo

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Attributes label one recorded request. QueryType carries the statement
// kind, insert, update, delete, batch or cas.
type Attributes struct {
	Method    string
	Status    string
	QueryType string
	Keyspace  string
}

var (
	attributeKeyDatabase  = attribute.Key("database")
	attributeKeyMethod    = attribute.Key("method")
	attributeKeyStatus    = attribute.Key("status")
	attributeKeyInstance  = attribute.Key("instance")
	attributeKeyQueryType = attribute.Key("query_type")
)

// OTelConfig holds the collector endpoints and service identity.
type OTelConfig struct {
	TracerEndpoint     string
	MetricEndpoint     string
	ServiceName        string
	TraceSampleRatio   float64
	OTELEnabled        bool
	Database           string
	Instance           string
	HealthCheckEnabled bool
	HealthCheckEp      string
	ServiceVersion     string
}

const (
	requestCountMetric = "cassandra/write_engine/request_count"
	latencyMetric      = "cassandra/write_engine/roundtrip_latencies"
)

// OpenTelemetry bundles the tracer and the two request instruments.
type OpenTelemetry struct {
	Config         *OTelConfig
	tracer         trace.Tracer
	requestCount   metric.Int64Counter
	requestLatency metric.Int64Histogram
	logger         *zap.Logger
}

// NewOpenTelemetry sets up the tracer and meter providers and returns the
// instance together with a shutdown function flushing both. With OTEL
// disabled the instance is returned as a no-op and the shutdown function is
// nil.
func NewOpenTelemetry(ctx context.Context, config *OTelConfig, logger *zap.Logger) (*OpenTelemetry, func(context.Context) error, error) {
	otelInst := &OpenTelemetry{Config: config, logger: logger}
	if !config.OTELEnabled {
		return otelInst, nil, nil
	}

	if config.HealthCheckEnabled {
		resp, err := http.Get("http://" + config.HealthCheckEp)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode != 200 {
			return nil, nil, errors.New("OTEL collector service is not up and running")
		}
		logger.Info("OTEL health check complete")
	}

	var shutdownFuncs []func(context.Context) error
	otelResource := buildOtelResource(ctx, config)

	tracerProvider, err := InitTracerProvider(ctx, config, otelResource)
	if err != nil {
		logger.Error("error while initializing the tracer provider", zap.Error(err))
		return nil, nil, err
	}
	otel.SetTracerProvider(tracerProvider)
	otelInst.tracer = tracerProvider.Tracer(config.ServiceName)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)

	meterProvider, err := InitMeterProvider(ctx, config, otelResource)
	if err != nil {
		logger.Error("error while initializing the meter provider", zap.Error(err))
		return nil, nil, err
	}
	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter(config.ServiceName)
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
	shutdown := shutdownOpenTelemetryComponents(shutdownFuncs)

	otelInst.requestCount, err = meter.Int64Counter(requestCountMetric,
		metric.WithDescription("Number of statement executions"),
		metric.WithUnit("1"))
	if err != nil {
		logger.Error("error during registering instrument for metric "+requestCountMetric, zap.Error(err))
		return nil, nil, err
	}
	otelInst.requestLatency, err = meter.Int64Histogram(latencyMetric,
		metric.WithDescription("Roundtrip latency of statement executions"),
		metric.WithExplicitBucketBoundaries(0.0, 0.0010, 0.0013, 0.0016, 0.0020, 0.0024, 0.0031, 0.0038, 0.0048, 0.0060,
			0.0075, 0.0093, 0.0116, 0.0146, 0.0182, 0.0227, 0.0284, 0.0355, 0.0444, 0.0555, 0.0694, 0.0867,
			0.1084, 0.1355, 0.1694, 0.2118, 0.2647, 0.3309, 0.4136, 0.5170, 0.6462, 0.8078, 1.0097, 1.2622,
			1.5777, 1.9722, 2.4652, 3.0815, 3.8519, 4.8148, 6.0185, 7.5232, 9.4040, 11.7549, 14.6937, 18.3671,
			22.9589, 28.6986, 35.8732, 44.8416, 56.0519, 70.0649, 87.5812, 109.4764, 136.8456, 171.0569, 213.8212,
			267.2765, 334.0956, 417.6195, 522.0244, 652.5304),
		metric.WithUnit("ms"))
	if err != nil {
		logger.Error("error during registering instrument for metric "+latencyMetric, zap.Error(err))
		return nil, nil, err
	}
	return otelInst, shutdown, nil
}

// shutdownOpenTelemetryComponents folds the provider shutdowns into one
// function, running all of them even when one fails.
func shutdownOpenTelemetryComponents(shutdownFuncs []func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var shutdownErr error
		for _, shutdownFunc := range shutdownFuncs {
			if err := shutdownFunc(ctx); err != nil {
				shutdownErr = err
			}
		}
		return shutdownErr
	}
}

// InitTracerProvider builds a TracerProvider exporting over OTLP gRPC with
// parent based ratio sampling.
func InitTracerProvider(ctx context.Context, config *OTelConfig, resource *resource.Resource) (*sdktrace.TracerProvider, error) {
	sampler := sdktrace.TraceIDRatioBased(config.TraceSampleRatio)
	if config.TracerEndpoint == "" {
		return nil, errors.New("tracer endpoint cannot be empty")
	}
	if !isValidEndpoint(config.TracerEndpoint) {
		return nil, errors.New("invalid tracer endpoint format")
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.TracerEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(resource),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	return tp, nil
}

// InitMeterProvider builds a MeterProvider exporting over OTLP gRPC. The
// gRPC client's own rpc.client.* metrics are dropped, they swamp the engine
// metrics at write volume.
func InitMeterProvider(ctx context.Context, config *OTelConfig, resource *resource.Resource) (*sdkmetric.MeterProvider, error) {
	if config.MetricEndpoint == "" {
		return nil, errors.New("metric endpoint cannot be empty")
	}
	if !isValidEndpoint(config.MetricEndpoint) {
		return nil, errors.New("invalid metric endpoint format")
	}

	me, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(config.MetricEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	views := []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "rpc.client.*"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationDrop{}},
		)}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(me)),
		sdkmetric.WithResource(resource),
		sdkmetric.WithView(views...),
	)
	return mp, nil
}

// buildOtelResource describes the service, detecting GCP metadata when the
// process runs there and falling back to the static attributes otherwise.
func buildOtelResource(ctx context.Context, config *OTelConfig) *resource.Resource {
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceInstanceIDKey.String(uuid.New().String()),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceInstanceIDKey.String(uuid.New().String()),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		)
	}
	return res
}

// StartSpan opens a span, or returns the context untouched when disabled.
func (o *OpenTelemetry) StartSpan(ctx context.Context, name string, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	if !o.Config.OTELEnabled {
		return ctx, nil
	}
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span
}

// RecordError marks the span failed with the error, or OK on nil.
func (o *OpenTelemetry) RecordError(span trace.Span, err error) {
	if !o.Config.OTELEnabled {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// EndSpan closes the span when telemetry is enabled.
func (o *OpenTelemetry) EndSpan(span trace.Span) {
	if !o.Config.OTELEnabled {
		return
	}
	span.End()
}

// RecordMetrics bumps the request counter and the latency histogram for one
// finished statement execution.
func (o *OpenTelemetry) RecordMetrics(ctx context.Context, method string, startTime time.Time, queryType string, keyspace string, err error) {
	status := "OK"
	if err != nil {
		status = "failure"
	}
	o.RecordRequestCountMetric(ctx, Attributes{
		Method:    method,
		Status:    status,
		QueryType: queryType,
		Keyspace:  keyspace,
	})
	o.RecordLatencyMetric(ctx, startTime, Attributes{
		Method:    method,
		QueryType: queryType,
		Keyspace:  keyspace,
	})
}

// RecordLatencyMetric records the elapsed time since startTime.
func (o *OpenTelemetry) RecordLatencyMetric(ctx context.Context, startTime time.Time, attrs Attributes) {
	if !o.Config.OTELEnabled {
		return
	}
	attr := []attribute.KeyValue{
		attributeKeyInstance.String(attrs.Keyspace),
		attributeKeyDatabase.String(o.Config.Database),
		attributeKeyMethod.String(attrs.Method),
		attributeKeyQueryType.String(attrs.QueryType),
	}
	o.requestLatency.Record(ctx, time.Since(startTime).Milliseconds(), metric.WithAttributes(attr...))
}

// RecordRequestCountMetric increments the request counter.
func (o *OpenTelemetry) RecordRequestCountMetric(ctx context.Context, attrs Attributes) {
	if !o.Config.OTELEnabled {
		return
	}
	attr := []attribute.KeyValue{
		attributeKeyInstance.String(attrs.Keyspace),
		attributeKeyDatabase.String(o.Config.Database),
		attributeKeyMethod.String(attrs.Method),
		attributeKeyQueryType.String(attrs.QueryType),
		attributeKeyStatus.String(attrs.Status),
	}
	o.requestCount.Add(ctx, 1, metric.WithAttributes(attr...))
}

// AddAnnotation attaches an event to the span active in ctx, if any.
func AddAnnotation(ctx context.Context, event string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(event)
}

// AddAnnotationWithAttr attaches an event with attributes to the active
// span.
func AddAnnotationWithAttr(ctx context.Context, event string, attr []attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(event, trace.WithAttributes(attr...))
}

// isValidEndpoint accepts host:port, with or without a scheme.
func isValidEndpoint(endpoint string) bool {
	if strings.Contains(endpoint, "://") {
		parsedURL, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		if strings.HasPrefix(endpoint, parsedURL.Scheme+"://:") {
			return false
		}
		if parsedURL.Host == "" || parsedURL.Port() == "" {
			return false
		}
		return true
	}
	parts := strings.Split(endpoint, ":")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}
