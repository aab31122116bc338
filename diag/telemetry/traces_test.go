package telemetry

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	otlptpb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tpb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

func TestOtlpTracesExporterGrpc(t *testing.T) {
	collector, err := newInMemoryTraceGrpcCollector()
	require.NoError(t, err)
	defer collector.Shutdown()

	handler := newTraceHandler(t.Context(), buildResource("0.1.0"),
		&config.TraceConfig{Enabled: true, Otlp: config.OtlpExporterConfig{Enabled: true, Protocol: "grpc", Endpoint: collector.Addr()}}, log.NewNullLogger())
	require.NotNil(t, handler)
	defer handler.shutdown()

	_, s := handler.provider.Tracer("t").Start(t.Context(), "delivery.put", trace.WithSpanKind(trace.SpanKindClient))
	s.SetStatus(codes.Ok, "OK")
	s.End()
	_ = handler.provider.ForceFlush(t.Context())

	assert.True(t, collector.hasTrace("delivery.put"))
}

func TestOtlpTracesExporterHttp(t *testing.T) {
	collector := newInMemoryTraceHttpCollector()
	defer collector.Shutdown()

	handler := newTraceHandler(t.Context(), buildResource("0.1.0"),
		&config.TraceConfig{Enabled: true, Otlp: config.OtlpExporterConfig{Enabled: true, Protocol: "http", Endpoint: collector.Addr()}}, log.NewNullLogger())
	require.NotNil(t, handler)
	defer handler.shutdown()

	_, s := handler.provider.Tracer("t").Start(t.Context(), "delivery.put_batch", trace.WithSpanKind(trace.SpanKindClient))
	s.SetStatus(codes.Ok, "OK")
	s.End()
	_ = handler.provider.ForceFlush(t.Context())

	assert.True(t, hasTrace(collector, "delivery.put_batch"))
}

func TestTraceHandler_OtlpDisabled(t *testing.T) {
	handler := newTraceHandler(t.Context(), buildResource("0.1.0"), &config.TraceConfig{Enabled: true}, log.NewNullLogger())
	assert.Nil(t, handler)
}

type grpcCollector struct {
	listener net.Listener
	srv      *grpc.Server
	mu       sync.RWMutex
}

func newGrpcCollector() (*grpcCollector, error) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, err
	}
	return &grpcCollector{
		listener: listener,
		srv:      grpc.NewServer(),
	}, nil
}

func (c *grpcCollector) Addr() string {
	return c.listener.Addr().String()
}

func (c *grpcCollector) Shutdown() {
	c.srv.Stop()
}

type inMemoryTraceGrpcCollector struct {
	otlptpb.UnimplementedTraceServiceServer
	*grpcCollector

	traces []*tpb.ResourceSpans
}

func newInMemoryTraceGrpcCollector() (*inMemoryTraceGrpcCollector, error) {
	gc, err := newGrpcCollector()
	if err != nil {
		return nil, err
	}
	c := &inMemoryTraceGrpcCollector{
		grpcCollector: gc,
		traces:        make([]*tpb.ResourceSpans, 0),
	}
	otlptpb.RegisterTraceServiceServer(c.srv, c)
	go func() { _ = c.srv.Serve(c.listener) }()

	return c, nil
}

func (c *inMemoryTraceGrpcCollector) Export(_ context.Context, req *otlptpb.ExportTraceServiceRequest) (*otlptpb.ExportTraceServiceResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.traces = append(c.traces, req.ResourceSpans...)

	return &otlptpb.ExportTraceServiceResponse{}, nil
}

func (c *inMemoryTraceGrpcCollector) hasTrace(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, rs := range c.traces {
		for _, ss := range rs.ScopeSpans {
			for _, s := range ss.Spans {
				if s.Name == name {
					return true
				}
			}
		}
	}
	return false
}

type inMemoryHttpCollector[T proto.Message] struct {
	srv     *httptest.Server
	mu      sync.RWMutex
	records []T
}

func newInMemoryTraceHttpCollector() *inMemoryHttpCollector[*otlptpb.ExportTraceServiceRequest] {
	c := &inMemoryHttpCollector[*otlptpb.ExportTraceServiceRequest]{
		records: make([]*otlptpb.ExportTraceServiceRequest, 0),
	}
	c.srv = httptest.NewServer(c)
	return c
}

func hasTrace(c *inMemoryHttpCollector[*otlptpb.ExportTraceServiceRequest], name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.records {
		for _, rs := range r.ResourceSpans {
			for _, ss := range rs.ScopeSpans {
				for _, s := range ss.Spans {
					if s.Name == name {
						return true
					}
				}
			}
		}
	}
	return false
}

func (c *inMemoryHttpCollector[T]) Addr() string {
	return c.srv.Listener.Addr().String()
}

func (c *inMemoryHttpCollector[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var reader io.ReadCloser
	var err error
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err = gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintln(w, err.Error())
			return
		}
	default:
		reader = r.Body
	}
	defer func() { _ = reader.Close() }()
	body, err := io.ReadAll(reader)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintln(w, err.Error())
		return
	}

	var req T
	req = reflect.New(reflect.TypeOf(req).Elem()).Interface().(T)
	if err = proto.Unmarshal(body, req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintln(w, err.Error())
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, req)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (c *inMemoryHttpCollector[T]) Shutdown() {
	c.srv.Close()
}
