package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/diag/status"
	"github.com/configcat/configcat-experiment-hook/diag/telemetry"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type fakeStream struct {
	mu       sync.Mutex
	puts     [][]byte
	batches  [][][]byte
	putErr   error
	batchErr error
	reject   map[int]bool
	closed   bool
}

func (f *fakeStream) Put(_ context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.puts = append(f.puts, data)
	return "record-id", nil
}

func (f *fakeStream) PutBatch(_ context.Context, data [][]byte) (*BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, data)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	results := make([]RecordResult, len(data))
	for i := range data {
		if f.reject[i] {
			results[i] = RecordResult{ErrorCode: "ServiceUnavailableException", ErrorMessage: "slow down"}
		} else {
			results[i] = RecordResult{ID: "id"}
		}
	}
	return newBatchResult(results), nil
}

func (f *fakeStream) Name() string { return "test-stream" }

type countOnlyStream struct {
	fakeStream
	rejected int
}

func (c *countOnlyStream) PutBatch(_ context.Context, _ [][]byte) (*BatchResult, error) {
	return &BatchResult{Rejected: c.rejected}, nil
}

func (f *fakeStream) Close() { f.closed = true }

func testRecord(flag string) model.EventRecord {
	return model.EventRecord{
		Timestamp:         "2024-05-17T09:30:00Z",
		FlagKey:           flag,
		EvaluationContext: map[string]interface{}{"key": "user-123", "kind": "user"},
		FlagValue:         true,
		VariationIndex:    model.IntPtr(1),
		Metadata:          model.DefaultMetadata(),
	}
}

func TestClient_SendOne(t *testing.T) {
	stream := &fakeStream{}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())

	ok := client.SendOne(context.Background(), testRecord("flag"))

	assert.True(t, ok)
	require.Len(t, stream.puts, 1)
	line := stream.puts[0]
	assert.Equal(t, byte('\n'), line[len(line)-1])
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &m))
	assert.Equal(t, "flag", m["flag_key"])
	assert.Equal(t, float64(1), m["variation_index"])
	assert.Nil(t, m["reason_kind"])
	assert.Equal(t, map[string]interface{}{"source": model.EventSource, "version": model.EventVersion}, m["metadata"])
}

func TestClient_SendOne_NetworkError(t *testing.T) {
	stream := &fakeStream{putErr: errors.New("connection reset by peer")}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())

	assert.NotPanics(t, func() {
		assert.False(t, client.SendOne(context.Background(), testRecord("flag")))
	})
}

func TestClient_SendOne_Unencodable(t *testing.T) {
	stream := &fakeStream{}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())
	record := testRecord("flag")
	record.EvaluationContext["fn"] = func() {}

	assert.False(t, client.SendOne(context.Background(), record))
	assert.Empty(t, stream.puts)
}

func TestClient_SendBatch_Empty(t *testing.T) {
	stream := &fakeStream{}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())

	assert.Nil(t, client.SendBatch(context.Background(), nil))
	assert.Nil(t, client.SendBatch(context.Background(), []model.EventRecord{}))
	assert.Empty(t, stream.batches)
}

func TestClient_SendBatch(t *testing.T) {
	stream := &fakeStream{}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())

	report := client.SendBatch(context.Background(), []model.EventRecord{testRecord("a"), testRecord("b")})

	require.NotNil(t, report)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 0, report.Rejected)
	require.Len(t, stream.batches, 1)
	require.Len(t, stream.batches[0], 2)
	for i, flag := range []string{"a", "b"} {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(stream.batches[0][i], &m))
		assert.Equal(t, flag, m["flag_key"])
	}
}

func TestClient_SendBatch_PartialFailure(t *testing.T) {
	stream := &fakeStream{reject: map[int]bool{1: true}}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())

	report := client.SendBatch(context.Background(), []model.EventRecord{testRecord("a"), testRecord("b"), testRecord("c")})

	require.NotNil(t, report)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 2, report.Sent)
	assert.True(t, report.Results[1].Rejected())
	assert.Equal(t, "ServiceUnavailableException", report.Results[1].ErrorCode)
}

func TestClient_SendBatch_RejectedCountOnly(t *testing.T) {
	stream := &countOnlyStream{rejected: 2}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())

	report := client.SendBatch(context.Background(), []model.EventRecord{testRecord("a"), testRecord("b"), testRecord("c")})

	require.NotNil(t, report)
	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 1, report.Sent)
	assert.Nil(t, report.Results)
}

func TestClient_SendBatch_RejectedCountClamped(t *testing.T) {
	stream := &countOnlyStream{rejected: 5}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())

	report := client.SendBatch(context.Background(), []model.EventRecord{testRecord("a"), testRecord("b")})

	require.NotNil(t, report)
	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 0, report.Sent)
}

func TestClient_SendBatch_CallFailure(t *testing.T) {
	stream := &fakeStream{batchErr: errors.New("network down")}
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger())

	assert.Nil(t, client.SendBatch(context.Background(), []model.EventRecord{testRecord("a")}))
}

func TestClient_Reporters(t *testing.T) {
	stream := &fakeStream{reject: map[int]bool{0: true}}
	telemetryReporter := newFakeTelemetry()
	statusReporter := status.NewReporter(&config.Config{Delivery: config.DeliveryConfig{Type: config.FirehoseDelivery}})
	client := NewClientWithStream(stream, config.FirehoseDelivery, log.NewNullLogger(),
		WithTelemetryReporter(telemetryReporter), WithStatusReporter(statusReporter))

	client.SendOne(context.Background(), testRecord("a"))
	client.SendBatch(context.Background(), []model.EventRecord{testRecord("a"), testRecord("b")})
	stream.putErr = errors.New("fail")
	client.SendOne(context.Background(), testRecord("a"))

	assert.Equal(t, 2, telemetryReporter.records["firehose/"+telemetry.OutcomeSent])
	assert.Equal(t, 1, telemetryReporter.records["firehose/"+telemetry.OutcomeRejected])
	assert.Equal(t, 1, telemetryReporter.records["firehose/"+telemetry.OutcomeFailed])
	assert.Equal(t, 3, telemetryReporter.observations)
	assert.Equal(t, []string{"delivery.put", "delivery.put_batch", "delivery.put"}, telemetryReporter.spans)

	stat := statusReporter.GetStatus()
	assert.Equal(t, status.Degraded, stat.Delivery.Status)
	assert.Len(t, stat.Delivery.Records, 4)
}

func TestClient_Close(t *testing.T) {
	stream := &fakeStream{}
	client := NewClientWithStream(stream, config.RedisDelivery, log.NewNullLogger())
	client.Close()

	assert.True(t, stream.closed)
	assert.Equal(t, "test-stream", client.StreamName())
	assert.Equal(t, config.RedisDelivery, client.StreamType())
}

func TestNewClient_StreamNameRequired(t *testing.T) {
	for _, typ := range []string{config.FirehoseDelivery, config.RedisDelivery, config.PubSubDelivery, ""} {
		t.Run(typ, func(t *testing.T) {
			t.Setenv("FIREHOSE_STREAM_NAME", "")
			t.Setenv("REDIS_STREAM_NAME", "")
			t.Setenv("PUBSUB_TOPIC", "")

			client, err := NewClient(context.Background(), &config.DeliveryConfig{Type: typ}, log.NewNullLogger())

			assert.Nil(t, client)
			var confErr *ConfigError
			require.ErrorAs(t, err, &confErr)
			assert.Equal(t, "stream name required", confErr.Message)
			assert.Equal(t, "delivery: stream name required", err.Error())
		})
	}
}

func TestNewClient_UnknownType(t *testing.T) {
	_, err := NewClient(context.Background(), &config.DeliveryConfig{Type: "kafka", StreamName: "s"}, log.NewNullLogger())

	var confErr *ConfigError
	assert.ErrorAs(t, err, &confErr)
}

func TestResolveStreamName(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		t.Setenv("FIREHOSE_STREAM_NAME", "from-env")
		name, err := ResolveStreamName(&config.DeliveryConfig{Type: config.FirehoseDelivery, StreamName: "explicit"})
		require.NoError(t, err)
		assert.Equal(t, "explicit", name)
	})
	t.Run("env fallback", func(t *testing.T) {
		t.Setenv("FIREHOSE_STREAM_NAME", "from-env")
		name, err := ResolveStreamName(&config.DeliveryConfig{})
		require.NoError(t, err)
		assert.Equal(t, "from-env", name)
	})
	t.Run("env fallback per type", func(t *testing.T) {
		t.Setenv("FIREHOSE_STREAM_NAME", "firehose")
		t.Setenv("REDIS_STREAM_NAME", "redis")
		t.Setenv("PUBSUB_TOPIC", "topic")
		name, _ := ResolveStreamName(&config.DeliveryConfig{Type: config.RedisDelivery})
		assert.Equal(t, "redis", name)
		name, _ = ResolveStreamName(&config.DeliveryConfig{Type: config.PubSubDelivery})
		assert.Equal(t, "topic", name)
	})
}

type fakeTelemetry struct {
	telemetry.Reporter
	records      map[string]int
	observations int
	spans        []string
}

func newFakeTelemetry() *fakeTelemetry {
	return &fakeTelemetry{Reporter: telemetry.NewEmptyReporter(), records: map[string]int{}}
}

func (f *fakeTelemetry) AddDeliveredRecords(count int, streamType string, outcome string) {
	f.records[streamType+"/"+outcome] += count
}

func (f *fakeTelemetry) ObserveDeliveryDuration(string, string, time.Duration) {
	f.observations++
}

func (f *fakeTelemetry) StartSpan(ctx context.Context, name string, attributes ...telemetry.KV) (context.Context, trace.Span) {
	f.spans = append(f.spans, name)
	return f.Reporter.StartSpan(ctx, name, attributes...)
}
