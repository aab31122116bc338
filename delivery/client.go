// Package delivery sends shaped event records to an external append-only
// stream. Sends are synchronous and best effort: failures are logged and
// reported through the return value, never retried.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/diag/status"
	"github.com/configcat/configcat-experiment-hook/diag/telemetry"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
	"go.opentelemetry.io/otel/codes"
)

const DefaultRegion = "us-east-1"

// Environment variables consulted when the stream name isn't configured.
var streamNameEnv = map[string]string{
	config.FirehoseDelivery: "FIREHOSE_STREAM_NAME",
	config.RedisDelivery:    "REDIS_STREAM_NAME",
	config.PubSubDelivery:   "PUBSUB_TOPIC",
}

// ConfigError reports a configuration problem detected before any
// connection to the delivery service was made.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "delivery: " + e.Message
}

// Stream is an append-only destination of encoded records.
type Stream interface {
	Put(ctx context.Context, data []byte) (string, error)
	PutBatch(ctx context.Context, data [][]byte) (*BatchResult, error)
	Name() string
	Close()
}

// RecordResult is the outcome of one record of a batch.
type RecordResult struct {
	ID           string `json:"id,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (r RecordResult) Rejected() bool {
	return r.ErrorCode != ""
}

// BatchResult is what the service reported for an accepted batch call.
// Results is nil when the per-record outcomes couldn't be matched to the
// input records.
type BatchResult struct {
	Rejected int
	Results  []RecordResult
}

func newBatchResult(results []RecordResult) *BatchResult {
	res := &BatchResult{Results: results}
	for _, r := range results {
		if r.Rejected() {
			res.Rejected++
		}
	}
	return res
}

// Report summarizes a batch call that reached the delivery service.
type Report struct {
	Sent     int            `json:"sent"`
	Rejected int            `json:"rejected"`
	Results  []RecordResult `json:"results,omitempty"`
}

type Client struct {
	stream            Stream
	streamType        string
	log               log.Logger
	telemetryReporter telemetry.Reporter
	statusReporter    status.Reporter
}

type Option func(*Client)

func WithTelemetryReporter(reporter telemetry.Reporter) Option {
	return func(c *Client) {
		if reporter != nil {
			c.telemetryReporter = reporter
		}
	}
}

func WithStatusReporter(reporter status.Reporter) Option {
	return func(c *Client) {
		c.statusReporter = reporter
	}
}

// NewClient resolves the stream name and connects to the configured
// delivery service. A missing stream name is reported as *ConfigError.
func NewClient(ctx context.Context, conf *config.DeliveryConfig, log log.Logger, opts ...Option) (*Client, error) {
	deliveryLog := log.WithLevel(conf.Log.GetLevel()).WithPrefix("delivery")
	name, err := ResolveStreamName(conf)
	if err != nil {
		return nil, err
	}
	reporter := applyOptions(&Client{}, opts).telemetryReporter
	var stream Stream
	switch conf.Type {
	case config.FirehoseDelivery, "":
		stream, err = newFirehose(ctx, name, &conf.Firehose, reporter, deliveryLog)
	case config.RedisDelivery:
		stream, err = newRedis(name, &conf.Redis, reporter, deliveryLog)
	case config.PubSubDelivery:
		stream, err = newPubSub(ctx, name, &conf.PubSub, reporter, deliveryLog)
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("unknown delivery type '%s'", conf.Type)}
	}
	if err != nil {
		return nil, err
	}
	streamType := conf.Type
	if streamType == "" {
		streamType = config.FirehoseDelivery
	}
	return NewClientWithStream(stream, streamType, deliveryLog, opts...), nil
}

// NewClientWithStream creates a client that sends to an already connected stream.
func NewClientWithStream(stream Stream, streamType string, log log.Logger, opts ...Option) *Client {
	c := applyOptions(&Client{
		stream:     stream,
		streamType: streamType,
		log:        log,
	}, opts)
	c.reportOk(fmt.Sprintf("delivering to %s stream '%s'", streamType, stream.Name()))
	return c
}

func applyOptions(c *Client, opts []Option) *Client {
	c.telemetryReporter = telemetry.NewEmptyReporter()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveStreamName returns the configured stream name, or the value of the
// delivery type's environment fallback.
func ResolveStreamName(conf *config.DeliveryConfig) (string, error) {
	if conf.StreamName != "" {
		return conf.StreamName, nil
	}
	typ := conf.Type
	if typ == "" {
		typ = config.FirehoseDelivery
	}
	if env, ok := streamNameEnv[typ]; ok {
		if name := os.Getenv(env); name != "" {
			return name, nil
		}
	}
	return "", &ConfigError{Message: "stream name required"}
}

func (c *Client) StreamName() string {
	return c.stream.Name()
}

func (c *Client) StreamType() string {
	return c.streamType
}

// SendOne puts a single record onto the stream and reports whether the
// service acknowledged it.
func (c *Client) SendOne(ctx context.Context, record model.EventRecord) bool {
	ctx, span := c.telemetryReporter.StartSpan(ctx, "delivery.put", telemetry.NewKV("delivery.type", c.streamType), telemetry.NewKV("flag", record.FlagKey))
	defer span.End()

	data, err := encode(record)
	if err != nil {
		c.log.Errorf("couldn't encode event record of '%s': %s", record.FlagKey, err)
		span.SetStatus(codes.Error, err.Error())
		c.addRecords(1, telemetry.OutcomeFailed)
		return false
	}
	start := time.Now()
	id, err := c.stream.Put(ctx, data)
	c.observe("put", start)
	if err != nil {
		c.log.Errorf("failed to send event record of '%s' to '%s': %s", record.FlagKey, c.stream.Name(), err)
		span.SetStatus(codes.Error, err.Error())
		c.addRecords(1, telemetry.OutcomeFailed)
		c.reportError(fmt.Sprintf("put failed: %s", err))
		return false
	}
	c.log.Infof("event record of '%s' sent to '%s', record id: %s", record.FlagKey, c.stream.Name(), id)
	c.addRecords(1, telemetry.OutcomeSent)
	c.reportOk("put succeeded")
	return true
}

// SendBatch puts records onto the stream with one call. It returns nil for
// empty input or when the call itself failed.
func (c *Client) SendBatch(ctx context.Context, records []model.EventRecord) *Report {
	if len(records) == 0 {
		return nil
	}
	ctx, span := c.telemetryReporter.StartSpan(ctx, "delivery.put_batch", telemetry.NewKV("delivery.type", c.streamType))
	defer span.End()

	data := make([][]byte, 0, len(records))
	for _, record := range records {
		d, err := encode(record)
		if err != nil {
			c.log.Errorf("couldn't encode event record of '%s': %s", record.FlagKey, err)
			span.SetStatus(codes.Error, err.Error())
			c.addRecords(len(records), telemetry.OutcomeFailed)
			return nil
		}
		data = append(data, d)
	}
	start := time.Now()
	res, err := c.stream.PutBatch(ctx, data)
	c.observe("put_batch", start)
	if err != nil {
		c.log.Errorf("failed to send batch of %d event records to '%s': %s", len(records), c.stream.Name(), err)
		span.SetStatus(codes.Error, err.Error())
		c.addRecords(len(records), telemetry.OutcomeFailed)
		c.reportError(fmt.Sprintf("batch put failed: %s", err))
		return nil
	}
	report := &Report{Results: res.Results, Rejected: min(max(res.Rejected, 0), len(records))}
	report.Sent = len(records) - report.Rejected
	if report.Rejected > 0 {
		c.log.Warnf("%d of %d event records rejected by '%s'", report.Rejected, len(records), c.stream.Name())
		c.reportError(fmt.Sprintf("batch put partially failed, %d records rejected", report.Rejected))
	} else {
		c.log.Infof("batch of %d event records sent to '%s'", len(records), c.stream.Name())
		c.reportOk("batch put succeeded")
	}
	c.addRecords(report.Sent, telemetry.OutcomeSent)
	c.addRecords(report.Rejected, telemetry.OutcomeRejected)
	return report
}

func (c *Client) Close() {
	c.stream.Close()
}

func encode(record model.EventRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (c *Client) addRecords(count int, outcome string) {
	if count > 0 {
		c.telemetryReporter.AddDeliveredRecords(count, c.streamType, outcome)
	}
}

func (c *Client) observe(op string, start time.Time) {
	c.telemetryReporter.ObserveDeliveryDuration(c.streamType, op, time.Since(start))
}

func (c *Client) reportOk(message string) {
	if c.statusReporter != nil {
		c.statusReporter.ReportOk(status.Delivery, message)
	}
}

func (c *Client) reportError(message string) {
	if c.statusReporter != nil {
		c.statusReporter.ReportError(status.Delivery, message)
	}
}
