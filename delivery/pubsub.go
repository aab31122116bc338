package delivery

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/diag/telemetry"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const (
	eventType   = "com.configcat.experiment.evaluation"
	contentType = "application/json"
)

type pubSubStream struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    log.Logger
	now    func() time.Time
}

func newPubSub(ctx context.Context, name string, conf *config.PubSubConfig, reporter telemetry.Reporter, log log.Logger, opts ...option.ClientOption) (Stream, error) {
	pubSubLog := log.WithPrefix("pubsub")
	projectID := conf.ProjectID
	if projectID == "" {
		projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if projectID == "" {
		return nil, &ConfigError{Message: "pubsub project id required"}
	}
	for _, dialOpt := range reporter.InstrumentGrpcClient(nil) {
		opts = append(opts, option.WithGRPCDialOption(dialOpt))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		pubSubLog.Errorf("couldn't create Pub/Sub client: %s", err)
		return nil, err
	}
	topic := client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, name)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}
		pubSubLog.Infof("topic '%s' created", name)
	}
	pubSubLog.Reportf("using Pub/Sub topic '%s' in project '%s'", name, projectID)
	return newPubSubWithTopic(client, topic, pubSubLog), nil
}

func newPubSubWithTopic(client *pubsub.Client, topic *pubsub.Topic, log log.Logger) *pubSubStream {
	return &pubSubStream{client: client, topic: topic, log: log, now: time.Now}
}

// message wraps data into a Pub/Sub message carrying binary mode
// CloudEvents attributes.
func (p *pubSubStream) message(data []byte) (*pubsub.Message, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(model.EventSource)
	event.SetType(eventType)
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetTime(p.now())
	if err := event.SetData(contentType, data); err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &pubsub.Message{
		Data: event.Data(),
		Attributes: map[string]string{
			"ce-id":          event.ID(),
			"ce-source":      event.Source(),
			"ce-type":        event.Type(),
			"ce-specversion": event.SpecVersion(),
			"ce-time":        event.Time().UTC().Format(time.RFC3339Nano),
			"content-type":   event.DataContentType(),
		},
	}, nil
}

func (p *pubSubStream) Put(ctx context.Context, data []byte) (string, error) {
	msg, err := p.message(data)
	if err != nil {
		return "", err
	}
	return p.topic.Publish(ctx, msg).Get(ctx)
}

func (p *pubSubStream) PutBatch(ctx context.Context, data [][]byte) (*BatchResult, error) {
	results := make([]*pubsub.PublishResult, len(data))
	for i, d := range data {
		msg, err := p.message(d)
		if err != nil {
			return nil, err
		}
		results[i] = p.topic.Publish(ctx, msg)
	}
	out := make([]RecordResult, len(results))
	var lastErr error
	failed := 0
	for i, res := range results {
		id, err := res.Get(ctx)
		if err != nil {
			failed++
			lastErr = err
			out[i] = RecordResult{ErrorCode: "PUBLISH", ErrorMessage: err.Error()}
			continue
		}
		out[i] = RecordResult{ID: id}
	}
	if failed == len(results) {
		return nil, lastErr
	}
	return newBatchResult(out), nil
}

func (p *pubSubStream) Name() string {
	return p.topic.ID()
}

func (p *pubSubStream) Close() {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		p.log.Errorf("shutdown error: %s", err)
	}
	p.log.Reportf("shutdown complete")
}
