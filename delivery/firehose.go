package delivery

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/firehose/types"
	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/diag/telemetry"
	"github.com/configcat/configcat-experiment-hook/log"
)

type firehoseAPI interface {
	PutRecord(ctx context.Context, params *firehose.PutRecordInput, optFns ...func(*firehose.Options)) (*firehose.PutRecordOutput, error)
	PutRecordBatch(ctx context.Context, params *firehose.PutRecordBatchInput, optFns ...func(*firehose.Options)) (*firehose.PutRecordBatchOutput, error)
}

type firehoseStream struct {
	api  firehoseAPI
	name *string
	log  log.Logger
}

func newFirehose(ctx context.Context, name string, conf *config.FirehoseConfig, reporter telemetry.Reporter, log log.Logger) (Stream, error) {
	firehoseLog := log.WithPrefix("firehose")
	region := FirehoseRegion(conf)
	awsCtx, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		firehoseLog.Errorf("couldn't read aws config for Firehose: %s", err)
		return nil, err
	}
	reporter.InstrumentAws(&awsCtx)
	var opts []func(*firehose.Options)
	if conf.Endpoint != "" {
		opts = append(opts, func(options *firehose.Options) {
			options.BaseEndpoint = aws.String(conf.Endpoint)
		})
	}
	firehoseLog.Reportf("using Firehose delivery stream '%s' in %s", name, region)
	return newFirehoseWithAPI(firehose.NewFromConfig(awsCtx, opts...), name, firehoseLog), nil
}

func newFirehoseWithAPI(api firehoseAPI, name string, log log.Logger) *firehoseStream {
	return &firehoseStream{api: api, name: aws.String(name), log: log}
}

// FirehoseRegion returns the configured region, then AWS_REGION, then DefaultRegion.
func FirehoseRegion(conf *config.FirehoseConfig) string {
	if conf.Region != "" {
		return conf.Region
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		return region
	}
	return DefaultRegion
}

func (f *firehoseStream) Put(ctx context.Context, data []byte) (string, error) {
	out, err := f.api.PutRecord(ctx, &firehose.PutRecordInput{
		DeliveryStreamName: f.name,
		Record:             &types.Record{Data: data},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.RecordId), nil
}

// PutBatch trusts FailedPutCount for the number of rejected records. The
// per-record outcomes are kept only when they line up with data.
func (f *firehoseStream) PutBatch(ctx context.Context, data [][]byte) (*BatchResult, error) {
	records := make([]types.Record, len(data))
	for i, d := range data {
		records[i] = types.Record{Data: d}
	}
	out, err := f.api.PutRecordBatch(ctx, &firehose.PutRecordBatchInput{
		DeliveryStreamName: f.name,
		Records:            records,
	})
	if err != nil {
		return nil, err
	}
	res := &BatchResult{Rejected: int(aws.ToInt32(out.FailedPutCount))}
	if len(out.RequestResponses) != len(data) {
		f.log.Warnf("unexpected batch response size %d, expected %d, per-record results dropped", len(out.RequestResponses), len(data))
		return res, nil
	}
	res.Results = make([]RecordResult, len(out.RequestResponses))
	for i, resp := range out.RequestResponses {
		res.Results[i] = RecordResult{
			ID:           aws.ToString(resp.RecordId),
			ErrorCode:    aws.ToString(resp.ErrorCode),
			ErrorMessage: aws.ToString(resp.ErrorMessage),
		}
	}
	if out.FailedPutCount == nil {
		res.Rejected = newBatchResult(res.Results).Rejected
	}
	return res, nil
}

func (f *firehoseStream) Name() string {
	return aws.ToString(f.name)
}

func (f *firehoseStream) Close() {}
