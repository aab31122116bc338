package delivery

import (
	"context"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/diag/telemetry"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

type redisStream struct {
	redisDb redis.UniversalClient
	name    string
	maxLen  int64
	log     log.Logger
}

func newRedis(name string, conf *config.RedisConfig, reporter telemetry.Reporter, log log.Logger) (Stream, error) {
	redisLog := log.WithPrefix("redis")
	opts := &redis.UniversalOptions{
		Addrs:    conf.Addresses,
		Password: conf.Password,
		DB:       conf.DB,
	}
	if conf.User != "" {
		opts.Username = conf.User
	}
	if conf.Tls.Enabled {
		t, err := conf.Tls.LoadTlsOptions()
		if err != nil {
			redisLog.Errorf("failed to configure TLS for Redis: %s", err)
			return nil, err
		}
		opts.TLSConfig = t
	}
	rdb := redis.NewUniversalClient(opts)
	reporter.InstrumentRedis(rdb)
	redisLog.Reportf("using Redis stream '%s'", name)
	return &redisStream{
		redisDb: rdb,
		name:    name,
		maxLen:  conf.MaxLen,
		log:     redisLog,
	}, nil
}

func (r *redisStream) args(data []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: r.name,
		MaxLen: r.maxLen,
		Values: map[string]interface{}{payloadField: data},
	}
}

func (r *redisStream) Put(ctx context.Context, data []byte) (string, error) {
	return r.redisDb.XAdd(ctx, r.args(data)).Result()
}

// PutBatch pipelines one XADD per record. Per-record failures are reported
// as rejections, the call fails only when none of the records were added.
func (r *redisStream) PutBatch(ctx context.Context, data [][]byte) (*BatchResult, error) {
	pipe := r.redisDb.Pipeline()
	cmds := make([]*redis.StringCmd, len(data))
	for i, d := range data {
		cmds[i] = pipe.XAdd(ctx, r.args(d))
	}
	_, execErr := pipe.Exec(ctx)

	results := make([]RecordResult, len(cmds))
	failed := 0
	for i, cmd := range cmds {
		id, err := cmd.Result()
		if err != nil {
			failed++
			results[i] = RecordResult{ErrorCode: "XADD", ErrorMessage: err.Error()}
			continue
		}
		results[i] = RecordResult{ID: id}
	}
	if failed == len(cmds) && execErr != nil {
		return nil, execErr
	}
	return newBatchResult(results), nil
}

func (r *redisStream) Name() string {
	return r.name
}

func (r *redisStream) Close() {
	err := r.redisDb.Close()
	if err != nil {
		r.log.Errorf("shutdown error: %s", err)
	}
	r.log.Reportf("shutdown complete")
}
