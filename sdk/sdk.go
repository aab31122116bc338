// Package sdk wraps the flag evaluation engine and runs the registered hooks
// around every evaluation.
package sdk

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/diag/status"
	"github.com/configcat/configcat-experiment-hook/diag/telemetry"
	"github.com/configcat/configcat-experiment-hook/hook"
	"github.com/configcat/configcat-experiment-hook/internal/pubsub"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
	configcat "github.com/configcat/go-sdk/v9"
)

type Client interface {
	Eval(ctx context.Context, key string, evalCtx model.EvaluationContext, defaultValue interface{}) (model.EvaluationResult, error)
	Keys() []string
	Ready() <-chan struct{}
	pubsub.SubscriptionHandler[struct{}]
	Refresh(ctx context.Context) error
	Close()
}

type Context struct {
	SDKConf           *config.SDKConfig
	ProxyConf         *config.HttpProxyConfig
	Hooks             []hook.Hook
	TelemetryReporter telemetry.Reporter
	StatusReporter    status.Reporter
}

type client struct {
	configCatClient *configcat.Client
	hooks           []hook.Hook
	publisher       pubsub.Publisher[struct{}]
	ready           chan struct{}
	readyOnce       sync.Once
	log             log.Logger
}

func NewClient(sdkCtx *Context, log log.Logger) Client {
	sdkLog := log.WithLevel(sdkCtx.SDKConf.Log.GetLevel()).WithPrefix("sdk")
	client := &client{
		hooks:     sdkCtx.Hooks,
		publisher: pubsub.NewPublisher[struct{}](),
		ready:     make(chan struct{}),
		log:       sdkLog,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if sdkCtx.ProxyConf != nil && sdkCtx.ProxyConf.Url != "" {
		proxyUrl, err := url.Parse(sdkCtx.ProxyConf.Url)
		if err != nil {
			sdkLog.Errorf("failed to parse proxy url: %s", sdkCtx.ProxyConf.Url)
		} else {
			transport.Proxy = http.ProxyURL(proxyUrl)
			sdkLog.Reportf("using HTTP proxy: %s", sdkCtx.ProxyConf.Url)
		}
	}
	var roundTripper http.RoundTripper = OverrideUserAgent(transport)
	if sdkCtx.TelemetryReporter != nil {
		roundTripper = sdkCtx.TelemetryReporter.InstrumentHttpClient(roundTripper, telemetry.NewKV("component", "sdk"))
	}
	if sdkCtx.StatusReporter != nil {
		roundTripper = status.InterceptSdk(sdkCtx.StatusReporter, roundTripper)
	}

	clientConfig := configcat.Config{
		PollingMode:    configcat.AutoPoll,
		PollInterval:   time.Duration(sdkCtx.SDKConf.PollInterval) * time.Second,
		BaseURL:        sdkCtx.SDKConf.BaseUrl,
		SDKKey:         sdkCtx.SDKConf.Key,
		DataGovernance: configcat.Global,
		Logger:         sdkLog,
		LogLevel:       sdkLog.GetConfigCatLevel(),
		Transport:      roundTripper,
		Hooks: &configcat.Hooks{
			OnConfigChanged: client.signal,
		},
	}
	if sdkCtx.SDKConf.DataGovernance == "eu" {
		clientConfig.DataGovernance = configcat.EUOnly
	}
	client.configCatClient = configcat.NewCustomClient(clientConfig)
	return client
}

// signal closes the ready channel on the first config load, and notifies the
// subscribers about every later change.
func (c *client) signal() {
	first := false
	c.readyOnce.Do(func() {
		close(c.ready)
		first = true
	})
	if !first {
		c.publisher.Publish(struct{}{})
	}
}

// Eval evaluates key for evalCtx with the hooks running around the
// evaluation. On evaluation error the result holds defaultValue.
func (c *client) Eval(ctx context.Context, key string, evalCtx model.EvaluationContext, defaultValue interface{}) (model.EvaluationResult, error) {
	series := hook.NewSeries(c.hooks, hook.SeriesContext{
		FlagKey:      key,
		Context:      evalCtx,
		DefaultValue: defaultValue,
	}, c.log)
	series.Before(ctx)
	details := c.configCatClient.Snapshot(evalCtx).GetValueDetails(key)
	if details.Data.Error != nil {
		c.log.Warnf("evaluation of '%s' failed, returning the default value: %s", key, details.Data.Error)
	}
	result := ResultFromDetails(details, defaultValue)
	series.After(ctx, result)
	return result, details.Data.Error
}

func (c *client) Keys() []string {
	return c.configCatClient.GetAllKeys()
}

func (c *client) Ready() <-chan struct{} {
	return c.ready
}

func (c *client) Subscribe(ch chan<- struct{}) {
	c.publisher.Subscribe(ch)
}

func (c *client) Unsubscribe(ch chan<- struct{}) {
	c.publisher.Unsubscribe(ch)
}

func (c *client) Refresh(ctx context.Context) error {
	return c.configCatClient.Refresh(ctx)
}

func (c *client) Close() {
	c.publisher.Close()
	c.configCatClient.Close()
	c.log.Reportf("shutdown complete")
}
