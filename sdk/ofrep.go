package sdk

import (
	"context"

	"github.com/configcat/configcat-experiment-hook/config"
	"github.com/configcat/configcat-experiment-hook/hook"
	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
	ofrepprovider "github.com/open-feature/go-sdk-contrib/providers/ofrep"
	"github.com/open-feature/go-sdk/openfeature"
)

const ofrepDomain = "configcat-experiment-hook"

// ofrepClient evaluates flags remotely through OpenFeature and an OFREP
// provider. The hooks run as OpenFeature hooks.
type ofrepClient struct {
	client *openfeature.Client
	ready  chan struct{}
	log    log.Logger
}

func NewOFREPClient(conf *config.OFREPConfig, hooks []hook.Hook, log log.Logger) (Client, error) {
	ofrepLog := log.WithPrefix("ofrep")
	var opts []ofrepprovider.Option
	if conf.ApiKey != "" {
		opts = append(opts, ofrepprovider.WithApiKeyAuth(conf.ApiKey))
	}
	for name, value := range conf.Headers {
		opts = append(opts, ofrepprovider.WithHeaderProvider(func() (string, string) {
			return name, value
		}))
	}
	if err := openfeature.SetNamedProviderAndWait(ofrepDomain, ofrepprovider.NewProvider(conf.Url, opts...)); err != nil {
		ofrepLog.Errorf("couldn't initialize the OFREP provider: %s", err)
		return nil, err
	}
	client := openfeature.NewClient(ofrepDomain)
	for _, h := range hooks {
		client.AddHooks(hook.NewOpenFeatureHook(h, ofrepLog))
	}
	ready := make(chan struct{})
	close(ready)
	ofrepLog.Reportf("evaluating flags through OFREP at %s", conf.Url)
	return &ofrepClient{client: client, ready: ready, log: ofrepLog}, nil
}

func (c *ofrepClient) Eval(ctx context.Context, key string, evalCtx model.EvaluationContext, defaultValue interface{}) (model.EvaluationResult, error) {
	ofCtx, err := ToOpenFeatureContext(evalCtx)
	if err != nil {
		return model.EvaluationResult{Value: defaultValue, Reason: &model.Reason{Kind: model.ReasonError}}, err
	}
	details, err := c.client.ObjectValueDetails(ctx, key, defaultValue, ofCtx)
	if err != nil {
		c.log.Warnf("evaluation of '%s' failed, returning the default value: %s", key, err)
		details.Value = defaultValue
	}
	return hook.ResultFromOpenFeature(details), err
}

// ToOpenFeatureContext uses the context key as targeting key, for a multi
// context that's the fully qualified key.
func ToOpenFeatureContext(evalCtx model.EvaluationContext) (openfeature.EvaluationContext, error) {
	attrs, err := evalCtx.ToMap()
	if err != nil {
		return openfeature.EvaluationContext{}, err
	}
	delete(attrs, "key")
	return openfeature.NewEvaluationContext(evalCtx.Key, attrs), nil
}

func (c *ofrepClient) Keys() []string {
	return nil
}

func (c *ofrepClient) Ready() <-chan struct{} {
	return c.ready
}

// Subscribe is a no-op, OFREP has no change notifications.
func (c *ofrepClient) Subscribe(chan<- struct{}) {}

func (c *ofrepClient) Unsubscribe(chan<- struct{}) {}

func (c *ofrepClient) Refresh(context.Context) error {
	return nil
}

func (c *ofrepClient) Close() {
	c.log.Reportf("shutdown complete")
}
