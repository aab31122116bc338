package hook

import (
	"context"
	"strconv"

	"github.com/configcat/configcat-experiment-hook/log"
	"github.com/configcat/configcat-experiment-hook/model"
	"github.com/open-feature/go-sdk/openfeature"
)

const (
	kindAttribute         = "kind"
	nameAttribute         = "name"
	targetingKeyAttribute = "targetingKey"
	inExperimentMetadata  = "inExperiment"
)

// OpenFeatureHook runs a Hook as an OpenFeature after hook.
type OpenFeatureHook struct {
	openfeature.UnimplementedHook

	hook Hook
	log  log.Logger
}

func NewOpenFeatureHook(hook Hook, log log.Logger) *OpenFeatureHook {
	return &OpenFeatureHook{hook: hook, log: log.WithPrefix("openfeature")}
}

// After only runs the after stage. OpenFeature hooks are shared between
// evaluations, so there's nowhere to keep the data of a before stage.
func (h *OpenFeatureHook) After(ctx context.Context, hookContext openfeature.HookContext, details openfeature.InterfaceEvaluationDetails, _ openfeature.HookHints) error {
	series := NewSeries([]Hook{h.hook}, SeriesContext{
		FlagKey:      hookContext.FlagKey(),
		Context:      ContextFromOpenFeature(hookContext.EvaluationContext()),
		DefaultValue: hookContext.DefaultValue(),
	}, h.log)
	series.After(ctx, ResultFromOpenFeature(details))
	return nil
}

// ContextFromOpenFeature maps the targeting key to the context key, and the
// kind and name attributes to the context kind and name.
func ContextFromOpenFeature(evalCtx openfeature.EvaluationContext) model.EvaluationContext {
	attrs := evalCtx.Attributes()
	kind := model.DefaultKind
	if k, ok := attrs[kindAttribute].(string); ok && k != "" {
		kind = k
	}
	c := model.NewContext(evalCtx.TargetingKey(), kind)
	for name, value := range attrs {
		switch name {
		case kindAttribute, targetingKeyAttribute:
		case nameAttribute:
			if s, ok := value.(string); ok {
				c = c.WithName(s)
			} else {
				c = c.With(name, value)
			}
		default:
			c = c.With(name, value)
		}
	}
	return c
}

// ResultFromOpenFeature treats a SPLIT reason, or an inExperiment flag
// metadata entry set to true, as an experiment assignment.
func ResultFromOpenFeature(details openfeature.InterfaceEvaluationDetails) model.EvaluationResult {
	inExperiment := details.Reason == openfeature.SplitReason
	if v, ok := details.FlagMetadata[inExperimentMetadata].(bool); ok && v {
		inExperiment = true
	}
	result := model.EvaluationResult{
		Value:  details.Value,
		Reason: &model.Reason{Kind: reasonKind(details), InExperiment: inExperiment},
	}
	if i, err := strconv.Atoi(details.Variant); err == nil {
		result.VariationIndex = &i
	}
	return result
}

func reasonKind(details openfeature.InterfaceEvaluationDetails) string {
	if details.ErrorCode != "" || details.Reason == openfeature.ErrorReason {
		return model.ReasonError
	}
	switch details.Reason {
	case openfeature.DisabledReason:
		return model.ReasonOff
	case openfeature.TargetingMatchReason:
		return model.ReasonRuleMatch
	default:
		return model.ReasonFallthrough
	}
}
