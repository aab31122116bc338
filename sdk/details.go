package sdk

import (
	"strconv"

	"github.com/configcat/configcat-experiment-hook/model"
	configcat "github.com/configcat/go-sdk/v9"
)

// ResultFromDetails maps the evaluation details of the ConfigCat SDK. A
// selected percentage option marks the evaluation as part of an experiment.
//
// The SDK exposes no variant position, only the variation ID. Variation IDs
// are opaque hashes, so the index is reported only for an all-digit ID, and a
// hash that happens to contain only digits is reported as an index as well.
func ResultFromDetails(details configcat.EvaluationDetails, defaultValue interface{}) model.EvaluationResult {
	value := details.Value
	kind := model.ReasonFallthrough
	switch {
	case details.Data.Error != nil:
		kind = model.ReasonError
		value = defaultValue
	case details.Data.MatchedTargetingRule != nil:
		kind = model.ReasonRuleMatch
	}
	result := model.EvaluationResult{
		Value: value,
		Reason: &model.Reason{
			Kind:         kind,
			InExperiment: details.Data.Error == nil && details.Data.MatchedPercentageOption != nil,
		},
	}
	if i, err := strconv.Atoi(details.Data.VariationID); err == nil {
		result.VariationIndex = &i
	}
	return result
}
