package model

const (
	ReasonOff         = "OFF"
	ReasonFallthrough = "FALLTHROUGH"
	ReasonTargetMatch = "TARGET_MATCH"
	ReasonRuleMatch   = "RULE_MATCH"
	ReasonError       = "ERROR"
)

type Reason struct {
	Kind         string `json:"kind"`
	InExperiment bool   `json:"inExperiment,omitempty"`
}

// EvaluationResult is the outcome of a single flag evaluation.
type EvaluationResult struct {
	Value          interface{}
	VariationIndex *int
	Reason         *Reason
}

func (r EvaluationResult) InExperiment() bool {
	return r.Reason != nil && r.Reason.InExperiment
}

func (r EvaluationResult) ReasonKind() *string {
	if r.Reason == nil || r.Reason.Kind == "" {
		return nil
	}
	kind := r.Reason.Kind
	return &kind
}

func IntPtr(i int) *int {
	return &i
}
