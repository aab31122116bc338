package model

const (
	EventSource  = "configcat-go-hook"
	EventVersion = "1.0"
)

type Metadata struct {
	Source  string `json:"source"`
	Version string `json:"version"`
}

// EventRecord is one experiment evaluation as written to the delivery stream.
type EventRecord struct {
	Timestamp         string                 `json:"timestamp"`
	FlagKey           string                 `json:"flag_key"`
	EvaluationContext map[string]interface{} `json:"evaluation_context"`
	FlagValue         interface{}            `json:"flag_value"`
	VariationIndex    *int                   `json:"variation_index"`
	ReasonKind        *string                `json:"reason_kind"`
	Metadata          Metadata               `json:"metadata"`
}

func DefaultMetadata() Metadata {
	return Metadata{Source: EventSource, Version: EventVersion}
}
