// Package shaper turns a flag evaluation into the flat, JSON-serializable
// event record written to the delivery stream.
package shaper

import (
	"encoding/json"
	"time"

	"github.com/configcat/configcat-experiment-hook/model"
)

// ReservedAttributes are never copied from the context mapping into a record.
var ReservedAttributes = map[string]struct{}{
	"private_attributes":       {},
	"DEFAULT_KIND":             {},
	"MULTI_KIND":               {},
	"error":                    {},
	"fully_qualified_key":      {},
	"individual_context_count": {},
	"multiple":                 {},
	"valid":                    {},
}

type ContextVariant int

const (
	// FullContext holds every non-reserved, serializable attribute.
	FullContext ContextVariant = iota
	// NameOnlyContext is produced when the context couldn't be converted to a mapping.
	NameOnlyContext
)

func (v ContextVariant) String() string {
	if v == NameOnlyContext {
		return "name-only"
	}
	return "full"
}

// ContextData is the extracted, filtered view of an evaluation context.
type ContextData struct {
	Variant    ContextVariant
	Attributes map[string]interface{}
	// Dropped lists attributes excluded because they weren't JSON-serializable.
	Dropped []string
	// Err is the conversion error behind a NameOnlyContext.
	Err error
}

type Shaper struct {
	now      func() time.Time
	metadata model.Metadata
}

type Option func(*Shaper)

func WithClock(now func() time.Time) Option {
	return func(s *Shaper) {
		s.now = now
	}
}

func WithMetadata(metadata model.Metadata) Option {
	return func(s *Shaper) {
		s.metadata = metadata
	}
}

func New(opts ...Option) *Shaper {
	s := &Shaper{now: time.Now, metadata: model.DefaultMetadata()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shape builds the event record of one evaluation.
func (s *Shaper) Shape(flagKey string, ctx model.EvaluationContext, result model.EvaluationResult) model.EventRecord {
	record, _ := s.ShapeWithContext(flagKey, ctx, result)
	return record
}

// ShapeWithContext is Shape that also returns the context extraction details.
func (s *Shaper) ShapeWithContext(flagKey string, ctx model.EvaluationContext, result model.EvaluationResult) (model.EventRecord, ContextData) {
	data := ExtractContext(ctx)
	record := model.EventRecord{
		Timestamp:         s.now().UTC().Format(time.RFC3339Nano),
		FlagKey:           flagKey,
		EvaluationContext: data.Attributes,
		VariationIndex:    result.VariationIndex,
		ReasonKind:        result.ReasonKind(),
		Metadata:          s.metadata,
	}
	if IsJSONSerializable(result.Value) {
		record.FlagValue = result.Value
	}
	return record, data
}

// ExtractContext copies the user defined attributes of ctx, leaving out the
// reserved ones and every value that can't be encoded as JSON.
func ExtractContext(ctx model.EvaluationContext) ContextData {
	attrs := map[string]interface{}{
		"key":  nullable(ctx.Key),
		"kind": nullable(ctx.Kind),
	}
	m, err := ctx.ToMap()
	if err != nil {
		if ctx.Name != "" {
			attrs["name"] = ctx.Name
		}
		return ContextData{Variant: NameOnlyContext, Attributes: attrs, Err: err}
	}
	var dropped []string
	for name, value := range m {
		if _, reserved := ReservedAttributes[name]; reserved {
			continue
		}
		if sub, ok := value.(map[string]interface{}); ok && ctx.IsMulti() {
			filtered := map[string]interface{}{}
			dropped = copyAttributes(filtered, sub, name+".", dropped)
			attrs[name] = filtered
			continue
		}
		if !IsJSONSerializable(value) {
			dropped = append(dropped, name)
			continue
		}
		attrs[name] = value
	}
	return ContextData{Variant: FullContext, Attributes: attrs, Dropped: dropped}
}

// copyAttributes copies the attributes of a multi context constituent, with
// dropped names reported as <kind>.<name>.
func copyAttributes(dst, src map[string]interface{}, prefix string, dropped []string) []string {
	for name, value := range src {
		if _, reserved := ReservedAttributes[name]; reserved {
			continue
		}
		if !IsJSONSerializable(value) {
			dropped = append(dropped, prefix+name)
			continue
		}
		dst[name] = value
	}
	return dropped
}

func IsJSONSerializable(value interface{}) bool {
	_, err := json.Marshal(value)
	return err == nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
