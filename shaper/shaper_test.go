package shaper

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/configcat/configcat-experiment-hook/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 5, 17, 10, 30, 0, 123000000, time.FixedZone("CET", 3600))

func newTestShaper() *Shaper {
	return New(WithClock(func() time.Time { return fixedTime }))
}

func TestShape_UserContext(t *testing.T) {
	ctx := model.NewContext("user-123", "user").WithName("John Doe").With("tier", "premium")

	record := newTestShaper().Shape("flag", ctx, model.EvaluationResult{Value: true})

	assert.Equal(t, map[string]interface{}{
		"key":  "user-123",
		"kind": "user",
		"name": "John Doe",
		"tier": "premium",
	}, record.EvaluationContext)
}

func TestShape_Result(t *testing.T) {
	result := model.EvaluationResult{
		Value:          true,
		VariationIndex: model.IntPtr(1),
		Reason:         &model.Reason{Kind: model.ReasonRuleMatch, InExperiment: true},
	}

	record := newTestShaper().Shape("my-flag", model.ExampleUserContext(), result)

	assert.Equal(t, "my-flag", record.FlagKey)
	assert.Equal(t, true, record.FlagValue)
	require.NotNil(t, record.VariationIndex)
	assert.Equal(t, 1, *record.VariationIndex)
	require.NotNil(t, record.ReasonKind)
	assert.Equal(t, "RULE_MATCH", *record.ReasonKind)
	assert.Equal(t, "2024-05-17T09:30:00.123Z", record.Timestamp)
	assert.Equal(t, model.Metadata{Source: model.EventSource, Version: model.EventVersion}, record.Metadata)
}

func TestShape_NoReason(t *testing.T) {
	record := newTestShaper().Shape("flag", model.ExampleUserContext(), model.EvaluationResult{Value: "Control"})

	assert.Nil(t, record.VariationIndex)
	assert.Nil(t, record.ReasonKind)

	j, err := json.Marshal(record)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(j, &m))
	assert.Contains(t, m, "variation_index")
	assert.Nil(t, m["variation_index"])
	assert.Contains(t, m, "reason_kind")
	assert.Nil(t, m["reason_kind"])
	assert.Equal(t, map[string]interface{}{"source": model.EventSource, "version": model.EventVersion}, m["metadata"])
}

func TestShape_ReservedAttributesNeverCopied(t *testing.T) {
	ctx := model.NewContext("k", "user").WithPrivate("email").With("email", "a@b.c")
	for name := range ReservedAttributes {
		ctx = ctx.With(name, "internal")
	}

	record := newTestShaper().Shape("flag", ctx, model.EvaluationResult{})

	for name := range ReservedAttributes {
		assert.NotContains(t, record.EvaluationContext, name)
	}
	assert.Equal(t, "a@b.c", record.EvaluationContext["email"])
}

func TestShape_ReservedAttributesNeverCopied_Multi(t *testing.T) {
	user := model.NewContext("u", "user").WithPrivate("email").With("email", "a@b.c").With("valid", true)
	org := model.NewContext("o", "org").With("plan", "pro").With("fully_qualified_key", "x").With("fn", func() {})

	record, data := newTestShaper().ShapeWithContext("flag", model.NewMultiContext(user, org), model.EvaluationResult{})

	require.Equal(t, FullContext, data.Variant)
	assert.Equal(t, []string{"org.fn"}, data.Dropped)
	assert.Equal(t, "multi", record.EvaluationContext["kind"])
	userAttrs, ok := record.EvaluationContext["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"key": "u", "email": "a@b.c"}, userAttrs)
	orgAttrs, ok := record.EvaluationContext["org"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"key": "o", "plan": "pro"}, orgAttrs)
	_, err := json.Marshal(record)
	assert.NoError(t, err)
}

func TestShape_NonSerializableAttributesDropped(t *testing.T) {
	ctx := model.NewContext("k", "user").
		With("ok", []interface{}{"a", 1.5, map[string]interface{}{"nested": true}}).
		With("fn", func() {}).
		With("ch", make(chan int)).
		With("inf", math.Inf(1)).
		With("nothing", nil)

	record, data := newTestShaper().ShapeWithContext("flag", ctx, model.EvaluationResult{})

	assert.Equal(t, FullContext, data.Variant)
	assert.ElementsMatch(t, []string{"fn", "ch", "inf"}, data.Dropped)
	assert.NotContains(t, record.EvaluationContext, "fn")
	assert.NotContains(t, record.EvaluationContext, "ch")
	assert.NotContains(t, record.EvaluationContext, "inf")
	assert.Contains(t, record.EvaluationContext, "nothing")
	assert.Equal(t, []interface{}{"a", 1.5, map[string]interface{}{"nested": true}}, record.EvaluationContext["ok"])
	_, err := json.Marshal(record)
	assert.NoError(t, err)
}

func TestShape_NonSerializableValueDropped(t *testing.T) {
	record := newTestShaper().Shape("flag", model.ExampleUserContext(), model.EvaluationResult{Value: math.NaN()})

	assert.Nil(t, record.FlagValue)
	_, err := json.Marshal(record)
	assert.NoError(t, err)
}

func TestShape_NameOnlyFallback(t *testing.T) {
	ctx := model.NewMultiContext(model.NewContext("a", "user"), model.NewContext("b", "user")).WithName("Broken")

	record, data := newTestShaper().ShapeWithContext("flag", ctx, model.EvaluationResult{Value: 1})

	assert.Equal(t, NameOnlyContext, data.Variant)
	assert.Error(t, data.Err)
	assert.Equal(t, map[string]interface{}{
		"key":  ctx.Key,
		"kind": "multi",
		"name": "Broken",
	}, record.EvaluationContext)
}

func TestShape_NameOnlyFallback_NoName(t *testing.T) {
	data := ExtractContext(model.NewContext("", "user").With("tier", "gold"))

	assert.Equal(t, NameOnlyContext, data.Variant)
	assert.Equal(t, map[string]interface{}{"key": nil, "kind": "user"}, data.Attributes)
}

func TestShape_MultiContext(t *testing.T) {
	data := ExtractContext(model.ExampleMultiContext())

	assert.Equal(t, FullContext, data.Variant)
	assert.Equal(t, "multi", data.Attributes["kind"])
	assert.Equal(t, "organization:org-456:user:user-123", data.Attributes["key"])
	assert.Equal(t, map[string]interface{}{"key": "user-123", "name": "Jane Smith", "role": "admin"}, data.Attributes["user"])
}

func TestShape_AllExamplesSerializable(t *testing.T) {
	s := newTestShaper()
	for _, name := range []string{"demo", "user", "organization", "device", "multi"} {
		ctx, err := model.ExampleContext(name)
		require.NoError(t, err)
		record, data := s.ShapeWithContext("flag", ctx, model.EvaluationResult{Value: "v"})
		assert.Equal(t, FullContext, data.Variant, name)
		_, err = json.Marshal(record)
		assert.NoError(t, err, name)
	}
}

func TestShape_CustomMetadata(t *testing.T) {
	s := New(WithMetadata(model.Metadata{Source: "src", Version: "2"}))
	record := s.Shape("flag", model.ExampleUserContext(), model.EvaluationResult{})
	assert.Equal(t, "src", record.Metadata.Source)
	assert.Equal(t, "2", record.Metadata.Version)
	_, err := time.Parse(time.RFC3339Nano, record.Timestamp)
	assert.NoError(t, err)
}

func TestContextVariant_String(t *testing.T) {
	assert.Equal(t, "full", FullContext.String())
	assert.Equal(t, "name-only", NameOnlyContext.String())
}
