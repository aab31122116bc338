package model

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

const (
	DefaultKind = "user"
	MultiKind   = "multi"

	// IdentifierAttribute is the SDK user attribute mapped to the context key.
	IdentifierAttribute = "Identifier"
)

var kindPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// EvaluationContext is the subject a feature flag is evaluated against.
// A multi context is composed of single-kind contexts with distinct kinds.
type EvaluationContext struct {
	Key        string
	Kind       string
	Name       string
	Attributes map[string]interface{}
	Private    []string

	contexts []EvaluationContext
}

func NewContext(key string, kind string) EvaluationContext {
	return EvaluationContext{Key: key, Kind: kind}
}

// NewMultiContext composes single-kind contexts. The composite key is the
// fully qualified key of its constituents.
func NewMultiContext(contexts ...EvaluationContext) EvaluationContext {
	multi := EvaluationContext{Kind: MultiKind, contexts: append([]EvaluationContext(nil), contexts...)}
	multi.Key = multi.FullyQualifiedKey()
	return multi
}

func (c EvaluationContext) With(name string, value interface{}) EvaluationContext {
	attrs := make(map[string]interface{}, len(c.Attributes)+1)
	for k, v := range c.Attributes {
		attrs[k] = v
	}
	attrs[name] = value
	c.Attributes = attrs
	return c
}

func (c EvaluationContext) WithName(name string) EvaluationContext {
	c.Name = name
	return c
}

func (c EvaluationContext) WithPrivate(names ...string) EvaluationContext {
	c.Private = append(append([]string(nil), c.Private...), names...)
	return c
}

func (c EvaluationContext) IsMulti() bool {
	return c.Kind == MultiKind
}

// Contexts returns the constituents of a multi context, or the context itself.
func (c EvaluationContext) Contexts() []EvaluationContext {
	if c.IsMulti() {
		return c.contexts
	}
	return []EvaluationContext{c}
}

func (c EvaluationContext) FullyQualifiedKey() string {
	if !c.IsMulti() {
		if c.kind() == DefaultKind {
			return c.Key
		}
		return c.kind() + ":" + c.Key
	}
	parts := make([]EvaluationContext, len(c.contexts))
	copy(parts, c.contexts)
	sort.Slice(parts, func(i, j int) bool { return parts[i].kind() < parts[j].kind() })
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p.kind() + ":" + p.Key
	}
	return key
}

// Validate reports why the context can't be used for evaluation.
func (c EvaluationContext) Validate() error {
	if !c.IsMulti() {
		return c.validateSingle()
	}
	if len(c.contexts) == 0 {
		return errors.New("multi context must contain at least one context")
	}
	seen := make(map[string]struct{}, len(c.contexts))
	for _, sub := range c.contexts {
		if sub.IsMulti() {
			return errors.New("multi context can't contain another multi context")
		}
		if err := sub.validateSingle(); err != nil {
			return err
		}
		if _, ok := seen[sub.kind()]; ok {
			return fmt.Errorf("multi context contains kind '%s' more than once", sub.kind())
		}
		seen[sub.kind()] = struct{}{}
	}
	return nil
}

// ToMap converts the context to its attribute mapping. A multi context maps
// every constituent under its kind.
func (c EvaluationContext) ToMap() (map[string]interface{}, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.IsMulti() {
		return c.singleMap(), nil
	}
	res := map[string]interface{}{"kind": MultiKind}
	for _, sub := range c.contexts {
		m := sub.singleMap()
		delete(m, "kind")
		res[sub.kind()] = m
	}
	return res, nil
}

// GetAttribute makes the context usable as a ConfigCat SDK user object.
func (c EvaluationContext) GetAttribute(attr string) interface{} {
	if c.IsMulti() {
		if len(c.contexts) == 0 {
			return nil
		}
		if sub, ok := c.byKind(DefaultKind); ok {
			return sub.GetAttribute(attr)
		}
		return c.contexts[0].GetAttribute(attr)
	}
	switch attr {
	case IdentifierAttribute:
		return c.Key
	case "kind":
		return c.kind()
	case "name":
		if c.Name == "" {
			return nil
		}
		return c.Name
	}
	if v, ok := c.Attributes[attr]; ok {
		return v
	}
	return nil
}

func (c EvaluationContext) byKind(kind string) (EvaluationContext, bool) {
	for _, sub := range c.contexts {
		if sub.kind() == kind {
			return sub, true
		}
	}
	return EvaluationContext{}, false
}

func (c EvaluationContext) kind() string {
	if c.Kind == "" {
		return DefaultKind
	}
	return c.Kind
}

func (c EvaluationContext) validateSingle() error {
	if c.Key == "" {
		return errors.New("context key must not be empty")
	}
	if c.Kind == "kind" || !kindPattern.MatchString(c.kind()) {
		return fmt.Errorf("invalid context kind '%s'", c.Kind)
	}
	return nil
}

func (c EvaluationContext) singleMap() map[string]interface{} {
	m := make(map[string]interface{}, len(c.Attributes)+4)
	for k, v := range c.Attributes {
		m[k] = v
	}
	m["kind"] = c.kind()
	m["key"] = c.Key
	if c.Name != "" {
		m["name"] = c.Name
	}
	if len(c.Private) > 0 {
		m["private_attributes"] = append([]string(nil), c.Private...)
	}
	return m
}
