package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lifeagent/internal/apperr"
)

// Kind is the JSON type of a parameter.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// Param describes one named tool argument. The same value documents the
// tool to the model and validates the model's call.
type Param struct {
	Name        string
	Kind        Kind
	Description string
	Required    bool
	Enum        []string
	Min, Max    *float64
	// Items is the element schema of an array parameter.
	Items   *Param
	Default any
}

// Schema is the ordered parameter list of a tool.
type Schema []Param

// Bound returns a pointer to v for Param.Min and Param.Max.
func Bound(v float64) *float64 { return &v }

// JSONSchema renders the schema as a JSON Schema object.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s))
	required := make([]string, 0, len(s))
	for _, p := range s {
		props[p.Name] = p.jsonSchema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func (p Param) jsonSchema() map[string]any {
	m := map[string]any{"type": string(p.Kind)}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if p.Min != nil {
		m["minimum"] = *p.Min
	}
	if p.Max != nil {
		m["maximum"] = *p.Max
	}
	if p.Default != nil {
		m["default"] = p.Default
	}
	if p.Kind == KindArray && p.Items != nil {
		m["items"] = p.Items.jsonSchema()
	}
	return m
}

// Validate decodes raw tool arguments against the schema. Unknown, missing
// or ill-typed arguments are validation errors naming each offending field.
func (s Schema) Validate(raw json.RawMessage) (Args, error) {
	fields := map[string]json.RawMessage{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, apperr.Validationf("arguments must be a JSON object: %v", err)
		}
	}

	errs := validation.Errors{}
	for name := range fields {
		if !slices.ContainsFunc(s, func(p Param) bool { return p.Name == name }) {
			errs[name] = fmt.Errorf("unknown parameter")
		}
	}

	args := make(Args, len(s))
	for _, p := range s {
		v, ok := fields[p.Name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			if p.Required {
				errs[p.Name] = validation.ErrRequired
			} else if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}
		val, err := p.decode(v)
		if err != nil {
			errs[p.Name] = err
			continue
		}
		args[p.Name] = val
	}
	if err := errs.Filter(); err != nil {
		return nil, apperr.Validationf("%v", err)
	}
	return args, nil
}

func (p Param) decode(raw json.RawMessage) (any, error) {
	switch p.Kind {
	case KindString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("must be a string")
		}
		if p.Required && v == "" {
			return nil, validation.ErrRequired
		}
		if len(p.Enum) > 0 {
			if err := validation.Validate(v, validation.In(anySlice(p.Enum)...)); err != nil {
				return nil, err
			}
		}
		return v, nil
	case KindInteger:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("must be an integer")
		}
		v := int(f)
		if err := validation.Validate(v, p.intRules()...); err != nil {
			return nil, err
		}
		return v, nil
	case KindNumber:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		if err := validation.Validate(v, p.floatRules()...); err != nil {
			return nil, err
		}
		return v, nil
	case KindBoolean:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("must be a boolean")
		}
		return v, nil
	case KindArray:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("must be an array")
		}
		if p.Items == nil {
			out := make([]any, len(items))
			for i, it := range items {
				if err := json.Unmarshal(it, &out[i]); err != nil {
					return nil, fmt.Errorf("item %d: %w", i, err)
				}
			}
			return out, nil
		}
		return p.Items.decodeItems(items)
	case KindObject:
		var v map[string]any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("must be an object")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", p.Kind)
	}
}

// decodeItems decodes array elements with p as the element schema. String
// arrays become []string and arrays of string arrays become [][]string.
func (p Param) decodeItems(items []json.RawMessage) (any, error) {
	switch {
	case p.Kind == KindString:
		out := make([]string, len(items))
		for i, it := range items {
			el := p
			el.Required = false
			v, err := el.decode(it)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = v.(string)
		}
		return out, nil
	case p.Kind == KindArray && p.Items != nil && p.Items.Kind == KindString:
		out := make([][]string, len(items))
		for i, it := range items {
			var row []string
			if err := json.Unmarshal(it, &row); err != nil {
				return nil, fmt.Errorf("item %d: must be an array of strings", i)
			}
			out[i] = row
		}
		return out, nil
	default:
		out := make([]any, len(items))
		for i, it := range items {
			v, err := p.decode(it)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}
}

func (p Param) intRules() []validation.Rule {
	var rules []validation.Rule
	if p.Min != nil {
		rules = append(rules, validation.Min(int(*p.Min)))
	}
	if p.Max != nil {
		rules = append(rules, validation.Max(int(*p.Max)))
	}
	return rules
}

func (p Param) floatRules() []validation.Rule {
	var rules []validation.Rule
	if p.Min != nil {
		rules = append(rules, validation.Min(*p.Min))
	}
	if p.Max != nil {
		rules = append(rules, validation.Max(*p.Max))
	}
	return rules
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Args holds validated tool arguments keyed by parameter name.
type Args map[string]any

// Has reports whether name was supplied or defaulted.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns a string argument or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an integer argument or 0.
func (a Args) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Float returns a number argument or 0.
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns a boolean argument or false.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Strings returns a string-array argument or nil.
func (a Args) Strings(name string) []string {
	s, _ := a[name].([]string)
	return s
}

// Rows returns an array-of-string-arrays argument or nil.
func (a Args) Rows(name string) [][]string {
	r, _ := a[name].([][]string)
	return r
}

// StringMap returns an object argument with every value rendered as a
// string.
func (a Args) StringMap(name string) map[string]string {
	m, _ := a[name].(map[string]any)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case string:
			out[k] = x
		case nil:
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out
}

// Time parses a time argument as RFC3339 or a date. It returns nil when the
// argument is absent.
func (a Args) Time(name string) (*time.Time, error) {
	s := a.String(name)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Validationf("%s: %q is not an ISO timestamp", name, s)
}
