package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParamType is the declared type of a user-exposed parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamFloat   ParamType = "float"
	ParamBoolean ParamType = "boolean"
)

// Control tokens a "control after generate" widget can hold.
const (
	ControlFixed     = "fixed"
	ControlIncrement = "increment"
	ControlDecrement = "decrement"
	ControlRandomize = "randomize"
)

// IsControlToken reports whether v is one of the control widget tokens.
func IsControlToken(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch s {
	case ControlFixed, ControlIncrement, ControlDecrement, ControlRandomize:
		return true
	}
	return false
}

// ParameterSpec is a user-exposed parameter on a job. Attribute names either
// an authoring input ("seed") or a positional widget ("widgets_values[3]").
type ParameterSpec struct {
	NodeID    string    `json:"node_id"`
	Attribute string    `json:"attribute"`
	Label     string    `json:"label,omitempty"`
	Type      ParamType `json:"type"`
	Default   any       `json:"default"`
	Knob      string    `json:"knob,omitempty"`
	Binding   *Binding  `json:"binding,omitempty"`
}

// Binding maps a ParameterSpec onto one input of the execution graph it was
// computed against. It is stale once Hash differs from the current graph hash.
type Binding struct {
	Node  string `json:"api_node"`
	Input string `json:"api_input"`
	Hash  string `json:"hash"`
}

// Key identifies a spec within a job.
func (p ParameterSpec) Key() string {
	return p.NodeID + ":" + p.Attribute
}

var knobUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// KnobName is the host attribute that holds the spec's live value.
func (p ParameterSpec) KnobName() string {
	if p.Knob != "" {
		return p.Knob
	}
	return "param_" + strings.Trim(knobUnsafe.ReplaceAllString(p.NodeID+"_"+p.Attribute, "_"), "_")
}

// IsControl reports whether the spec drives a "control after generate" widget.
func (p ParameterSpec) IsControl() bool {
	attr := strings.ToLower(p.Attribute)
	if attr == "control_after_generate" || attr == "control" || strings.HasSuffix(attr, "_control") {
		return true
	}
	return IsControlToken(p.Default)
}

// BoundTo reports whether the spec has a binding valid for hash.
func (p ParameterSpec) BoundTo(hash string) bool {
	return p.Binding != nil && p.Binding.Node != "" && p.Binding.Input != "" && p.Binding.Hash == hash
}

// ParseParameterSpecs decodes the JSON list stored on a job.
func ParseParameterSpecs(raw string) ([]ParameterSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var specs []ParameterSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("decoding parameter specs: %w", err)
	}
	return specs, nil
}
