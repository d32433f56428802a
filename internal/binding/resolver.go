// Package binding maps user-exposed authoring parameters onto execution
// graph inputs and writes their values into per-iteration graph copies.
package binding

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

const widgetAttrPrefix = "widgets_values["

// Resolver computes and applies parameter bindings.
type Resolver struct {
	widgets WidgetMap
}

func NewResolver(widgets WidgetMap) *Resolver {
	if widgets == nil {
		widgets = DefaultWidgetMap()
	}
	return &Resolver{widgets: widgets}
}

// Resolve returns a copy of specs in which every spec without a binding
// valid for hash has been rebound against g. changed reports whether any
// binding was (re)computed; callers persist the specs only when it is true.
// Specs that cannot be bound keep their old binding and are logged.
func (r *Resolver) Resolve(specs []models.ParameterSpec, a *models.AuthoringGraph, g models.ExecutionGraph, hash string) (out []models.ParameterSpec, changed bool) {
	out = make([]models.ParameterSpec, len(specs))
	for i, spec := range specs {
		if spec.Binding != nil {
			b := *spec.Binding
			spec.Binding = &b
		}
		out[i] = spec

		if spec.BoundTo(hash) {
			continue
		}
		node, input, ok := r.bind(spec, a, g)
		if !ok {
			slog.Warn("parameter not wired", "node_id", spec.NodeID, "attribute", spec.Attribute)
			continue
		}
		out[i].Binding = &models.Binding{Node: node, Input: input, Hash: hash}
		changed = true
		slog.Debug("parameter binding resolved", "node_id", spec.NodeID, "attribute", spec.Attribute, "api_node", node, "api_input", input)
	}
	return out, changed
}

func (r *Resolver) bind(spec models.ParameterSpec, a *models.AuthoringGraph, g models.ExecutionGraph) (string, string, bool) {
	nodeID := strings.TrimSpace(spec.NodeID)
	if nodeID == "" {
		return "", "", false
	}
	target, ok := g[nodeID]
	if !ok || target == nil || target.Inputs == nil {
		return "", "", false
	}

	var candidate string
	widgetIndex, isWidget := widgetIndex(spec.Attribute)
	if isWidget && a != nil {
		if node, ok := a.Node(nodeID); ok {
			if fi, ok := filteredWidgetIndex(node.Widgets, widgetIndex); ok {
				candidate, _ = r.widgets.Input(node.Type, fi)
			}
		}
	}
	if candidate == "" && !isWidget {
		candidate = spec.Attribute
	}

	if candidate != "" {
		if v, ok := target.Inputs[candidate]; ok {
			if _, isList := v.([]any); !isList {
				return nodeID, candidate, true
			}
		}
	}

	expected := CoerceValue(spec.Type, spec.Default)
	names := make([]string, 0, len(target.Inputs))
	for name := range target.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if valuesMatch(target.Inputs[name], expected) {
			return nodeID, name, true
		}
	}
	return "", "", false
}

// Applied records one value written into an execution graph.
type Applied struct {
	NodeID string
	Input  string
	Value  any
	Source string
}

// Value sources for Applied.
const (
	SourceOverride = "override"
	SourceLive     = "live"
)

// Apply writes parameter values into g, which must be an iteration's private
// copy. For each spec bound under hash it uses overrides[spec.Key()] when
// present, else live[spec.KnobName()]; specs with neither are skipped.
// Control specs always receive the fixed token.
func (r *Resolver) Apply(specs []models.ParameterSpec, g models.ExecutionGraph, hash string, overrides map[string]any, live map[string]string) []Applied {
	var applied []Applied
	for _, spec := range specs {
		if !spec.BoundTo(hash) {
			continue
		}
		target, ok := g[spec.Binding.Node]
		if !ok || target == nil {
			slog.Warn("cannot apply parameter, node missing from graph", "api_node", spec.Binding.Node)
			continue
		}
		if target.Inputs == nil {
			target.Inputs = make(map[string]any)
		}

		var (
			value  any
			source string
		)
		if spec.IsControl() {
			value, source = models.ControlFixed, SourceOverride
		} else if v, ok := overrides[spec.Key()]; ok {
			value, source = CoerceValue(spec.Type, v), SourceOverride
		} else if v, ok := live[spec.KnobName()]; ok {
			value, source = CoerceValue(spec.Type, v), SourceLive
		} else {
			continue
		}

		target.Inputs[spec.Binding.Input] = value
		applied = append(applied, Applied{NodeID: spec.Binding.Node, Input: spec.Binding.Input, Value: value, Source: source})
	}
	return applied
}

// widgetIndex parses "widgets_values[N]".
func widgetIndex(attr string) (int, bool) {
	attr = strings.TrimSpace(attr)
	if !strings.HasPrefix(attr, widgetAttrPrefix) || !strings.HasSuffix(attr, "]") {
		return 0, false
	}
	n, err := strconv.Atoi(attr[len(widgetAttrPrefix) : len(attr)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// filteredWidgetIndex maps a raw widget position to its position once
// control tokens are removed. A control token itself has no position.
func filteredWidgetIndex(widgets []any, original int) (int, bool) {
	filtered := 0
	for i, v := range widgets {
		if models.IsControlToken(v) {
			if i == original {
				return 0, false
			}
			continue
		}
		if i == original {
			return filtered, true
		}
		filtered++
	}
	return 0, false
}

// String renders an Applied entry for logs.
func (a Applied) String() string {
	return fmt.Sprintf("%s.%s=%v (%s)", a.NodeID, a.Input, a.Value, a.Source)
}
