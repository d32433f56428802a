package convert

import (
	"strconv"
	"strings"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// FlattenSetGet removes setter/getter indirection from a converted graph.
// Inputs that reference a getter node are rewired to the link feeding the
// setter published under the same name, and the setter/getter nodes are
// dropped. g is not modified; a new graph is returned.
func FlattenSetGet(a *models.AuthoringGraph, g models.ExecutionGraph) models.ExecutionGraph {
	if a == nil || len(g) == 0 {
		return g
	}

	type source struct {
		node string
		slot int
	}
	setters := make(map[string]source)
	setterIDs := make(map[string]bool)
	getterNames := make(map[string]string)

	for _, n := range a.Nodes {
		name := models.NormalizeIdentifier(n.Identifier())
		if name == "" {
			continue
		}
		switch n.Shape {
		case models.ShapeSetter:
			for _, in := range n.Inputs {
				if in.Link == nil {
					continue
				}
				if l, ok := a.LinkByID(*in.Link); ok {
					setters[name] = source{node: l.OriginID, slot: l.OriginSlot}
					setterIDs[n.ID] = true
				}
			}
		case models.ShapeGetter:
			getterNames[n.ID] = name
		}
	}
	if len(setters) == 0 {
		return g
	}

	out := g.Clone()
	getters := make(map[string]string)
	for id, n := range out {
		if n == nil || !strings.HasSuffix(strings.ToLower(n.ClassType), "getnode") {
			continue
		}
		name := getterNames[id]
		if title, ok := n.Meta["title"].(string); ok && title != "" {
			name = models.NormalizeIdentifier(title)
		}
		if name != "" {
			getters[id] = name
		}
	}

	for _, n := range out {
		if n == nil {
			continue
		}
		for key, v := range n.Inputs {
			if !models.IsLink(v) {
				continue
			}
			ref := v.([]any)
			srcID := linkNodeID(ref[0])
			name, ok := getters[srcID]
			if !ok {
				name, ok = getterNames[srcID]
			}
			if !ok {
				continue
			}
			if src, ok := setters[name]; ok {
				n.Inputs[key] = []any{src.node, src.slot}
			}
		}
	}

	for id := range getters {
		delete(out, id)
	}
	for id := range setterIDs {
		delete(out, id)
	}
	return out
}

func linkNodeID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
