package orchestrator

import (
	"strconv"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// mappingFor returns the input mapping with the given index.
func mappingFor(mappings []models.InputMapping, index int) *models.InputMapping {
	for i := range mappings {
		if mappings[i].Index == index {
			return &mappings[i]
		}
	}
	return nil
}

// injectAsset points the graph input fed by m at an uploaded file. A
// SetNode sourced mapping is resolved through the authoring graph's setter
// targets, falling back to whatever feeds the setter in g. With no mapping
// or no node id the first LoadImage node receives the file.
func injectAsset(g models.ExecutionGraph, a *models.AuthoringGraph, m *models.InputMapping, filename string) {
	if m == nil {
		assignFirstLoadImage(g, filename)
		return
	}
	switch {
	case m.Source == models.SourceSetNode:
		if target, ok := setTargets(a)[models.NormalizeIdentifier(m.Identifier)]; ok {
			assignToNode(g, target, filename, "")
			return
		}
		if setter, ok := g[m.NodeID]; ok && setter != nil {
			for _, v := range setter.Inputs {
				if link, ok := v.([]any); ok && models.IsLink(link) {
					assignToNode(g, linkOrigin(link), filename, "")
				}
			}
		}
	case m.NodeID != "":
		assignToNode(g, m.NodeID, filename, m.Socket)
	default:
		assignFirstLoadImage(g, filename)
	}
}

func assignFirstLoadImage(g models.ExecutionGraph, filename string) {
	if id, ok := g.FirstOfClass("LoadImage"); ok {
		assignToNode(g, id, filename, "")
	}
}

// assignToNode writes filename to socket when the node has it, else to the
// first scalar image, input or mask input, else to image.
func assignToNode(g models.ExecutionGraph, nodeID, filename, socket string) {
	n, ok := g[nodeID]
	if !ok || n == nil {
		return
	}
	if n.Inputs == nil {
		n.Inputs = make(map[string]any)
	}
	if socket != "" {
		if _, ok := n.Inputs[socket]; ok {
			n.Inputs[socket] = filename
			return
		}
	}
	for _, key := range []string{"image", "input", "mask"} {
		if v, ok := n.Inputs[key]; ok {
			if _, isList := v.([]any); !isList {
				n.Inputs[key] = filename
				return
			}
		}
	}
	n.Inputs["image"] = filename
}

// setTargets maps each setter's normalized identifier to the node feeding it.
func setTargets(a *models.AuthoringGraph) map[string]string {
	out := make(map[string]string)
	if a == nil {
		return out
	}
	for _, n := range a.Nodes {
		if n.Shape != models.ShapeSetter {
			continue
		}
		ident := models.NormalizeIdentifier(n.Identifier())
		if ident == "" {
			continue
		}
		for _, in := range n.Inputs {
			if in.Link == nil {
				continue
			}
			if l, ok := a.LinkByID(*in.Link); ok {
				out[ident] = l.OriginID
				break
			}
		}
	}
	return out
}

func linkOrigin(link []any) string {
	switch v := link[0].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
