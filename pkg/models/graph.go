// Package models contains shared data models used across the genrelay codebase.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NodeShape tags which variant of AuthoringNode a decoded node is.
type NodeShape int

const (
	// ShapeGeneric is any node the orchestrator has no special handling for.
	ShapeGeneric NodeShape = iota
	// ShapeWidget carries a positional widgets_values list.
	ShapeWidget
	// ShapeSetter publishes a named value (SetNode).
	ShapeSetter
	// ShapeGetter reads a named value published by a setter (GetNode).
	ShapeGetter
)

// AuthoringGraph is the human-edited job graph as saved by the authoring tool.
// Doc keeps the full decoded document so it can be handed to a converter and
// hashed without loss.
type AuthoringGraph struct {
	Nodes []AuthoringNode `json:"nodes"`
	Links []Link          `json:"links"`
	Doc   map[string]any  `json:"-"`
}

// AuthoringNode is one node of an AuthoringGraph. Fields holds every key of
// the node as decoded; the typed fields are views over it.
type AuthoringNode struct {
	ID         string
	Type       string
	Title      string
	Shape      NodeShape
	Widgets    []any
	Inputs     []NodeSlot
	Properties map[string]any
	Fields     map[string]any
}

// NodeSlot is an input socket of an authoring node.
type NodeSlot struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Link *int64 `json:"link"`
}

// Link is an authoring-graph edge: [id, originNode, originSlot, targetNode, targetSlot, type].
type Link struct {
	ID         int64
	OriginID   string
	OriginSlot int
	TargetID   string
	TargetSlot int
	Type       string
}

// ParseAuthoringGraph decodes an authoring document.
func ParseAuthoringGraph(data []byte) (*AuthoringGraph, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding authoring graph: %w", err)
	}
	return AuthoringGraphFromDoc(doc)
}

// AuthoringGraphFromDoc builds the typed view over an already decoded document.
func AuthoringGraphFromDoc(doc map[string]any) (*AuthoringGraph, error) {
	if doc == nil {
		return nil, fmt.Errorf("authoring graph is empty")
	}
	g := &AuthoringGraph{Doc: doc}

	if rawNodes, ok := doc["nodes"].([]any); ok {
		for _, rn := range rawNodes {
			m, ok := rn.(map[string]any)
			if !ok {
				continue
			}
			g.Nodes = append(g.Nodes, decodeAuthoringNode(m))
		}
	}
	if rawLinks, ok := doc["links"].([]any); ok {
		for _, rl := range rawLinks {
			if l, ok := decodeLink(rl); ok {
				g.Links = append(g.Links, l)
			}
		}
	}
	return g, nil
}

// Node returns the authoring node with the given id.
func (g *AuthoringGraph) Node(id string) (AuthoringNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return AuthoringNode{}, false
}

// LinkByID returns the link with the given id.
func (g *AuthoringGraph) LinkByID(id int64) (Link, bool) {
	for _, l := range g.Links {
		if l.ID == id {
			return l, true
		}
	}
	return Link{}, false
}

// Hash is the content hash of the full authoring document.
func (g *AuthoringGraph) Hash() (string, error) {
	return ContentHash(g.Doc)
}

// Identifier is the name a setter/getter node publishes under: its title,
// else its first widget value, else properties.previousName.
func (n AuthoringNode) Identifier() string {
	if t := strings.TrimSpace(n.Title); t != "" {
		return t
	}
	if len(n.Widgets) > 0 && n.Widgets[0] != nil {
		return fmt.Sprint(n.Widgets[0])
	}
	if prev, ok := n.Properties["previousName"]; ok && prev != nil {
		return fmt.Sprint(prev)
	}
	return ""
}

// NormalizeIdentifier lowercases a setter/getter name and strips a leading
// set_/get_ prefix.
func NormalizeIdentifier(v string) string {
	text := strings.TrimSpace(v)
	lowered := strings.ToLower(text)
	if strings.HasPrefix(lowered, "set_") || strings.HasPrefix(lowered, "get_") {
		text = text[4:]
	}
	return strings.ToLower(text)
}

func decodeAuthoringNode(m map[string]any) AuthoringNode {
	n := AuthoringNode{Fields: m}
	n.ID = idString(m["id"])
	n.Type, _ = m["type"].(string)
	if n.Type == "" {
		n.Type, _ = m["class_type"].(string)
	}
	n.Title, _ = m["title"].(string)
	n.Properties, _ = m["properties"].(map[string]any)
	if w, ok := m["widgets_values"].([]any); ok {
		n.Widgets = w
	}
	if rawInputs, ok := m["inputs"].([]any); ok {
		for _, ri := range rawInputs {
			im, ok := ri.(map[string]any)
			if !ok {
				continue
			}
			slot := NodeSlot{}
			slot.Name, _ = im["name"].(string)
			slot.Type, _ = im["type"].(string)
			if lid, ok := toInt64(im["link"]); ok {
				slot.Link = &lid
			}
			n.Inputs = append(n.Inputs, slot)
		}
	}

	switch {
	case n.Type == "SetNode":
		n.Shape = ShapeSetter
	case n.Type == "GetNode":
		n.Shape = ShapeGetter
	case n.Widgets != nil:
		n.Shape = ShapeWidget
	default:
		n.Shape = ShapeGeneric
	}
	return n
}

func decodeLink(v any) (Link, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 5 {
		return Link{}, false
	}
	id, ok := toInt64(arr[0])
	if !ok {
		return Link{}, false
	}
	l := Link{ID: id, OriginID: idString(arr[1]), TargetID: idString(arr[3])}
	if s, ok := toInt64(arr[2]); ok {
		l.OriginSlot = int(s)
	}
	if s, ok := toInt64(arr[4]); ok {
		l.TargetSlot = int(s)
	}
	if len(arr) > 5 {
		l.Type, _ = arr[5].(string)
	}
	return l, true
}

// ExecutionGraph is the submission form: node id → node. Links between nodes
// are encoded as two-element [sourceNodeId, outputIndex] input values.
type ExecutionGraph map[string]*ExecNode

// ExecNode is one node of an ExecutionGraph.
type ExecNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// ParseExecutionGraph decodes and validates an execution graph.
func ParseExecutionGraph(data []byte) (ExecutionGraph, error) {
	var g ExecutionGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decoding execution graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// ExecutionGraphFromDoc converts a generic decoded document into an
// ExecutionGraph. It fails unless every entry has a class_type.
func ExecutionGraphFromDoc(doc map[string]any) (ExecutionGraph, error) {
	if !LooksLikeExecutionGraph(doc) {
		return nil, fmt.Errorf("document is not an execution graph")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding execution graph: %w", err)
	}
	return ParseExecutionGraph(data)
}

// LooksLikeExecutionGraph reports whether doc is a non-empty map whose every
// value is an object carrying class_type.
func LooksLikeExecutionGraph(doc map[string]any) bool {
	if len(doc) == 0 {
		return false
	}
	for _, v := range doc {
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := m["class_type"]; !ok {
			return false
		}
	}
	return true
}

// Validate checks the structural invariants of the graph.
func (g ExecutionGraph) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("execution graph has no nodes")
	}
	for id, n := range g {
		if n == nil || n.ClassType == "" {
			return fmt.Errorf("execution node %s has no class_type", id)
		}
	}
	return nil
}

// Clone returns a deep copy. Mutating the copy never affects g.
func (g ExecutionGraph) Clone() ExecutionGraph {
	if g == nil {
		return nil
	}
	out := make(ExecutionGraph, len(g))
	for id, n := range g {
		if n == nil {
			out[id] = nil
			continue
		}
		cp := &ExecNode{ClassType: n.ClassType}
		if n.Inputs != nil {
			cp.Inputs = deepCopyMap(n.Inputs)
		}
		if n.Meta != nil {
			cp.Meta = deepCopyMap(n.Meta)
		}
		out[id] = cp
	}
	return out
}

// Hash is the content hash of the graph in canonical JSON form.
func (g ExecutionGraph) Hash() (string, error) {
	return ContentHash(g)
}

// NodeIDs returns the node ids in ascending order, numeric ids compared as numbers.
func (g ExecutionGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	SortNodeIDs(ids)
	return ids
}

// FirstOfClass returns the lowest-ordered node id with the given class type.
func (g ExecutionGraph) FirstOfClass(classType string) (string, bool) {
	for _, id := range g.NodeIDs() {
		if g[id] != nil && g[id].ClassType == classType {
			return id, true
		}
	}
	return "", false
}

// SortNodeIDs orders ids numerically when both parse as integers, else lexically.
func SortNodeIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		if errA == nil {
			return true
		}
		if errB == nil {
			return false
		}
		return ids[i] < ids[j]
	})
}

// IsLink reports whether an input value is a [nodeId, outputIndex] reference.
func IsLink(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return false
	}
	switch arr[0].(type) {
	case string, float64, int, int64, json.Number:
	default:
		return false
	}
	_, ok = toInt64(arr[1])
	return ok
}

// ReplaceModelPaths rewrites string inputs that equal (after slash
// normalization) a key of replacements. It returns how many inputs changed.
func ReplaceModelPaths(g ExecutionGraph, replacements map[string]string) int {
	if len(replacements) == 0 {
		return 0
	}
	normalized := make(map[string]string, len(replacements))
	for from, to := range replacements {
		normalized[normalizeSlashes(from)] = to
	}
	changed := 0
	for _, n := range g {
		if n == nil {
			continue
		}
		for key, v := range n.Inputs {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if to, ok := normalized[normalizeSlashes(s)]; ok && to != s {
				n.Inputs[key] = to
				changed++
			}
		}
	}
	return changed
}

func normalizeSlashes(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\\", "/")
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
