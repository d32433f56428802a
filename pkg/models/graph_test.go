package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authoringFixture = `{
  "nodes": [
    {"id": 3, "type": "KSampler", "widgets_values": [42, "randomize", 20, 7.5, "euler", "normal", 1.0],
     "inputs": [{"name": "model", "type": "MODEL", "link": 1}]},
    {"id": 7, "type": "SetNode", "title": "Set_Plate", "widgets_values": ["Plate"],
     "inputs": [{"name": "IMAGE", "type": "IMAGE", "link": 4}]},
    {"id": 8, "type": "GetNode", "widgets_values": ["Plate"]},
    {"id": 9, "type": "Note"}
  ],
  "links": [[1, 4, 0, 3, 0, "MODEL"], [4, 10, 0, 7, 0, "IMAGE"]]
}`

func TestParseAuthoringGraph_Shapes(t *testing.T) {
	g, err := ParseAuthoringGraph([]byte(authoringFixture))
	require.NoError(t, err)
	require.Len(t, g.Nodes, 4)

	ks, ok := g.Node("3")
	require.True(t, ok)
	assert.Equal(t, ShapeWidget, ks.Shape)
	assert.Equal(t, "KSampler", ks.Type)
	require.Len(t, ks.Inputs, 1)
	require.NotNil(t, ks.Inputs[0].Link)
	assert.Equal(t, int64(1), *ks.Inputs[0].Link)

	set, _ := g.Node("7")
	assert.Equal(t, ShapeSetter, set.Shape)
	assert.Equal(t, "Set_Plate", set.Identifier())
	assert.Equal(t, "plate", NormalizeIdentifier(set.Identifier()))

	get, _ := g.Node("8")
	assert.Equal(t, ShapeGetter, get.Shape)
	assert.Equal(t, "Plate", get.Identifier())

	note, _ := g.Node("9")
	assert.Equal(t, ShapeGeneric, note.Shape)

	link, ok := g.LinkByID(4)
	require.True(t, ok)
	assert.Equal(t, "10", link.OriginID)
	assert.Equal(t, "IMAGE", link.Type)
}

func TestAuthoringGraphHash_IgnoresKeyOrder(t *testing.T) {
	a, err := ParseAuthoringGraph([]byte(`{"nodes": [], "links": [], "version": 0.4}`))
	require.NoError(t, err)
	b, err := ParseAuthoringGraph([]byte(`{"version": 0.4, "links": [], "nodes": []}`))
	require.NoError(t, err)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func sampleExecGraph(t *testing.T) ExecutionGraph {
	t.Helper()
	g, err := ParseExecutionGraph([]byte(`{
	  "3": {"class_type": "KSampler", "inputs": {"seed": 42, "steps": 20, "model": ["4", 0]}},
	  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "models\\sd15.safetensors"}},
	  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "out", "images": ["8", 0]}},
	  "10": {"class_type": "SaveImage", "inputs": {"filename_prefix": "alt"}}
	}`))
	require.NoError(t, err)
	return g
}

func TestExecutionGraph_CloneIsIndependent(t *testing.T) {
	g := sampleExecGraph(t)
	before, err := g.Hash()
	require.NoError(t, err)

	cp := g.Clone()
	cp["3"].Inputs["seed"] = float64(99)
	cp["3"].Inputs["model"].([]any)[0] = "77"
	cp["4"].ClassType = "Other"

	after, err := g.Hash()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, float64(42), g["3"].Inputs["seed"])
}

func TestExecutionGraph_NodeIDsNumericOrder(t *testing.T) {
	g := sampleExecGraph(t)
	assert.Equal(t, []string{"3", "4", "9", "10"}, g.NodeIDs())

	id, ok := g.FirstOfClass("SaveImage")
	require.True(t, ok)
	assert.Equal(t, "9", id)
}

func TestParseExecutionGraph_RejectsMissingClassType(t *testing.T) {
	_, err := ParseExecutionGraph([]byte(`{"1": {"inputs": {}}}`))
	assert.Error(t, err)

	_, err = ParseExecutionGraph([]byte(`{}`))
	assert.Error(t, err)
}

func TestLooksLikeExecutionGraph(t *testing.T) {
	assert.True(t, LooksLikeExecutionGraph(map[string]any{
		"1": map[string]any{"class_type": "LoadImage", "inputs": map[string]any{}},
	}))
	assert.False(t, LooksLikeExecutionGraph(map[string]any{"nodes": []any{}}))
	assert.False(t, LooksLikeExecutionGraph(map[string]any{}))
}

func TestIsLink(t *testing.T) {
	assert.True(t, IsLink([]any{"4", float64(0)}))
	assert.True(t, IsLink([]any{float64(4), float64(1)}))
	assert.False(t, IsLink([]any{"4"}))
	assert.False(t, IsLink([]any{"4", "x"}))
	assert.False(t, IsLink("4"))
}

func TestReplaceModelPaths(t *testing.T) {
	g := sampleExecGraph(t)
	n := ReplaceModelPaths(g, map[string]string{"models/sd15.safetensors": "sd15_local.safetensors"})
	assert.Equal(t, 1, n)
	assert.Equal(t, "sd15_local.safetensors", g["4"].Inputs["ckpt_name"])
}

func TestParameterSpec_KnobAndControl(t *testing.T) {
	seed := ParameterSpec{NodeID: "3", Attribute: "widgets_values[0]", Type: ParamInteger, Default: float64(42)}
	assert.Equal(t, "param_3_widgets_values_0", seed.KnobName())
	assert.False(t, seed.IsControl())

	control := ParameterSpec{NodeID: "3", Attribute: "widgets_values[1]", Type: ParamString, Default: "randomize"}
	assert.True(t, control.IsControl())

	seed.Binding = &Binding{Node: "3", Input: "seed", Hash: "abc"}
	assert.True(t, seed.BoundTo("abc"))
	assert.False(t, seed.BoundTo("def"))
}
