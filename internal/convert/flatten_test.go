package convert_test

import (
	"testing"

	"github.com/kiranshivaraju/genrelay/internal/convert"
	"github.com/kiranshivaraju/genrelay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const setGetAuthoring = `{
  "nodes": [
    {"id": 10, "type": "LoadImage", "widgets_values": ["plate.png", "image"]},
    {"id": 7, "type": "SetNode", "title": "Set_Plate", "widgets_values": ["Plate"],
     "inputs": [{"name": "IMAGE", "type": "IMAGE", "link": 4}]},
    {"id": 8, "type": "GetNode", "widgets_values": ["Plate"]},
    {"id": 3, "type": "ImageScale", "inputs": [{"name": "image", "type": "IMAGE", "link": 5}]}
  ],
  "links": [[4, 10, 0, 7, 0, "IMAGE"], [5, 8, 0, 3, 0, "IMAGE"]]
}`

func setGetConverted(t *testing.T) models.ExecutionGraph {
	t.Helper()
	g, err := models.ParseExecutionGraph([]byte(`{
	  "10": {"class_type": "LoadImage", "inputs": {"image": "plate.png"}},
	  "7": {"class_type": "SetNode", "inputs": {"IMAGE": ["10", 0]}},
	  "8": {"class_type": "GetNode", "inputs": {}, "_meta": {"title": "Get_Plate"}},
	  "3": {"class_type": "ImageScale", "inputs": {"image": ["8", 0]}}
	}`))
	require.NoError(t, err)
	return g
}

func TestFlattenSetGet_RewiresGetterReferences(t *testing.T) {
	a, err := models.ParseAuthoringGraph([]byte(setGetAuthoring))
	require.NoError(t, err)
	g := setGetConverted(t)

	out := convert.FlattenSetGet(a, g)

	assert.Len(t, out, 2)
	assert.Equal(t, []any{"10", 0}, out["3"].Inputs["image"])
	// input untouched
	assert.Equal(t, []any{"8", float64(0)}, g["3"].Inputs["image"])
}

func TestFlattenSetGet_NoSettersIsIdentity(t *testing.T) {
	a, err := models.ParseAuthoringGraph([]byte(`{"nodes": [{"id": 1, "type": "LoadImage"}], "links": []}`))
	require.NoError(t, err)
	g := models.ExecutionGraph{"1": {ClassType: "LoadImage", Inputs: map[string]any{"image": "a.png"}}}

	out := convert.FlattenSetGet(a, g)
	assert.Equal(t, g, out)
}
