package binding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kiranshivaraju/genrelay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authoring = `{
  "nodes": [
    {"id": 3, "type": "KSampler", "widgets_values": [42, "randomize", 20, 7.5, "euler", "normal", 1.0]},
    {"id": 6, "type": "CLIPTextEncode", "widgets_values": ["a red fox"]},
    {"id": 12, "type": "CustomNode", "widgets_values": [0.35]}
  ],
  "links": []
}`

func fixtures(t *testing.T) (*models.AuthoringGraph, models.ExecutionGraph) {
	t.Helper()
	a, err := models.ParseAuthoringGraph([]byte(authoring))
	require.NoError(t, err)
	g, err := models.ParseExecutionGraph([]byte(`{
	  "3": {"class_type": "KSampler", "inputs": {"seed": 42, "steps": 20, "cfg": 7.5, "sampler_name": "euler",
	        "scheduler": "normal", "denoise": 1.0, "model": ["4", 0]}},
	  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a red fox", "clip": ["4", 1]}},
	  "12": {"class_type": "CustomNode", "inputs": {"strength": 0.35, "image": ["3", 0]}}
	}`))
	require.NoError(t, err)
	return a, g
}

func TestResolve_WidgetPositionSkipsControlTokens(t *testing.T) {
	a, g := fixtures(t)
	r := NewResolver(nil)

	specs := []models.ParameterSpec{
		{NodeID: "3", Attribute: "widgets_values[0]", Type: models.ParamInteger, Default: float64(42)},
		{NodeID: "3", Attribute: "widgets_values[2]", Type: models.ParamInteger, Default: float64(20)},
		{NodeID: "3", Attribute: "widgets_values[4]", Type: models.ParamString, Default: "euler"},
	}
	out, changed := r.Resolve(specs, a, g, "h1")
	require.True(t, changed)
	assert.Equal(t, "seed", out[0].Binding.Input)
	assert.Equal(t, "steps", out[1].Binding.Input)
	assert.Equal(t, "sampler_name", out[2].Binding.Input)
	assert.Equal(t, "h1", out[0].Binding.Hash)
	assert.Nil(t, specs[0].Binding, "input specs are not mutated")
}

func TestResolve_NamedAttribute(t *testing.T) {
	a, g := fixtures(t)
	out, changed := NewResolver(nil).Resolve([]models.ParameterSpec{
		{NodeID: "6", Attribute: "text", Type: models.ParamString, Default: "ignored"},
	}, a, g, "h1")
	require.True(t, changed)
	assert.Equal(t, &models.Binding{Node: "6", Input: "text", Hash: "h1"}, out[0].Binding)
}

func TestResolve_FallsBackToDefaultValueMatch(t *testing.T) {
	a, g := fixtures(t)
	out, changed := NewResolver(nil).Resolve([]models.ParameterSpec{
		{NodeID: "12", Attribute: "widgets_values[0]", Type: models.ParamFloat, Default: "0.35"},
	}, a, g, "h1")
	require.True(t, changed)
	assert.Equal(t, "strength", out[0].Binding.Input)
}

func TestResolve_LinkInputsNeverMatch(t *testing.T) {
	a, g := fixtures(t)
	out, changed := NewResolver(nil).Resolve([]models.ParameterSpec{
		{NodeID: "3", Attribute: "model", Type: models.ParamString, Default: "x"},
	}, a, g, "h1")
	assert.False(t, changed)
	assert.Nil(t, out[0].Binding)
}

func TestResolve_UnresolvedControlIsNotAnError(t *testing.T) {
	a, g := fixtures(t)
	out, changed := NewResolver(nil).Resolve([]models.ParameterSpec{
		{NodeID: "3", Attribute: "widgets_values[1]", Type: models.ParamString, Default: "randomize"},
	}, a, g, "h1")
	assert.False(t, changed)
	assert.Nil(t, out[0].Binding)
}

func TestResolve_TrustsBindingOnlyForCurrentHash(t *testing.T) {
	a, g := fixtures(t)
	r := NewResolver(nil)
	current := []models.ParameterSpec{{
		NodeID: "3", Attribute: "widgets_values[0]", Type: models.ParamInteger, Default: float64(42),
		Binding: &models.Binding{Node: "3", Input: "wrong", Hash: "h1"},
	}}

	out, changed := r.Resolve(current, a, g, "h1")
	assert.False(t, changed)
	assert.Equal(t, "wrong", out[0].Binding.Input)

	out, changed = r.Resolve(current, a, g, "h2")
	assert.True(t, changed)
	assert.Equal(t, "seed", out[0].Binding.Input)
	assert.Equal(t, "h2", out[0].Binding.Hash)
}

func TestApply_OverrideThenLiveValue(t *testing.T) {
	_, g := fixtures(t)
	specs := []models.ParameterSpec{
		{NodeID: "3", Attribute: "widgets_values[0]", Type: models.ParamInteger, Binding: &models.Binding{Node: "3", Input: "seed", Hash: "h"}},
		{NodeID: "3", Attribute: "widgets_values[2]", Type: models.ParamInteger, Binding: &models.Binding{Node: "3", Input: "steps", Hash: "h"}},
		{NodeID: "6", Attribute: "text", Type: models.ParamString, Binding: &models.Binding{Node: "6", Input: "text", Hash: "h"}},
		{NodeID: "6", Attribute: "other", Type: models.ParamString, Binding: &models.Binding{Node: "6", Input: "text", Hash: "stale"}},
	}
	live := map[string]string{
		specs[0].KnobName(): "100",
		specs[1].KnobName(): "30",
	}
	overrides := map[string]any{specs[0].Key(): int64(555)}

	applied := NewResolver(nil).Apply(specs, g, "h", overrides, live)

	require.Len(t, applied, 2)
	assert.Equal(t, int64(555), g["3"].Inputs["seed"])
	assert.Equal(t, SourceOverride, applied[0].Source)
	assert.Equal(t, int64(30), g["3"].Inputs["steps"])
	assert.Equal(t, SourceLive, applied[1].Source)
	assert.Equal(t, "a red fox", g["6"].Inputs["text"])
}

func TestApply_ControlForcedFixed(t *testing.T) {
	g := models.ExecutionGraph{"3": {ClassType: "KSampler", Inputs: map[string]any{"control_after_generate": "randomize"}}}
	specs := []models.ParameterSpec{{
		NodeID: "3", Attribute: "control_after_generate", Type: models.ParamString,
		Binding: &models.Binding{Node: "3", Input: "control_after_generate", Hash: "h"},
	}}
	live := map[string]string{specs[0].KnobName(): "randomize"}

	NewResolver(nil).Apply(specs, g, "h", nil, live)
	assert.Equal(t, models.ControlFixed, g["3"].Inputs["control_after_generate"])
}

func TestApply_IdempotentAcrossCopies(t *testing.T) {
	_, base := fixtures(t)
	specs := []models.ParameterSpec{
		{NodeID: "3", Attribute: "widgets_values[3]", Type: models.ParamFloat, Binding: &models.Binding{Node: "3", Input: "cfg", Hash: "h"}},
	}
	overrides := map[string]any{specs[0].Key(): "6.5"}
	r := NewResolver(nil)

	a, b := base.Clone(), base.Clone()
	r.Apply(specs, a, "h", overrides, nil)
	r.Apply(specs, b, "h", overrides, nil)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Equal(t, 7.5, base["3"].Inputs["cfg"])
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name string
		typ  models.ParamType
		in   any
		want any
	}{
		{"bool yes", models.ParamBoolean, "Yes", true},
		{"bool off", models.ParamBoolean, "off", false},
		{"bool number", models.ParamBoolean, float64(1), true},
		{"int from string", models.ParamInteger, "42", int64(42)},
		{"int from float", models.ParamInteger, 7.9, int64(7)},
		{"int garbage", models.ParamInteger, "abc", int64(0)},
		{"float from string", models.ParamFloat, "0.25", 0.25},
		{"float garbage", models.ParamFloat, nil, float64(0)},
		{"string nil", models.ParamString, nil, ""},
		{"string number", models.ParamString, float64(20), "20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoerceValue(tt.typ, tt.in))
		})
	}
}

func TestLoadWidgetMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widgets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_types:\n  MySampler: [seed, \"\", steps]\n"), 0o644))

	m, err := LoadWidgetMap(path)
	require.NoError(t, err)

	in, ok := m.Input("MySampler", 2)
	assert.True(t, ok)
	assert.Equal(t, "steps", in)
	_, ok = m.Input("MySampler", 1)
	assert.False(t, ok)
	_, ok = m.Input("KSampler", 0)
	assert.True(t, ok, "defaults are kept")

	_, err = LoadWidgetMap(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
