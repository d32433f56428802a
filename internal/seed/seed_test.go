package seed

import (
	"testing"

	"github.com/kiranshivaraju/genrelay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graph() models.ExecutionGraph {
	return models.ExecutionGraph{
		"3":  {ClassType: "KSampler", Inputs: map[string]any{"seed": float64(100), "steps": float64(20)}},
		"10": {ClassType: "KSamplerAdvanced", Inputs: map[string]any{"noise_seed": float64(4294967290), "seed": []any{"3", float64(0)}}},
		"11": {ClassType: "Note", Inputs: map[string]any{"seed": "abc"}},
	}
}

func TestCapture(t *testing.T) {
	records := Capture(graph())
	assert.Equal(t, []models.SeedRecord{
		{NodeID: "3", Input: "seed", Base: 100},
		{NodeID: "10", Input: "noise_seed", Base: 4294967290},
	}, records)
}

func TestApplyOffset_ZeroIsNoop(t *testing.T) {
	g := graph()
	ApplyOffset(g, Capture(g), 0)
	assert.Equal(t, float64(100), g["3"].Inputs["seed"])
}

func TestApplyOffset_WrapsModulo32(t *testing.T) {
	g := graph()
	records := Capture(g)
	ApplyOffset(g, records, 10)

	assert.Equal(t, int64(110), g["3"].Inputs["seed"])
	assert.Equal(t, int64(4), g["10"].Inputs["noise_seed"])
}

func TestBatchSeedsFollowStride(t *testing.T) {
	base := graph()
	records := Capture(base)

	var seeds []int64
	for i := 0; i < 3; i++ {
		cp := base.Clone()
		ApplyOffset(cp, records, OffsetFor(i, DefaultStride))
		v, ok := integral(cp["3"].Inputs["seed"])
		require.True(t, ok)
		seeds = append(seeds, v)
	}
	assert.Equal(t, []int64{100, 100 + 9973, 100 + 2*9973}, seeds)
	assert.Equal(t, float64(100), base["3"].Inputs["seed"], "base graph untouched")
}

func TestOffsetFor_DefaultsStride(t *testing.T) {
	assert.Equal(t, int64(2*9973), OffsetFor(2, 0))
	assert.Equal(t, int64(0), OffsetFor(0, 5))
}

func seedSpecs() []models.ParameterSpec {
	return []models.ParameterSpec{
		{NodeID: "3", Attribute: "widgets_values[0]", Label: "Seed", Type: models.ParamInteger, Default: float64(7),
			Binding: &models.Binding{Node: "3", Input: "seed", Hash: "h"}},
		{NodeID: "3", Attribute: "widgets_values[1]", Label: "Control", Type: models.ParamString, Default: "fixed"},
	}
}

func TestResolveClientControl(t *testing.T) {
	specs := seedSpecs()
	seedKnob, controlKnob := specs[0].KnobName(), specs[1].KnobName()

	tests := []struct {
		name string
		mode string
		seed string
		want int64
	}{
		{"increment", "increment", "41", 42},
		{"decrement", "decrement", "41", 40},
		{"decrement wraps", "decrement", "0", 4294967295},
		{"increment wraps", "increment", "4294967295", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ResolveClientControl(specs, map[string]string{seedKnob: tt.seed, controlKnob: tt.mode})
			require.NoError(t, err)
			assert.True(t, res.Refresh)
			assert.Equal(t, tt.want, res.Overrides[specs[0].Key()])
			assert.NotEmpty(t, res.Updates[seedKnob])
		})
	}
}

func TestResolveClientControl_FixedYieldsNothing(t *testing.T) {
	specs := seedSpecs()
	res, err := ResolveClientControl(specs, map[string]string{specs[0].KnobName(): "41", specs[1].KnobName(): "fixed"})
	require.NoError(t, err)
	assert.False(t, res.Refresh)
	assert.Empty(t, res.Overrides)
}

func TestResolveClientControl_RandomizeInRange(t *testing.T) {
	specs := seedSpecs()
	res, err := ResolveClientControl(specs, map[string]string{specs[1].KnobName(): "randomize"})
	require.NoError(t, err)

	v, ok := res.Overrides[specs[0].Key()]
	if !ok {
		// astronomically unlikely: the random draw equalled the default
		t.Skip("random seed equalled the current value")
	}
	n := v.(int64)
	assert.GreaterOrEqual(t, n, int64(0))
	assert.Less(t, n, int64(1)<<32)
}

func TestResolveClientControl_SeedWithoutControl(t *testing.T) {
	specs := seedSpecs()[:1]
	res, err := ResolveClientControl(specs, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Overrides)
}

func TestResolveClientControl_ControlDefaultWithoutLiveValue(t *testing.T) {
	specs := seedSpecs()
	specs[1].Default = "increment"

	res, err := ResolveClientControl(specs, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Overrides[specs[0].Key()])
	assert.Equal(t, "8", res.Updates[specs[0].KnobName()])
}

func TestResolveClientControl_NonStringControlValueIsFixed(t *testing.T) {
	specs := seedSpecs()
	specs[1].Attribute = "control_after_generate"
	specs[1].Default = nil

	res, err := ResolveClientControl(specs, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Overrides)
}
