package binding

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WidgetMap lists, per authoring node type, the execution input each
// positional widget feeds. Positions count widgets after control tokens are
// removed; an empty name marks a widget with no execution input.
type WidgetMap map[string][]string

// DefaultWidgetMap covers the stock node types.
func DefaultWidgetMap() WidgetMap {
	return WidgetMap{
		"KSampler":               {"seed", "steps", "cfg", "sampler_name", "scheduler", "denoise"},
		"KSamplerAdvanced":       {"add_noise", "noise_seed", "steps", "cfg", "sampler_name", "scheduler", "start_at_step", "end_at_step", "return_with_leftover_noise"},
		"CLIPTextEncode":         {"text"},
		"CheckpointLoaderSimple": {"ckpt_name"},
		"LoraLoader":             {"lora_name", "strength_model", "strength_clip"},
		"EmptyLatentImage":       {"width", "height", "batch_size"},
		"LoadImage":              {"image", "upload"},
		"SaveImage":              {"filename_prefix"},
		"ImageScale":             {"upscale_method", "width", "height", "crop"},
		"VAELoader":              {"vae_name"},
	}
}

type widgetMapFile struct {
	NodeTypes map[string][]string `yaml:"node_types"`
}

// LoadWidgetMap reads a YAML widget map and layers it over the defaults.
// An empty path returns the defaults.
//
//	node_types:
//	  MySampler: [seed, steps, cfg]
func LoadWidgetMap(path string) (WidgetMap, error) {
	m := DefaultWidgetMap()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading widget map: %w", err)
	}
	var f widgetMapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding widget map %s: %w", path, err)
	}
	for nodeType, inputs := range f.NodeTypes {
		m[nodeType] = inputs
	}
	return m, nil
}

// Input returns the execution input for the filtered widget position.
func (w WidgetMap) Input(nodeType string, filteredIndex int) (string, bool) {
	names, ok := w[nodeType]
	if !ok || filteredIndex < 0 || filteredIndex >= len(names) || names[filteredIndex] == "" {
		return "", false
	}
	return names[filteredIndex], true
}
