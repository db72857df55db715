package strategy

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is a named strategy configuration entry in YAML. Presets let a start
// request reference a server-side parameter set instead of shipping raw
// parameters from the client.
type Preset struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Parameters map[string]any `yaml:"parameters"`
}

// PresetFile is the top-level YAML structure.
type PresetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets reads strategy presets from a YAML file.
func LoadPresets(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	out := make(map[string]Preset, len(file.Presets))
	for _, p := range file.Presets {
		out[p.Name] = p
	}
	return out, nil
}
