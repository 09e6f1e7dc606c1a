package capabilities

import "gopkg.in/yaml.v3"

// ModelCapabilities represents all metadata for a specific model
type ModelCapabilities struct {
	// Model identifier (set during YAML unmarshaling)
	ID string `yaml:"-" json:"id"`

	// Display information
	DisplayName string `yaml:"display_name" json:"display_name"`
	Description string `yaml:"description" json:"description"`

	SupportsVision bool `yaml:"supports_vision" json:"supports_vision"`
	SupportsSearch bool `yaml:"supports_search" json:"supports_search"`

	// Limits
	ContextWindow int `yaml:"context_window" json:"context_window"`
	MaxOutput     int `yaml:"max_output" json:"max_output"`
}

// Variant is a user-facing model choice ("fast", "smart") bound to a model
type Variant struct {
	Name     string `yaml:"-" json:"name"`
	Provider string `yaml:"-" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Label    string `yaml:"label" json:"label"`
}

// ProviderCapabilities represents all models and variants of a provider
type ProviderCapabilities struct {
	Provider string              `yaml:"provider" json:"provider"`
	Models   []ModelCapabilities `yaml:"-" json:"models"`   // Ordered slice, populated by custom unmarshaler
	Variants []Variant           `yaml:"-" json:"variants"` // Ordered slice, populated by custom unmarshaler
}

// UnmarshalYAML implements custom YAML unmarshaling to preserve model and
// variant order from the YAML file
func (p *ProviderCapabilities) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Provider string                       `yaml:"provider"`
		Models   map[string]ModelCapabilities `yaml:"models"`
		Variants map[string]Variant           `yaml:"variants"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	p.Provider = r.Provider

	// node.Content alternates: key, value, key, value...
	for i := 0; i+1 < len(node.Content); i += 2 {
		section := node.Content[i+1]
		switch node.Content[i].Value {
		case "models":
			for j := 0; j+1 < len(section.Content); j += 2 {
				id := section.Content[j].Value
				if model, ok := r.Models[id]; ok {
					model.ID = id
					p.Models = append(p.Models, model)
				}
			}
		case "variants":
			for j := 0; j+1 < len(section.Content); j += 2 {
				name := section.Content[j].Value
				if v, ok := r.Variants[name]; ok {
					v.Name = name
					v.Provider = r.Provider
					p.Variants = append(p.Variants, v)
				}
			}
		}
	}

	return nil
}
