package brand

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CustomCategory is assigned to user-created templates without a category.
const CustomCategory = "Custom"

// Template captures a brand's visual identity and the prompt fragments used
// to keep generated media on-brand.
type Template struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description"`
	Category    string            `json:"category" yaml:"category"`
	Colors      map[string]string `json:"colors,omitempty" yaml:"colors"`   // primary, secondary, accent...
	Fonts       map[string]string `json:"fonts,omitempty" yaml:"fonts"`     // heading, body, accent
	Style       map[string]string `json:"style,omitempty" yaml:"style"`     // tone, imagery, layout
	Prompts     map[string]string `json:"prompts,omitempty" yaml:"prompts"` // product, lifestyle, marketing
	LogoURL     string            `json:"logoUrl,omitempty" yaml:"logo_url"`
	CreatedAt   time.Time         `json:"createdAt" yaml:"-"`
	ModifiedAt  time.Time         `json:"modifiedAt" yaml:"-"`
	Preset      bool              `json:"preset" yaml:"-"`
}

// PromptModifier joins the prompt fragment for promptType with the brand tone.
func (t Template) PromptModifier(promptType string) string {
	if promptType == "" {
		promptType = "product"
	}
	var parts []string
	if p := strings.TrimSpace(t.Prompts[promptType]); p != "" {
		parts = append(parts, p)
	}
	if tone := strings.TrimSpace(t.Style["tone"]); tone != "" {
		parts = append(parts, tone)
	}
	return strings.Join(parts, ", ")
}

// EnhancePrompt appends the brand modifier to prompt.
func (t Template) EnhancePrompt(prompt, promptType string) string {
	mod := t.PromptModifier(promptType)
	if mod == "" {
		return prompt
	}
	if strings.TrimSpace(prompt) == "" {
		return mod
	}
	return prompt + ", " + mod
}

//go:embed presets.yaml
var presetsYAML []byte

type presetFile struct {
	Base     string     `yaml:"base"`
	Presets  []Template `yaml:"presets"`
	Industry []Template `yaml:"industry"`
}

// Presets returns the built-in templates. Industry templates take every field
// they leave empty from the base preset.
func Presets() ([]Template, error) {
	return parsePresets(presetsYAML)
}

func parsePresets(raw []byte) ([]Template, error) {
	var file presetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse brand presets: %w", err)
	}

	var base Template
	for _, p := range file.Presets {
		if p.ID == file.Base {
			base = p
		}
	}
	if file.Base != "" && base.ID == "" {
		return nil, fmt.Errorf("brand presets: base %q not found", file.Base)
	}

	out := make([]Template, 0, len(file.Presets)+len(file.Industry))
	for _, p := range file.Presets {
		p.Preset = true
		out = append(out, p)
	}
	for _, p := range file.Industry {
		merged := inherit(p, base)
		merged.Preset = true
		out = append(out, merged)
	}

	seen := make(map[string]bool, len(out))
	for _, t := range out {
		if t.ID == "" || t.Name == "" {
			return nil, fmt.Errorf("brand presets: entry missing id or name")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("brand presets: duplicate id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return out, nil
}

// inherit fills whole fields of t from base; maps are not merged key by key.
func inherit(t, base Template) Template {
	if t.Description == "" {
		t.Description = base.Description
	}
	if t.Category == "" {
		t.Category = base.Category
	}
	if t.Colors == nil {
		t.Colors = base.Colors
	}
	if t.Fonts == nil {
		t.Fonts = base.Fonts
	}
	if t.Style == nil {
		t.Style = base.Style
	}
	if t.Prompts == nil {
		t.Prompts = base.Prompts
	}
	if t.LogoURL == "" {
		t.LogoURL = base.LogoURL
	}
	return t
}
