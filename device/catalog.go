// Package device provides the static device preset catalog consumed by
// the view controller. The catalog ships embedded in the binary and has
// no mutation path - presets are read-only records describing simulated
// display configurations.
package device

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Orientation values for a preset.
const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// Preset describes one simulated device display configuration.
type Preset struct {
	ID          string  `yaml:"id"          json:"id"`
	Name        string  `yaml:"name"        json:"name"`
	Width       int     `yaml:"width"       json:"width"`
	Height      int     `yaml:"height"      json:"height"`
	Type        string  `yaml:"type"        json:"type"`
	Orientation string  `yaml:"orientation" json:"orientation"`
	PixelRatio  float64 `yaml:"pixel_ratio" json:"pixelRatio"`
	Category    string  `yaml:"category"    json:"category"`
}

// Validate checks the preset for usable dimensions.
func (p Preset) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("preset id cannot be empty")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("preset %s: dimensions must be positive, got %dx%d", p.ID, p.Width, p.Height)
	}
	if p.PixelRatio <= 0 {
		return fmt.Errorf("preset %s: pixel ratio must be positive, got %v", p.ID, p.PixelRatio)
	}
	return nil
}

// Rotated returns a copy of the preset with width and height swapped and
// the orientation flipped. The catalog entry itself is never mutated.
func (p Preset) Rotated() Preset {
	p.Width, p.Height = p.Height, p.Width
	if p.Orientation == OrientationPortrait {
		p.Orientation = OrientationLandscape
	} else {
		p.Orientation = OrientationPortrait
	}
	return p
}

//go:embed presets.yaml
var presetsYAML []byte

type catalogFile struct {
	Presets []Preset `yaml:"presets"`
}

var (
	presets []Preset
	byID    map[string]Preset
)

func init() {
	var file catalogFile
	if err := yaml.Unmarshal(presetsYAML, &file); err != nil {
		panic(fmt.Sprintf("device: embedded catalog corrupt: %v", err))
	}

	byID = make(map[string]Preset, len(file.Presets))
	for _, p := range file.Presets {
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("device: embedded catalog invalid: %v", err))
		}
		if _, dup := byID[p.ID]; dup {
			panic(fmt.Sprintf("device: duplicate preset id %s", p.ID))
		}
		byID[p.ID] = p
	}
	presets = file.Presets
}

// defaultPresetID is the preset returned by Default. Preview sessions
// start on a standard desktop viewport.
const defaultPresetID = "desktop-1080p"

// Catalog returns all presets in catalog order. The returned slice is a
// defensive copy; callers may reorder it freely.
func Catalog() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// Get returns the preset with the given id.
func Get(id string) (Preset, bool) {
	p, ok := byID[id]
	return p, ok
}

// ByCategory returns all presets in the given category, in catalog order.
func ByCategory(category string) []Preset {
	var out []Preset
	for _, p := range presets {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Default returns the preset a new preview session starts with.
func Default() Preset {
	return byID[defaultPresetID]
}
