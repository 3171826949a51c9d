package fastsdxl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Preset is a named output resolution.
type Preset string

// Presets accepted by the API
const (
	SquareHD      Preset = "square_hd"
	Square        Preset = "square"
	Portrait4x3   Preset = "portrait_4_3"
	Portrait16x9  Preset = "portrait_16_9"
	Landscape4x3  Preset = "landscape_4_3"
	Landscape16x9 Preset = "landscape_16_9"
)

// Valid reports whether p is a known preset.
func (p Preset) Valid() bool {
	switch p {
	case SquareHD, Square, Portrait4x3, Portrait16x9, Landscape4x3, Landscape16x9:
		return true
	default:
		return false
	}
}

// Default custom dimensions
const (
	DefaultWidth  = 512
	DefaultHeight = 512
)

type sizeKind uint8

const (
	sizeNone sizeKind = iota
	sizePreset
	sizeCustom
)

// ImageSize is either a Preset or explicit dimensions. On the wire a preset
// is a string and custom dimensions are {"width","height"}.
type ImageSize struct {
	kind   sizeKind
	preset Preset
	width  int
	height int
}

type customSize struct {
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
}

// PresetSize returns an ImageSize naming a preset.
func PresetSize(p Preset) ImageSize {
	return ImageSize{kind: sizePreset, preset: p}
}

// CustomSize returns an ImageSize with explicit dimensions.
func CustomSize(width, height int) ImageSize {
	return ImageSize{kind: sizeCustom, width: width, height: height}
}

// Preset returns the preset and true when s holds one.
func (s ImageSize) Preset() (Preset, bool) {
	return s.preset, s.kind == sizePreset
}

// Dimensions returns width and height and true when s holds custom dimensions.
func (s ImageSize) Dimensions() (width, height int, ok bool) {
	return s.width, s.height, s.kind == sizeCustom
}

// MarshalJSON encodes the active variant.
func (s ImageSize) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case sizePreset:
		if !s.preset.Valid() {
			return nil, fmt.Errorf("unknown image size preset %q", s.preset)
		}
		return json.Marshal(string(s.preset))
	case sizeCustom:
		return json.Marshal(customSize{Width: &s.width, Height: &s.height})
	case sizeNone:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("invalid image size kind %d", s.kind)
	}
}

// UnmarshalJSON accepts a preset string or a dimensions object. Missing
// dimensions default to 512.
func (s *ImageSize) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return errors.New("empty image size")
	case bytes.Equal(data, []byte("null")):
		*s = ImageSize{}
		return nil
	case data[0] == '"':
		var p string
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		preset := Preset(p)
		if !preset.Valid() {
			return fmt.Errorf("unknown image size preset %q", p)
		}
		*s = PresetSize(preset)
		return nil
	case data[0] == '{':
		var c customSize
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		w, h := DefaultWidth, DefaultHeight
		if c.Width != nil {
			w = *c.Width
		}
		if c.Height != nil {
			h = *c.Height
		}
		*s = CustomSize(w, h)
		return nil
	default:
		return fmt.Errorf("image size must be a string or an object, got %s", data)
	}
}

func (s ImageSize) String() string {
	switch s.kind {
	case sizePreset:
		return string(s.preset)
	case sizeCustom:
		return fmt.Sprintf("%dx%d", s.width, s.height)
	default:
		return "<unset>"
	}
}
