// Package annotate implements the freehand annotation layer drawn over a
// captured image: an append-only stroke log that is replayed onto the base
// bitmap in a single flatten pass.
package annotate

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/bryanchriswhite/snapmark/internal/geometry"
)

var (
	// ErrSizeMismatch is returned by Flatten when the base image does not
	// match the surface dimensions.
	ErrSizeMismatch = errors.New("surface size does not match base image")
	// ErrNoActiveStroke is returned when extending a stroke that was never begun.
	ErrNoActiveStroke = errors.New("no stroke in progress")
	// ErrInvalidStyle is returned for out-of-range stroke attributes.
	ErrInvalidStyle = errors.New("invalid stroke style")
)

// Tool selects how a stroke composites.
type Tool int

const (
	// Pen alpha-blends the stroke colour over what is beneath it.
	Pen Tool = iota
	// Eraser removes everything beneath it, ignoring the stroke colour.
	Eraser
)

func (t Tool) String() string {
	switch t {
	case Pen:
		return "pen"
	case Eraser:
		return "eraser"
	default:
		return fmt.Sprintf("tool(%d)", int(t))
	}
}

// ParseTool accepts "pen" or "eraser".
func ParseTool(s string) (Tool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pen", "":
		return Pen, nil
	case "eraser":
		return Eraser, nil
	default:
		return Pen, fmt.Errorf("%w: unknown tool %q", ErrInvalidStyle, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tool) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tool) UnmarshalText(b []byte) error {
	v, err := ParseTool(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Style holds the attributes that stay constant for a whole stroke.
type Style struct {
	Tool      Tool       `json:"tool"`
	Color     color.RGBA `json:"-"`
	Opacity   float64    `json:"opacity"`
	LineWidth float64    `json:"line_width"`
}

// Validate checks opacity is in [0,1] and the line is at least one pixel wide.
func (s Style) Validate() error {
	if s.Opacity < 0 || s.Opacity > 1 {
		return fmt.Errorf("%w: opacity %g outside [0,1]", ErrInvalidStyle, s.Opacity)
	}
	if s.LineWidth < 1 {
		return fmt.Errorf("%w: line width %g below 1", ErrInvalidStyle, s.LineWidth)
	}
	return nil
}

type styleJSON struct {
	Tool      Tool    `json:"tool"`
	Color     string  `json:"color"`
	Opacity   float64 `json:"opacity"`
	LineWidth float64 `json:"line_width"`
}

// MarshalJSON writes the colour as a hex string.
func (s Style) MarshalJSON() ([]byte, error) {
	return json.Marshal(styleJSON{
		Tool:      s.Tool,
		Color:     HexColor(s.Color),
		Opacity:   s.Opacity,
		LineWidth: s.LineWidth,
	})
}

// UnmarshalJSON reads the colour from a hex string. A missing colour is opaque black.
func (s *Style) UnmarshalJSON(b []byte) error {
	var raw styleJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c := color.RGBA{A: 0xff}
	if raw.Color != "" {
		var err error
		if c, err = ParseHexColor(raw.Color); err != nil {
			return err
		}
	}
	*s = Style{Tool: raw.Tool, Color: c, Opacity: raw.Opacity, LineWidth: raw.LineWidth}
	return nil
}

// Stroke is an ordered run of native-space points drawn with one style.
type Stroke struct {
	Style  Style            `json:"style"`
	Points []geometry.Point `json:"points"`
}

func (s Stroke) clone() Stroke {
	pts := make([]geometry.Point, len(s.Points))
	copy(pts, s.Points)
	return Stroke{Style: s.Style, Points: pts}
}

// ParseHexColor reads "#rrggbb" or "#rrggbbaa" (leading '#' optional).
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return color.RGBA{}, fmt.Errorf("%w: colour %q", ErrInvalidStyle, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: colour %q: %v", ErrInvalidStyle, s, err)
	}
	c := color.RGBA{R: b[0], G: b[1], B: b[2], A: 0xff}
	if len(b) == 4 {
		c.A = b[3]
	}
	return c, nil
}

// HexColor formats c as "#rrggbb", appending alpha only when not opaque.
func HexColor(c color.RGBA) string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}
