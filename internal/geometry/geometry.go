// Package geometry maps points and rectangles between the display space a
// user interacts with and the native pixel space of a captured image.
//
// Horizontal and vertical scale factors are independent (native/display per
// axis). Integer pixel rectangles are produced with round-half-up on both
// edges, so mapping the same input always yields the same pixels.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrDegenerate is returned when a coordinate space has zero (or negative) width or height.
	ErrDegenerate = errors.New("degenerate coordinate space")
	// ErrNegativeSize is returned for rectangles with a negative width or height.
	ErrNegativeSize = errors.New("rectangle has negative size")
)

// Point is a position with sub-pixel precision.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the extent of a coordinate space.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SizeOf returns the size of an integer pixel extent.
func SizeOf(width, height int) Size {
	return Size{Width: float64(width), Height: float64(height)}
}

// RectFromPoints returns the normalized rectangle spanned by two corners,
// as produced by a drag in any direction.
func RectFromPoints(a, b Point) Rect {
	x0, x1 := math.Min(a.X, b.X), math.Max(a.X, b.X)
	y0, y1 := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Empty reports whether the rectangle covers no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Validate rejects a negative width or height.
func (r Rect) Validate() error {
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("%w: %gx%g", ErrNegativeSize, r.Width, r.Height)
	}
	return nil
}

// Pixels converts the rectangle to integer pixel edges using round-half-up
// on the left/top and right/bottom edges independently.
func (r Rect) Pixels() image.Rectangle {
	return image.Rect(
		roundHalfUp(r.X),
		roundHalfUp(r.Y),
		roundHalfUp(r.X+r.Width),
		roundHalfUp(r.Y+r.Height),
	)
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func (s Size) degenerate() bool {
	return !(s.Width > 0) || !(s.Height > 0)
}

// scale returns the per-axis factors that take display coordinates to native ones.
func scale(display, native Size) (float64, float64, error) {
	if display.degenerate() {
		return 0, 0, fmt.Errorf("%w: display %gx%g", ErrDegenerate, display.Width, display.Height)
	}
	if native.degenerate() {
		return 0, 0, fmt.Errorf("%w: native %gx%g", ErrDegenerate, native.Width, native.Height)
	}
	return native.Width / display.Width, native.Height / display.Height, nil
}

// ToNativePoint maps a display-space point into native pixel space.
func ToNativePoint(p Point, display, native Size) (Point, error) {
	sx, sy, err := scale(display, native)
	if err != nil {
		return Point{}, err
	}
	if display == native {
		return p, nil
	}
	return Point{X: p.X * sx, Y: p.Y * sy}, nil
}

// ToNativeRect maps a display-space rectangle into native pixel space.
func ToNativeRect(r Rect, display, native Size) (Rect, error) {
	if err := r.Validate(); err != nil {
		return Rect{}, err
	}
	sx, sy, err := scale(display, native)
	if err != nil {
		return Rect{}, err
	}
	if display == native {
		return r, nil
	}
	return Rect{
		X:      r.X * sx,
		Y:      r.Y * sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}, nil
}

// ToDisplayPoint is the inverse of ToNativePoint.
func ToDisplayPoint(p Point, display, native Size) (Point, error) {
	return ToNativePoint(p, native, display)
}

// ToDisplayRect is the inverse of ToNativeRect.
func ToDisplayRect(r Rect, display, native Size) (Rect, error) {
	return ToNativeRect(r, native, display)
}
