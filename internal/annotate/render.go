package annotate

import (
	"image"
	"math"

	"github.com/bryanchriswhite/snapmark/internal/geometry"
)

// Render replays strokes onto dst in order. dst is modified in place.
func Render(dst *image.RGBA, strokes []Stroke) {
	for i := range strokes {
		renderStroke(dst, &strokes[i])
	}
}

// renderStroke builds the stroke's coverage mask first so overlapping
// segments of one stroke never double-blend, then composites it once.
func renderStroke(dst *image.RGBA, s *Stroke) {
	if len(s.Points) == 0 {
		return
	}
	halfW := s.Style.LineWidth / 2
	if halfW < 0.75 {
		halfW = 0.75
	}

	area := strokeBounds(s.Points, halfW).Intersect(dst.Bounds())
	if area.Empty() {
		return
	}
	mask := newCoverage(area)

	if len(s.Points) == 1 {
		mask.addSegment(s.Points[0], s.Points[0], halfW)
	}
	for i := 1; i < len(s.Points); i++ {
		mask.addSegment(s.Points[i-1], s.Points[i], halfW)
	}

	switch s.Style.Tool {
	case Eraser:
		mask.erase(dst, s.Style.Opacity)
	default:
		mask.paint(dst, s.Style)
	}
}

func strokeBounds(pts []geometry.Point, halfW float64) image.Rectangle {
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	margin := halfW + 1
	return image.Rect(
		int(math.Floor(minX-margin)),
		int(math.Floor(minY-margin)),
		int(math.Ceil(maxX+margin))+1,
		int(math.Ceil(maxY+margin))+1,
	)
}

// coverage holds per-pixel stroke coverage in [0,1] over a clipped area.
type coverage struct {
	area image.Rectangle
	vals []float64
}

func newCoverage(area image.Rectangle) *coverage {
	return &coverage{area: area, vals: make([]float64, area.Dx()*area.Dy())}
}

// addSegment records the anti-aliased coverage of a round-capped segment,
// keeping the maximum where segments overlap. Pixel (x,y) is sampled at (x,y).
func (c *coverage) addSegment(a, b geometry.Point, halfW float64) {
	box := strokeBounds([]geometry.Point{a, b}, halfW).Intersect(c.area)
	if box.Empty() {
		return
	}

	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	var ux, uy float64
	if length >= 0.5 {
		ux, uy = dx/length, dy/length
	}

	for py := box.Min.Y; py < box.Max.Y; py++ {
		for px := box.Min.X; px < box.Max.X; px++ {
			vx, vy := float64(px)-a.X, float64(py)-a.Y

			var dist float64
			switch along := vx*ux + vy*uy; {
			case length < 0.5 || along <= 0:
				dist = math.Hypot(vx, vy)
			case along >= length:
				dist = math.Hypot(float64(px)-b.X, float64(py)-b.Y)
			default:
				dist = math.Abs(vx*-uy + vy*ux)
			}

			v := pixelCoverage(dist, halfW)
			if v <= 0 {
				continue
			}
			i := (py-c.area.Min.Y)*c.area.Dx() + (px - c.area.Min.X)
			if v > c.vals[i] {
				c.vals[i] = v
			}
		}
	}
}

// pixelCoverage is 1 inside the core of the line, fading linearly to 0 over
// the last pixel of the edge.
func pixelCoverage(dist, halfW float64) float64 {
	if dist <= halfW-0.5 {
		return 1
	}
	if dist >= halfW+0.5 {
		return 0
	}
	return halfW + 0.5 - dist
}

// paint composites the stroke colour source-over, premultiplied.
func (c *coverage) paint(dst *image.RGBA, style Style) {
	base := style.Opacity * float64(style.Color.A) / 255
	if base <= 0 {
		return
	}
	r, g, b := float64(style.Color.R), float64(style.Color.G), float64(style.Color.B)

	c.each(dst, func(pix []uint8, cov float64) {
		a := cov * base
		inv := 1 - a
		pix[0] = clamp8(r*a + float64(pix[0])*inv)
		pix[1] = clamp8(g*a + float64(pix[1])*inv)
		pix[2] = clamp8(b*a + float64(pix[2])*inv)
		pix[3] = clamp8(255*a + float64(pix[3])*inv)
	})
}

// erase scales every channel toward transparent (destination-out).
func (c *coverage) erase(dst *image.RGBA, opacity float64) {
	if opacity <= 0 {
		return
	}
	c.each(dst, func(pix []uint8, cov float64) {
		keep := 1 - cov*opacity
		for k := 0; k < 4; k++ {
			pix[k] = clamp8(float64(pix[k]) * keep)
		}
	})
}

func (c *coverage) each(dst *image.RGBA, fn func(pix []uint8, cov float64)) {
	w := c.area.Dx()
	for py := c.area.Min.Y; py < c.area.Max.Y; py++ {
		row := (py - c.area.Min.Y) * w
		for px := c.area.Min.X; px < c.area.Max.X; px++ {
			cov := c.vals[row+px-c.area.Min.X]
			if cov <= 0 {
				continue
			}
			off := dst.PixOffset(px, py)
			fn(dst.Pix[off:off+4:off+4], cov)
		}
	}
}

func clamp8(v float64) uint8 {
	v = math.Floor(v + 0.5)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
