package annotate

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/bryanchriswhite/snapmark/internal/geometry"
	"github.com/bryanchriswhite/snapmark/internal/raster"
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.RGBA{R: 255, A: 255}
	black = color.RGBA{A: 255}
)

func solidBase(t *testing.T, w, h int, c color.RGBA) *raster.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	out, err := raster.FromImage(img)
	if err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	return out
}

func newSurface(t *testing.T, w, h int) *Surface {
	t.Helper()
	s, err := NewSurface(w, h)
	if err != nil {
		t.Fatalf("NewSurface: %v", err)
	}
	return s
}

func draw(t *testing.T, s *Surface, style Style, pts ...geometry.Point) {
	t.Helper()
	display := s.Size()
	if err := s.BeginStroke(pts[0], display, style); err != nil {
		t.Fatalf("BeginStroke: %v", err)
	}
	for _, p := range pts[1:] {
		if err := s.ExtendStroke(p, display); err != nil {
			t.Fatalf("ExtendStroke: %v", err)
		}
	}
	s.EndStroke()
}

func flatten(t *testing.T, s *Surface, base *raster.Image) *image.RGBA {
	t.Helper()
	out, err := s.Flatten(base)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	rgba, err := out.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return rgba
}

func TestPenBlendsHalfOpacityOverWhite(t *testing.T) {
	base := solidBase(t, 100, 100, white)
	s := newSurface(t, 100, 100)
	draw(t, s, Style{Tool: Pen, Color: red, Opacity: 0.5, LineWidth: 5},
		geometry.Point{X: 10, Y: 10}, geometry.Point{X: 50, Y: 10})

	img := flatten(t, s, base)

	got := img.RGBAAt(30, 10)
	if got.R != 255 || got.A != 255 {
		t.Fatalf("pixel (30,10) = %+v, want full red and alpha", got)
	}
	if got.G < 127 || got.G > 128 || got.B < 127 || got.B > 128 {
		t.Fatalf("pixel (30,10) = %+v, want G and B at half intensity", got)
	}

	// Bounding box of the path grown by half the line width.
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			inside := float64(x) > 7.5 && float64(x) < 52.5 && float64(y) > 7.5 && float64(y) < 12.5
			if inside {
				continue
			}
			if c := img.RGBAAt(x, y); c != white {
				t.Fatalf("pixel (%d,%d) outside stroke = %+v, want white", x, y, c)
			}
		}
	}
}

func TestEraserRemovesEarlierPen(t *testing.T) {
	base := solidBase(t, 40, 40, white)
	s := newSurface(t, 40, 40)
	path := []geometry.Point{{X: 5, Y: 20}, {X: 35, Y: 20}}

	draw(t, s, Style{Tool: Pen, Color: black, Opacity: 1, LineWidth: 5}, path...)
	draw(t, s, Style{Tool: Eraser, Color: red, Opacity: 1, LineWidth: 7}, path...)

	img := flatten(t, s, base)
	for x := 5; x <= 35; x++ {
		for y := 18; y <= 22; y++ {
			if c := img.RGBAAt(x, y); c.A != 0 {
				t.Fatalf("pixel (%d,%d) = %+v, want erased", x, y, c)
			}
		}
	}
	if c := img.RGBAAt(20, 2); c != white {
		t.Fatalf("pixel away from eraser = %+v, want white", c)
	}
}

func TestPenAfterEraserPaintsInCommitOrder(t *testing.T) {
	base := solidBase(t, 30, 30, white)
	s := newSurface(t, 30, 30)
	path := []geometry.Point{{X: 5, Y: 15}, {X: 25, Y: 15}}

	draw(t, s, Style{Tool: Eraser, Opacity: 1, LineWidth: 9}, path...)
	draw(t, s, Style{Tool: Pen, Color: red, Opacity: 1, LineWidth: 3}, path...)

	img := flatten(t, s, base)
	if c := img.RGBAAt(15, 15); c != red {
		t.Fatalf("pixel on pen path = %+v, want red", c)
	}
	if c := img.RGBAAt(15, 19); c.A != 0 {
		t.Fatalf("erased pixel off pen path = %+v, want transparent", c)
	}
}

func TestFlattenIsIdempotent(t *testing.T) {
	base := solidBase(t, 64, 48, color.RGBA{R: 20, G: 40, B: 60, A: 255})
	s := newSurface(t, 64, 48)
	draw(t, s, Style{Tool: Pen, Color: red, Opacity: 0.3, LineWidth: 4},
		geometry.Point{X: 1, Y: 1}, geometry.Point{X: 60, Y: 40}, geometry.Point{X: 3, Y: 44})
	draw(t, s, Style{Tool: Eraser, Opacity: 0.6, LineWidth: 6},
		geometry.Point{X: 30, Y: 2}, geometry.Point{X: 30, Y: 46})

	first, err := s.Flatten(base)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	second, err := s.Flatten(base)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("flattening twice produced different bytes")
	}
}

func TestClearThenFlattenMatchesUntouchedSurface(t *testing.T) {
	base := solidBase(t, 32, 32, color.RGBA{R: 9, G: 99, B: 199, A: 255})

	fresh := newSurface(t, 32, 32)
	want, err := fresh.Flatten(base)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}

	s := newSurface(t, 32, 32)
	draw(t, s, Style{Tool: Pen, Color: red, Opacity: 1, LineWidth: 3},
		geometry.Point{X: 0, Y: 0}, geometry.Point{X: 31, Y: 31})
	if err := s.BeginStroke(geometry.Point{X: 4, Y: 4}, s.Size(), Style{Tool: Pen, Color: red, Opacity: 1, LineWidth: 2}); err != nil {
		t.Fatalf("BeginStroke: %v", err)
	}
	s.Clear()
	if s.Drawing() {
		t.Fatalf("Clear should end the stroke in progress")
	}

	got, err := s.Flatten(base)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if !bytes.Equal(want.Bytes(), got.Bytes()) {
		t.Fatalf("clear-then-flatten differs from an untouched surface")
	}
}

func TestFlattenIgnoresStrokeInProgress(t *testing.T) {
	base := solidBase(t, 20, 20, white)
	s := newSurface(t, 20, 20)
	if err := s.BeginStroke(geometry.Point{X: 10, Y: 10}, s.Size(), Style{Tool: Pen, Color: black, Opacity: 1, LineWidth: 4}); err != nil {
		t.Fatalf("BeginStroke: %v", err)
	}
	img := flatten(t, s, base)
	if c := img.RGBAAt(10, 10); c != white {
		t.Fatalf("uncommitted stroke leaked into flatten: %+v", c)
	}

	s.EndStroke()
	img = flatten(t, s, base)
	if c := img.RGBAAt(10, 10); c != black {
		t.Fatalf("committed single-point stroke should draw a dot, got %+v", c)
	}
}

func TestFlattenSizeMismatch(t *testing.T) {
	s := newSurface(t, 10, 10)
	_, err := s.Flatten(solidBase(t, 11, 10, white))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestPointsMappedFromDisplaySpace(t *testing.T) {
	s := newSurface(t, 200, 100)
	style := Style{Tool: Pen, Color: red, Opacity: 1, LineWidth: 1}
	if err := s.BeginStroke(geometry.Point{X: 10, Y: 10}, geometry.Size{Width: 100, Height: 50}, style); err != nil {
		t.Fatalf("BeginStroke: %v", err)
	}
	// The element was resized between events.
	if err := s.ExtendStroke(geometry.Point{X: 10, Y: 10}, geometry.Size{Width: 400, Height: 200}); err != nil {
		t.Fatalf("ExtendStroke: %v", err)
	}
	s.EndStroke()

	strokes := s.Strokes()
	if len(strokes) != 1 {
		t.Fatalf("got %d strokes, want 1", len(strokes))
	}
	want := []geometry.Point{{X: 20, Y: 20}, {X: 5, Y: 5}}
	for i, p := range strokes[0].Points {
		if p != want[i] {
			t.Fatalf("point %d = %+v, want %+v", i, p, want[i])
		}
	}

	err := s.ExtendStroke(geometry.Point{}, geometry.Size{Width: 0, Height: 1})
	if !errors.Is(err, geometry.ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate for zero display size, got %v", err)
	}
}

func TestExtendWithoutBegin(t *testing.T) {
	s := newSurface(t, 10, 10)
	if err := s.ExtendStroke(geometry.Point{X: 1, Y: 1}, s.Size()); !errors.Is(err, ErrNoActiveStroke) {
		t.Fatalf("expected ErrNoActiveStroke, got %v", err)
	}
}

func TestBeginCommitsPreviousStroke(t *testing.T) {
	s := newSurface(t, 10, 10)
	style := Style{Tool: Pen, Color: red, Opacity: 1, LineWidth: 1}
	if err := s.BeginStroke(geometry.Point{X: 1, Y: 1}, s.Size(), style); err != nil {
		t.Fatalf("BeginStroke: %v", err)
	}
	if err := s.BeginStroke(geometry.Point{X: 2, Y: 2}, s.Size(), style); err != nil {
		t.Fatalf("BeginStroke: %v", err)
	}
	s.EndStroke()
	if n := len(s.Strokes()); n != 2 {
		t.Fatalf("got %d strokes, want 2", n)
	}
}

func TestStyleValidation(t *testing.T) {
	s := newSurface(t, 10, 10)
	bad := []Style{
		{Tool: Pen, Opacity: 1.2, LineWidth: 2},
		{Tool: Pen, Opacity: -0.1, LineWidth: 2},
		{Tool: Pen, Opacity: 1, LineWidth: 0.5},
	}
	for _, st := range bad {
		if err := s.BeginStroke(geometry.Point{}, s.Size(), st); !errors.Is(err, ErrInvalidStyle) {
			t.Fatalf("style %+v: expected ErrInvalidStyle, got %v", st, err)
		}
	}
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#ff0000")
	if err != nil || c != red {
		t.Fatalf("ParseHexColor(#ff0000) = %+v, %v", c, err)
	}
	c, err = ParseHexColor("00ff0080")
	if err != nil || c != (color.RGBA{G: 255, A: 0x80}) {
		t.Fatalf("ParseHexColor(00ff0080) = %+v, %v", c, err)
	}
	if _, err := ParseHexColor("#12"); !errors.Is(err, ErrInvalidStyle) {
		t.Fatalf("expected ErrInvalidStyle, got %v", err)
	}
	if HexColor(red) != "#ff0000" {
		t.Fatalf("HexColor(red) = %s", HexColor(red))
	}
}
