package geometry

import (
	"errors"
	"image"
	"math"
	"testing"
)

func TestToNativeRectScalesEachAxis(t *testing.T) {
	got, err := ToNativeRect(
		Rect{X: 100, Y: 50, Width: 400, Height: 300},
		Size{Width: 960, Height: 540},
		Size{Width: 1920, Height: 1080},
	)
	if err != nil {
		t.Fatalf("ToNativeRect: %v", err)
	}
	want := Rect{X: 200, Y: 100, Width: 800, Height: 600}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if px := got.Pixels(); px != image.Rect(200, 100, 1000, 700) {
		t.Fatalf("Pixels() = %v", px)
	}
}

func TestToNativeRectIndependentScale(t *testing.T) {
	got, err := ToNativeRect(
		Rect{X: 10, Y: 10, Width: 10, Height: 10},
		Size{Width: 100, Height: 100},
		Size{Width: 200, Height: 50},
	)
	if err != nil {
		t.Fatalf("ToNativeRect: %v", err)
	}
	want := Rect{X: 20, Y: 5, Width: 20, Height: 5}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestIdentityIsExact(t *testing.T) {
	size := Size{Width: 1366, Height: 768}
	rects := []Rect{
		{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.7},
		{X: 1 / 3.0, Y: 2 / 3.0, Width: 100.123456789, Height: 7.77},
		{X: 1365.999, Y: 767.5, Width: 0, Height: 0},
	}
	for _, r := range rects {
		got, err := ToNativeRect(r, size, size)
		if err != nil {
			t.Fatalf("ToNativeRect(%+v): %v", r, err)
		}
		if got != r {
			t.Fatalf("identity mapping changed %+v into %+v", r, got)
		}
		p, err := ToNativePoint(Point{X: r.X, Y: r.Y}, size, size)
		if err != nil {
			t.Fatalf("ToNativePoint: %v", err)
		}
		if p.X != r.X || p.Y != r.Y {
			t.Fatalf("identity point mapping changed (%v,%v) into %+v", r.X, r.Y, p)
		}
	}
}

func TestRoundTripWithinOneUnit(t *testing.T) {
	cases := []struct {
		display, native Size
		r               Rect
	}{
		{Size{960, 540}, Size{1920, 1080}, Rect{100, 50, 400, 300}},
		{Size{1280, 720}, Size{3840, 2160}, Rect{13.3, 7.7, 211.1, 99.9}},
		{Size{333, 777}, Size{1000, 1000}, Rect{1, 2, 3, 4}},
		{Size{2560, 1440}, Size{1280, 720}, Rect{0, 0, 2560, 1440}},
	}
	for _, c := range cases {
		n, err := ToNativeRect(c.r, c.display, c.native)
		if err != nil {
			t.Fatalf("ToNativeRect: %v", err)
		}
		back, err := ToDisplayRect(n, c.display, c.native)
		if err != nil {
			t.Fatalf("ToDisplayRect: %v", err)
		}
		for _, d := range []float64{
			back.X - c.r.X, back.Y - c.r.Y,
			back.Width - c.r.Width, back.Height - c.r.Height,
		} {
			if math.Abs(d) > 1 {
				t.Fatalf("round trip of %+v drifted to %+v", c.r, back)
			}
		}
	}
}

func TestZeroDisplaySizeIsGeometryError(t *testing.T) {
	_, err := ToNativeRect(Rect{Width: 1, Height: 1}, Size{Width: 0, Height: 10}, Size{Width: 10, Height: 10})
	if !errors.Is(err, ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate, got %v", err)
	}
	_, err = ToNativePoint(Point{}, Size{Width: 10, Height: 0}, Size{Width: 10, Height: 10})
	if !errors.Is(err, ErrDegenerate) {
		t.Fatalf("expected ErrDegenerate, got %v", err)
	}
}

func TestNegativeRectRejected(t *testing.T) {
	_, err := ToNativeRect(Rect{Width: -1, Height: 5}, Size{10, 10}, Size{20, 20})
	if !errors.Is(err, ErrNegativeSize) {
		t.Fatalf("expected ErrNegativeSize, got %v", err)
	}
}

func TestPixelsRoundHalfUp(t *testing.T) {
	tests := []struct {
		r    Rect
		want image.Rectangle
	}{
		{Rect{X: 0.5, Y: 0.49, Width: 1, Height: 1}, image.Rect(1, 0, 2, 1)},
		{Rect{X: 2.5, Y: 2.5, Width: 0.5, Height: 0.4}, image.Rect(3, 3, 3, 3)},
		{Rect{X: 9.4999, Y: 0, Width: 10.0002, Height: 3}, image.Rect(9, 0, 20, 3)},
	}
	for _, tt := range tests {
		got := tt.r.Pixels()
		if got != tt.want {
			t.Fatalf("%+v.Pixels() = %v, want %v", tt.r, got, tt.want)
		}
		if again := tt.r.Pixels(); again != got {
			t.Fatalf("Pixels not idempotent: %v then %v", got, again)
		}
	}
}

func TestRectFromPointsNormalizes(t *testing.T) {
	got := RectFromPoints(Point{X: 50, Y: 40}, Point{X: 10, Y: 90})
	want := Rect{X: 10, Y: 40, Width: 40, Height: 50}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.Empty() {
		t.Fatalf("non-empty rect reported empty")
	}
	if !(Rect{Width: 0, Height: 5}).Empty() {
		t.Fatalf("zero-width rect should be empty")
	}
}
