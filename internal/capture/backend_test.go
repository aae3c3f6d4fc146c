package capture

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/snapmark/internal/portal"
)

func TestBGRXToRGBA(t *testing.T) {
	data := []byte{
		0x10, 0x20, 0x30, 0x00, // blue, green, red, pad
		0xff, 0x00, 0x00, 0x00,
	}
	img := bgrxToRGBA(data, 2, 1)
	if got := img.RGBAAt(0, 0); got.R != 0x30 || got.G != 0x20 || got.B != 0x10 || got.A != 0xff {
		t.Fatalf("pixel 0 = %+v", got)
	}
	if got := img.RGBAAt(1, 0); got.B != 0xff || got.R != 0 {
		t.Fatalf("pixel 1 = %+v", got)
	}
}

func TestBGRXToRGBAShortData(t *testing.T) {
	img := bgrxToRGBA([]byte{1, 2, 3, 4, 5}, 2, 2)
	if got := img.RGBAAt(0, 0); got.R != 3 || got.A != 0xff {
		t.Fatalf("pixel 0 = %+v", got)
	}
	if got := img.RGBAAt(1, 1); got.A != 0 {
		t.Fatalf("missing data should stay transparent, got %+v", got)
	}
}

func TestScreenshotURI(t *testing.T) {
	ok := []interface{}{uint32(0), map[string]dbus.Variant{"uri": dbus.MakeVariant("file:///tmp/Screenshot.png")}}
	uri, err := screenshotURI(portal.ParseResponse(ok))
	if err != nil || uri != "file:///tmp/Screenshot.png" {
		t.Fatalf("screenshotURI = %q, %v", uri, err)
	}

	denied := []interface{}{uint32(1), map[string]dbus.Variant{}}
	if _, err := screenshotURI(portal.ParseResponse(denied)); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}

	failed := []interface{}{uint32(2), map[string]dbus.Variant{}}
	if _, err := screenshotURI(portal.ParseResponse(failed)); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for a failed request, got %v", err)
	}

	if _, err := screenshotURI(portal.ParseResponse([]interface{}{uint32(0)})); err == nil {
		t.Fatalf("expected error for short body")
	}

	if _, err := screenshotURI(map[string]dbus.Variant{}, nil); err == nil {
		t.Fatalf("expected error for a response without uri")
	}

	busErr := errors.New("bus gone")
	if _, err := screenshotURI(nil, busErr); !errors.Is(err, busErr) || errors.Is(err, ErrDenied) {
		t.Fatalf("transport errors should pass through, got %v", err)
	}
}

func TestFilterWindows(t *testing.T) {
	in := []Window{{ID: 1, Width: 10, Height: 100}, {ID: 2, Width: 100, Height: 100}}
	out := FilterWindows(in, DefaultMinWindowSize)
	if len(out) != 1 || out[0].ID != 2 {
		t.Fatalf("FilterWindows = %+v", out)
	}
}
