package capture_test

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/bryanchriswhite/snapmark/internal/capture"
	"github.com/bryanchriswhite/snapmark/internal/capture/capturetest"
)

func TestResolveMonitorFallsBackToFirst(t *testing.T) {
	monitors := []capture.Monitor{
		{ID: 7, Width: 800, Height: 600},
		{ID: 9, Width: 1920, Height: 1080},
	}
	m, err := capture.ResolveMonitor(monitors, capture.PrimaryMonitor)
	if err != nil || m.ID != 7 {
		t.Fatalf("ResolveMonitor(primary) = %+v, %v; want first monitor", m, err)
	}

	monitors[1].Primary = true
	m, err = capture.ResolveMonitor(monitors, capture.PrimaryMonitor)
	if err != nil || m.ID != 9 {
		t.Fatalf("ResolveMonitor(primary) = %+v, %v; want primary monitor", m, err)
	}

	if _, err := capture.ResolveMonitor(monitors, 42); !errors.Is(err, capture.ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if _, err := capture.ResolveMonitor(nil, capture.PrimaryMonitor); !errors.Is(err, capture.ErrNoSource) {
		t.Fatalf("expected ErrNoSource for empty list, got %v", err)
	}
}

func TestMonitorAt(t *testing.T) {
	monitors := []capture.Monitor{
		{ID: 1, X: 0, Y: 0, Width: 1920, Height: 1080},
		{ID: 2, X: 1920, Y: 0, Width: 2560, Height: 1440},
	}
	m, ok := capture.MonitorAt(monitors, image.Pt(2000, 1200))
	if !ok || m.ID != 2 {
		t.Fatalf("MonitorAt = %+v, %v; want monitor 2", m, ok)
	}
	if _, ok := capture.MonitorAt(monitors, image.Pt(100, 1200)); ok {
		t.Fatalf("point below monitor 1 should not match")
	}
}

func TestRouterFiltersSmallWindows(t *testing.T) {
	fake := capturetest.New(capture.Monitor{ID: 1, Width: 100, Height: 100, Primary: true})
	fake.SetWindows(
		capture.Window{ID: 1, Title: "editor", Width: 800, Height: 600},
		capture.Window{ID: 2, Title: "tooltip", Width: 49, Height: 400},
		capture.Window{ID: 3, Title: "edge", Width: 50, Height: 50},
	)
	r := capture.NewRouterWith(capture.RouterOptions{}, fake, nil)

	windows, err := r.EnumerateWindows(context.Background())
	if err != nil {
		t.Fatalf("EnumerateWindows: %v", err)
	}
	if len(windows) != 2 || windows[0].ID != 1 || windows[1].ID != 3 {
		t.Fatalf("unexpected windows: %+v", windows)
	}
}

func TestRouterPrefersPortalForScreens(t *testing.T) {
	x11 := capturetest.New(capture.Monitor{ID: 1, Width: 10, Height: 10, Primary: true})
	portal := capturetest.New(capture.Monitor{ID: 1, Width: 20, Height: 20, Primary: true})
	portal.SetWindows()
	x11.SetWindows(capture.Window{ID: 5, Title: "term", Width: 60, Height: 60})

	r := capture.NewRouterWith(capture.RouterOptions{Preferred: capture.BackendAuto}, x11, portal)

	if _, err := r.CaptureScreen(context.Background(), capture.PrimaryMonitor); err != nil {
		t.Fatalf("CaptureScreen: %v", err)
	}
	if portal.CaptureCount() != 1 || x11.CaptureCount() != 0 {
		t.Fatalf("screen capture went to the wrong backend (portal=%d x11=%d)", portal.CaptureCount(), x11.CaptureCount())
	}

	if _, err := r.CaptureWindow(context.Background(), 5); err != nil {
		t.Fatalf("CaptureWindow: %v", err)
	}
	if x11.CaptureCount() != 1 {
		t.Fatalf("window capture should use X11")
	}

	forced := capture.NewRouterWith(capture.RouterOptions{Preferred: capture.BackendX11}, x11, portal)
	if _, err := forced.CaptureScreen(context.Background(), capture.PrimaryMonitor); err != nil {
		t.Fatalf("CaptureScreen: %v", err)
	}
	if x11.CaptureCount() != 2 {
		t.Fatalf("x11 preference was ignored")
	}
}

func TestRouterWithoutBackends(t *testing.T) {
	r := capture.NewRouterWith(capture.RouterOptions{}, nil, nil)
	if _, err := r.CaptureScreen(context.Background(), 0); !errors.Is(err, capture.ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
	if _, err := r.CursorPosition(context.Background()); !errors.Is(err, capture.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
