package capture

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrNoSource is returned when a monitor or window id does not exist.
	ErrNoSource = errors.New("capture source not found")
	// ErrUnsupported is returned when a backend cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by capture backend")
	// ErrDenied is returned when the platform refuses capture permission.
	ErrDenied = errors.New("capture permission denied")
	// ErrNoBackend is returned when no capture backend could be started.
	ErrNoBackend = errors.New("no capture backend available")
)

// DefaultMinWindowSize hides windows smaller than this in either dimension.
const DefaultMinWindowSize = 50

// PrimaryMonitor asks CaptureScreen for the primary monitor.
const PrimaryMonitor uint32 = 0

// Monitor describes a physical output in root-window coordinates.
type Monitor struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Primary bool   `json:"is_primary"`
}

// Bounds returns the monitor rectangle in root-window coordinates.
func (m Monitor) Bounds() image.Rectangle {
	return image.Rect(m.X, m.Y, m.X+m.Width, m.Y+m.Height)
}

// Window describes a top-level application window.
type Window struct {
	ID      uint32 `json:"id"`
	Title   string `json:"title"`
	AppName string `json:"app_name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Backend enumerates capture sources and captures them as PNG bytes at
// native resolution.
type Backend interface {
	// Name returns a human-readable name for this backend
	Name() string

	EnumerateMonitors(ctx context.Context) ([]Monitor, error)
	EnumerateWindows(ctx context.Context) ([]Window, error)

	// CaptureScreen captures one monitor. PrimaryMonitor selects the
	// primary monitor, or the first one when none is marked primary.
	CaptureScreen(ctx context.Context, monitorID uint32) ([]byte, error)
	CaptureWindow(ctx context.Context, windowID uint32) ([]byte, error)
}

// FrameGrabber is implemented by backends that can return raw frames
// without a PNG round trip. The live preview uses it when available.
type FrameGrabber interface {
	GrabMonitor(ctx context.Context, monitorID uint32) (*image.RGBA, error)
}

// CursorLocator reports the pointer position in root-window coordinates.
type CursorLocator interface {
	CursorPosition(ctx context.Context) (image.Point, error)
}

// ResolveMonitor picks the monitor for id. PrimaryMonitor falls back from
// the primary monitor to the first one.
func ResolveMonitor(monitors []Monitor, id uint32) (Monitor, error) {
	if len(monitors) == 0 {
		return Monitor{}, ErrNoSource
	}
	if id == PrimaryMonitor {
		for _, m := range monitors {
			if m.Primary {
				return m, nil
			}
		}
		return monitors[0], nil
	}
	for _, m := range monitors {
		if m.ID == id {
			return m, nil
		}
	}
	return Monitor{}, ErrNoSource
}

// MonitorAt returns the monitor containing p.
func MonitorAt(monitors []Monitor, p image.Point) (Monitor, bool) {
	for _, m := range monitors {
		if p.In(m.Bounds()) {
			return m, true
		}
	}
	return Monitor{}, false
}

// FilterWindows drops windows narrower or shorter than minSize.
func FilterWindows(windows []Window, minSize int) []Window {
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w.Width < minSize || w.Height < minSize {
			continue
		}
		out = append(out, w)
	}
	return out
}
