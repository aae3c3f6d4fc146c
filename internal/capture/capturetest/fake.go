// Package capturetest provides an in-memory capture backend for tests.
package capturetest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/bryanchriswhite/snapmark/internal/capture"
)

// Backend serves solid-colour PNGs for configured monitors and windows.
// Setting Gate makes every capture block until a value is received on it.
// Paint, when set, draws monitor captures instead of the solid fill.
// EnumErr fails enumeration; Err fails captures.
type Backend struct {
	mu       sync.Mutex
	Monitors []capture.Monitor
	Windows  []capture.Window
	Fill     color.RGBA
	Paint    func(w, h int) *image.RGBA
	Err      error
	EnumErr  error
	Gate     chan struct{}
	Cursor   image.Point
	Captures int
}

// New returns a backend with the given monitors and an opaque grey fill.
func New(monitors ...capture.Monitor) *Backend {
	return &Backend{
		Monitors: monitors,
		Fill:     color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	}
}

// Name returns the backend name
func (b *Backend) Name() string { return "fake" }

// SetMonitors replaces the monitor list.
func (b *Backend) SetMonitors(m ...capture.Monitor) {
	b.mu.Lock()
	b.Monitors = m
	b.mu.Unlock()
}

// SetWindows replaces the window list.
func (b *Backend) SetWindows(w ...capture.Window) {
	b.mu.Lock()
	b.Windows = w
	b.mu.Unlock()
}

// SetErr makes subsequent captures fail with err.
func (b *Backend) SetErr(err error) {
	b.mu.Lock()
	b.Err = err
	b.mu.Unlock()
}

// SetEnumErr makes subsequent enumerations fail with err.
func (b *Backend) SetEnumErr(err error) {
	b.mu.Lock()
	b.EnumErr = err
	b.mu.Unlock()
}

// CaptureCount returns how many captures have completed.
func (b *Backend) CaptureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Captures
}

func (b *Backend) EnumerateMonitors(ctx context.Context) ([]capture.Monitor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EnumErr != nil {
		return nil, b.EnumErr
	}
	return append([]capture.Monitor(nil), b.Monitors...), nil
}

func (b *Backend) EnumerateWindows(ctx context.Context) ([]capture.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EnumErr != nil {
		return nil, b.EnumErr
	}
	return append([]capture.Window(nil), b.Windows...), nil
}

func (b *Backend) CaptureScreen(ctx context.Context, monitorID uint32) ([]byte, error) {
	img, err := b.GrabMonitor(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	return encode(img)
}

func (b *Backend) GrabMonitor(ctx context.Context, monitorID uint32) (*image.RGBA, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	m, err := capture.ResolveMonitor(b.Monitors, monitorID)
	if err != nil {
		return nil, err
	}
	b.Captures++
	if b.Paint != nil {
		return b.Paint(m.Width, m.Height), nil
	}
	return Solid(m.Width, m.Height, b.Fill), nil
}

func (b *Backend) CaptureWindow(ctx context.Context, windowID uint32) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	for _, w := range b.Windows {
		if w.ID == windowID {
			b.Captures++
			return encode(Solid(w.Width, w.Height, b.Fill))
		}
	}
	return nil, fmt.Errorf("window %d: %w", windowID, capture.ErrNoSource)
}

func (b *Backend) CursorPosition(ctx context.Context) (image.Point, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Cursor, nil
}

func (b *Backend) wait(ctx context.Context) error {
	b.mu.Lock()
	gate := b.Gate
	b.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
