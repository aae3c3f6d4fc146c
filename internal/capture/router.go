package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/bryanchriswhite/snapmark/internal/logger"
)

// Backend names accepted by RouterOptions.Preferred.
const (
	BackendAuto   = "auto"
	BackendX11    = "x11"
	BackendPortal = "portal"
)

// RouterOptions configures backend selection.
type RouterOptions struct {
	Preferred     string
	MinWindowSize int
}

// closer is implemented by every concrete backend.
type closer interface {
	Close() error
}

// Router routes capture requests to the appropriate backend: window
// enumeration and capture always go to X11, screen capture goes to the
// portal on Wayland sessions (or when preferred) and to X11 otherwise.
type Router struct {
	opts    RouterOptions
	x11     Backend
	portal  Backend
	mu      sync.RWMutex
	started bool
}

// NewRouter creates a new capture router
func NewRouter(opts RouterOptions) *Router {
	if opts.Preferred == "" {
		opts.Preferred = BackendAuto
	}
	if opts.MinWindowSize <= 0 {
		opts.MinWindowSize = DefaultMinWindowSize
	}
	return &Router{opts: opts}
}

// NewRouterWith builds a started router over explicit backends. Either may be nil.
func NewRouterWith(opts RouterOptions, x11, portal Backend) *Router {
	r := NewRouter(opts)
	r.x11 = x11
	r.portal = portal
	r.started = true
	return r
}

// Start initializes the available backends
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	log := logger.WithComponent("capture-router")

	if r.opts.Preferred != BackendPortal {
		x11, err := NewX11Backend()
		if err != nil {
			log.Warn().Err(err).Msg("X11 backend not available")
		} else {
			r.x11 = x11
			log.Info().Msg("X11 backend initialized")
		}
	}

	if r.opts.Preferred == BackendPortal || (r.opts.Preferred == BackendAuto && isWaylandSession()) {
		portal, err := NewPortalBackend()
		if err != nil {
			log.Warn().Err(err).Msg("Portal backend not available")
		} else {
			r.portal = portal
			log.Info().Msg("Portal backend initialized")
		}
	}

	if r.x11 == nil && r.portal == nil {
		return ErrNoBackend
	}

	r.started = true
	return nil
}

// Stop closes all backends
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range []Backend{r.x11, r.portal} {
		if c, ok := b.(closer); ok {
			c.Close()
		}
	}
	r.x11 = nil
	r.portal = nil
	r.started = false
	return nil
}

func isWaylandSession() bool {
	return os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("XDG_SESSION_TYPE") == "wayland"
}

// Name returns the names of the active backends
func (r *Router) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.x11 != nil && r.portal != nil:
		return "x11+portal"
	case r.x11 != nil:
		return r.x11.Name()
	case r.portal != nil:
		return r.portal.Name()
	default:
		return "none"
	}
}

func (r *Router) backends() (x11, portal Backend) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.x11, r.portal
}

// screenBackend is the backend used for monitor enumeration and capture.
func (r *Router) screenBackend() (Backend, error) {
	x11, portal := r.backends()
	if portal != nil && (r.opts.Preferred == BackendPortal || x11 == nil || r.opts.Preferred == BackendAuto) {
		return portal, nil
	}
	if x11 != nil {
		return x11, nil
	}
	return nil, ErrNoBackend
}

// EnumerateMonitors lists monitors from the screen backend
func (r *Router) EnumerateMonitors(ctx context.Context) ([]Monitor, error) {
	b, err := r.screenBackend()
	if err != nil {
		return nil, err
	}
	return b.EnumerateMonitors(ctx)
}

// EnumerateWindows lists windows at least MinWindowSize in each dimension
func (r *Router) EnumerateWindows(ctx context.Context) ([]Window, error) {
	x11, portal := r.backends()
	b := x11
	if b == nil {
		b = portal
	}
	if b == nil {
		return nil, ErrNoBackend
	}
	windows, err := b.EnumerateWindows(ctx)
	if err != nil {
		return nil, err
	}
	filtered := FilterWindows(windows, r.opts.MinWindowSize)
	logger.WithComponent("capture-router").Debug().
		Int("total", len(windows)).
		Int("shown", len(filtered)).
		Int("min_size", r.opts.MinWindowSize).
		Msg("Filtered windows")
	return filtered, nil
}

// CaptureScreen captures a monitor through the screen backend
func (r *Router) CaptureScreen(ctx context.Context, monitorID uint32) ([]byte, error) {
	b, err := r.screenBackend()
	if err != nil {
		return nil, err
	}
	logger.WithComponent("capture-router").Debug().
		Str("backend", b.Name()).
		Uint32("monitor_id", monitorID).
		Msg("Capturing screen")
	return b.CaptureScreen(ctx, monitorID)
}

// CaptureWindow captures a window, preferring X11
func (r *Router) CaptureWindow(ctx context.Context, windowID uint32) ([]byte, error) {
	x11, portal := r.backends()
	if x11 != nil {
		return x11.CaptureWindow(ctx, windowID)
	}
	if portal != nil {
		return portal.CaptureWindow(ctx, windowID)
	}
	return nil, ErrNoBackend
}

// GrabMonitor returns a raw frame when the screen backend supports it.
func (r *Router) GrabMonitor(ctx context.Context, monitorID uint32) (*image.RGBA, error) {
	b, err := r.screenBackend()
	if err != nil {
		return nil, err
	}
	if g, ok := b.(FrameGrabber); ok {
		return g.GrabMonitor(ctx, monitorID)
	}
	return nil, fmt.Errorf("%s frame grab: %w", b.Name(), ErrUnsupported)
}

// CursorPosition queries the pointer through X11
func (r *Router) CursorPosition(ctx context.Context) (image.Point, error) {
	x11, _ := r.backends()
	if l, ok := x11.(CursorLocator); ok {
		return l.CursorPosition(ctx)
	}
	return image.Point{}, fmt.Errorf("cursor position: %w", ErrUnsupported)
}
