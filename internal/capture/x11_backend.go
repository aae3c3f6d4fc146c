package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/snapmark/internal/logger"
)

// X11Backend captures monitors and windows from an X11/XWayland server.
type X11Backend struct {
	conn             *xgb.Conn
	root             xproto.Window
	screen           *xproto.ScreenInfo
	randrEnabled     bool
	compositeEnabled bool
	atoms            map[string]xproto.Atom
	mu               sync.Mutex
}

// NewX11Backend connects to the X server named by $DISPLAY.
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	b := &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		atoms:  make(map[string]xproto.Atom),
	}

	log := logger.WithComponent("x11-backend")
	if err := randr.Init(conn); err != nil {
		log.Warn().Err(err).Msg("RandR extension not available - treating the root window as one monitor")
	} else {
		b.randrEnabled = true
	}
	if err := composite.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Composite extension not available - obscured windows may capture incorrectly")
	} else {
		b.compositeEnabled = true
	}

	return b, nil
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// EnumerateMonitors lists connected RandR outputs with an active CRTC.
func (b *X11Backend) EnumerateMonitors(ctx context.Context) ([]Monitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.monitorsLocked()
}

func (b *X11Backend) monitorsLocked() ([]Monitor, error) {
	fallback := []Monitor{{
		ID:      1,
		Name:    "screen",
		Width:   int(b.screen.WidthInPixels),
		Height:  int(b.screen.HeightInPixels),
		Primary: true,
	}}
	if !b.randrEnabled {
		return fallback, nil
	}

	log := logger.WithComponent("x11-backend")

	resources, err := randr.GetScreenResourcesCurrent(b.conn, b.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var primary randr.Output
	if reply, err := randr.GetOutputPrimary(b.conn, b.root).Reply(); err == nil {
		primary = reply.Output
	}

	monitors := make([]Monitor, 0, len(resources.Outputs))
	for _, output := range resources.Outputs {
		info, err := randr.GetOutputInfo(b.conn, output, resources.ConfigTimestamp).Reply()
		if err != nil {
			log.Debug().Err(err).Uint32("output", uint32(output)).Msg("Skipping output without info")
			continue
		}
		if info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}
		crtc, err := randr.GetCrtcInfo(b.conn, info.Crtc, resources.ConfigTimestamp).Reply()
		if err != nil || crtc.Width == 0 || crtc.Height == 0 {
			continue
		}
		monitors = append(monitors, Monitor{
			ID:      uint32(output),
			Name:    string(info.Name),
			X:       int(crtc.X),
			Y:       int(crtc.Y),
			Width:   int(crtc.Width),
			Height:  int(crtc.Height),
			Primary: output == primary,
		})
	}

	if len(monitors) == 0 {
		log.Debug().Msg("RandR reported no active outputs, using root window")
		return fallback, nil
	}
	return monitors, nil
}

// EnumerateWindows returns EWMH client windows that carry a title or class.
func (b *X11Backend) EnumerateWindows(ctx context.Context) ([]Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	log := logger.WithComponent("x11-backend")

	clientListAtom, err := b.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}

	reply, err := xproto.GetProperty(
		b.conn,
		false,
		b.root,
		clientListAtom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}

	windows := make([]Window, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		winID := xproto.Window(uint32(reply.Value[i]) |
			uint32(reply.Value[i+1])<<8 |
			uint32(reply.Value[i+2])<<16 |
			uint32(reply.Value[i+3])<<24)

		w, err := b.windowInfo(winID)
		if err != nil {
			log.Debug().Uint32("window_id", uint32(winID)).Err(err).Msg("Skipping window without info")
			continue
		}
		if w.Title == "" && w.AppName == "" {
			continue
		}
		windows = append(windows, w)
	}

	log.Debug().Int("count", len(windows)).Msg("Enumerated windows")
	return windows, nil
}

func (b *X11Backend) windowInfo(win xproto.Window) (Window, error) {
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return Window{}, fmt.Errorf("failed to get window geometry: %w", err)
	}
	w := Window{
		ID:     uint32(win),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}

	for _, name := range []string{"_NET_WM_NAME", "WM_NAME"} {
		if w.Title != "" {
			break
		}
		if atom, err := b.getAtom(name); err == nil {
			if title, err := b.getProperty(win, atom); err == nil {
				w.Title = title
			}
		}
	}

	// WM_CLASS is "instance\0class\0"
	if atom, err := b.getAtom("WM_CLASS"); err == nil {
		if raw, err := b.getProperty(win, atom); err == nil {
			parts := strings.Split(raw, "\x00")
			if len(parts) >= 2 && parts[1] != "" {
				w.AppName = parts[1]
			} else if parts[0] != "" {
				w.AppName = parts[0]
			}
		}
	}
	return w, nil
}

// CaptureScreen captures a monitor and encodes it as PNG.
func (b *X11Backend) CaptureScreen(ctx context.Context, monitorID uint32) ([]byte, error) {
	img, err := b.GrabMonitor(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	return encodePNG(img)
}

// GrabMonitor reads a monitor's pixels from the root window.
func (b *X11Backend) GrabMonitor(ctx context.Context, monitorID uint32) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	monitors, err := b.monitorsLocked()
	if err != nil {
		return nil, err
	}
	m, err := ResolveMonitor(monitors, monitorID)
	if err != nil {
		return nil, fmt.Errorf("monitor %d: %w", monitorID, err)
	}

	reply, err := xproto.GetImage(
		b.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(b.root),
		int16(m.X), int16(m.Y),
		uint16(m.Width), uint16(m.Height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	logger.WithComponent("x11-backend").Debug().
		Uint32("monitor_id", m.ID).
		Int("width", m.Width).
		Int("height", m.Height).
		Msg("Captured monitor")
	return b.convertImageData(reply.Data, m.Width, m.Height)
}

// CaptureWindow captures a window's contents, preferring a Composite pixmap.
func (b *X11Backend) CaptureWindow(ctx context.Context, windowID uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	img, err := b.captureWindowLocked(xproto.Window(windowID))
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return encodePNG(img)
}

func (b *X11Backend) captureWindowLocked(win xproto.Window) (*image.RGBA, error) {
	log := logger.WithComponent("x11-backend")

	attrs, err := xproto.GetWindowAttributes(b.conn, win).Reply()
	if err != nil {
		return nil, fmt.Errorf("window %d: %w", uint32(win), ErrNoSource)
	}

	// Frame windows are often InputOnly or unmapped; descend to a viewable child
	if attrs.Class != xproto.WindowClassInputOutput || attrs.MapState != xproto.MapStateViewable {
		child, err := b.findCapturableChild(win)
		if err != nil {
			return nil, fmt.Errorf("no capturable window found: %w", err)
		}
		log.Debug().
			Uint32("window_id", uint32(win)).
			Uint32("child_window_id", uint32(child)).
			Msg("Capturing child window")
		win = child
	}

	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	drawable := xproto.Drawable(win)
	if b.compositeEnabled {
		if err := composite.RedirectWindowChecked(b.conn, win, composite.RedirectAutomatic).Check(); err != nil {
			log.Warn().Err(err).Uint32("window_id", uint32(win)).Msg("Composite redirect failed, capturing directly")
		} else {
			defer composite.UnredirectWindow(b.conn, win, composite.RedirectAutomatic)
			if pixmap, err := xproto.NewPixmapId(b.conn); err == nil {
				if err := composite.NameWindowPixmapChecked(b.conn, win, pixmap).Check(); err == nil {
					drawable = xproto.Drawable(pixmap)
					defer xproto.FreePixmap(b.conn, pixmap)
				}
			}
		}
	}

	reply, err := xproto.GetImage(
		b.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		0, 0,
		geom.Width, geom.Height,
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return b.convertImageData(reply.Data, int(geom.Width), int(geom.Height))
}

func (b *X11Backend) findCapturableChild(parent xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(b.conn, parent).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree: %w", err)
	}

	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(b.conn, child).Reply()
		if err != nil {
			continue
		}
		geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}
		if attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable &&
			geom.Width > 10 && geom.Height > 10 {
			return child, nil
		}
		if grandchild, err := b.findCapturableChild(child); err == nil {
			return grandchild, nil
		}
	}

	return 0, fmt.Errorf("no capturable child of window %d", uint32(parent))
}

// CursorPosition queries the pointer on the root window.
func (b *X11Backend) CursorPosition(ctx context.Context) (image.Point, error) {
	if err := ctx.Err(); err != nil {
		return image.Point{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	reply, err := xproto.QueryPointer(b.conn, b.root).Reply()
	if err != nil {
		return image.Point{}, fmt.Errorf("failed to query pointer: %w", err)
	}
	return image.Pt(int(reply.RootX), int(reply.RootY)), nil
}

// convertImageData converts 24/32-bit ZPixmap (BGRX) data to opaque RGBA.
func (b *X11Backend) convertImageData(data []byte, width, height int) (*image.RGBA, error) {
	depth := int(b.screen.RootDepth)
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported root depth %d", depth)
	}
	return bgrxToRGBA(data, width, height), nil
}

func bgrxToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i+0] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePNGConfig(data []byte) (image.Config, error) {
	return png.DecodeConfig(bytes.NewReader(data))
}

// getAtom gets an atom ID by name, caching the result
func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	if atom, ok := b.atoms[name]; ok {
		return atom, nil
	}
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	b.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// getProperty gets a property value as a string
func (b *X11Backend) getProperty(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(
		b.conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}
