package stream

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/snapmark/internal/capture"
	"github.com/bryanchriswhite/snapmark/internal/capture/capturetest"
)

// screenOnly hides GrabMonitor so the PNG fallback is used.
type screenOnly struct {
	b *capturetest.Backend
}

func (s screenOnly) Name() string { return "screen-only" }
func (s screenOnly) EnumerateMonitors(ctx context.Context) ([]capture.Monitor, error) {
	return s.b.EnumerateMonitors(ctx)
}
func (s screenOnly) EnumerateWindows(ctx context.Context) ([]capture.Window, error) {
	return s.b.EnumerateWindows(ctx)
}
func (s screenOnly) CaptureScreen(ctx context.Context, id uint32) ([]byte, error) {
	return s.b.CaptureScreen(ctx, id)
}
func (s screenOnly) CaptureWindow(ctx context.Context, id uint32) ([]byte, error) {
	return s.b.CaptureWindow(ctx, id)
}

func waitFrames(t *testing.T, out *MJPEGOutput, n uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for out.Stats().Frames < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames written, want %d", out.Stats().Frames, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConfigNormalized(t *testing.T) {
	c := Config{FPS: 120, Quality: 0}.normalized()
	if c.FPS != DefaultFPS || c.Quality != DefaultQuality {
		t.Fatalf("normalized = %+v", c)
	}
	c = Config{FPS: 10, Quality: 50}.normalized()
	if c.FPS != 10 || c.Quality != 50 {
		t.Fatalf("normalized changed valid config: %+v", c)
	}
}

func TestWriteFrameRequiresRunning(t *testing.T) {
	out := NewMJPEGOutput(Config{})
	if err := out.WriteFrame(image.NewRGBA(image.Rect(0, 0, 2, 2))); err == nil {
		t.Fatalf("expected error writing to a stopped output")
	}
	if err := out.Start(); err != nil {
		t.Fatal(err)
	}
	if err := out.Start(); err == nil {
		t.Fatalf("expected error starting twice")
	}
	if err := out.WriteFrame(capturetest.Solid(4, 3, color.RGBA{R: 255, A: 255})); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	st := out.Stats()
	if st.Frames != 1 || st.Width != 4 || st.Height != 3 || !st.Running {
		t.Fatalf("stats = %+v", st)
	}
	if err := out.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestStreamerStartIsIdempotent(t *testing.T) {
	backend := capturetest.New(capture.Monitor{ID: 1, Width: 64, Height: 48, Primary: true})
	out := NewMJPEGOutput(Config{})
	s := NewStreamer(backend, out, 60)
	if s.fps != DefaultFPS {
		t.Fatalf("fps = %d, want capped at %d", s.fps, DefaultFPS)
	}

	if err := s.Start(capture.PrimaryMonitor); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(7); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if s.MonitorID() != capture.PrimaryMonitor {
		t.Fatalf("second Start replaced the monitor")
	}
	waitFrames(t, out, 2)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() || out.IsRunning() {
		t.Fatalf("still running after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStreamerFallsBackToScreenshots(t *testing.T) {
	backend := capturetest.New(capture.Monitor{ID: 1, Width: 32, Height: 16, Primary: true})
	out := NewMJPEGOutput(Config{FPS: 20})
	s := NewStreamer(screenOnly{backend}, out, 20)
	if err := s.Start(1); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFrames(t, out, 1)
	if st := out.Stats(); st.Width != 32 || st.Height != 16 {
		t.Fatalf("frame size %dx%d", st.Width, st.Height)
	}
}

func TestStreamerSurvivesCaptureErrors(t *testing.T) {
	backend := capturetest.New(capture.Monitor{ID: 1, Width: 8, Height: 8, Primary: true})
	backend.SetErr(capture.ErrDenied)
	out := NewMJPEGOutput(Config{})
	s := NewStreamer(backend, out, 30)
	if err := s.Start(1); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if out.Stats().Frames != 0 {
		t.Fatalf("frames written despite capture errors")
	}
	backend.SetErr(nil)
	waitFrames(t, out, 1)
}

func TestServeHTTPStreamsJPEGParts(t *testing.T) {
	out := NewMJPEGOutput(Config{})
	srv := httptest.NewServer(out)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before start = %d", resp.StatusCode)
	}
	resp.Body.Close()

	if err := out.Start(); err != nil {
		t.Fatal(err)
	}
	frame := capturetest.Solid(16, 16, color.RGBA{G: 200, A: 255})
	if err := out.WriteFrame(frame); err != nil {
		t.Fatal(err)
	}

	resp, err = http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "--frame" {
		t.Fatalf("boundary = %q, %v", line, err)
	}
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(line) == "" {
			break
		}
	}
	img, err := jpeg.Decode(r)
	if err != nil {
		t.Fatalf("decode part: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Fatalf("part size %v", img.Bounds())
	}

	if err := out.Stop(); err != nil {
		t.Fatal(err)
	}
}
