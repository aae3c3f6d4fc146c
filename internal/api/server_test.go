package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/snapmark/internal/capture"
	"github.com/bryanchriswhite/snapmark/internal/capture/capturetest"
	"github.com/bryanchriswhite/snapmark/internal/config"
	"github.com/bryanchriswhite/snapmark/internal/export"
	"github.com/bryanchriswhite/snapmark/internal/session"
	"github.com/bryanchriswhite/snapmark/internal/stream"
)

type stubExporter struct {
	mu     sync.Mutex
	result export.Result
	err    error
	got    []export.Artifact
}

func (e *stubExporter) Export(ctx context.Context, a export.Artifact) (export.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, a)
	return e.result, e.err
}

type stubPrefs struct {
	mu    sync.Mutex
	prefs config.Preferences
	dir   string
	err   error
}

func (p *stubPrefs) Preferences() config.Preferences {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prefs
}

func (p *stubPrefs) SetPreferences(v config.Preferences) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefs = v
	return nil
}

func (p *stubPrefs) ChooseSaveDirectory(ctx context.Context) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prefs.SaveDirectory = p.dir
	return p.dir, nil
}

type fixture struct {
	srv      *httptest.Server
	backend  *capturetest.Backend
	exporter *stubExporter
	prefs    *stubPrefs
	session  *session.Session
}

func newFixture(t *testing.T, withStream bool) *fixture {
	t.Helper()
	f := &fixture{
		backend:  capturetest.New(capture.Monitor{ID: 1, Name: "eDP-1", Width: 1920, Height: 1080, Primary: true}),
		exporter: &stubExporter{result: export.Result{Path: "/tmp/screenshot.png"}},
		prefs:    &stubPrefs{dir: "/tmp/shots"},
	}
	f.session = session.New(f.backend, nil, f.exporter)

	var streamer *stream.Streamer
	var out *stream.MJPEGOutput
	if withStream {
		out = stream.NewMJPEGOutput(stream.Config{})
		streamer = stream.NewStreamer(f.backend, out, 30)
		t.Cleanup(func() { streamer.Stop() })
	}
	f.srv = httptest.NewServer(NewServer(f.session, f.prefs, streamer, out).Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

func (f *fixture) snapshot(t *testing.T, method, path, body string) session.Snapshot {
	t.Helper()
	resp, data := f.do(t, method, path, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s %s = %d: %s", method, path, resp.StatusCode, data)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v: %s", err, data)
	}
	return snap
}

func decodeStatus(t *testing.T, data []byte) session.Status {
	t.Helper()
	var st session.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode status: %v: %s", err, data)
	}
	return st
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	resp, data := f.do(t, "GET", "/api/health", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "healthy") {
		t.Fatalf("health = %d %s", resp.StatusCode, data)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("CORS header missing")
	}
}

func TestCaptureAndFetchImage(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, "POST", "/api/capture", `{"mode":"fullscreen","source":1}`)
	if got := f.session.State(); got != session.Ready {
		t.Fatalf("state = %v", got)
	}

	resp, data := f.do(t, "GET", "/api/image", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("image = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 1920 || b.Dy() != 1080 {
		t.Fatalf("image %v", b)
	}

	resp, data = f.do(t, "GET", "/api/image/preview?width=480&height=480", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview = %d %s", resp.StatusCode, data)
	}
	prev, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := prev.Bounds(); b.Dx() != 480 || b.Dy() != 270 {
		t.Fatalf("preview %v", b)
	}
	if resp.Header.Get("X-Native-Width") != "1920" {
		t.Fatalf("native width header = %q", resp.Header.Get("X-Native-Width"))
	}
}

func TestCropAnnotateExport(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, "POST", "/api/capture", `{"mode":"area"}`)
	if got := f.session.State(); got != session.Cropping {
		t.Fatalf("state = %v", got)
	}
	f.snapshot(t, "PUT", "/api/crop", `{"rect":{"x":100,"y":50,"width":400,"height":300},"display":{"width":960,"height":540}}`)
	f.snapshot(t, "POST", "/api/crop/confirm", "")
	if img := f.session.Image(); img.Width() != 800 || img.Height() != 600 {
		t.Fatalf("cropped %dx%d", img.Width(), img.Height())
	}

	f.snapshot(t, "POST", "/api/annotate", "")
	f.snapshot(t, "POST", "/api/annotate/stroke/begin",
		`{"point":{"x":10,"y":10},"display":{"width":400,"height":300},"style":{"tool":"pen","color":"#ff0000","opacity":1,"line_width":4}}`)
	f.snapshot(t, "POST", "/api/annotate/stroke/extend", `{"point":{"x":100,"y":10},"display":{"width":400,"height":300}}`)
	snap := f.snapshot(t, "POST", "/api/annotate/stroke/end", "")
	if snap.Strokes != 1 {
		t.Fatalf("strokes = %d", snap.Strokes)
	}

	resp, data := f.do(t, "POST", "/api/export", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "/tmp/screenshot.png") {
		t.Fatalf("export = %d %s", resp.StatusCode, data)
	}
	if len(f.exporter.got) != 1 || f.exporter.got[0].Mode != "area" {
		t.Fatalf("exported %+v", f.exporter.got)
	}
	if f.session.State() != session.Idle {
		t.Fatalf("state after export = %v", f.session.State())
	}
}

func TestErrorsCarryTaxonomy(t *testing.T) {
	f := newFixture(t, false)

	resp, data := f.do(t, "POST", "/api/crop/confirm", "")
	st := decodeStatus(t, data)
	if resp.StatusCode != http.StatusConflict || st.Kind != session.KindState || st.Level != session.LevelWarning {
		t.Fatalf("confirm in idle = %d %+v", resp.StatusCode, st)
	}

	f.do(t, "POST", "/api/capture", `{"mode":"area"}`)
	resp, data = f.do(t, "PUT", "/api/crop", `{"rect":{"x":0,"y":0,"width":10,"height":10},"display":{"width":0,"height":0}}`)
	if st := decodeStatus(t, data); resp.StatusCode != http.StatusBadRequest || st.Kind != session.KindGeometry {
		t.Fatalf("degenerate crop = %d %+v", resp.StatusCode, st)
	}

	f.backend.SetErr(capture.ErrDenied)
	f.do(t, "POST", "/api/reset", "")
	resp, data = f.do(t, "POST", "/api/capture", `{}`)
	if st := decodeStatus(t, data); resp.StatusCode != http.StatusBadGateway || st.Kind != session.KindCapture || st.Level != session.LevelError {
		t.Fatalf("denied capture = %d %+v", resp.StatusCode, st)
	}

	resp, _ = f.do(t, "PUT", "/api/mode", `{"mode":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, "PUT", "/api/mode", `{"mode":"video"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("unknown mode = %d", resp.StatusCode)
	}
}

func TestCancelledExportAnswersInfo(t *testing.T) {
	f := newFixture(t, false)
	f.exporter.result = export.Result{Cancelled: true}
	f.do(t, "POST", "/api/capture", `{}`)

	resp, data := f.do(t, "POST", "/api/export", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"cancelled":true`) {
		t.Fatalf("cancelled export = %d %s", resp.StatusCode, data)
	}
	if f.session.State() != session.Ready {
		t.Fatalf("cancelled export dropped the image")
	}

	f.prefs.err = export.ErrCancelled
	resp, data = f.do(t, "POST", "/api/preferences/directory", "")
	if st := decodeStatus(t, data); resp.StatusCode != http.StatusOK || st.Level != session.LevelInfo {
		t.Fatalf("dismissed directory chooser = %d %+v", resp.StatusCode, st)
	}
}

func TestModeAndSources(t *testing.T) {
	f := newFixture(t, false)
	f.backend.SetWindows(capture.Window{ID: 9, Title: "terminal", Width: 800, Height: 600})

	snap := f.snapshot(t, "PUT", "/api/mode", `{"mode":"window"}`)
	if snap.Mode != session.ModeWindow || len(snap.Windows) != 1 {
		t.Fatalf("snapshot after mode = %+v", snap)
	}
	snap = f.snapshot(t, "PUT", "/api/sources/selected", `{"id":9}`)
	if snap.Selected == nil || *snap.Selected != 9 {
		t.Fatalf("selected = %v", snap.Selected)
	}

	resp, data := f.do(t, "GET", "/api/sources", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "terminal") {
		t.Fatalf("sources = %d %s", resp.StatusCode, data)
	}

	resp, _ = f.do(t, "PUT", "/api/sources/selected", `{"id":1234}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("unknown source = %d", resp.StatusCode)
	}
	snap = f.snapshot(t, "PUT", "/api/sources/selected", `{"id":0}`)
	if snap.Selected != nil {
		t.Fatalf("selection not cleared")
	}
}

func TestPreferences(t *testing.T) {
	f := newFixture(t, false)
	resp, data := f.do(t, "PUT", "/api/preferences", `{"save_directory":"/home/me/Pictures","auto_save":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put preferences = %d %s", resp.StatusCode, data)
	}
	if p := f.prefs.Preferences(); p.SaveDirectory != "/home/me/Pictures" || !p.AutoSave {
		t.Fatalf("prefs = %+v", p)
	}

	resp, data = f.do(t, "POST", "/api/preferences/directory", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "/tmp/shots") {
		t.Fatalf("choose directory = %d %s", resp.StatusCode, data)
	}
	if p := f.prefs.Preferences(); p.SaveDirectory != "/tmp/shots" || !p.AutoSave {
		t.Fatalf("prefs after choose = %+v", p)
	}
}

func TestStreamRoutes(t *testing.T) {
	f := newFixture(t, false)
	resp, _ := f.do(t, "POST", "/api/stream/start", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("stream start without streamer = %d", resp.StatusCode)
	}

	f = newFixture(t, true)
	resp, data := f.do(t, "POST", "/api/stream/start", `{"monitor_id":1}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"running":true`) {
		t.Fatalf("stream start = %d %s", resp.StatusCode, data)
	}
	resp, _ = f.do(t, "GET", "/api/stream/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats = %d", resp.StatusCode)
	}
	resp, data = f.do(t, "POST", "/api/stream/stop", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"running":false`) {
		t.Fatalf("stream stop = %d %s", resp.StatusCode, data)
	}
}

func TestEventsWebSocket(t *testing.T) {
	f := newFixture(t, false)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type     string `json:"type"`
		Snapshot struct {
			State string `json:"state"`
		} `json:"snapshot"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "state" || first.Snapshot.State != "idle" {
		t.Fatalf("first event = %+v", first)
	}

	f.do(t, "POST", "/api/reset", "")
	var ev struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "reset" {
		t.Fatalf("event = %+v", ev)
	}
}
