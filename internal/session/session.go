// Package session owns the capture mode state machine. It holds the current
// base image or recording, delegates cropping to the geometry mapper and
// drawing to an annotation surface, and hands finished artifacts to export.
//
// Long-running collaborator calls run outside the session lock. Each one is
// tagged with the generation current when it was issued; Reset and mode
// changes bump the generation so a late result is recognised and dropped.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/snapmark/internal/annotate"
	"github.com/bryanchriswhite/snapmark/internal/capture"
	"github.com/bryanchriswhite/snapmark/internal/export"
	"github.com/bryanchriswhite/snapmark/internal/geometry"
	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/raster"
	"github.com/bryanchriswhite/snapmark/internal/recording"
)

// Exporter persists finished artifacts.
type Exporter interface {
	Export(ctx context.Context, a export.Artifact) (export.Result, error)
}

// Session is a capture session. All methods are safe for concurrent use.
type Session struct {
	backend  capture.Backend
	recorder *recording.Recorder
	exporter Exporter

	mu         sync.Mutex
	mode       Mode
	state      State
	generation uint64
	busy       bool

	monitors     []capture.Monitor
	windows      []capture.Window
	sourcesFor   Mode
	selected     uint32
	hasSelection bool

	image       *raster.Image
	crop        geometry.Rect
	cropDisplay geometry.Size
	hasCrop     bool
	surface     *annotate.Surface
	artifact    *recording.Artifact

	listeners []chan Event
}

// New creates an idle session in full-screen mode. recorder may be nil when
// recording is unavailable.
func New(backend capture.Backend, recorder *recording.Recorder, exporter Exporter) *Session {
	return &Session{
		backend:  backend,
		recorder: recorder,
		exporter: exporter,
		mode:     ModeFullScreen,
		state:    Idle,
	}
}

func (s *Session) log() *zerolog.Logger {
	return logger.WithComponent("session")
}

// Mode returns the current capture mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Image returns the current base image, or nil.
func (s *Session) Image() *raster.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// discardLocked drops every held artifact and returns to Idle. Any in-flight
// call becomes stale.
func (s *Session) discardLocked() {
	s.generation++
	s.image = nil
	s.crop = geometry.Rect{}
	s.cropDisplay = geometry.Size{}
	s.hasCrop = false
	s.surface = nil
	s.artifact = nil
	if s.recorder != nil && s.recorder.State() != recording.Idle {
		s.recorder.Abort()
	}
	s.state = Idle
}

// Reset discards all held image, crop, annotation and recording state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardLocked()
	s.log().Info().Str("mode", string(s.mode)).Uint64("generation", s.generation).Msg("Session reset")
	s.notifyLocked(EventReset)
}

// SetMode switches the capture mode, discarding transient state, and
// re-enumerates sources. The mode change stands even if enumeration fails.
func (s *Session) SetMode(ctx context.Context, mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.mode == mode {
		s.mu.Unlock()
		return nil
	}
	s.changeModeLocked(mode)
	s.mu.Unlock()

	return s.RefreshSources(ctx)
}

func (s *Session) changeModeLocked(mode Mode) {
	prev := s.mode
	s.mode = mode
	s.discardLocked()
	s.log().Info().
		Str("from", string(prev)).
		Str("mode", string(mode)).
		Uint64("generation", s.generation).
		Msg("Capture mode changed")
	s.notifyLocked(EventMode)
}

// RefreshSources re-enumerates monitors, and windows in window mode. The
// selection survives unless its source disappeared.
func (s *Session) RefreshSources(ctx context.Context) error {
	s.mu.Lock()
	gen, mode := s.generation, s.mode
	s.mu.Unlock()

	monitors, err := s.backend.EnumerateMonitors(ctx)
	if err != nil {
		return fmt.Errorf("%w: enumerate monitors: %v", ErrCapture, err)
	}
	var windows []capture.Window
	if mode == ModeWindow {
		windows, err = s.backend.EnumerateWindows(ctx)
		if err != nil {
			return fmt.Errorf("%w: enumerate windows: %v", ErrCapture, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.mode != mode {
		s.log().Debug().Uint64("generation", gen).Msg("Dropping stale source list")
		return nil
	}
	s.monitors = monitors
	if mode == ModeWindow {
		s.windows = windows
	}
	s.sourcesFor = mode
	if s.hasSelection && !s.sourceExistsLocked(s.selected) {
		s.log().Info().Uint32("source_id", s.selected).Msg("Selected source disappeared")
		s.selected, s.hasSelection = 0, false
	}
	s.log().Debug().
		Int("monitors", len(s.monitors)).
		Int("windows", len(s.windows)).
		Msg("Sources refreshed")
	s.notifyLocked(EventSources)
	return nil
}

func (s *Session) sourceExistsLocked(id uint32) bool {
	if s.mode == ModeWindow {
		for _, w := range s.windows {
			if w.ID == id {
				return true
			}
		}
		return false
	}
	for _, m := range s.monitors {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Select chooses the source for the next capture.
func (s *Session) Select(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sourceExistsLocked(id) {
		return fmt.Errorf("%w: source %d: %v", ErrCapture, id, capture.ErrNoSource)
	}
	s.selected, s.hasSelection = id, true
	s.notifyLocked(EventSources)
	return nil
}

// ClearSelection forgets the selected source.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected, s.hasSelection = 0, false
	s.notifyLocked(EventSources)
}

// monitorLocked resolves the monitor for a screen capture: the selection,
// else the only monitor. Several monitors without a selection is an error.
// An empty list means the backend reported no outputs, and the primary
// monitor is used.
func (s *Session) monitorLocked() (uint32, *capture.Monitor, error) {
	if s.hasSelection {
		for i := range s.monitors {
			if s.monitors[i].ID == s.selected {
				return s.selected, &s.monitors[i], nil
			}
		}
		return 0, nil, fmt.Errorf("%w: monitor %d: %v", ErrCapture, s.selected, capture.ErrNoSource)
	}
	switch len(s.monitors) {
	case 0:
		return capture.PrimaryMonitor, nil, nil
	case 1:
		return s.monitors[0].ID, &s.monitors[0], nil
	default:
		return 0, nil, fmt.Errorf("%w: no monitor selected", ErrCapture)
	}
}

// RequestCapture captures a base image in mode. A non-zero source selects
// it first. On success the session is Ready, or Cropping in area mode. If
// the session was reset while the capture ran, the result is dropped and
// nil is returned. A request rejected with ErrBusy changes nothing.
func (s *Session) RequestCapture(ctx context.Context, mode Mode, source uint32) error {
	if mode == ModeRecord {
		return fmt.Errorf("%w: use recording in record mode", ErrInvalidState)
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.mode != mode {
		s.changeModeLocked(mode)
	} else if s.state != Idle && s.state != Ready {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot capture while %s", ErrInvalidState, state)
	}
	s.busy = true
	gen := s.generation
	refresh := s.sourcesFor != mode
	s.notifyLocked(EventState)
	s.mu.Unlock()

	id, err := s.resolveSource(ctx, mode, source, refresh)

	s.mu.Lock()
	if s.generation != gen {
		s.busy = false
		s.log().Debug().Uint64("generation", gen).Msg("Dropping stale capture request")
		s.notifyLocked(EventState)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.busy = false
		s.notifyLocked(EventState)
		s.mu.Unlock()
		return err
	}
	prevState := s.state
	s.state = Capturing
	s.notifyLocked(EventState)
	s.mu.Unlock()

	s.log().Info().Str("mode", string(mode)).Uint32("source_id", id).Uint64("generation", gen).Msg("Capture requested")

	var data []byte
	if mode == ModeWindow {
		data, err = s.backend.CaptureWindow(ctx, id)
	} else {
		data, err = s.backend.CaptureScreen(ctx, id)
	}
	var img *raster.Image
	if err == nil {
		img, err = raster.New(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if s.generation != gen {
		s.log().Debug().Uint64("generation", gen).Uint64("current", s.generation).Msg("Dropping stale capture result")
		s.notifyLocked(EventState)
		return nil
	}
	if err != nil {
		s.state = prevState
		s.notifyLocked(EventState)
		s.log().Warn().Err(err).Uint32("source_id", id).Msg("Capture failed")
		return fmt.Errorf("%w: %v", ErrCapture, err)
	}

	s.image = img
	s.surface = nil
	s.crop, s.cropDisplay, s.hasCrop = geometry.Rect{}, geometry.Size{}, false
	if s.mode == ModeArea {
		s.state = Cropping
	} else {
		s.state = Ready
	}
	s.log().Info().
		Int("width", img.Width()).
		Int("height", img.Height()).
		Str("state", s.state.String()).
		Msg("Capture complete")
	s.notifyLocked(EventImage)
	return nil
}

// resolveSource enumerates sources when the list is not current for mode,
// applies source as the selection and returns the id to capture. The caller
// holds the busy flag.
func (s *Session) resolveSource(ctx context.Context, mode Mode, source uint32, refresh bool) (uint32, error) {
	if refresh {
		if err := s.RefreshSources(ctx); err != nil {
			return 0, err
		}
	}
	if source != 0 {
		if err := s.Select(source); err != nil {
			if refresh {
				return 0, err
			}
			// The source may postdate the last enumeration
			if rerr := s.RefreshSources(ctx); rerr != nil {
				return 0, rerr
			}
			if err := s.Select(source); err != nil {
				return 0, err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == ModeWindow {
		if !s.hasSelection {
			return 0, fmt.Errorf("%w: no window selected", ErrCapture)
		}
		return s.selected, nil
	}
	id, _, err := s.monitorLocked()
	return id, err
}

// CaptureAtCursor switches to area mode and captures the monitor under the
// pointer.
func (s *Session) CaptureAtCursor(ctx context.Context) error {
	locator, ok := s.backend.(capture.CursorLocator)
	if !ok {
		return fmt.Errorf("%w: cursor position: %v", ErrCapture, capture.ErrUnsupported)
	}
	pt, err := locator.CursorPosition(ctx)
	if err != nil {
		return fmt.Errorf("%w: cursor position: %v", ErrCapture, err)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.state != Idle && s.state != Ready {
		s.discardLocked()
	}
	s.mu.Unlock()

	if err := s.SetMode(ctx, ModeArea); err != nil {
		return err
	}
	s.mu.Lock()
	monitors, current := s.monitors, s.sourcesFor == ModeArea
	s.mu.Unlock()
	if !current {
		if err := s.RefreshSources(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		monitors = s.monitors
		s.mu.Unlock()
	}

	m, ok := capture.MonitorAt(monitors, pt)
	if !ok {
		return fmt.Errorf("%w: no monitor at %v", ErrCapture, pt)
	}
	s.log().Info().Uint32("monitor_id", m.ID).Str("cursor", pt.String()).Msg("Capturing monitor at cursor")
	return s.RequestCapture(ctx, ModeArea, m.ID)
}

// SetCropRect records the crop selection, expressed in a display space of
// the given size. It may be called repeatedly while cropping.
func (s *Session) SetCropRect(rect geometry.Rect, display geometry.Size) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Cropping {
		return fmt.Errorf("%w: not cropping", ErrInvalidState)
	}
	if _, err := geometry.ToNativeRect(rect, display, s.image.Size()); err != nil {
		return err
	}
	s.crop, s.cropDisplay, s.hasCrop = rect, display, true
	s.notifyLocked(EventCrop)
	return nil
}

// ConfirmCrop applies the crop selection and moves to Ready. Without a
// selection, or with a zero-area one, the image is unchanged.
func (s *Session) ConfirmCrop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Cropping {
		return fmt.Errorf("%w: not cropping", ErrInvalidState)
	}

	if s.hasCrop && !s.crop.Empty() {
		native, err := geometry.ToNativeRect(s.crop, s.cropDisplay, s.image.Size())
		if err != nil {
			return err
		}
		cropped, err := s.image.Crop(native.Pixels())
		if err != nil {
			return fmt.Errorf("failed to crop: %w", err)
		}
		s.log().Info().
			Str("display_rect", fmt.Sprintf("%+v", s.crop)).
			Str("native_rect", native.Pixels().String()).
			Int("width", cropped.Width()).
			Int("height", cropped.Height()).
			Msg("Crop applied")
		s.image = cropped
	}

	s.crop, s.cropDisplay, s.hasCrop = geometry.Rect{}, geometry.Size{}, false
	s.state = Ready
	s.notifyLocked(EventImage)
	return nil
}

// OpenAnnotator attaches a fresh annotation layer sized to the current image.
func (s *Session) OpenAnnotator() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready || s.image == nil {
		return fmt.Errorf("%w: no image ready to annotate", ErrInvalidState)
	}
	surface, err := annotate.NewSurface(s.image.Width(), s.image.Height())
	if err != nil {
		return err
	}
	s.surface = surface
	s.state = Annotating
	s.notifyLocked(EventState)
	return nil
}

func (s *Session) annotatingLocked() (*annotate.Surface, error) {
	if s.state != Annotating || s.surface == nil {
		return nil, fmt.Errorf("%w: annotator not open", ErrInvalidState)
	}
	return s.surface, nil
}

// BeginStroke starts a stroke at p, given in a display space of size display.
func (s *Session) BeginStroke(p geometry.Point, display geometry.Size, style annotate.Style) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	surface, err := s.annotatingLocked()
	if err != nil {
		return err
	}
	return surface.BeginStroke(p, display, style)
}

// ExtendStroke appends p to the stroke in progress.
func (s *Session) ExtendStroke(p geometry.Point, display geometry.Size) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	surface, err := s.annotatingLocked()
	if err != nil {
		return err
	}
	return surface.ExtendStroke(p, display)
}

// EndStroke commits the stroke in progress.
func (s *Session) EndStroke() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	surface, err := s.annotatingLocked()
	if err != nil {
		return err
	}
	surface.EndStroke()
	s.notifyLocked(EventStrokes)
	return nil
}

// ClearAnnotations discards every stroke without touching the image.
func (s *Session) ClearAnnotations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	surface, err := s.annotatingLocked()
	if err != nil {
		return err
	}
	surface.Clear()
	s.notifyLocked(EventStrokes)
	return nil
}

// Flatten merges the annotation layer into the image and returns to Ready.
// A stroke still in progress is committed first.
func (s *Session) Flatten() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flattenLocked()
}

func (s *Session) flattenLocked() error {
	surface, err := s.annotatingLocked()
	if err != nil {
		return err
	}
	surface.EndStroke()
	flat, err := surface.Flatten(s.image)
	if err != nil {
		return err
	}
	s.image = flat
	s.surface = nil
	s.state = Ready
	s.notifyLocked(EventImage)
	return nil
}

// Export hands the current artifact to the exporter. In record mode it
// exports the finished recording; otherwise the current image, flattening
// any open annotation layer first. On success the session returns to Idle.
// A dismissed chooser leaves the artifact in place for another attempt.
func (s *Session) Export(ctx context.Context) (export.Result, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return export.Result{}, ErrBusy
	}

	var artifact export.Artifact
	if s.mode == ModeRecord {
		if s.artifact == nil {
			s.mu.Unlock()
			return export.Result{}, fmt.Errorf("%w: no finished recording", ErrInvalidState)
		}
		artifact = export.Artifact{Kind: export.KindRecording, Data: s.artifact.Data}
	} else {
		if s.state == Annotating {
			if err := s.flattenLocked(); err != nil {
				s.mu.Unlock()
				return export.Result{}, err
			}
		}
		if s.state != Ready || s.image == nil {
			state := s.state
			s.mu.Unlock()
			return export.Result{}, fmt.Errorf("%w: nothing to export while %s", ErrInvalidState, state)
		}
		artifact = export.Artifact{Kind: export.KindScreenshot, Mode: string(s.mode), Data: s.image.Bytes()}
	}

	gen := s.generation
	s.busy = true
	s.mu.Unlock()

	res, err := s.exporter.Export(ctx, artifact)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if s.generation != gen {
		s.log().Debug().Uint64("generation", gen).Msg("Session changed during export")
		return res, err
	}
	if err != nil {
		s.notifyLocked(EventState)
		return export.Result{}, err
	}
	if res.Cancelled {
		s.notifyLocked(EventState)
		return res, nil
	}

	s.state = Exported
	s.notifyLocked(EventExported)
	s.discardLocked()
	s.notifyLocked(EventState)
	return res, nil
}

// StartRecording starts recording the selected monitor, or the only one.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	refresh := s.mode == ModeRecord && s.sourcesFor != ModeRecord && !s.busy
	s.mu.Unlock()
	if refresh {
		if err := s.RefreshSources(ctx); err != nil {
			return fmt.Errorf("%w: %v", recording.ErrRecording, err)
		}
	}

	s.mu.Lock()
	if s.mode != ModeRecord {
		s.mu.Unlock()
		return fmt.Errorf("%w: not in record mode", ErrInvalidState)
	}
	if s.recorder == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: recording unavailable", recording.ErrRecording)
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.recorder.State() != recording.Idle {
		s.mu.Unlock()
		return recording.ErrAlreadyRecording
	}
	id, mon, err := s.monitorLocked()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", recording.ErrRecording, err)
	}
	sel := recording.Selection{MonitorID: id}
	if mon != nil {
		sel.Region = mon.Bounds()
	}
	if s.artifact != nil {
		s.log().Info().Int("bytes", len(s.artifact.Data)).Msg("Discarding unexported recording")
		s.artifact = nil
	}
	gen := s.generation
	s.busy = true
	s.state = Capturing
	s.notifyLocked(EventState)
	s.mu.Unlock()

	err = s.recorder.Start(ctx, sel)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if s.generation != gen {
		// The mode changed while the platform prompt was open
		s.recorder.Abort()
		s.notifyLocked(EventState)
		return nil
	}
	if err != nil {
		s.state = Idle
		s.notifyLocked(EventState)
		return err
	}
	s.state = Recording
	s.notifyLocked(EventRecording)
	return nil
}

// StopRecording finalizes the recording. The artifact is held for Export or
// DiscardRecording.
func (s *Session) StopRecording(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.recorder == nil || s.mode != ModeRecord {
		s.mu.Unlock()
		return 0, recording.ErrNotRecording
	}
	if s.busy {
		s.mu.Unlock()
		return 0, ErrBusy
	}
	if s.recorder.State() != recording.Recording {
		s.mu.Unlock()
		return 0, recording.ErrNotRecording
	}
	gen := s.generation
	s.busy = true
	s.mu.Unlock()

	art, err := s.recorder.Stop(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if s.generation != gen {
		s.notifyLocked(EventState)
		return 0, nil
	}
	if err != nil {
		s.state = Idle
		s.notifyLocked(EventState)
		return 0, err
	}
	s.artifact = art
	s.state = Ready
	s.log().Info().Int("bytes", len(art.Data)).Dur("duration", art.Duration()).Msg("Recording ready for export")
	s.notifyLocked(EventRecording)
	return len(art.Data), nil
}

// DiscardRecording drops the finished or active recording.
func (s *Session) DiscardRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeRecord {
		return fmt.Errorf("%w: not in record mode", ErrInvalidState)
	}
	s.discardLocked()
	s.notifyLocked(EventRecording)
	return nil
}
