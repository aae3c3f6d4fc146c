package session

import (
	"github.com/bryanchriswhite/snapmark/internal/capture"
	"github.com/bryanchriswhite/snapmark/internal/geometry"
)

// EventType names what changed.
type EventType string

const (
	EventMode      EventType = "mode"
	EventState     EventType = "state"
	EventSources   EventType = "sources"
	EventImage     EventType = "image"
	EventCrop      EventType = "crop"
	EventStrokes   EventType = "strokes"
	EventRecording EventType = "recording"
	EventExported  EventType = "exported"
	EventReset     EventType = "reset"
)

// Event is pushed to subscribers after every state change.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
}

// ImageInfo describes the held image.
type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Bytes  int `json:"bytes"`
}

// CropInfo is the pending crop selection.
type CropInfo struct {
	Rect    geometry.Rect `json:"rect"`
	Display geometry.Size `json:"display"`
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	Mode       Mode              `json:"mode"`
	State      State             `json:"state"`
	Generation uint64            `json:"generation"`
	Busy       bool              `json:"busy"`
	Selected   *uint32           `json:"selected,omitempty"`
	Monitors   []capture.Monitor `json:"monitors"`
	Windows    []capture.Window  `json:"windows"`
	Image      *ImageInfo        `json:"image,omitempty"`
	Crop       *CropInfo         `json:"crop,omitempty"`
	Strokes    int               `json:"strokes"`
	Drawing    bool              `json:"drawing"`
	Recording  string            `json:"recording"`
	// RecordingBytes is the size of a finished recording awaiting export.
	RecordingBytes int `json:"recording_bytes"`
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Mode:       s.mode,
		State:      s.state,
		Generation: s.generation,
		Busy:       s.busy,
		Monitors:   append([]capture.Monitor{}, s.monitors...),
		Windows:    append([]capture.Window{}, s.windows...),
		Recording:  "unavailable",
	}
	if s.hasSelection {
		id := s.selected
		snap.Selected = &id
	}
	if s.image != nil {
		snap.Image = &ImageInfo{Width: s.image.Width(), Height: s.image.Height(), Bytes: s.image.Len()}
	}
	if s.hasCrop {
		snap.Crop = &CropInfo{Rect: s.crop, Display: s.cropDisplay}
	}
	if s.surface != nil {
		snap.Strokes = len(s.surface.Strokes())
		snap.Drawing = s.surface.Drawing()
	}
	if s.recorder != nil {
		snap.Recording = s.recorder.State().String()
	}
	if s.artifact != nil {
		snap.RecordingBytes = len(s.artifact.Data)
	}
	return snap
}

// Subscribe adds a listener for session events
func (s *Session) Subscribe() chan Event {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener
func (s *Session) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, listener := range s.listeners {
		if listener == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// notifyLocked sends an event to every listener without blocking
func (s *Session) notifyLocked(t EventType) {
	if len(s.listeners) == 0 {
		return
	}
	ev := Event{Type: t, Snapshot: s.snapshotLocked()}
	for _, listener := range s.listeners {
		select {
		case listener <- ev:
		default:
			// Skip if channel is full
		}
	}
}
