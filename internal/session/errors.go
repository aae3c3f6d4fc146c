package session

import (
	"context"
	"errors"

	"github.com/bryanchriswhite/snapmark/internal/annotate"
	"github.com/bryanchriswhite/snapmark/internal/capture"
	"github.com/bryanchriswhite/snapmark/internal/export"
	"github.com/bryanchriswhite/snapmark/internal/geometry"
	"github.com/bryanchriswhite/snapmark/internal/raster"
	"github.com/bryanchriswhite/snapmark/internal/recording"
)

var (
	// ErrCapture covers missing or invalid sources and platform denial.
	ErrCapture = errors.New("capture failed")
	// ErrBusy is returned while another capture or export is in flight.
	ErrBusy = errors.New("another operation is in progress")
	// ErrInvalidState is returned for operations the current state does not accept.
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// Kind names an error class of the taxonomy.
type Kind string

const (
	KindCapture          Kind = "capture"
	KindGeometry         Kind = "geometry"
	KindSurface          Kind = "surface"
	KindRecording        Kind = "recording"
	KindAlreadyRecording Kind = "already_recording"
	KindIO               Kind = "io"
	KindBusy             Kind = "busy"
	KindCancelled        Kind = "cancelled"
	KindState            Kind = "state"
	KindInternal         Kind = "internal"
)

// Level is the severity of a Status.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Status is a user-visible outcome message.
type Status struct {
	Level   Level  `json:"level"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message"`
}

// Classify maps an error to a Status. A nil error classifies as info.
func Classify(err error) Status {
	if err == nil {
		return Status{Level: LevelInfo, Message: "ok"}
	}

	kind, level := KindInternal, LevelError
	switch {
	case errors.Is(err, export.ErrCancelled):
		kind, level = KindCancelled, LevelInfo
	case errors.Is(err, ErrBusy):
		kind, level = KindBusy, LevelWarning
	case errors.Is(err, recording.ErrAlreadyRecording):
		kind, level = KindAlreadyRecording, LevelWarning
	case errors.Is(err, recording.ErrNotRecording), errors.Is(err, ErrInvalidState), errors.Is(err, annotate.ErrNoActiveStroke):
		kind, level = KindState, LevelWarning
	case errors.Is(err, geometry.ErrDegenerate), errors.Is(err, geometry.ErrNegativeSize):
		kind = KindGeometry
	case errors.Is(err, annotate.ErrSizeMismatch), errors.Is(err, annotate.ErrInvalidStyle):
		kind = KindSurface
	case errors.Is(err, recording.ErrRecording):
		kind = KindRecording
	case errors.Is(err, export.ErrIO):
		kind = KindIO
	case errors.Is(err, ErrCapture), errors.Is(err, capture.ErrNoSource), errors.Is(err, capture.ErrDenied),
		errors.Is(err, capture.ErrNoBackend), errors.Is(err, capture.ErrUnsupported), errors.Is(err, raster.ErrInvalidImage):
		kind = KindCapture
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind, level = KindCancelled, LevelWarning
	}

	return Status{Level: level, Kind: kind, Message: err.Error()}
}
