package session

import (
	"fmt"
	"strings"
)

// Mode selects what is captured and which post-capture stage applies.
type Mode string

const (
	ModeFullScreen Mode = "fullscreen"
	ModeWindow     Mode = "window"
	ModeArea       Mode = "area"
	ModeRecord     Mode = "record"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFullScreen, ModeWindow, ModeArea, ModeRecord:
		return m, nil
	case "full", "screen":
		return ModeFullScreen, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidState, s)
	}
}

func (m Mode) String() string { return string(m) }

// State is the capture session state.
type State int

const (
	Idle State = iota
	Capturing
	Ready
	Cropping
	Annotating
	Exported
	// Recording covers an active recording until it is finalized.
	Recording
)

var stateNames = map[State]string{
	Idle:       "idle",
	Capturing:  "capturing",
	Ready:      "ready",
	Cropping:   "cropping",
	Annotating: "annotating",
	Exported:   "exported",
	Recording:  "recording",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("%w: unknown state %q", ErrInvalidState, b)
}
