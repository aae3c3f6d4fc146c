package annotate

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/snapmark/internal/geometry"
	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/raster"
)

// Surface is a drawing layer bound to a fixed native pixel size.
// Points arrive in display space and are mapped per call, because the
// element the user draws on can be resized between events.
type Surface struct {
	mu      sync.Mutex
	width   int
	height  int
	strokes []Stroke
	active  *Stroke
}

// NewSurface creates an empty layer for a width x height base image.
func NewSurface(width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: surface %dx%d", geometry.ErrDegenerate, width, height)
	}
	return &Surface{width: width, height: height}, nil
}

// Size returns the native size of the surface.
func (s *Surface) Size() geometry.Size {
	return geometry.SizeOf(s.width, s.height)
}

// BeginStroke starts a stroke at p. A stroke already in progress is committed first.
func (s *Surface) BeginStroke(p geometry.Point, display geometry.Size, style Style) error {
	if err := style.Validate(); err != nil {
		return err
	}
	np, err := geometry.ToNativePoint(p, display, s.Size())
	if err != nil {
		return fmt.Errorf("failed to map stroke start: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLocked()
	s.active = &Stroke{Style: style, Points: []geometry.Point{np}}
	return nil
}

// ExtendStroke appends p to the stroke in progress.
func (s *Surface) ExtendStroke(p geometry.Point, display geometry.Size) error {
	np, err := geometry.ToNativePoint(p, display, s.Size())
	if err != nil {
		return fmt.Errorf("failed to map stroke point: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ErrNoActiveStroke
	}
	s.active.Points = append(s.active.Points, np)
	return nil
}

// EndStroke commits the stroke in progress. Without one it does nothing.
func (s *Surface) EndStroke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLocked()
}

func (s *Surface) commitLocked() {
	if s.active == nil {
		return
	}
	s.strokes = append(s.strokes, *s.active)
	s.active = nil
}

// Clear drops every stroke, including one in progress. The base image is never touched.
func (s *Surface) Clear() {
	s.mu.Lock()
	n := len(s.strokes)
	s.strokes = nil
	s.active = nil
	s.mu.Unlock()

	logger.WithComponent("annotate").Debug().Int("strokes", n).Msg("Annotation layer cleared")
}

// Drawing reports whether a stroke is in progress.
func (s *Surface) Drawing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Strokes returns a copy of the committed strokes in commit order.
func (s *Surface) Strokes() []Stroke {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stroke, len(s.strokes))
	for i, st := range s.strokes {
		out[i] = st.clone()
	}
	return out
}

// Flatten composites the committed strokes over base and returns a new image.
// A stroke still in progress is not included.
func (s *Surface) Flatten(base *raster.Image) (*raster.Image, error) {
	if base.Width() != s.width || base.Height() != s.height {
		return nil, fmt.Errorf("%w: surface %dx%d, image %dx%d",
			ErrSizeMismatch, s.width, s.height, base.Width(), base.Height())
	}
	strokes := s.Strokes()

	canvas, err := base.Decode()
	if err != nil {
		return nil, err
	}
	Render(canvas, strokes)

	out, err := raster.FromImage(canvas)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flattened image: %w", err)
	}

	logger.WithComponent("annotate").Debug().
		Int("strokes", len(strokes)).
		Int("width", s.width).
		Int("height", s.height).
		Int("bytes", out.Len()).
		Msg("Annotation layer flattened")
	return out, nil
}
