package stream

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/snapmark/internal/capture"
	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/raster"
)

// Streamer captures one monitor on a ticker and writes each frame to an
// Output.
type Streamer struct {
	backend capture.Backend
	out     Output
	fps     int

	mu        sync.Mutex
	running   bool
	monitorID uint32
	cancel    context.CancelFunc
	done      chan struct{}
	failures  int
}

// NewStreamer creates a streamer. fps is capped at DefaultFPS.
func NewStreamer(backend capture.Backend, out Output, fps int) *Streamer {
	if fps <= 0 || fps > DefaultFPS {
		fps = DefaultFPS
	}
	return &Streamer{backend: backend, out: out, fps: fps}
}

// Running reports whether the capture loop is active.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// MonitorID returns the monitor being streamed.
func (s *Streamer) MonitorID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitorID
}

// Start begins streaming monitorID, or the primary monitor for
// capture.PrimaryMonitor. Starting while already streaming is a no-op.
func (s *Streamer) Start(monitorID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.WithComponent("stream").Debug().Uint32("monitor_id", s.monitorID).Msg("Stream already running")
		return nil
	}
	if !s.out.IsRunning() {
		if err := s.out.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", s.out.Name(), err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.monitorID = monitorID
	s.cancel = cancel
	s.done = make(chan struct{})
	s.failures = 0

	go s.loop(ctx, monitorID, s.done)
	return nil
}

// Stop ends the capture loop and the output. It waits for an in-flight
// frame to finish.
func (s *Streamer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return s.out.Stop()
}

func (s *Streamer) loop(ctx context.Context, monitorID uint32, done chan struct{}) {
	defer close(done)

	interval := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.WithComponent("stream")
	log.Info().
		Uint32("monitor_id", monitorID).
		Int("fps", s.fps).
		Dur("interval", interval).
		Msg("Stream capture loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Uint32("monitor_id", monitorID).Msg("Stream capture loop stopped")
			return
		case <-ticker.C:
			frame, err := s.grab(ctx, monitorID)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.mu.Lock()
				s.failures++
				failures := s.failures
				s.mu.Unlock()
				// Log the first failure and then every second's worth
				if failures == 1 || failures%s.fps == 0 {
					log.Warn().Err(err).Uint32("monitor_id", monitorID).Int("failures", failures).Msg("Failed to grab stream frame")
				}
				continue
			}
			if err := s.out.WriteFrame(frame); err != nil {
				log.Debug().Err(err).Msg("Failed to write stream frame")
			}
		}
	}
}

// grab prefers raw frames and falls back to decoding a screenshot.
func (s *Streamer) grab(ctx context.Context, monitorID uint32) (*image.RGBA, error) {
	if g, ok := s.backend.(capture.FrameGrabber); ok {
		return g.GrabMonitor(ctx, monitorID)
	}
	data, err := s.backend.CaptureScreen(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	img, err := raster.New(data)
	if err != nil {
		return nil, err
	}
	return img.Decode()
}
