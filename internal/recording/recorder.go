// Package recording manages the lifecycle of a screen recording: an
// exclusively held capture stream whose encoded chunks are buffered while
// recording and concatenated into one artifact on stop.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/snapmark/internal/logger"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("not recording")
	// ErrRecording wraps failures to start or finalize a recording.
	ErrRecording = errors.New("recording failed")
)

// State is the recorder lifecycle state.
type State int

const (
	Idle State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Artifact is a finished recording.
type Artifact struct {
	Data     []byte
	MimeType string
	Started  time.Time
	Ended    time.Time
}

// Duration returns the wall-clock length of the recording.
func (a *Artifact) Duration() time.Duration {
	return a.Ended.Sub(a.Started)
}

// Recorder runs at most one recording at a time.
type Recorder struct {
	source Source
	now    func() time.Time

	mu      sync.Mutex
	state   State
	stream  Stream
	buf     *bytes.Buffer
	done    chan struct{}
	started time.Time
}

// NewRecorder creates a recorder reading from source.
func NewRecorder(source Source) *Recorder {
	return &Recorder{source: source, now: time.Now}
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens a stream for sel and begins buffering its chunks.
func (r *Recorder) Start(ctx context.Context, sel Selection) error {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	// Hold the slot while the platform prompt is outstanding
	r.state = Recording
	r.mu.Unlock()

	log := logger.WithComponent("recorder")

	stream, err := r.source.Open(ctx, sel)
	if err != nil {
		r.mu.Lock()
		r.state = Idle
		r.mu.Unlock()
		log.Warn().Err(err).Uint32("monitor_id", sel.MonitorID).Msg("Failed to open recording stream")
		return fmt.Errorf("%w: %v", ErrRecording, err)
	}

	r.mu.Lock()
	if r.state != Recording {
		// Aborted while the platform prompt was open
		r.mu.Unlock()
		stream.Release()
		return fmt.Errorf("%w: aborted", ErrRecording)
	}
	r.stream = stream
	r.buf = new(bytes.Buffer)
	r.done = make(chan struct{})
	r.started = r.now()
	buf, done := r.buf, r.done
	r.mu.Unlock()

	go r.collect(stream, buf, done)

	log.Info().
		Uint32("monitor_id", sel.MonitorID).
		Str("region", sel.Region.String()).
		Str("mime_type", stream.MimeType()).
		Msg("Recording started")
	return nil
}

func (r *Recorder) collect(stream Stream, buf *bytes.Buffer, done chan struct{}) {
	defer close(done)
	for chunk := range stream.Chunks() {
		r.mu.Lock()
		buf.Write(chunk)
		r.mu.Unlock()
	}
}

// Stop finalizes the recording and returns the concatenated chunks. The
// stream is released whether or not finalization succeeds; on failure no
// artifact is returned.
func (r *Recorder) Stop(ctx context.Context) (*Artifact, error) {
	r.mu.Lock()
	if r.state != Recording || r.stream == nil {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.state = Finalizing
	stream, buf, done, started := r.stream, r.buf, r.done, r.started
	r.mu.Unlock()

	log := logger.WithComponent("recorder")

	defer func() {
		if err := stream.Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to release recording stream")
		}
		r.mu.Lock()
		r.stream = nil
		r.buf = nil
		r.state = Idle
		r.mu.Unlock()
	}()

	if err := stream.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Recording finalization failed")
		return nil, fmt.Errorf("%w: finalize: %v", ErrRecording, err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for encoder: %v", ErrRecording, ctx.Err())
	}

	r.mu.Lock()
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	r.mu.Unlock()

	artifact := &Artifact{
		Data:     data,
		MimeType: stream.MimeType(),
		Started:  started,
		Ended:    r.now(),
	}

	log.Info().
		Int("bytes", len(data)).
		Dur("duration", artifact.Duration()).
		Msg("Recording finished")
	return artifact, nil
}

// Abort releases an active recording without producing an artifact.
func (r *Recorder) Abort() {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.buf = nil
	r.state = Idle
	r.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Release(); err != nil {
		logger.WithComponent("recorder").Warn().Err(err).Msg("Failed to release aborted recording stream")
	}
}
