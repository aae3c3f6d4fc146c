// Package recordingtest provides an in-memory recording source for tests.
package recordingtest

import (
	"context"
	"sync"

	"github.com/bryanchriswhite/snapmark/internal/recording"
)

// Source hands out Streams that emit the configured chunks.
type Source struct {
	mu sync.Mutex
	// Chunks are emitted by each opened stream before Stop returns.
	Chunks [][]byte
	// OpenErr fails Open.
	OpenErr error
	// StopErr fails Stream.Stop.
	StopErr error
	// Streams records every stream opened.
	Streams []*Stream
	// Selections records every selection passed to Open.
	Selections []recording.Selection
}

// NewSource returns a source whose streams emit chunks.
func NewSource(chunks ...[]byte) *Source {
	return &Source{Chunks: chunks}
}

// Open implements recording.Source.
func (s *Source) Open(ctx context.Context, sel recording.Selection) (recording.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Selections = append(s.Selections, sel)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := &Stream{
		chunks:  s.Chunks,
		stopErr: s.StopErr,
		out:     make(chan []byte),
	}
	s.Streams = append(s.Streams, st)
	return st, nil
}

// Last returns the most recently opened stream.
func (s *Source) Last() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Streams) == 0 {
		return nil
	}
	return s.Streams[len(s.Streams)-1]
}

// Stream emits its chunks when stopped, mimicking an encoder that flushes
// on EOS.
type Stream struct {
	chunks  [][]byte
	stopErr error
	out     chan []byte

	mu       sync.Mutex
	stopped  bool
	released bool
	releases int
}

func (s *Stream) Chunks() <-chan []byte { return s.out }

func (s *Stream) MimeType() string { return "video/webm" }

// Stop flushes the configured chunks and closes the channel.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.stopErr != nil {
		return s.stopErr
	}
	for _, c := range s.chunks {
		select {
		case s.out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	close(s.out)
	return nil
}

// Release marks the stream released and closes it if it was never stopped.
func (s *Stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if !s.released && (!s.stopped || s.stopErr != nil) {
		close(s.out)
	}
	s.released = true
	return nil
}

func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Releases counts Release calls.
func (s *Stream) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}
