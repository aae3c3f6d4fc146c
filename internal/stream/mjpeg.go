// Package stream serves a live preview of a monitor as Motion JPEG.
package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/snapmark/internal/logger"
)

// DefaultFPS and DefaultQuality bound the preview stream.
const (
	DefaultFPS     = 30
	DefaultQuality = 90
)

// Output is a sink for preview frames.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds the output encoding settings.
type Config struct {
	FPS     int
	Quality int
}

func (c Config) normalized() Config {
	if c.FPS <= 0 || c.FPS > DefaultFPS {
		c.FPS = DefaultFPS
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = DefaultQuality
	}
	return c
}

// Stats describes the output for the API.
type Stats struct {
	Running    bool    `json:"running"`
	TargetFPS  int     `json:"target_fps"`
	ActualFPS  float64 `json:"actual_fps"`
	Frames     uint64  `json:"frames"`
	Clients    int     `json:"clients"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	LastUpdate string  `json:"last_update,omitempty"`
}

// MJPEGOutput streams frames as Motion JPEG over HTTP.
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	frameMu    sync.RWMutex
	lastFrame  []byte
	lastSize   image.Point
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	return &MJPEGOutput{
		config:  config.normalized(),
		clients: make(map[chan []byte]struct{}),
	}
}

// Start marks the output live. The HTTP handler is mounted separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("stream").Info().
		Int("fps", m.config.FPS).
		Int("quality", m.config.Quality).
		Msg("MJPEG output started")
	return nil
}

// Stop shuts the output down and disconnects every client.
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("stream").Info().Uint64("frames", m.frameCount).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes frame and sends it to all connected clients. Slow
// clients miss frames rather than stall the stream.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.lastFrame = jpegData
	m.lastSize = frame.Bounds().Size()
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected viewers.
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Stats reports frame and client counters.
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	st := Stats{Running: m.running, TargetFPS: m.config.FPS, Frames: m.frameCount}
	startTime := m.startTime
	m.mu.RUnlock()

	if st.Running && !startTime.IsZero() {
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			st.ActualFPS = float64(st.Frames) / elapsed
		}
	}

	m.frameMu.RLock()
	st.Width, st.Height = m.lastSize.X, m.lastSize.Y
	if !m.lastUpdate.IsZero() {
		st.LastUpdate = m.lastUpdate.UTC().Format(time.RFC3339)
	}
	m.frameMu.RUnlock()

	st.Clients = m.ClientCount()
	return st
}

// ServeHTTP streams frames as multipart/x-mixed-replace until the client
// disconnects or the output stops. The latest frame is sent immediately.
func (m *MJPEGOutput) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("stream")

	if !m.IsRunning() {
		http.Error(w, "stream not running", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Connection", "close")

	frameChan := make(chan []byte, 2)

	m.clientsMu.Lock()
	m.clients[frameChan] = struct{}{}
	clientCount := len(m.clients)
	m.clientsMu.Unlock()

	log.Info().Int("clients", clientCount).Msg("Stream client connected")

	defer func() {
		m.clientsMu.Lock()
		if _, ok := m.clients[frameChan]; ok {
			delete(m.clients, frameChan)
		}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()
		log.Info().Int("clients", clientCount).Msg("Stream client disconnected")
	}()

	m.frameMu.RLock()
	last := m.lastFrame
	m.frameMu.RUnlock()
	if last != nil {
		if err := writePart(w, last); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case jpegData, ok := <-frameChan:
			if !ok {
				return
			}
			if err := writePart(w, jpegData); err != nil {
				return
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
