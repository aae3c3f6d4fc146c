package recording

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bryanchriswhite/snapmark/internal/logger"
)

// Encoder names accepted by GstOptions.Encoder.
const (
	EncoderVP8  = "vp8"
	EncoderVP9  = "vp9"
	EncoderH264 = "h264"
)

// DefaultChunkSize is the read size for encoder output.
const DefaultChunkSize = 64 * 1024

const releaseTimeout = 3 * time.Second

// GstOptions configures the gst-launch pipeline.
type GstOptions struct {
	// Encoder selects the codec and container.
	Encoder string
	// ChunkSize is the maximum size of each emitted chunk.
	ChunkSize int
	// FPS caps the capture frame rate; zero leaves it to the source.
	FPS int
	// Portal forces the ScreenCast portal + PipeWire path.
	Portal bool
	// TokenPath stores the portal restore token.
	TokenPath string
}

// GstSource records through a gst-launch-1.0 subprocess. On X11 it reads the
// root window with ximagesrc; on Wayland it opens a ScreenCast portal session
// and reads its PipeWire node.
type GstSource struct {
	opts GstOptions
}

// NewGstSource creates a gst-launch backed source.
func NewGstSource(opts GstOptions) *GstSource {
	if opts.Encoder == "" {
		opts.Encoder = EncoderVP8
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if !opts.Portal && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") != "" {
		opts.Portal = true
	}
	return &GstSource{opts: opts}
}

// Available reports whether gst-launch-1.0 is on PATH.
func Available() bool {
	_, err := exec.LookPath("gst-launch-1.0")
	return err == nil
}

// Open starts the encoder subprocess for sel.
func (g *GstSource) Open(ctx context.Context, sel Selection) (Stream, error) {
	log := logger.WithComponent("gst-source")

	var cast *ScreenCast
	var nodeID uint32
	if g.opts.Portal {
		c, err := NewScreenCast(g.opts.TokenPath)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			c.Close()
			return nil, err
		}
		cast, nodeID = c, c.NodeID()
	}

	args, mime, err := pipelineArgs(g.opts, sel, nodeID)
	if err != nil {
		if cast != nil {
			cast.Close()
		}
		return nil, err
	}

	log.Debug().Str("pipeline", strings.Join(args, " ")).Msg("Starting gst-launch")

	cmd := exec.Command("gst-launch-1.0", args...)
	stdout, stderr, err := startProcess(cmd, func() {
		if cast != nil {
			cast.Close()
		}
	})
	if err != nil {
		return nil, err
	}

	s := &gstStream{
		cmd:    cmd,
		cast:   cast,
		mime:   mime,
		chunks: make(chan []byte, 16),
		exited: make(chan struct{}),
	}
	go s.readChunks(stdout, g.opts.ChunkSize)
	go logStderr(stderr)

	log.Info().Int("pid", cmd.Process.Pid).Str("encoder", g.opts.Encoder).Bool("portal", cast != nil).Msg("gst-launch started")
	return s, nil
}

// startProcess wires the output pipes and starts cmd. release runs on every
// failure so the capture stream is not leaked.
func startProcess(cmd *exec.Cmd, release func()) (io.ReadCloser, io.ReadCloser, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		release()
		return nil, nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		release()
		return nil, nil, fmt.Errorf("failed to start gst-launch: %w", err)
	}
	return stdout, stderr, nil
}

// pipelineArgs builds the gst-launch argument list and the output MIME type.
func pipelineArgs(opts GstOptions, sel Selection, nodeID uint32) ([]string, string, error) {
	args := []string{"-q", "-e"}

	if opts.Portal {
		args = append(args, "pipewiresrc", "path="+strconv.FormatUint(uint64(nodeID), 10), "do-timestamp=true")
	} else {
		args = append(args, "ximagesrc", "use-damage=false", "show-pointer=true")
		if r := sel.Region; !r.Empty() {
			// end coordinates are inclusive
			args = append(args,
				"startx="+strconv.Itoa(r.Min.X),
				"starty="+strconv.Itoa(r.Min.Y),
				"endx="+strconv.Itoa(r.Max.X-1),
				"endy="+strconv.Itoa(r.Max.Y-1),
			)
		}
	}

	if opts.FPS > 0 {
		args = append(args, "!", "videorate", "!", fmt.Sprintf("video/x-raw,framerate=%d/1", opts.FPS))
	}
	args = append(args, "!", "videoconvert")

	var mime string
	switch opts.Encoder {
	case EncoderVP8, "":
		args = append(args, "!", "vp8enc", "deadline=1", "cpu-used=8", "!", "webmmux")
		mime = "video/webm"
	case EncoderVP9:
		args = append(args, "!", "vp9enc", "deadline=1", "cpu-used=8", "!", "webmmux")
		mime = "video/webm"
	case EncoderH264:
		args = append(args, "!", "x264enc", "tune=zerolatency", "speed-preset=ultrafast", "!", "matroskamux")
		mime = "video/x-matroska"
	default:
		return nil, "", fmt.Errorf("unknown encoder %q", opts.Encoder)
	}

	args = append(args, "!", "fdsink", "fd=1", "sync=false")
	return args, mime, nil
}

// gstStream is one running gst-launch process.
type gstStream struct {
	cmd  *exec.Cmd
	cast *ScreenCast
	mime string

	chunks chan []byte
	exited chan struct{}
	// waitErr is set before exited is closed
	waitErr error

	mu          sync.Mutex
	released    bool
	releaseOnce sync.Once
	releaseErr  error
}

func (s *gstStream) Chunks() <-chan []byte { return s.chunks }

func (s *gstStream) MimeType() string { return s.mime }

// readChunks forwards stdout until EOF, then reaps the process.
func (s *gstStream) readChunks(stdout io.Reader, size int) {
	log := logger.WithComponent("gst-source")
	buf := make([]byte, size)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.chunks <- chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Warn().Err(err).Msg("Error reading encoder output")
			}
			break
		}
	}
	close(s.chunks)
	s.waitErr = s.cmd.Wait()
	close(s.exited)
}

func logStderr(r io.Reader) {
	log := logger.WithComponent("gst-source")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop sends SIGINT so gst-launch -e pushes EOS and the muxer finalizes.
func (s *gstStream) Stop(ctx context.Context) error {
	select {
	case <-s.exited:
		if s.waitErr != nil {
			return fmt.Errorf("encoder exited early: %w", s.waitErr)
		}
		return nil
	default:
	}

	if err := s.cmd.Process.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("failed to signal encoder: %w", err)
	}

	select {
	case <-s.exited:
	case <-ctx.Done():
		return fmt.Errorf("encoder did not finish: %w", ctx.Err())
	}
	if s.waitErr != nil {
		return fmt.Errorf("encoder failed: %w", s.waitErr)
	}
	return nil
}

// Release kills the process if it is still running and closes the portal session.
func (s *gstStream) Release() error {
	s.releaseOnce.Do(func() {
		select {
		case <-s.exited:
		default:
			s.cmd.Process.Kill()
			// drain so readChunks can reach Wait
			go func() {
				for range s.chunks {
				}
			}()
			select {
			case <-s.exited:
			case <-time.After(releaseTimeout):
				s.releaseErr = fmt.Errorf("encoder did not exit after kill")
			}
		}
		if s.cast != nil {
			if err := s.cast.Close(); err != nil && s.releaseErr == nil {
				s.releaseErr = err
			}
		}
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
		logger.WithComponent("gst-source").Debug().Int("pid", s.cmd.Process.Pid).Msg("Recording stream released")
	})
	return s.releaseErr
}

func (s *gstStream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
