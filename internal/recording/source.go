package recording

import (
	"context"
	"image"
)

// Selection identifies what to record. Region is in root-window coordinates;
// an empty region records the whole monitor.
type Selection struct {
	MonitorID uint32          `json:"monitor_id"`
	Region    image.Rectangle `json:"region"`
}

// Source opens exclusive platform capture streams.
type Source interface {
	Open(ctx context.Context, sel Selection) (Stream, error)
}

// Stream is an exclusively owned capture stream producing encoded chunks.
type Stream interface {
	// Chunks yields encoded data and is closed when the encoder finishes.
	Chunks() <-chan []byte
	// Stop asks the encoder to flush and finish. It returns once the
	// encoder has exited or ctx expires.
	Stop(ctx context.Context) error
	// Release frees the platform stream. It is safe to call more than once.
	Release() error
	// Released reports whether Release has completed.
	Released() bool
	// MimeType describes the encoded chunks.
	MimeType() string
}
