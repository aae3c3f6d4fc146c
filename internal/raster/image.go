// Package raster holds captured bitmaps as immutable PNG-encoded values.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/bryanchriswhite/snapmark/internal/geometry"
	xdraw "golang.org/x/image/draw"
)

// ErrInvalidImage is returned when bytes cannot be read as a PNG bitmap.
var ErrInvalidImage = errors.New("invalid image data")

// Image is an immutable PNG bitmap together with its native pixel size.
// Every edit returns a new Image.
type Image struct {
	data   []byte
	width  int
	height int
}

// New validates PNG bytes and records their dimensions. The input is copied.
func New(data []byte) (*Image, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %dx%d bitmap", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Image{data: buf, width: cfg.Width, height: cfg.Height}, nil
}

// FromImage encodes img as PNG. The origin is normalized to (0,0).
func FromImage(img image.Image) (*Image, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrInvalidImage, b)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return &Image{data: buf.Bytes(), width: b.Dx(), height: b.Dy()}, nil
}

// Width returns the native width in pixels.
func (i *Image) Width() int { return i.width }

// Height returns the native height in pixels.
func (i *Image) Height() int { return i.height }

// Size returns the native size as a coordinate space.
func (i *Image) Size() geometry.Size { return geometry.SizeOf(i.width, i.height) }

// Bounds returns the native pixel bounds anchored at the origin.
func (i *Image) Bounds() image.Rectangle { return image.Rect(0, 0, i.width, i.height) }

// Len returns the encoded size in bytes.
func (i *Image) Len() int { return len(i.data) }

// Bytes returns a copy of the PNG encoding.
func (i *Image) Bytes() []byte {
	out := make([]byte, len(i.data))
	copy(out, i.data)
	return out
}

// WriteTo streams the PNG encoding to w.
func (i *Image) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(i.data)
	return int64(n), err
}

// Decode returns a fresh RGBA copy of the bitmap anchored at the origin.
func (i *Image) Decode() (*image.RGBA, error) {
	img, err := png.Decode(bytes.NewReader(i.data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}
	return ToRGBA(img), nil
}

// ToRGBA converts any image to an origin-anchored *image.RGBA.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)
	return out
}

// Crop returns the sub-image covered by r, clamped to the image bounds.
// An empty intersection is a no-op and returns the receiver.
func (i *Image) Crop(r image.Rectangle) (*Image, error) {
	r = r.Canon().Intersect(i.Bounds())
	if r.Empty() || r == i.Bounds() {
		return i, nil
	}
	src, err := i.Decode()
	if err != nil {
		return nil, err
	}
	return FromImage(CropRGBA(src, r))
}

// CropRGBA copies the rows of r out of frame. r must lie within frame's bounds.
func CropRGBA(frame *image.RGBA, r image.Rectangle) *image.RGBA {
	width, height := r.Dx(), r.Dy()
	cropped := image.NewRGBA(image.Rect(0, 0, width, height))
	origin := frame.Bounds().Min
	for dy := 0; dy < height; dy++ {
		srcStart := (r.Min.Y-origin.Y+dy)*frame.Stride + (r.Min.X-origin.X)*4
		dstStart := dy * cropped.Stride
		copy(cropped.Pix[dstStart:dstStart+width*4], frame.Pix[srcStart:srcStart+width*4])
	}
	return cropped
}

// Scaled renders the bitmap into a width x height RGBA using bilinear
// filtering. It is used for display-space previews; the native bitmap is unchanged.
func (i *Image) Scaled(width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", geometry.ErrDegenerate, width, height)
	}
	src, err := i.Decode()
	if err != nil {
		return nil, err
	}
	return ScaleRGBA(src, width, height), nil
}

// ScaleRGBA resizes src to width x height with bilinear filtering.
func ScaleRGBA(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// FitWithin returns the largest size with the image's aspect ratio that fits
// in maxW x maxH without upscaling.
func (i *Image) FitWithin(maxW, maxH int) (int, int) {
	if maxW <= 0 || maxH <= 0 || (i.width <= maxW && i.height <= maxH) {
		return i.width, i.height
	}
	w, h := maxW, i.height*maxW/i.width
	if h > maxH {
		w, h = i.width*maxH/i.height, maxH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
