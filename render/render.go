// Package render turns compositor images into encoded files for display
// or storage.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrjoshuak/go-openexr/exr"

	"github.com/stevecastle/depthmask/compositor"
)

// Output formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatEXR  = "exr"
)

var ErrUnknownFormat = errors.New("render: unknown output format")

// FormatFromPath picks an output format from a file extension, defaulting
// to PNG.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".exr":
		return FormatEXR
	default:
		return FormatPNG
	}
}

// ContentType returns the MIME type for a format.
func ContentType(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatEXR:
		return "image/x-exr"
	default:
		return "image/png"
	}
}

// ToNRGBA quantizes an image to 8-bit non-premultiplied color.
// Single-channel images render as opaque gray.
func ToNRGBA(img *compositor.Image) *image.NRGBA {
	dst := image.NewNRGBA(img.Rect)
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			r, g, b, a := img.RGBA(x, y)
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = to8(r)
			dst.Pix[i+1] = to8(g)
			dst.Pix[i+2] = to8(b)
			dst.Pix[i+3] = to8(a)
		}
	}
	return dst
}

// ToGray16 quantizes a single-channel image to 16-bit gray. Color images
// are reduced to luminance.
func ToGray16(img *compositor.Image) *image.Gray16 {
	if img.Channels == 1 {
		return img.Gray16()
	}
	dst := image.NewGray16(img.Rect)
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			dst.Set(x, y, img.At(x, y))
		}
	}
	return dst
}

// Encode writes img in the given format. PNG keeps 16 bits per sample;
// JPEG quality is clamped to 1..100. EXR needs a seekable writer.
func Encode(w io.Writer, img *compositor.Image, format string, quality int) error {
	if img == nil {
		return errors.New("render: nil image")
	}
	switch format {
	case FormatPNG, "":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if img.Channels == 1 {
			return enc.Encode(w, ToGray16(img))
		}
		return enc.Encode(w, img.NRGBA64())
	case FormatJPEG:
		if quality < 1 || quality > 100 {
			quality = 90
		}
		return jpeg.Encode(w, ToNRGBA(img), &jpeg.Options{Quality: quality})
	case FormatEXR:
		ws, ok := w.(io.WriteSeeker)
		if !ok {
			return errors.New("render: exr output needs a seekable writer")
		}
		return exr.Encode(ws, toEXR(img))
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Bytes encodes img into memory. EXR is not supported here.
func Bytes(img *compositor.Image, format string, quality int) ([]byte, error) {
	if format == FormatEXR {
		return nil, fmt.Errorf("%w: %q in memory", ErrUnknownFormat, format)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile encodes img to path, choosing the format from the extension.
func WriteFile(path string, img *compositor.Image, quality int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, img, FormatFromPath(path), quality); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// toEXR keeps float samples unclamped so disparity exports round trip.
func toEXR(img *compositor.Image) *exr.RGBAImage {
	n := img.Normalize()
	out := exr.NewRGBAImage(n.Rect)
	for y := 0; y < n.Rect.Dy(); y++ {
		for x := 0; x < n.Rect.Dx(); x++ {
			r, g, b, a := n.RGBA(x, y)
			out.SetRGBA(x, y, r, g, b, a)
		}
	}
	return out
}

func to8(v float32) uint8 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
