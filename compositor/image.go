// Package compositor derives a calibrated alpha mask from a depth or
// disparity map and blends a color photo over a background with it.
//
// Images carry float32 samples and an extent (image.Rectangle). Every
// operation returns a new image; inputs are never modified.
package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Image is a float32 sample buffer. Channels is 1 for depth, disparity and
// masks, or 4 for non-premultiplied RGBA color.
type Image struct {
	Pix      []float32
	Stride   int
	Rect     image.Rectangle
	Channels int
}

// NewImage allocates a zeroed image with the given extent and channel count.
func NewImage(r image.Rectangle, channels int) *Image {
	if channels != 1 && channels != 4 {
		channels = 4
	}
	w, h := r.Dx(), r.Dy()
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Image{
		Pix:      make([]float32, w*h*channels),
		Stride:   w * channels,
		Rect:     r,
		Channels: channels,
	}
}

// NewGray allocates a single-channel image.
func NewGray(r image.Rectangle) *Image { return NewImage(r, 1) }

// NewRGBA allocates a four-channel image.
func NewRGBA(r image.Rectangle) *Image { return NewImage(r, 4) }

// GrayFromFloats wraps row-major samples of a w×h single-channel map.
func GrayFromFloats(w, h int, samples []float32) *Image {
	img := NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, samples)
	return img
}

// FromImage converts any decoded image to a four-channel float image with
// samples in [0,1].
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	dst := NewRGBA(b)
	if n, ok := src.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := n.PixOffset(b.Min.X, y)
			di := dst.PixOffset(b.Min.X, y)
			for x := 0; x < b.Dx()*4; x++ {
				dst.Pix[di+x] = float32(n.Pix[si+x]) / 255
			}
		}
		return dst
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(src.At(x, y)).(color.NRGBA64)
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = float32(c.R) / 0xffff
			dst.Pix[i+1] = float32(c.G) / 0xffff
			dst.Pix[i+2] = float32(c.B) / 0xffff
			dst.Pix[i+3] = float32(c.A) / 0xffff
		}
	}
	return dst
}

// GrayFromImage converts any decoded image to a single-channel float image
// with samples in [0,1]. Color input is reduced to luminance.
func GrayFromImage(src image.Image) *Image {
	b := src.Bounds()
	dst := NewGray(b)
	switch g := src.(type) {
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := g.PixOffset(b.Min.X, y)
			di := dst.PixOffset(b.Min.X, y)
			for x := 0; x < b.Dx(); x++ {
				dst.Pix[di+x] = float32(g.Pix[si+x]) / 255
			}
		}
		return dst
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := g.PixOffset(b.Min.X, y)
			di := dst.PixOffset(b.Min.X, y)
			for x := 0; x < b.Dx(); x++ {
				v := uint16(g.Pix[si+2*x])<<8 | uint16(g.Pix[si+2*x+1])
				dst.Pix[di+x] = float32(v) / 0xffff
			}
		}
		return dst
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.Gray16Model.Convert(src.At(x, y)).(color.Gray16)
			dst.Pix[dst.PixOffset(x, y)] = float32(c.Y) / 0xffff
		}
	}
	return dst
}

// Extent returns the image's origin and size.
func (m *Image) Extent() image.Rectangle { return m.Rect }

// Bounds implements image.Image.
func (m *Image) Bounds() image.Rectangle { return m.Rect }

// ColorModel implements image.Image.
func (m *Image) ColorModel() color.Model {
	if m.Channels == 1 {
		return color.Gray16Model
	}
	return color.NRGBA64Model
}

// At implements image.Image. Samples are clamped to [0,1] and quantized to
// 16 bits.
func (m *Image) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(m.Rect)) {
		if m.Channels == 1 {
			return color.Gray16{}
		}
		return color.NRGBA64{}
	}
	i := m.PixOffset(x, y)
	if m.Channels == 1 {
		return color.Gray16{Y: to16(m.Pix[i])}
	}
	return color.NRGBA64{
		R: to16(m.Pix[i+0]),
		G: to16(m.Pix[i+1]),
		B: to16(m.Pix[i+2]),
		A: to16(m.Pix[i+3]),
	}
}

// PixOffset returns the index of the first sample of pixel (x, y).
func (m *Image) PixOffset(x, y int) int {
	return (y-m.Rect.Min.Y)*m.Stride + (x-m.Rect.Min.X)*m.Channels
}

// Gray returns the single-channel sample at (x, y), or the red sample of a
// color image.
func (m *Image) Gray(x, y int) float32 {
	return m.Pix[m.PixOffset(x, y)]
}

// SetGray sets the sample at (x, y) of a single-channel image.
func (m *Image) SetGray(x, y int, v float32) {
	if !(image.Point{x, y}.In(m.Rect)) {
		return
	}
	m.Pix[m.PixOffset(x, y)] = v
}

// RGBA returns the four samples at (x, y). Single-channel images read as
// opaque gray.
func (m *Image) RGBA(x, y int) (r, g, b, a float32) {
	i := m.PixOffset(x, y)
	if m.Channels == 1 {
		v := m.Pix[i]
		return v, v, v, 1
	}
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3]
}

// SetRGBA sets the four samples at (x, y) of a color image.
func (m *Image) SetRGBA(x, y int, r, g, b, a float32) {
	if !(image.Point{x, y}.In(m.Rect)) || m.Channels != 4 {
		return
	}
	i := m.PixOffset(x, y)
	m.Pix[i+0] = r
	m.Pix[i+1] = g
	m.Pix[i+2] = b
	m.Pix[i+3] = a
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	c := &Image{
		Pix:      make([]float32, len(m.Pix)),
		Stride:   m.Stride,
		Rect:     m.Rect,
		Channels: m.Channels,
	}
	copy(c.Pix, m.Pix)
	return c
}

// Translate returns a copy whose extent is moved by d. Samples are shared
// with m.
func (m *Image) Translate(d image.Point) *Image {
	return &Image{Pix: m.Pix, Stride: m.Stride, Rect: m.Rect.Add(d), Channels: m.Channels}
}

// Normalize returns m with its extent origin moved to (0, 0).
func (m *Image) Normalize() *Image {
	return m.Translate(m.Rect.Min.Mul(-1))
}

// SubImage returns a copy of the part of m inside r.
func (m *Image) SubImage(r image.Rectangle) *Image {
	r = r.Intersect(m.Rect)
	dst := NewImage(r, m.Channels)
	n := r.Dx() * m.Channels
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(dst.Pix[dst.PixOffset(r.Min.X, y):][:n], m.Pix[m.PixOffset(r.Min.X, y):][:n])
	}
	return dst
}

// Gray16 renders a single-channel image into a 16-bit gray image with the
// same extent.
func (m *Image) Gray16() *image.Gray16 {
	dst := image.NewGray16(m.Rect)
	for y := m.Rect.Min.Y; y < m.Rect.Max.Y; y++ {
		for x := m.Rect.Min.X; x < m.Rect.Max.X; x++ {
			v := to16(m.Pix[m.PixOffset(x, y)])
			i := dst.PixOffset(x, y)
			dst.Pix[i] = uint8(v >> 8)
			dst.Pix[i+1] = uint8(v)
		}
	}
	return dst
}

// NRGBA64 renders the image into a 16-bit color image.
func (m *Image) NRGBA64() *image.NRGBA64 {
	dst := image.NewNRGBA64(m.Rect)
	draw.Draw(dst, m.Rect, m, m.Rect.Min, draw.Src)
	return dst
}

// GrayToRGBA expands a single-channel image into opaque gray color.
func GrayToRGBA(m *Image) *Image {
	if m.Channels == 4 {
		return m.Clone()
	}
	dst := NewRGBA(m.Rect)
	for i, v := range m.Pix {
		dst.Pix[4*i+0] = v
		dst.Pix[4*i+1] = v
		dst.Pix[4*i+2] = v
		dst.Pix[4*i+3] = 1
	}
	return dst
}

func to16(v float32) uint16 {
	return uint16(clamp01(v)*0xffff + 0.5)
}

func clamp01(v float32) float32 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
