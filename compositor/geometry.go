package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Scaler picks an x/image/draw interpolator by name. Unknown names fall
// back to bilinear.
func Scaler(name string) draw.Scaler {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest":
		return draw.NearestNeighbor
	case "approx", "approxbilinear":
		return draw.ApproxBiLinear
	case "bicubic", "catmullrom":
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

// ResizeToExtent scales a single-channel mask independently in x and y so
// that its extent equals target exactly.
func ResizeToExtent(mask *Image, target image.Rectangle, scaler draw.Scaler) (*Image, error) {
	if mask == nil {
		return nil, ErrMissingAuxiliaryData
	}
	if target.Empty() || mask.Rect.Empty() {
		return nil, fmt.Errorf("%w: cannot resize %v to %v", ErrExtentMismatch, mask.Rect, target)
	}
	if mask.Channels != 1 {
		return nil, fmt.Errorf("%w: mask has %d channels", ErrInvalidParameter, mask.Channels)
	}
	if mask.Rect.Size() == target.Size() {
		return mask.Clone().Translate(target.Min.Sub(mask.Rect.Min)), nil
	}
	if scaler == nil {
		scaler = draw.BiLinear
	}
	src := mask.Gray16()
	dst := image.NewGray16(target)
	scaler.Scale(dst, target, src, src.Bounds(), draw.Src, nil)
	return GrayFromImage(dst), nil
}

// ScaleToCover scales bg uniformly by the larger of the two axis ratios so
// it covers target, and centers the result over target. The returned
// extent contains target; AlignTo crops it.
func ScaleToCover(bg image.Image, target image.Rectangle) (*Image, error) {
	if bg == nil {
		return nil, fmt.Errorf("%w: no background", ErrExtentMismatch)
	}
	b := bg.Bounds()
	if b.Empty() || target.Empty() {
		return nil, fmt.Errorf("%w: cannot cover %v with %v", ErrExtentMismatch, target, b)
	}
	s := ScaleForAspectFill(SizeOf(b), SizeOf(target))
	nw := int(math.Ceil(float64(b.Dx())*s - 1e-9))
	nh := int(math.Ceil(float64(b.Dy())*s - 1e-9))
	if nw < target.Dx() {
		nw = target.Dx()
	}
	if nh < target.Dy() {
		nh = target.Dy()
	}

	var scaled *Image
	if nw == b.Dx() && nh == b.Dy() {
		if fi, ok := bg.(*Image); ok && fi.Channels == 4 {
			scaled = fi.Clone()
		} else if ok {
			scaled = GrayToRGBA(fi)
		} else {
			scaled = FromImage(bg)
		}
		scaled = scaled.Normalize()
	} else {
		scaled = FromImage(resize.Resize(uint(nw), uint(nh), bg, resize.Bilinear)).Normalize()
	}
	off := target.Min.Add(image.Pt((target.Dx()-nw)/2, (target.Dy()-nh)/2))
	return scaled.Translate(off), nil
}

// AlignTo crops img to target. img must cover target.
func AlignTo(img *Image, target image.Rectangle) (*Image, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image to align", ErrExtentMismatch)
	}
	if !target.In(img.Rect) {
		return nil, fmt.Errorf("%w: %v does not cover %v", ErrExtentMismatch, img.Rect, target)
	}
	if img.Rect == target {
		return img, nil
	}
	return img.SubImage(target), nil
}

// SolidColor returns an image of extent r filled with c.
func SolidColor(c color.Color, r image.Rectangle) *Image {
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	rr, gg, bb, aa := float32(n.R)/0xffff, float32(n.G)/0xffff, float32(n.B)/0xffff, float32(n.A)/0xffff
	img := NewRGBA(r)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = rr
		img.Pix[i+1] = gg
		img.Pix[i+2] = bb
		img.Pix[i+3] = aa
	}
	return img
}

// Rotate90 rotates img a quarter turn about the coordinate origin. The
// extent rotates with it: clockwise maps pixel (x, y) to (-y-1, x),
// counter-clockwise maps it to (y, -x-1). Call Normalize to move the
// result back to the origin.
func Rotate90(img *Image, clockwise bool) *Image {
	if img == nil {
		return nil
	}
	r := img.Rect
	var nr image.Rectangle
	if clockwise {
		nr = image.Rect(-r.Max.Y, r.Min.X, -r.Min.Y, r.Max.X)
	} else {
		nr = image.Rect(r.Min.Y, -r.Max.X, r.Max.Y, -r.Min.X)
	}
	dst := NewImage(nr, img.Channels)
	ch := img.Channels
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			var dx, dy int
			if clockwise {
				dx, dy = -y-1, x
			} else {
				dx, dy = y, -x-1
			}
			copy(dst.Pix[dst.PixOffset(dx, dy):][:ch], img.Pix[img.PixOffset(x, y):][:ch])
		}
	}
	return dst
}

// Size is a floating point width and height.
type Size struct {
	W, H float64
}

// SizeOf returns the size of r.
func SizeOf(r image.Rectangle) Size {
	return Size{float64(r.Dx()), float64(r.Dy())}
}

// AspectRatio is width over height.
func (s Size) AspectRatio() float64 { return s.W / s.H }

// Scale multiplies both dimensions by f.
func (s Size) Scale(f float64) Size { return Size{s.W * f, s.H * f} }

// SizeForAspectFit returns s scaled to fit inside target.
func SizeForAspectFit(s, target Size) Size {
	return s.Scale(ScaleForAspectFit(s, target))
}

// SizeForAspectFill returns s scaled to fill target.
func SizeForAspectFill(s, target Size) Size {
	return s.Scale(ScaleForAspectFill(s, target))
}

// ScaleForAspectFit is the uniform scale that fits s inside target.
func ScaleForAspectFit(s, target Size) float64 {
	return math.Min(target.W/s.W, target.H/s.H)
}

// ScaleForAspectFill is the uniform scale that makes s cover target.
func ScaleForAspectFill(s, target Size) float64 {
	return math.Max(target.W/s.W, target.H/s.H)
}
