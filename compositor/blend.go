package compositor

import (
	"fmt"

	"github.com/disintegration/imaging"
)

// Composite blends color over background through mask:
// out = color*mask + background*(1-mask), for all four channels. All three
// extents must be equal.
func Composite(color, background, mask *Image) (*Image, error) {
	if mask == nil {
		return nil, ErrMissingAuxiliaryData
	}
	if color == nil || background == nil {
		return nil, fmt.Errorf("%w: missing color or background", ErrExtentMismatch)
	}
	if color.Rect != background.Rect || color.Rect != mask.Rect {
		return nil, fmt.Errorf("%w: color %v, background %v, mask %v",
			ErrExtentMismatch, color.Rect, background.Rect, mask.Rect)
	}
	if color.Channels != 4 {
		color = GrayToRGBA(color)
	}
	if background.Channels != 4 {
		background = GrayToRGBA(background)
	}
	if mask.Channels != 1 {
		return nil, fmt.Errorf("%w: mask has %d channels", ErrInvalidParameter, mask.Channels)
	}

	out := NewRGBA(color.Rect)
	w := color.Rect.Dx()
	forRows(color.Rect.Dy(), func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			c := color.Pix[y*color.Stride:]
			b := background.Pix[y*background.Stride:]
			m := mask.Pix[y*mask.Stride:]
			o := out.Pix[y*out.Stride:]
			for x := 0; x < w; x++ {
				a := clamp01(m[x])
				for k := 4 * x; k < 4*x+4; k++ {
					o[k] = c[k]*a + b[k]*(1-a)
				}
			}
		}
	})
	return out, nil
}

// Feather blurs a mask with a Gaussian of the given sigma in mask pixels.
// A non-positive sigma returns the mask unchanged. The result is quantized
// to 8 bits.
func Feather(mask *Image, sigma float64) *Image {
	if mask == nil || sigma <= 0 {
		return mask
	}
	blurred := imaging.Blur(mask.Gray16(), sigma)
	out := NewGray(mask.Rect)
	b := blurred.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = float32(blurred.Pix[blurred.PixOffset(b.Min.X+x, b.Min.Y+y)]) / 255
		}
	}
	return out
}
