package compositor

import (
	"fmt"
	"sort"
)

// ControlPoint maps an input sample to an output value.
type ControlPoint struct {
	In, Out float64
}

// Curve is a piecewise-linear remap through ordered control points. Inputs
// before the first point or after the last take that point's output.
// Applied results are clamped to [0,1].
type Curve []ControlPoint

// NewCurve sorts the points by input and rejects non-finite values.
func NewCurve(points ...ControlPoint) (Curve, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: curve needs at least one point", ErrInvalidParameter)
	}
	c := make(Curve, len(points))
	copy(c, points)
	for _, p := range c {
		if !finite(p.In) || !finite(p.Out) {
			return nil, fmt.Errorf("%w: non-finite control point %v", ErrInvalidParameter, p)
		}
	}
	sort.SliceStable(c, func(i, j int) bool { return c[i].In < c[j].In })
	return c, nil
}

// TrapezoidCurve is the band used by ramp calibration: zero outside
// focus ± filterRange/2, one on focus ± rng/2, linear with the given slope
// in between, where filterRange = 2/slope + rng.
func TrapezoidCurve(slope, focus, rng float64) (Curve, error) {
	if !finite(slope) || slope <= 0 {
		return nil, fmt.Errorf("%w: slope %v must be positive", ErrInvalidParameter, slope)
	}
	if !finite(rng) || rng < 0 {
		return nil, fmt.Errorf("%w: range %v must be non-negative", ErrInvalidParameter, rng)
	}
	if !finite(focus) {
		return nil, fmt.Errorf("%w: focus %v", ErrInvalidParameter, focus)
	}
	filterRange := 2/slope + rng
	lo := focus - filterRange/2
	hi := focus + filterRange/2
	return NewCurve(
		ControlPoint{lo, 0},
		ControlPoint{lo + 1/slope, 1},
		ControlPoint{hi - 1/slope, 1},
		ControlPoint{hi, 0},
	)
}

// StretchCurve maps [min, max] linearly onto [0, 1]. When max < min the
// stretch is inverted.
func StretchCurve(min, max float64) (Curve, error) {
	if min == max {
		return nil, ErrDegenerateCalibration
	}
	return NewCurve(ControlPoint{min, 0}, ControlPoint{max, 1})
}

// Eval returns the clamped curve value at v.
func (c Curve) Eval(v float64) float64 {
	n := len(c)
	if n == 0 {
		return 0
	}
	var out float64
	switch {
	case v <= c[0].In:
		out = c[0].Out
	case v >= c[n-1].In:
		out = c[n-1].Out
	default:
		i := sort.Search(n, func(i int) bool { return c[i].In > v })
		a, b := c[i-1], c[i]
		if b.In == a.In {
			out = b.Out
		} else {
			out = a.Out + (v-a.In)*(b.Out-a.Out)/(b.In-a.In)
		}
	}
	if out < 0 {
		return 0
	}
	if out > 1 {
		return 1
	}
	return out
}

// Apply maps every sample of a single-channel image through the curve. NaN
// samples map to zero.
func (c Curve) Apply(src *Image) (*Image, error) {
	if src == nil {
		return nil, ErrMissingAuxiliaryData
	}
	if src.Channels != 1 {
		return nil, fmt.Errorf("%w: curve input has %d channels", ErrInvalidParameter, src.Channels)
	}
	dst := NewGray(src.Rect)
	w := src.Rect.Dx()
	forRows(src.Rect.Dy(), func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			s := src.Pix[y*src.Stride : y*src.Stride+w]
			d := dst.Pix[y*dst.Stride : y*dst.Stride+w]
			for x, v := range s {
				if v != v {
					continue
				}
				d[x] = float32(c.Eval(float64(v)))
			}
		}
	})
	return dst, nil
}
