package compositor

import (
	"errors"
	"image"
	"image/color"
)

// Capture is a color photo with its optional auxiliary depth or disparity
// map, already sharing orientation.
type Capture struct {
	Color     *Image
	Auxiliary *Image
	AuxKind   AuxiliaryKind
}

// Default calibration parameters.
const (
	DefaultSlope = 3.0
	DefaultFocus = 0.5
	DefaultRange = 0.1
)

// DefaultBackground is the solid background used when none is set.
var DefaultBackground color.Color = color.NRGBA{R: 0, G: 0, B: 255, A: 255}

// CalibrationParams controls how disparity becomes a mask.
type CalibrationParams struct {
	Mode CalibrationMode

	// Ramp mode.
	Slope float64
	Focus float64
	Range float64

	// MinMax mode: threshold fractions of the observed range, and the
	// percentiles that define the observed range.
	MinThreshold float64
	MaxThreshold float64
	ClipLow      float64
	ClipHigh     float64

	// Feather is a Gaussian sigma applied to the mask before it is
	// resized. Zero disables it.
	Feather float64
	// Interpolation names the mask scaler, see Scaler.
	Interpolation string
}

// DefaultParams returns ramp calibration with the default slope, focus and
// range.
func DefaultParams() CalibrationParams {
	return CalibrationParams{
		Mode:          ModeRamp,
		Slope:         DefaultSlope,
		Focus:         DefaultFocus,
		Range:         DefaultRange,
		MinThreshold:  0,
		MaxThreshold:  1,
		ClipLow:       0,
		ClipHigh:      100,
		Interpolation: "bilinear",
	}
}

// ImageCompositor derives masks and composites for a single capture. It
// caches the color image and the converted disparity for the lifetime of
// the capture. Params, Background and BackgroundColor may be changed
// between calls. An ImageCompositor is not safe for concurrent use.
type ImageCompositor struct {
	Params CalibrationParams
	// Background, when set, is scaled to cover the color extent.
	Background image.Image
	// BackgroundColor is used when Background is nil.
	BackgroundColor color.Color

	capture   Capture
	disparity *Image
	dispErr   error
	converted bool

	observedMin, observedMax float64
	observed                 bool
}

// New returns a compositor over c with default parameters.
func New(c Capture) *ImageCompositor {
	return &ImageCompositor{
		Params:          DefaultParams(),
		BackgroundColor: DefaultBackground,
		capture:         c,
	}
}

// ColorImage returns the capture's color image.
func (ic *ImageCompositor) ColorImage() (*Image, error) {
	if ic.capture.Color == nil {
		return nil, ErrMissingAuxiliaryData
	}
	return ic.capture.Color, nil
}

// DepthImage returns the auxiliary map converted to disparity.
func (ic *ImageCompositor) DepthImage() (*Image, error) {
	if !ic.converted {
		ic.disparity, ic.dispErr = ToDisparity(ic.capture.Auxiliary, ic.capture.AuxKind)
		ic.converted = true
	}
	return ic.disparity, ic.dispErr
}

// CalibratedDisparityImage returns the mask at the disparity map's own
// resolution.
func (ic *ImageCompositor) CalibratedDisparityImage() (*Image, error) {
	disp, err := ic.DepthImage()
	if err != nil {
		return nil, err
	}
	p := ic.Params
	var mask *Image
	switch p.Mode {
	case ModeMinMax:
		var lo, hi float64
		mask, lo, hi, err = CalibrateMinMaxClipped(disp, p.MinThreshold, p.MaxThreshold, p.ClipLow, p.ClipHigh)
		if err == nil || errors.Is(err, ErrDegenerateCalibration) {
			ic.observedMin, ic.observedMax, ic.observed = lo, hi, true
		}
	default:
		mask, err = Calibrate(disp, p.Slope, p.Focus, p.Range)
	}
	if err != nil {
		return nil, err
	}
	return Feather(mask, p.Feather), nil
}

// AlphaMaskImage returns the mask resized to the color extent. With
// grayscaled set it returns an opaque gray rendering of the mask instead
// of a single-channel alpha.
func (ic *ImageCompositor) AlphaMaskImage(grayscaled bool) (*Image, error) {
	col, err := ic.ColorImage()
	if err != nil {
		return nil, err
	}
	mask, err := ic.CalibratedDisparityImage()
	if err != nil {
		return nil, err
	}
	mask, err = ResizeToExtent(mask, col.Rect, Scaler(ic.Params.Interpolation))
	if err != nil {
		return nil, err
	}
	if grayscaled {
		return GrayToRGBA(mask), nil
	}
	return mask, nil
}

// BackgroundImage returns the background aligned to the color extent.
func (ic *ImageCompositor) BackgroundImage() (*Image, error) {
	col, err := ic.ColorImage()
	if err != nil {
		return nil, err
	}
	if ic.Background == nil {
		c := ic.BackgroundColor
		if c == nil {
			c = DefaultBackground
		}
		return SolidColor(c, col.Rect), nil
	}
	covered, err := ScaleToCover(ic.Background, col.Rect)
	if err != nil {
		return nil, err
	}
	return AlignTo(covered, col.Rect)
}

// ComposedImage blends the color image over the background through the
// alpha mask.
func (ic *ImageCompositor) ComposedImage() (*Image, error) {
	col, err := ic.ColorImage()
	if err != nil {
		return nil, err
	}
	mask, err := ic.AlphaMaskImage(false)
	if err != nil {
		return nil, err
	}
	bg, err := ic.BackgroundImage()
	if err != nil {
		return nil, err
	}
	return Composite(col, bg, mask)
}

// ObservedRange reports the disparity range seen by the last min/max
// calibration.
func (ic *ImageCompositor) ObservedRange() (min, max float64, ok bool) {
	return ic.observedMin, ic.observedMax, ic.observed
}
