package compositor

import (
	"fmt"
	"math"
	"strings"

	"github.com/montanaflynn/stats"
)

// CalibrationMode selects how disparity is turned into an alpha mask.
type CalibrationMode int

const (
	// ModeRamp keeps a band of disparity around a focus value.
	ModeRamp CalibrationMode = iota
	// ModeMinMax stretches the observed disparity range between two
	// threshold fractions.
	ModeMinMax
)

func (m CalibrationMode) String() string {
	if m == ModeMinMax {
		return "minmax"
	}
	return "ramp"
}

// ParseCalibrationMode accepts "ramp" or "minmax".
func ParseCalibrationMode(s string) (CalibrationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ramp", "band":
		return ModeRamp, nil
	case "minmax", "min-max", "stretch":
		return ModeMinMax, nil
	}
	return ModeRamp, fmt.Errorf("%w: unknown calibration mode %q", ErrInvalidParameter, s)
}

// Calibrate converts disparity into a mask that is 1 within rng/2 of focus
// and falls to 0 with the given slope on either side.
func Calibrate(disparity *Image, slope, focus, rng float64) (*Image, error) {
	if disparity == nil {
		return nil, ErrMissingAuxiliaryData
	}
	c, err := TrapezoidCurve(slope, focus, rng)
	if err != nil {
		return nil, err
	}
	return c.Apply(disparity)
}

// ObservedRange returns the smallest and largest finite samples of a
// single-channel image.
func ObservedRange(img *Image) (min, max float64, err error) {
	if img == nil {
		return 0, 0, ErrMissingAuxiliaryData
	}
	min, max = math.Inf(1), math.Inf(-1)
	for _, v := range img.Pix {
		f := float64(v)
		if !finite(f) {
			continue
		}
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	if min > max {
		return 0, 0, ErrDegenerateCalibration
	}
	return min, max, nil
}

// PercentileRange returns the lo and hi percentiles of the finite samples.
// lo <= 0 and hi >= 100 give the exact minimum and maximum.
func PercentileRange(img *Image, lo, hi float64) (float64, float64, error) {
	if img == nil {
		return 0, 0, ErrMissingAuxiliaryData
	}
	if lo <= 0 && hi >= 100 {
		return ObservedRange(img)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("%w: percentile %v above %v", ErrInvalidParameter, lo, hi)
	}
	data := make(stats.Float64Data, 0, len(img.Pix))
	for _, v := range img.Pix {
		if f := float64(v); finite(f) {
			data = append(data, f)
		}
	}
	if data.Len() == 0 {
		return 0, 0, ErrDegenerateCalibration
	}
	pick := func(p float64) (float64, error) {
		switch {
		case p <= 0:
			return data.Min()
		case p >= 100:
			return data.Max()
		}
		return data.Percentile(p)
	}
	min, err := pick(lo)
	if err != nil {
		return 0, 0, fmt.Errorf("low percentile: %w", err)
	}
	max, err := pick(hi)
	if err != nil {
		return 0, 0, fmt.Errorf("high percentile: %w", err)
	}
	return min, max, nil
}

// MinMaxThresholds places the threshold fractions inside the observed
// range. The max threshold is measured from the adjusted min value, not
// from the observed min.
func MinMaxThresholds(observedMin, observedMax, minFrac, maxFrac float64) (minValue, maxValue float64) {
	minValue = minFrac*(observedMax-observedMin) + observedMin
	maxValue = maxFrac*(observedMax-minValue) + minValue
	return minValue, maxValue
}

// unitFraction reports whether f is a finite value in [0, 1].
func unitFraction(f float64) bool {
	return finite(f) && f >= 0 && f <= 1
}

// CalibrateMinMax stretches disparity between the threshold fractions of
// its observed range. It returns the mask and the observed range.
func CalibrateMinMax(disparity *Image, minFrac, maxFrac float64) (*Image, float64, float64, error) {
	return CalibrateMinMaxClipped(disparity, minFrac, maxFrac, 0, 100)
}

// CalibrateMinMaxClipped is CalibrateMinMax with the observed range taken
// at the clipLow and clipHigh percentiles.
func CalibrateMinMaxClipped(disparity *Image, minFrac, maxFrac, clipLow, clipHigh float64) (*Image, float64, float64, error) {
	if disparity == nil {
		return nil, 0, 0, ErrMissingAuxiliaryData
	}
	if !unitFraction(minFrac) || !unitFraction(maxFrac) {
		return nil, 0, 0, fmt.Errorf("%w: thresholds %v, %v", ErrInvalidParameter, minFrac, maxFrac)
	}
	oMin, oMax, err := PercentileRange(disparity, clipLow, clipHigh)
	if err != nil {
		return nil, 0, 0, err
	}
	if oMin == oMax {
		return nil, oMin, oMax, ErrDegenerateCalibration
	}
	minValue, maxValue := MinMaxThresholds(oMin, oMax, minFrac, maxFrac)
	c, err := StretchCurve(minValue, maxValue)
	if err != nil {
		return nil, oMin, oMax, err
	}
	mask, err := c.Apply(disparity)
	if err != nil {
		return nil, oMin, oMax, err
	}
	return mask, oMin, oMax, nil
}
