package compositor

import "errors"

var (
	// ErrMissingAuxiliaryData is returned when a capture has no depth or
	// disparity map.
	ErrMissingAuxiliaryData = errors.New("compositor: missing auxiliary depth data")
	// ErrDegenerateCalibration is returned when min/max calibration sees a
	// constant disparity range.
	ErrDegenerateCalibration = errors.New("compositor: degenerate calibration range")
	// ErrExtentMismatch is returned when images that must share an extent
	// do not.
	ErrExtentMismatch = errors.New("compositor: extent mismatch")
	// ErrInvalidParameter is returned for out-of-domain calibration
	// parameters.
	ErrInvalidParameter = errors.New("compositor: invalid parameter")
)
