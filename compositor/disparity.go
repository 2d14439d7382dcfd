package compositor

import (
	"fmt"
	"math"
	"strings"
)

// AuxiliaryKind tells how an auxiliary map encodes distance.
type AuxiliaryKind int

const (
	AuxNone AuxiliaryKind = iota
	AuxDepth
	AuxDisparity
)

func (k AuxiliaryKind) String() string {
	switch k {
	case AuxDepth:
		return "depth"
	case AuxDisparity:
		return "disparity"
	default:
		return "none"
	}
}

// ParseAuxiliaryKind accepts "depth", "disparity" or "" (none).
func ParseAuxiliaryKind(s string) (AuxiliaryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "depth":
		return AuxDepth, nil
	case "disparity":
		return AuxDisparity, nil
	case "", "none":
		return AuxNone, nil
	}
	return AuxNone, fmt.Errorf("%w: unknown auxiliary kind %q", ErrInvalidParameter, s)
}

// ToDisparity converts an auxiliary map to disparity (1/depth). A map that
// already holds disparity is returned as is. Depth samples that are not
// positive and finite map to zero disparity.
func ToDisparity(aux *Image, kind AuxiliaryKind) (*Image, error) {
	if aux == nil || kind == AuxNone {
		return nil, ErrMissingAuxiliaryData
	}
	if aux.Channels != 1 {
		return nil, fmt.Errorf("%w: auxiliary map has %d channels", ErrInvalidParameter, aux.Channels)
	}
	if kind == AuxDisparity {
		return aux, nil
	}
	out := NewGray(aux.Rect)
	for i, z := range aux.Pix {
		if z > 0 && !math.IsInf(float64(z), 0) {
			out.Pix[i] = 1 / z
		}
	}
	return out, nil
}
