package imaging

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// HSVRange is an inclusive box in OpenCV 8-bit HSV space (H 0..179, S and V 0..255).
type HSVRange struct {
	HueMin uint8
	HueMax uint8
	SatMin uint8
	SatMax uint8
	ValMin uint8
	ValMax uint8
}

// DefaultGreenBand covers leaf greens from yellow-green to blue-green.
func DefaultGreenBand() HSVRange {
	return HSVRange{HueMin: 25, HueMax: 100, SatMin: 30, SatMax: 255, ValMin: 10, ValMax: 255}
}

// Contains reports whether the HSV triple lies inside the range.
func (r HSVRange) Contains(h, s, v uint8) bool {
	return h >= r.HueMin && h <= r.HueMax &&
		s >= r.SatMin && s <= r.SatMax &&
		v >= r.ValMin && v <= r.ValMax
}

// Gray converts an RGB triple to luma with the BT.601 weights, fixed point
// with round to nearest.
func Gray(r, g, b uint8) uint8 {
	y := (uint32(r)*4899 + uint32(g)*9617 + uint32(b)*1868 + 1<<13) >> 14
	if y > 255 {
		y = 255
	}
	return uint8(y)
}

// HSV converts an RGB triple to 8-bit HSV with hue halved into 0..179.
func HSV(r, g, b uint8) (h, s, v uint8) {
	ri, gi, bi := int(r), int(g), int(b)
	maxc := max(ri, gi, bi)
	minc := min(ri, gi, bi)
	diff := maxc - minc

	v = uint8(maxc)
	if maxc == 0 {
		return 0, 0, v
	}
	s = uint8((diff*255 + maxc/2) / maxc)
	if diff == 0 {
		return 0, s, v
	}

	var num int
	switch maxc {
	case ri:
		num = gi - bi
	case gi:
		num = bi - ri + 2*diff
	default:
		num = ri - gi + 4*diff
	}
	// 30 hue units per sextant; floor(x+0.5) rounds negative values the same
	// way the OpenCV integer shift does.
	hi := int(math.Floor(30*float64(num)/float64(diff) + 0.5))
	if hi < 0 {
		hi += 180
	}
	if hi >= 180 {
		hi -= 180
	}
	return uint8(hi), s, v
}

// GrayPixels returns the single channel intensity plane.
func (b *Buffer) GrayPixels() []uint8 {
	out := make([]uint8, b.Len())
	for p, i := 0, 0; p < len(out); p++ {
		out[p] = Gray(b.Pix[i], b.Pix[i+1], b.Pix[i+2])
		i += 3
	}
	return out
}

// MeanIntensity returns the average gray level.
func (b *Buffer) MeanIntensity() (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	gray := b.GrayPixels()
	values := make([]float64, len(gray))
	for i, g := range gray {
		values[i] = float64(g)
	}
	return stat.Mean(values, nil), nil
}

// DarkFraction returns the share of pixels whose gray level is strictly below threshold.
func (b *Buffer) DarkFraction(threshold uint8) (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return darkFraction(b, threshold)
}

// GreenFraction returns the share of pixels whose HSV value falls inside band.
func (b *Buffer) GreenFraction(band HSVRange) (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return bandFraction(b, band)
}
