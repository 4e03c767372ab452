//go:build gocv
// +build gocv

package imaging

import (
	"errors"

	"gocv.io/x/gocv"
)

func toMat(b *Buffer) (gocv.Mat, error) {
	mat, err := gocv.NewMatFromBytes(b.Height, b.Width, gocv.MatTypeCV8UC3, b.Pix)
	if err != nil {
		return gocv.NewMat(), err
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errors.New("empty mat")
	}
	return mat, nil
}

func darkFraction(b *Buffer, threshold uint8) (float64, error) {
	mat, err := toMat(b)
	if err != nil {
		return 0, err
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	// Values <= threshold-1 become 255, so the mask counts gray < threshold.
	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(gray, &dark, float32(threshold)-1, 255, gocv.ThresholdBinaryInv)

	return ratioOfMask(dark), nil
}

func bandFraction(b *Buffer, band HSVRange) (float64, error) {
	mat, err := toMat(b)
	if err != nil {
		return 0, err
	}
	defer mat.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(mat, &hsv, gocv.ColorRGBToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	lower := gocv.NewScalar(float64(band.HueMin), float64(band.SatMin), float64(band.ValMin), 0)
	upper := gocv.NewScalar(float64(band.HueMax), float64(band.SatMax), float64(band.ValMax), 0)
	gocv.InRangeWithScalar(hsv, lower, upper, &mask)

	return ratioOfMask(mask), nil
}

func ratioOfMask(mask gocv.Mat) float64 {
	total := mask.Cols() * mask.Rows()
	if total <= 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}
