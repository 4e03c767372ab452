//go:build !gocv
// +build !gocv

package imaging

func darkFraction(b *Buffer, threshold uint8) (float64, error) {
	dark := 0
	for i := 0; i < len(b.Pix); i += 3 {
		if Gray(b.Pix[i], b.Pix[i+1], b.Pix[i+2]) < threshold {
			dark++
		}
	}
	return float64(dark) / float64(b.Len()), nil
}

func bandFraction(b *Buffer, band HSVRange) (float64, error) {
	inside := 0
	for i := 0; i < len(b.Pix); i += 3 {
		if band.Contains(HSV(b.Pix[i], b.Pix[i+1], b.Pix[i+2])) {
			inside++
		}
	}
	return float64(inside) / float64(b.Len()), nil
}
