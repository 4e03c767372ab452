package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHSVPrimaries(t *testing.T) {
	cases := []struct {
		name    string
		r, g, b uint8
		h, s, v uint8
	}{
		{"black", 0, 0, 0, 0, 0, 0},
		{"white", 255, 255, 255, 0, 0, 255},
		{"red", 255, 0, 0, 0, 255, 255},
		{"green", 0, 255, 0, 60, 255, 255},
		{"blue", 0, 0, 255, 120, 255, 255},
		{"yellow", 255, 255, 0, 30, 255, 255},
		{"mid green", 60, 160, 60, 60, 159, 160},
		{"magenta", 255, 0, 255, 150, 255, 255},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, s, v := HSV(tc.r, tc.g, tc.b)
			require.Equal(t, tc.h, h, "hue")
			require.Equal(t, tc.s, s, "saturation")
			require.Equal(t, tc.v, v, "value")
		})
	}
}

func TestHSVHueStaysBelow180(t *testing.T) {
	// red with a hint of blue sits just under the wrap point
	h, _, _ := HSV(255, 0, 30)
	require.Less(t, h, uint8(180))
	require.Greater(t, h, uint8(170))
}

func TestGray(t *testing.T) {
	require.Equal(t, uint8(0), Gray(0, 0, 0))
	require.Equal(t, uint8(255), Gray(255, 255, 255))
	require.Equal(t, uint8(76), Gray(255, 0, 0))
	require.Equal(t, uint8(150), Gray(0, 255, 0))
	require.Equal(t, uint8(29), Gray(0, 0, 255))
}

func TestDarkFraction(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			c := color.RGBA{A: 255}
			if x == 0 {
				c = color.RGBA{R: 200, G: 200, B: 200, A: 255}
			}
			if x == 1 {
				// gray 15 is not below the threshold
				c = color.RGBA{R: 15, G: 15, B: 15, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	buf := FromImage(img)

	frac, err := buf.DarkFraction(15)
	require.NoError(t, err)
	require.InDelta(t, 0.8, frac, 1e-9)
}

func TestGreenFraction(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if y < 2 {
				img.Set(x, y, color.RGBA{R: 60, G: 160, B: 60, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
			}
		}
	}
	buf := FromImage(img)

	frac, err := buf.GreenFraction(DefaultGreenBand())
	require.NoError(t, err)
	require.InDelta(t, 0.5, frac, 1e-9)
}

func TestGreenFractionIgnoresDesaturatedPixels(t *testing.T) {
	// hue is green but saturation is below the floor
	buf := FromImage(solidImage(3, 3, color.RGBA{R: 120, G: 130, B: 120, A: 255}))

	frac, err := buf.GreenFraction(DefaultGreenBand())
	require.NoError(t, err)
	require.Zero(t, frac)
}

func TestMeanIntensity(t *testing.T) {
	buf := FromImage(solidImage(5, 5, color.White))
	mean, err := buf.MeanIntensity()
	require.NoError(t, err)
	require.InDelta(t, 255.0, mean, 1e-9)
}

func TestStatsFailOnBrokenBuffer(t *testing.T) {
	broken := &Buffer{Width: 3, Height: 3, Channels: 3, Pix: []uint8{1, 2}}

	_, err := broken.DarkFraction(15)
	require.Error(t, err)
	_, err = broken.GreenFraction(DefaultGreenBand())
	require.Error(t, err)
	_, err = broken.MeanIntensity()
	require.Error(t, err)
}
