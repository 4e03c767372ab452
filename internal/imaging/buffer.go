// Package imaging decodes uploaded photos into packed RGB buffers and computes
// the pixel statistics the acceptance gates rely on.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
)

// DefaultMaxPixels bounds decoded images to keep a crafted header from
// allocating an unbounded pixel grid. It admits 64 MP phone sensors.
const DefaultMaxPixels = 64_000_000

var (
	// ErrDecode reports that the byte stream could not be turned into a pixel grid.
	ErrDecode = errors.New("image decode failed")
	// ErrTooLarge reports a decodable image above the pixel limit.
	ErrTooLarge = errors.New("image exceeds pixel limit")
)

// Buffer is a decoded image in packed 8-bit RGB, row major.
type Buffer struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// Decode turns raw upload bytes into a Buffer. Only png and jpeg decoders are
// registered. Images over maxPixels fail with ErrTooLarge, any other failure
// with ErrDecode.
func Decode(data []byte, maxPixels int) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %s image %dx%d, limit %d", ErrTooLarge, format, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return FromImage(img), nil
}

// FromImage copies any image.Image into a packed RGB buffer, dropping alpha.
func FromImage(img image.Image) *Buffer {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	buf := &Buffer{Width: w, Height: h, Channels: 3, Pix: make([]uint8, w*h*3)}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			buf.Pix[i] = c.R
			buf.Pix[i+1] = c.G
			buf.Pix[i+2] = c.B
			i += 3
		}
	}
	return buf
}

// Len returns the number of pixels.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return b.Width * b.Height
}

// Validate checks that the pixel slice matches the declared geometry.
func (b *Buffer) Validate() error {
	if b == nil {
		return errors.New("nil buffer")
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", b.Width, b.Height)
	}
	if b.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", b.Channels)
	}
	if len(b.Pix) != b.Width*b.Height*3 {
		return fmt.Errorf("pixel data length %d does not match %dx%dx3", len(b.Pix), b.Width, b.Height)
	}
	return nil
}

// RGB returns the color of pixel (x, y).
func (b *Buffer) RGB(x, y int) (r, g, bl uint8) {
	i := (y*b.Width + x) * 3
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2]
}

// Image exposes the buffer as an image.Image for resampling libraries.
func (b *Buffer) Image() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for p, i := 0, 0; p < b.Len(); p++ {
		img.Pix[p*4] = b.Pix[i]
		img.Pix[p*4+1] = b.Pix[i+1]
		img.Pix[p*4+2] = b.Pix[i+2]
		img.Pix[p*4+3] = 0xff
		i += 3
	}
	return img
}
