package inference

import (
	"fmt"

	"github.com/nfnt/resize"

	"github.com/example/leafscan/internal/imaging"
)

// Layout is the dimension order of an image tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// Normalization maps 0..255 channel values into the range a model was trained on.
type Normalization string

const (
	// NormalizeUnit scales into [0, 1].
	NormalizeUnit Normalization = "unit"
	// NormalizeSymmetric scales into [-1, 1] (MobileNetV2 preprocess_input).
	NormalizeSymmetric Normalization = "symmetric"
	// NormalizeImageNet applies the torchvision mean/std per channel.
	NormalizeImageNet Normalization = "imagenet"
)

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor turns a decoded buffer into a square model input.
type Preprocessor struct {
	Size          int
	Layout        Layout
	Normalization Normalization
	Interpolation resize.InterpolationFunction
}

// DefaultPreprocessor matches a Keras model fed with load_img(target_size=224):
// nearest neighbour, NHWC, [0,1].
func DefaultPreprocessor() Preprocessor {
	return Preprocessor{
		Size:          224,
		Layout:        LayoutNHWC,
		Normalization: NormalizeUnit,
		Interpolation: resize.NearestNeighbor,
	}
}

// Tensor resizes buf to Size x Size and lays the normalized channels out in a
// batch of one.
func (p Preprocessor) Tensor(buf *imaging.Buffer) (Tensor, error) {
	if err := buf.Validate(); err != nil {
		return Tensor{}, fmt.Errorf("preprocess: %w", err)
	}
	if p.Size <= 0 {
		return Tensor{}, fmt.Errorf("preprocess: invalid target size %d", p.Size)
	}

	size := p.Size
	resized := buf
	if buf.Width != size || buf.Height != size {
		img := resize.Resize(uint(size), uint(size), buf.Image(), p.Interpolation)
		resized = imaging.FromImage(img)
	}

	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b := resized.RGB(x, y)
			px := y*size + x
			for c, v := range [3]uint8{r, g, b} {
				val, err := p.normalize(c, v)
				if err != nil {
					return Tensor{}, err
				}
				if p.Layout == LayoutNCHW {
					data[c*plane+px] = val
				} else {
					data[px*3+c] = val
				}
			}
		}
	}

	shape := []int64{1, int64(size), int64(size), 3}
	layout := LayoutNHWC
	if p.Layout == LayoutNCHW {
		shape = []int64{1, 3, int64(size), int64(size)}
		layout = LayoutNCHW
	}
	return Tensor{Shape: shape, Layout: layout, Data: data}, nil
}

func (p Preprocessor) normalize(channel int, v uint8) (float32, error) {
	switch p.Normalization {
	case NormalizeUnit, "":
		return float32(v) / 255.0, nil
	case NormalizeSymmetric:
		return float32(v)/127.5 - 1.0, nil
	case NormalizeImageNet:
		return (float32(v)/255.0 - imageNetMean[channel]) / imageNetStd[channel], nil
	default:
		return 0, fmt.Errorf("preprocess: unknown normalization %q", p.Normalization)
	}
}

// ChannelMeans returns the per-channel means of a [0,1] tensor rescaled to 0..255.
func ChannelMeans(t Tensor) ([3]float64, error) {
	var means [3]float64
	if err := t.Validate(); err != nil {
		return means, err
	}
	if len(t.Shape) != 4 {
		return means, fmt.Errorf("expected rank 4 tensor, got %v", t.Shape)
	}

	var pixels int
	switch t.Layout {
	case LayoutNCHW:
		if t.Shape[1] != 3 {
			return means, fmt.Errorf("expected 3 channels, got shape %v", t.Shape)
		}
		pixels = int(t.Shape[2] * t.Shape[3])
		for c := 0; c < 3; c++ {
			for _, v := range t.Data[c*pixels : (c+1)*pixels] {
				means[c] += float64(v)
			}
		}
	default:
		if t.Shape[3] != 3 {
			return means, fmt.Errorf("expected 3 channels, got shape %v", t.Shape)
		}
		pixels = int(t.Shape[1] * t.Shape[2])
		for i := 0; i < pixels; i++ {
			for c := 0; c < 3; c++ {
				means[c] += float64(t.Data[i*3+c])
			}
		}
	}
	for c := range means {
		means[c] = means[c] / float64(pixels) * 255.0
	}
	return means, nil
}
