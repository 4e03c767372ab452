package grpcclient

import (
	"fmt"

	"github.com/example/leafscan/internal/inference"
)

// InputSpec tells a client how to build tensors for the served model.
type InputSpec struct {
	ImageSize     int                     `json:"image_size"`
	Layout        inference.Layout        `json:"layout"`
	Normalization inference.Normalization `json:"normalization"`
	Classes       []string                `json:"classes,omitempty"`
}

// SpecFor describes the preprocessing a model is served with.
func SpecFor(p inference.Preprocessor, classes []string) InputSpec {
	return InputSpec{
		ImageSize:     p.Size,
		Layout:        p.Layout,
		Normalization: p.Normalization,
		Classes:       classes,
	}
}

// Preprocessor returns base with the declared fields applied.
func (s InputSpec) Preprocessor(base inference.Preprocessor) inference.Preprocessor {
	md := inference.Metadata{ImageSize: s.ImageSize, Layout: s.Layout, Normalization: s.Normalization}
	return md.Preprocessor(base)
}

// shape is the single-image tensor shape the spec implies, nil when the spec
// is incomplete.
func (s InputSpec) shape() []int64 {
	n := int64(s.ImageSize)
	switch {
	case n <= 0:
		return nil
	case s.Layout == inference.LayoutNCHW:
		return []int64{1, 3, n, n}
	case s.Layout == inference.LayoutNHWC:
		return []int64{1, n, n, 3}
	default:
		return nil
	}
}

// check rejects tensors that were not built for this spec.
func (s InputSpec) check(t inference.Tensor) error {
	want := s.shape()
	if want == nil {
		return nil
	}
	return inference.Metadata{InputShape: want, Layout: s.Layout}.CheckInput(t)
}

func (s InputSpec) String() string {
	return fmt.Sprintf("%dpx %s %s", s.ImageSize, s.Layout, s.Normalization)
}
