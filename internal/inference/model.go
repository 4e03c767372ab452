// Package inference holds the model abstraction the acceptance pipeline runs
// against, plus the concrete runtimes that back it.
package inference

import (
	"fmt"
)

// Tensor is a dense float32 input batch.
type Tensor struct {
	Shape  []int64
	Layout Layout
	Data   []float32
}

// Elements returns the product of the shape dimensions.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	if n := t.Elements(); n <= 0 || int64(len(t.Data)) != n {
		return fmt.Errorf("tensor shape %v expects %d values, got %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// Model maps an input tensor to a vector of class scores. Implementations
// must not retain the input after Predict returns.
type Model interface {
	Predict(input Tensor) ([]float32, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(input Tensor) ([]float32, error)

// Predict calls f.
func (f ModelFunc) Predict(input Tensor) ([]float32, error) {
	return f(input)
}
