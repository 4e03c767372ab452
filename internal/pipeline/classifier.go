package pipeline

import (
	"math"

	"github.com/example/leafscan/internal/imaging"
	"github.com/example/leafscan/internal/inference"
)

// DefaultConfidenceFloor is the lowest primary score that is reported as a
// diagnosis. Scores equal to the floor pass.
const DefaultConfidenceFloor = 0.30

// DiseaseClassifier runs the domain model and ranks its scores.
type DiseaseClassifier struct {
	Model  inference.Model
	Input  inference.Preprocessor
	Labels []string
	Floor  float64
}

// Classify never fails: preprocessing errors, model errors, panics, scores
// below the floor and unknown class indices all yield InvalidResult. Only
// the primary score is checked against the floor.
func (c *DiseaseClassifier) Classify(buf *imaging.Buffer) (result ClassificationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = InvalidResult()
		}
	}()

	if c.Model == nil {
		return InvalidResult()
	}
	tensor, err := c.Input.Tensor(buf)
	if err != nil {
		return InvalidResult()
	}
	scores, err := c.Model.Predict(tensor)
	if err != nil {
		return InvalidResult()
	}
	return c.rank(scores)
}

func (c *DiseaseClassifier) rank(scores []float32) ClassificationResult {
	top, second := rankTopTwo(scores)
	if top < 0 || top >= len(c.Labels) {
		return InvalidResult()
	}
	// Compare in the model's precision so a score equal to float32(Floor) passes.
	if math.IsInf(float64(scores[top]), 0) || scores[top] < float32(c.Floor) {
		return InvalidResult()
	}
	primary := float64(scores[top])

	result := ClassificationResult{
		PrimaryLabel:      c.Labels[top],
		PrimaryConfidence: primary,
	}
	if second >= 0 && second < len(c.Labels) {
		result.SecondaryLabel = c.Labels[second]
		result.SecondaryConfidence = float64(scores[second])
	}
	return result
}

// rankTopTwo returns the indices of the two largest scores, -1 when absent.
// Ties keep the lower index first and NaN scores are skipped.
func rankTopTwo(scores []float32) (top, second int) {
	top, second = -1, -1
	for i, s := range scores {
		v := float64(s)
		if math.IsNaN(v) {
			continue
		}
		switch {
		case top < 0 || v > float64(scores[top]):
			second, top = top, i
		case second < 0 || v > float64(scores[second]):
			second = i
		}
	}
	return top, second
}
