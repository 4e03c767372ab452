package inference

import (
	"fmt"
)

const (
	heuristicHealthy   = "Healthy Leaves"
	heuristicBlight    = "BacterialBlight"
	heuristicDried     = "Dried Leaves"
	heuristicGreenMin  = 100.0
	heuristicRedMin    = 80.0
	heuristicDryGreen  = 60.0
	confidenceHealthy  = 0.85
	confidenceBlight   = 0.75
	confidenceDried    = 0.70
	confidenceFallback = 0.65
)

// HeuristicModel classifies leaves from mean channel color alone. It stands in
// for the CNN on deployments that cannot ship model weights; the scores are
// fixed per rule, not calibrated probabilities.
type HeuristicModel struct {
	classes int
	healthy int
	blight  int
	dried   int
}

// NewHeuristicModel resolves the rule labels against the ordered class list.
func NewHeuristicModel(labels []string) (*HeuristicModel, error) {
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	m := &HeuristicModel{classes: len(labels)}
	for name, dst := range map[string]*int{
		heuristicHealthy: &m.healthy,
		heuristicBlight:  &m.blight,
		heuristicDried:   &m.dried,
	} {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("heuristic model: label %q not in class list", name)
		}
		*dst = i
	}
	return m, nil
}

// Predict expects a [0,1] normalized tensor. The chosen class receives the
// rule's score and the remainder is spread evenly over the other classes.
func (m *HeuristicModel) Predict(input Tensor) ([]float32, error) {
	means, err := ChannelMeans(input)
	if err != nil {
		return nil, fmt.Errorf("heuristic model: %w", err)
	}
	red, green, blue := means[0], means[1], means[2]

	class, score := m.healthy, confidenceFallback
	switch {
	case green > red && green > blue && green > heuristicGreenMin:
		class, score = m.healthy, confidenceHealthy
	case red > green && red > heuristicRedMin:
		class, score = m.blight, confidenceBlight
	case green < heuristicDryGreen:
		class, score = m.dried, confidenceDried
	}

	out := make([]float32, m.classes)
	if m.classes > 1 {
		rest := float32((1 - score) / float64(m.classes-1))
		for i := range out {
			out[i] = rest
		}
	}
	out[class] = float32(score)
	return out, nil
}
