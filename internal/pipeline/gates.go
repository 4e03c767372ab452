package pipeline

import (
	"fmt"

	"github.com/example/leafscan/internal/imaging"
	"github.com/example/leafscan/internal/inference"
)

// Gate is one pass/fail check. Check must not panic; the pipeline still
// recovers and treats a panic as a failed verdict.
type Gate interface {
	Stage() Stage
	Check(buf *imaging.Buffer) Verdict
}

// DarknessGate rejects frames that are almost entirely black.
type DarknessGate struct {
	// Threshold is the gray level below which a pixel counts as dark.
	Threshold uint8
	// MaxRatio is the largest dark share still accepted.
	MaxRatio float64
}

func (g *DarknessGate) Stage() Stage { return StageDarkness }

// Check fails closed: if the statistics cannot be computed the image is
// treated as dark.
func (g *DarknessGate) Check(buf *imaging.Buffer) Verdict {
	ratio, err := buf.DarkFraction(g.Threshold)
	if err != nil {
		return Verdict{Reason: MsgTooDark, Metrics: map[string]float64{"error": 1}}
	}
	mean, err := buf.MeanIntensity()
	if err != nil {
		return Verdict{Reason: MsgTooDark, Metrics: map[string]float64{"error": 1}}
	}

	metrics := map[string]float64{"dark_ratio": ratio, "mean_intensity": mean}
	if ratio > g.MaxRatio {
		return Verdict{Reason: MsgTooDark, Metrics: metrics}
	}
	return Verdict{Passed: true, Reason: fmt.Sprintf("dark ratio %.4f", ratio), Metrics: metrics}
}

// CategorySet lists the general classifier categories that count as plant-like.
// An empty set accepts every category.
type CategorySet map[int]struct{}

// NewCategorySet builds a set from category ids.
func NewCategorySet(ids []int) CategorySet {
	if len(ids) == 0 {
		return nil
	}
	set := make(CategorySet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Allows reports whether category is accepted.
func (s CategorySet) Allows(category int) bool {
	if category < 0 {
		return false
	}
	if len(s) == 0 {
		return true
	}
	_, ok := s[category]
	return ok
}

// PlantGate passes when either the green color share or the general
// classifier's top category says the photo shows a plant.
type PlantGate struct {
	General      inference.Model
	Input        inference.Preprocessor
	Categories   CategorySet
	Band         imaging.HSVRange
	GreenPercent float64
}

func (g *PlantGate) Stage() Stage { return StagePlant }

// Check evaluates the color signal first since it needs no inference.
func (g *PlantGate) Check(buf *imaging.Buffer) Verdict {
	metrics := map[string]float64{}

	percent, colorOK := g.colorSignal(buf)
	metrics["green_percent"] = percent
	if colorOK {
		return Verdict{Passed: true, Reason: fmt.Sprintf("green share %.1f%%", percent), Metrics: metrics}
	}

	category, modelOK := g.classifierSignal(buf)
	metrics["general_category"] = float64(category)
	if modelOK {
		return Verdict{Passed: true, Reason: fmt.Sprintf("general category %d", category), Metrics: metrics}
	}
	return Verdict{Reason: MsgNotPlant, Metrics: metrics}
}

func (g *PlantGate) colorSignal(buf *imaging.Buffer) (percent float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			percent, ok = 0, false
		}
	}()

	frac, err := buf.GreenFraction(g.Band)
	if err != nil {
		return 0, false
	}
	percent = frac * 100
	return percent, percent > g.GreenPercent
}

func (g *PlantGate) classifierSignal(buf *imaging.Buffer) (category int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			category, ok = -1, false
		}
	}()

	if g.General == nil {
		return -1, false
	}
	tensor, err := g.Input.Tensor(buf)
	if err != nil {
		return -1, false
	}
	scores, err := g.General.Predict(tensor)
	if err != nil {
		return -1, false
	}
	top, _ := rankTopTwo(scores)
	if top < 0 {
		return -1, false
	}
	return top, g.Categories.Allows(top)
}
