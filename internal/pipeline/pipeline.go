// Package pipeline decides whether an uploaded photo shows a rice or
// sugarcane leaf and, if so, which disease it most likely carries.
//
// Run walks a fixed sequence of stages. Any stage may end the run with a
// rejection; no stage can make Run return an error or panic.
package pipeline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/leafscan/internal/imaging"
	"github.com/example/leafscan/internal/inference"
)

// State is the position of a single run in the stage sequence.
type State int

const (
	StateStart State = iota
	StateLoaded
	StateDarknessChecked
	StatePlantChecked
	StateClassified
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateLoaded:
		return "loaded"
	case StateDarknessChecked:
		return "darkness_checked"
	case StatePlantChecked:
		return "plant_checked"
	case StateClassified:
		return "classified"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Models is the read-only inference context shared by every run.
// General may be nil, in which case the plant check relies on color alone.
type Models struct {
	General inference.Model
	Disease inference.Model
}

// Config holds the tunables of a pipeline.
type Config struct {
	MaxPixels       int
	DarkThreshold   uint8
	DarkRatio       float64
	GreenBand       imaging.HSVRange
	GreenPercent    float64
	PlantCategories []int
	ConfidenceFloor float64
	Labels          []string
	GeneralInput    inference.Preprocessor
	DiseaseInput    inference.Preprocessor
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	general := inference.DefaultPreprocessor()
	general.Normalization = inference.NormalizeSymmetric
	return Config{
		MaxPixels:       imaging.DefaultMaxPixels,
		DarkThreshold:   15,
		DarkRatio:       0.98,
		GreenBand:       imaging.DefaultGreenBand(),
		GreenPercent:    20,
		ConfidenceFloor: DefaultConfidenceFloor,
		Labels:          append([]string(nil), DefaultLabels...),
		GeneralInput:    general,
		DiseaseInput:    inference.DefaultPreprocessor(),
	}
}

// Pipeline is safe for concurrent use once built.
type Pipeline struct {
	maxPixels  int
	gates      []Gate
	classifier *DiseaseClassifier
	logger     *zap.Logger
}

// New wires the gates and classifier around models.
func New(models Models, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if models.Disease == nil {
		return nil, errors.New("pipeline: disease model is required")
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.New("pipeline: label list is empty")
	}
	if cfg.DarkRatio <= 0 || cfg.DarkRatio > 1 {
		return nil, fmt.Errorf("pipeline: dark ratio %v out of (0, 1]", cfg.DarkRatio)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		maxPixels: cfg.MaxPixels,
		gates: []Gate{
			&DarknessGate{Threshold: cfg.DarkThreshold, MaxRatio: cfg.DarkRatio},
			&PlantGate{
				General:      models.General,
				Input:        cfg.GeneralInput,
				Categories:   NewCategorySet(cfg.PlantCategories),
				Band:         cfg.GreenBand,
				GreenPercent: cfg.GreenPercent,
			},
		},
		classifier: &DiseaseClassifier{
			Model:  models.Disease,
			Input:  cfg.DiseaseInput,
			Labels: append([]string(nil), cfg.Labels...),
			Floor:  cfg.ConfidenceFloor,
		},
		logger: logger.Named("pipeline"),
	}, nil
}

// Run evaluates one photo. The same bytes always produce the same outcome.
func (p *Pipeline) Run(data []byte) Outcome {
	state := StateStart

	buf, err := p.load(data)
	if err != nil {
		p.logger.Info("photo rejected", zap.String("stage", string(StageLoad)), zap.Error(err))
		if errors.Is(err, imaging.ErrTooLarge) {
			return Rejected(StageLoad, MsgTooLarge)
		}
		return Rejected(StageLoad, MsgUnreadable)
	}
	state = StateLoaded

	for _, gate := range p.gates {
		verdict := p.runGate(gate, buf)
		fields := []zap.Field{
			zap.String("stage", string(gate.Stage())),
			zap.Stringer("state", state),
			zap.Bool("passed", verdict.Passed),
			zap.Any("metrics", verdict.Metrics),
		}
		if !verdict.Passed {
			p.logger.Info("photo rejected", fields...)
			return Rejected(gate.Stage(), verdict.Reason)
		}
		p.logger.Debug("gate passed", fields...)
		state = advance(state)
	}

	result := p.classifier.Classify(buf)
	if result.IsInvalid() {
		p.logger.Info("photo rejected", zap.String("stage", string(StageClassify)), zap.Stringer("state", state))
		return Rejected(StageClassify, MsgNoMatch)
	}

	p.logger.Debug("photo classified",
		zap.String("label", result.PrimaryLabel),
		zap.Float64("confidence", result.PrimaryConfidence),
	)
	return Classified(result)
}

func (p *Pipeline) load(data []byte) (buf *imaging.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: panic: %v", imaging.ErrDecode, r)
		}
	}()
	return imaging.Decode(data, p.maxPixels)
}

func (p *Pipeline) runGate(gate Gate, buf *imaging.Buffer) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("gate panicked", zap.String("stage", string(gate.Stage())), zap.Any("panic", r))
			v = Verdict{Reason: rejectionMessage(gate.Stage())}
		}
	}()
	return gate.Check(buf)
}

func rejectionMessage(stage Stage) string {
	switch stage {
	case StageDarkness:
		return MsgTooDark
	case StagePlant:
		return MsgNotPlant
	case StageLoad:
		return MsgUnreadable
	default:
		return MsgNoMatch
	}
}

func advance(s State) State {
	switch s {
	case StateLoaded:
		return StateDarknessChecked
	case StateDarknessChecked:
		return StatePlantChecked
	default:
		return s
	}
}
