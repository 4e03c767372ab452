package pipeline

// Stage names the step of the pipeline that produced an outcome.
type Stage string

const (
	StageLoad     Stage = "load"
	StageDarkness Stage = "darkness"
	StagePlant    Stage = "plant"
	StageClassify Stage = "classify"
)

// Kind classifies why a photo was rejected.
type Kind string

const (
	KindNone          Kind = ""
	KindDecode        Kind = "decode_error"
	KindDarkness      Kind = "darkness_rejection"
	KindPlantAbsence  Kind = "plant_absence_rejection"
	KindLowConfidence Kind = "low_confidence_rejection"
)

// KindFor maps a stage to the rejection kind it produces.
func KindFor(stage Stage) Kind {
	switch stage {
	case StageLoad:
		return KindDecode
	case StageDarkness:
		return KindDarkness
	case StagePlant:
		return KindPlantAbsence
	default:
		return KindLowConfidence
	}
}

// InvalidInput is the label reported for every rejection.
const InvalidInput = "Invalid Input"

// User-facing rejection messages.
const (
	MsgUnreadable = "Uploaded file could not be read as an image."
	MsgTooLarge   = "Uploaded image has too many pixels. Please upload a smaller photo."
	MsgTooDark    = "Uploaded image is too dark or black. Please upload a clear image."
	MsgNotPlant   = "Uploaded image does not appear to be a plant leaf."
	MsgNoMatch    = "The image does not match rice or sugarcane diseases."
)

// Verdict is the result of a single gate.
type Verdict struct {
	Passed  bool
	Reason  string
	Metrics map[string]float64
}

// ClassificationResult holds the two best ranked labels. An empty
// SecondaryLabel means there is no secondary prediction.
type ClassificationResult struct {
	PrimaryLabel        string  `json:"primary_label"`
	PrimaryConfidence   float64 `json:"primary_confidence"`
	SecondaryLabel      string  `json:"secondary_label,omitempty"`
	SecondaryConfidence float64 `json:"secondary_confidence"`
}

// InvalidResult is the sentinel produced for untrusted or failed classifications.
func InvalidResult() ClassificationResult {
	return ClassificationResult{PrimaryLabel: InvalidInput}
}

// IsInvalid reports whether r is the sentinel.
func (r ClassificationResult) IsInvalid() bool {
	return r.PrimaryLabel == InvalidInput
}

// Status tells rejected outcomes from classified ones.
type Status string

const (
	StatusRejected   Status = "rejected"
	StatusClassified Status = "classified"
)

// Outcome is the only value the pipeline returns. Rejected outcomes carry the
// terminating stage, its kind and a message, and their Result is the sentinel.
type Outcome struct {
	Status  Status               `json:"status"`
	Stage   Stage                `json:"stage"`
	Kind    Kind                 `json:"kind,omitempty"`
	Message string               `json:"message,omitempty"`
	Result  ClassificationResult `json:"result"`
}

// Rejected builds a rejection outcome.
func Rejected(stage Stage, message string) Outcome {
	return Outcome{
		Status:  StatusRejected,
		Stage:   stage,
		Kind:    KindFor(stage),
		Message: message,
		Result:  InvalidResult(),
	}
}

// Classified builds a success outcome.
func Classified(result ClassificationResult) Outcome {
	return Outcome{Status: StatusClassified, Stage: StageClassify, Result: result}
}

// IsRejected reports whether the photo was rejected at any stage.
func (o Outcome) IsRejected() bool {
	return o.Status != StatusClassified
}

// Label returns the primary label, InvalidInput for rejections.
func (o Outcome) Label() string {
	if o.IsRejected() {
		return InvalidInput
	}
	return o.Result.PrimaryLabel
}
