package usecase

import (
	"time"

	"github.com/example/leafscan/internal/catalog"
	"github.com/example/leafscan/internal/pipeline"
	"github.com/example/leafscan/internal/repository"
)

// Report is the uniform record returned for every diagnosis, rejected or not.
type Report struct {
	RequestID           string          `json:"request_id"`
	UserID              string          `json:"user_id"`
	Filename            string          `json:"filename,omitempty"`
	ImageHash           string          `json:"image_hash"`
	Status              pipeline.Status `json:"status"`
	Stage               pipeline.Stage  `json:"stage"`
	Kind                pipeline.Kind   `json:"kind,omitempty"`
	Label               string          `json:"label"`
	Confidence          float64         `json:"confidence"`
	SecondaryLabel      string          `json:"secondary_label,omitempty"`
	SecondaryConfidence float64         `json:"secondary_confidence,omitempty"`
	Message             string          `json:"message,omitempty"`
	Advice              string          `json:"advice,omitempty"`
	Details             *catalog.Record `json:"details,omitempty"`
	ProcessingLatencyMs int64           `json:"processing_latency_ms"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Rejected reports whether the photo failed a stage.
func (r *Report) Rejected() bool {
	return r.Status != pipeline.StatusClassified
}

func buildReport(log *repository.DiagnosisLog, cat DiseaseCatalog) *Report {
	r := &Report{
		RequestID:           log.RequestID,
		UserID:              log.UserID,
		Filename:            log.Filename,
		ImageHash:           log.ImageHash,
		Status:              pipeline.Status(log.Status),
		Stage:               pipeline.Stage(log.Stage),
		Kind:                pipeline.Kind(log.Kind),
		Label:               log.Label,
		Confidence:          log.Confidence,
		SecondaryLabel:      log.SecondaryLabel,
		SecondaryConfidence: log.SecondaryConfidence,
		Message:             log.Message,
		ProcessingLatencyMs: log.ProcessingLatencyMs,
		CreatedAt:           log.CreatedAt,
	}

	if r.Rejected() {
		g := catalog.Rejection(r.Kind)
		if r.Message == "" {
			r.Message = g.Message
		}
		r.Advice = g.Advice
		return r
	}
	if cat != nil {
		record, _ := cat.Lookup(r.Label)
		r.Details = &record
	}
	return r
}

func buildReports(logs []*repository.DiagnosisLog, cat DiseaseCatalog) []*Report {
	out := make([]*Report, 0, len(logs))
	for _, l := range logs {
		out = append(out, buildReport(l, cat))
	}
	return out
}
