package usecase

import "context"

// MetricsSummary represents aggregated diagnosis insights.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	ClassifiedRequests         int64            `json:"classified_requests"`
	ClassificationRate         float64          `json:"classification_rate"`
	AverageConfidence          float64          `json:"average_confidence"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	RejectionsByStage          map[string]int64 `json:"rejections_by_stage"`
}

// GetMetricsSummary aggregates diagnosis metrics from persisted logs.
func (uc *DiagnosisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		ClassifiedRequests:         aggregation.ClassifiedCount,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		RejectionsByStage:          aggregation.RejectionsByStage,
	}
	if summary.RejectionsByStage == nil {
		summary.RejectionsByStage = map[string]int64{}
	}

	if aggregation.TotalCount > 0 {
		summary.ClassificationRate = float64(aggregation.ClassifiedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
