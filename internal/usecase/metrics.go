package usecase

import "context"

// MetricsSummary represents aggregated emojify insights.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	RequestsWithFaces          int64            `json:"requests_with_faces"`
	NoFaceRate                 float64          `json:"no_face_rate"`
	TotalFaces                 int64            `json:"total_faces"`
	SkippedFaces               int64            `json:"skipped_faces"`
	AverageFacesPerRequest     float64          `json:"average_faces_per_request"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	Categories                 map[string]int64 `json:"categories"`
}

// GetMetricsSummary aggregates emojify metrics from persisted logs. An empty
// userID summarises every user.
func (uc *EmojifyUseCase) GetMetricsSummary(ctx context.Context, userID string) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := uc.repo.CategoryCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		RequestsWithFaces:          aggregation.WithFacesCount,
		TotalFaces:                 aggregation.TotalFaces,
		SkippedFaces:               aggregation.SkippedFaces,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		Categories:                 make(map[string]int64, len(counts)),
	}
	for c, n := range counts {
		summary.Categories[c.String()] = n
	}

	if aggregation.TotalCount > 0 {
		total := float64(aggregation.TotalCount)
		summary.NoFaceRate = float64(aggregation.TotalCount-aggregation.WithFacesCount) / total
		summary.AverageFacesPerRequest = float64(aggregation.TotalFaces) / total
	}

	return summary, nil
}
