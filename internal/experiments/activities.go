package experiments

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/anchorhome/anchor/internal/eventbus"
	"github.com/anchorhome/anchor/internal/metrics"
	"github.com/anchorhome/anchor/internal/orchestrator"
	"github.com/anchorhome/anchor/pkg/models"
)

// Sample is one measurement window of live model performance.
type Sample struct {
	SuccessRate   float64   `json:"success_rate"`
	MeanLatencyMs float64   `json:"mean_latency_ms"`
	Executions    int       `json:"executions"`
	TakenAt       time.Time `json:"taken_at"`
}

// PerformanceSource exposes the orchestrator's aggregated execution stats
// to experiment activities.
type PerformanceSource interface {
	PerformanceMetrics() map[string]*orchestrator.ModelPerformance
}

// Activities holds the collaborators experiment activities need. Registered
// once per worker.
type Activities struct {
	Perf    PerformanceSource
	Bus     *eventbus.Bus
	Metrics *metrics.Metrics
}

// CollectPerformanceSample aggregates current model performance into one
// sample across all models.
func (a *Activities) CollectPerformanceSample(ctx context.Context, experimentID string) (Sample, error) {
	if a.Perf == nil {
		return Sample{}, fmt.Errorf("no performance source configured")
	}

	perModel := a.Perf.PerformanceMetrics()
	sample := Sample{TakenAt: time.Now().UTC()}
	if len(perModel) == 0 {
		return sample, nil
	}

	var weightedSuccess, weightedLatency float64
	for _, mp := range perModel {
		sample.Executions += mp.Executions
		weightedSuccess += mp.SuccessRate * float64(mp.Executions)
		weightedLatency += float64(mp.MeanLatency.Milliseconds()) * float64(mp.Executions)
	}
	if sample.Executions > 0 {
		weightedSuccess /= float64(sample.Executions)
		weightedLatency /= float64(sample.Executions)
	}
	sample.SuccessRate = weightedSuccess
	sample.MeanLatencyMs = weightedLatency

	log.Printf("[Experiments] sample for %s: success=%.2f latency=%.0fms over %d executions",
		experimentID, sample.SuccessRate, sample.MeanLatencyMs, sample.Executions)
	return sample, nil
}

// ReportExperimentResult publishes the terminal result and records metrics.
func (a *Activities) ReportExperimentResult(ctx context.Context, experimentID string, potential float64, result *models.ExperimentResult) error {
	status := models.ExperimentCompleted
	if result == nil {
		status = models.ExperimentFailed
	}

	if a.Metrics != nil {
		a.Metrics.ExperimentsRun.WithLabelValues(string(status)).Inc()
	}

	now := time.Now().UTC()
	payload := models.Experiment{
		ID:          experimentID,
		Status:      status,
		Result:      result,
		CompletedAt: &now,
	}
	if err := a.Bus.Publish(eventbus.SubjectExperimentCompleted, payload); err != nil {
		log.Printf("[Experiments] failed to publish result for %s: %v", experimentID, err)
		return nil
	}
	if a.Bus != nil && a.Metrics != nil {
		a.Metrics.EventsPublished.WithLabelValues(eventbus.SubjectExperimentCompleted).Inc()
	}
	return nil
}
