package experiments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorhome/anchor/internal/orchestrator"
	"github.com/anchorhome/anchor/pkg/models"
)

func TestEvaluateValidatesHoldingTrend(t *testing.T) {
	h := models.Hypothesis{Confidence: 0.7}
	samples := []Sample{
		{SuccessRate: 0.70},
		{SuccessRate: 0.75},
		{SuccessRate: 0.80},
	}

	result := evaluate(h, samples)
	assert.True(t, result.Validated)
	assert.InDelta(t, 0.75, result.Measurement["mean_success_rate"], 1e-9)
	assert.InDelta(t, 0.10, result.Measurement["success_rate_delta"], 1e-9)
	// 0.5*0.7 + 0.5*0.75 + 0.1 improvement bonus.
	assert.InDelta(t, 0.825, result.Confidence, 1e-9)
}

func TestEvaluateRejectsDecliningTrend(t *testing.T) {
	h := models.Hypothesis{Confidence: 0.9}
	samples := []Sample{
		{SuccessRate: 0.80},
		{SuccessRate: 0.60},
		{SuccessRate: 0.50},
	}

	result := evaluate(h, samples)
	assert.False(t, result.Validated)
}

func TestEvaluateRejectsLowSuccessRate(t *testing.T) {
	h := models.Hypothesis{Confidence: 0.9}
	samples := []Sample{
		{SuccessRate: 0.40},
		{SuccessRate: 0.45},
	}

	result := evaluate(h, samples)
	assert.False(t, result.Validated, "a flat trend below the success floor is not validated")
}

func TestEvaluateNoSamples(t *testing.T) {
	result := evaluate(models.Hypothesis{Confidence: 0.9}, nil)
	assert.False(t, result.Validated)
}

type fakePerf struct {
	perf map[string]*orchestrator.ModelPerformance
}

func (f *fakePerf) PerformanceMetrics() map[string]*orchestrator.ModelPerformance {
	return f.perf
}

func TestCollectPerformanceSampleAggregatesAcrossModels(t *testing.T) {
	a := &Activities{Perf: &fakePerf{perf: map[string]*orchestrator.ModelPerformance{
		"fast-model": {ModelName: "fast-model", Executions: 30, SuccessRate: 0.9, MeanLatency: 100 * time.Millisecond},
		"slow-model": {ModelName: "slow-model", Executions: 10, SuccessRate: 0.5, MeanLatency: 500 * time.Millisecond},
	}}}

	sample, err := a.CollectPerformanceSample(context.Background(), "exp-1")
	require.NoError(t, err)

	assert.Equal(t, 40, sample.Executions)
	// Execution-weighted: (0.9*30 + 0.5*10) / 40.
	assert.InDelta(t, 0.8, sample.SuccessRate, 1e-9)
	// (100*30 + 500*10) / 40.
	assert.InDelta(t, 200.0, sample.MeanLatencyMs, 1e-9)
	assert.False(t, sample.TakenAt.IsZero())
}

func TestCollectPerformanceSampleRequiresSource(t *testing.T) {
	a := &Activities{}
	_, err := a.CollectPerformanceSample(context.Background(), "exp-1")
	assert.Error(t, err)
}

func TestReportExperimentResultToleratesNilBus(t *testing.T) {
	a := &Activities{}
	err := a.ReportExperimentResult(context.Background(), "exp-1", 0.8, &models.ExperimentResult{Validated: true})
	assert.NoError(t, err)
}
