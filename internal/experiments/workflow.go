package experiments

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/anchorhome/anchor/pkg/models"
)

// TaskQueue is the Temporal task queue experiments run on.
const TaskQueue = "anchor-experiments"

// observationWindows is how many measurement samples an experiment takes
// before evaluating.
const observationWindows = 3

// WorkflowInput carries one scheduled experiment into Temporal.
type WorkflowInput struct {
	Experiment models.Experiment `json:"experiment"`
	Hypothesis models.Hypothesis `json:"hypothesis"`

	// Window is the time between measurement samples.
	Window time.Duration `json:"window"`
}

// ExperimentWorkflow runs one out-of-band experiment: it samples live model
// performance across several observation windows, evaluates the hypothesis
// against the measured trend, and reports the completed result.
func ExperimentWorkflow(ctx workflow.Context, input WorkflowInput) (*models.ExperimentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Experiment workflow started",
		"experimentID", input.Experiment.ID, "hypothesisID", input.Hypothesis.ID)

	window := input.Window
	if window <= 0 {
		window = 15 * time.Minute
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var samples []Sample
	for i := 0; i < observationWindows; i++ {
		var sample Sample
		if err := workflow.ExecuteActivity(ctx, "CollectPerformanceSample", input.Experiment.ID).Get(ctx, &sample); err != nil {
			logger.Error("Sample collection failed", "error", err)
			result := &models.ExperimentResult{
				Validated:  false,
				Confidence: 0,
				Notes:      "sample collection failed: " + err.Error(),
			}
			_ = workflow.ExecuteActivity(ctx, "ReportExperimentResult", input.Experiment.ID, input.Hypothesis.Potential, result).Get(ctx, nil)
			return result, err
		}
		samples = append(samples, sample)

		if i < observationWindows-1 {
			if err := workflow.Sleep(ctx, window); err != nil {
				return nil, err
			}
		}
	}

	result := evaluate(input.Hypothesis, samples)

	if err := workflow.ExecuteActivity(ctx, "ReportExperimentResult", input.Experiment.ID, input.Hypothesis.Potential, result).Get(ctx, nil); err != nil {
		logger.Error("Result reporting failed", "error", err)
	}

	logger.Info("Experiment workflow completed",
		"experimentID", input.Experiment.ID, "validated", result.Validated)
	return result, nil
}

// evaluate scores the hypothesis against the sampled trend. Validation
// requires success rate holding at or above the first sample while the
// hypothesis keeps its prior confidence; both feed the result confidence.
func evaluate(h models.Hypothesis, samples []Sample) *models.ExperimentResult {
	if len(samples) == 0 {
		return &models.ExperimentResult{Validated: false, Notes: "no samples collected"}
	}

	first, last := samples[0], samples[len(samples)-1]
	delta := last.SuccessRate - first.SuccessRate

	var meanSuccess float64
	for _, s := range samples {
		meanSuccess += s.SuccessRate
	}
	meanSuccess /= float64(len(samples))

	score := 0.5*h.Confidence + 0.5*meanSuccess
	if delta > 0 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}

	return &models.ExperimentResult{
		Validated:  delta >= 0 && meanSuccess >= 0.6,
		Confidence: score,
		Measurement: map[string]float64{
			"mean_success_rate":  meanSuccess,
			"success_rate_delta": delta,
			"samples":            float64(len(samples)),
		},
		Notes: "evaluated over live performance windows",
	}
}
