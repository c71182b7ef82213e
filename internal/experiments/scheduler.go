package experiments

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/anchorhome/anchor/pkg/models"
)

// Scheduler hands experiments that cannot be quick-validated to Temporal.
// A nil *Scheduler is valid and leaves experiments in the planned state.
type Scheduler struct {
	client client.Client
	window time.Duration
}

// NewScheduler wraps a Temporal client. window overrides the default
// measurement interval when positive.
func NewScheduler(c client.Client, window time.Duration) *Scheduler {
	return &Scheduler{client: c, window: window}
}

// Schedule starts the experiment workflow. The experiment stays planned
// here; the workflow reports completion over the event bus.
func (s *Scheduler) Schedule(ctx context.Context, exp *models.Experiment, hyp *models.Hypothesis) error {
	if s == nil || s.client == nil {
		return nil
	}
	if exp == nil || hyp == nil {
		return fmt.Errorf("experiment and hypothesis are required")
	}

	opts := client.StartWorkflowOptions{
		ID:        "experiment-" + exp.ID,
		TaskQueue: TaskQueue,
	}
	run, err := s.client.ExecuteWorkflow(ctx, opts, ExperimentWorkflow, WorkflowInput{
		Experiment: *exp,
		Hypothesis: *hyp,
		Window:     s.window,
	})
	if err != nil {
		return fmt.Errorf("failed to start experiment workflow: %w", err)
	}

	log.Printf("[Experiments] scheduled experiment %s as workflow %s", exp.ID, run.GetID())
	return nil
}

// NewWorker builds a Temporal worker with the experiment workflow and
// activities registered. The caller runs and stops it.
func NewWorker(c client.Client, acts *Activities) worker.Worker {
	w := worker.New(c, TaskQueue, worker.Options{})
	w.RegisterWorkflow(ExperimentWorkflow)
	w.RegisterActivity(acts.CollectPerformanceSample)
	w.RegisterActivity(acts.ReportExperimentResult)
	return w
}
