package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorhome/anchor/internal/cache"
	"github.com/anchorhome/anchor/pkg/models"
)

type fakeModel struct {
	name  string
	calls int
	exec  func(ctx context.Context, task *models.Task) (*models.ModelResult, error)
}

func (f *fakeModel) Name() string { return f.name }

func (f *fakeModel) Execute(ctx context.Context, task *models.Task) (*models.ModelResult, error) {
	f.calls++
	return f.exec(ctx, task)
}

func (f *fakeModel) CanHandle(models.TaskKind) bool { return true }
func (f *fakeModel) EstimatedCost() float64         { return 0.1 }
func (f *fakeModel) EstimatedTime() time.Duration   { return 100 * time.Millisecond }

func okModel(name string, confidence float64) *fakeModel {
	return &fakeModel{
		name: name,
		exec: func(ctx context.Context, task *models.Task) (*models.ModelResult, error) {
			return &models.ModelResult{
				Data:       "response from " + name,
				Confidence: confidence,
				ModelName:  name,
				Success:    true,
			}, nil
		},
	}
}

func failingModel(name string) *fakeModel {
	return &fakeModel{
		name: name,
		exec: func(ctx context.Context, task *models.Task) (*models.ModelResult, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}
}

func conversationalTask() *models.Task {
	return &models.Task{
		Kind:  models.TaskConversational,
		Input: "My servicer isn't responding to my application",
	}
}

func TestExecuteTaskNoRouteConfigured(t *testing.T) {
	o := New(&RoutingTable{}, nil, nil)

	result, err := o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoModelConfigured))
	assert.Nil(t, result)
}

func TestExecuteTaskSuccessClampsConfidence(t *testing.T) {
	primary := okModel("primary", 1.7)
	o := New(&RoutingTable{Conversational: &Route{Primary: primary}}, nil, nil)

	result, err := o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, 1, primary.calls)

	history := o.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, "primary", history[0].ModelName)
}

func TestRetryExhaustionThenFallbackOnce(t *testing.T) {
	primary := failingModel("primary")
	fallback := okModel("fallback", 0.8)
	o := New(&RoutingTable{Conversational: &Route{Primary: primary, Fallback: fallback}}, nil, nil)

	result, err := o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.ModelName)

	// One initial attempt plus three retries on the primary, then exactly
	// one fallback attempt.
	assert.Equal(t, 4, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestFallbackResultConfidenceIsClamped(t *testing.T) {
	primary := failingModel("primary")
	fallback := okModel("fallback", 1.7)
	o := New(&RoutingTable{Conversational: &Route{Primary: primary, Fallback: fallback}}, nil, nil)

	result, err := o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.ModelName)

	// Fallback results honor the same [0,1] confidence bound as primary
	// results.
	assert.Equal(t, 1.0, result.Confidence)
}

func TestFallbackFailureReturnsModelExecutionError(t *testing.T) {
	primary := failingModel("primary")
	fallback := failingModel("fallback")
	o := New(&RoutingTable{Conversational: &Route{Primary: primary, Fallback: fallback}}, nil, nil)

	result, err := o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{
		CaseID: "case-1",
	})
	require.Error(t, err)
	assert.Nil(t, result)

	var execErr *ModelExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, models.TaskConversational, execErr.TaskKind)
	assert.NotEmpty(t, execErr.CorrelationID)
	assert.Equal(t, "case-1", execErr.Context.CaseID)
	assert.Equal(t, 1, fallback.calls)
}

func TestSpecializedVariantSelection(t *testing.T) {
	primary := okModel("primary", 0.9)
	accurate := okModel("accurate", 0.95)
	route := &Route{
		Primary: primary,
		Specialized: []SpecializedVariant{
			{Model: accurate, ForAccuracy: true},
		},
	}

	// Non-critical urgency always uses the primary, even when accuracy is
	// required.
	selected := route.selectModel(models.TaskContext{Urgency: models.UrgencyHigh, RequiresAccuracy: true})
	assert.Equal(t, "primary", selected.Name())

	// Critical urgency with the predicate satisfied prefers the variant.
	selected = route.selectModel(models.TaskContext{Urgency: models.UrgencyCritical, RequiresAccuracy: true})
	assert.Equal(t, "accurate", selected.Name())

	// Critical urgency without the predicate falls back to the primary.
	selected = route.selectModel(models.TaskContext{Urgency: models.UrgencyCritical})
	assert.Equal(t, "primary", selected.Name())
}

func TestDocumentResponsesAreCached(t *testing.T) {
	primary := okModel("doc-model", 0.9)
	respCache := cache.New(nil, nil)
	o := New(&RoutingTable{Document: &Route{Primary: primary}}, respCache, nil)

	task := &models.Task{Kind: models.TaskDocument, Input: "classify this denial letter"}

	first, err := o.ExecuteTask(context.Background(), task, models.TaskContext{})
	require.NoError(t, err)
	second, err := o.ExecuteTask(context.Background(), task, models.TaskContext{})
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, primary.calls, "second call should be served from cache")
}

func TestConversationalResponsesAreNotCached(t *testing.T) {
	primary := okModel("conv-model", 0.9)
	respCache := cache.New(nil, nil)
	o := New(&RoutingTable{Conversational: &Route{Primary: primary}}, respCache, nil)

	_, err := o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{})
	require.NoError(t, err)
	_, err = o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{})
	require.NoError(t, err)

	assert.Equal(t, 2, primary.calls)
}

func TestHistoryRingBufferCap(t *testing.T) {
	h := newExecutionHistory()
	for i := 0; i < maxHistorySize+50; i++ {
		h.Record(models.TaskConversational, fmt.Sprintf("model-%d", i), true, time.Millisecond)
	}

	snapshot := h.Snapshot()
	require.Len(t, snapshot, maxHistorySize)

	// Oldest entries are evicted first; insertion order is preserved.
	assert.Equal(t, "model-50", snapshot[0].ModelName)
	assert.Equal(t, fmt.Sprintf("model-%d", maxHistorySize+49), snapshot[len(snapshot)-1].ModelName)
}

func TestPerformanceMetricsAggregation(t *testing.T) {
	h := newExecutionHistory()
	h.Record(models.TaskConversational, "m1", true, 100*time.Millisecond)
	h.Record(models.TaskConversational, "m1", false, 300*time.Millisecond)
	h.Record(models.TaskDocument, "m2", true, 50*time.Millisecond)

	perf := h.PerformanceMetrics()
	require.Contains(t, perf, "m1")
	require.Contains(t, perf, "m2")

	assert.Equal(t, 2, perf["m1"].Executions)
	assert.InDelta(t, 0.5, perf["m1"].SuccessRate, 1e-9)
	assert.Equal(t, 200*time.Millisecond, perf["m1"].MeanLatency)
	assert.InDelta(t, 1.0, perf["m2"].SuccessRate, 1e-9)
}

func TestRunWithTimeout(t *testing.T) {
	// Attempt timeout fires when the model is too slow.
	_, err := runWithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (*models.ModelResult, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return &models.ModelResult{Success: true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	assert.ErrorIs(t, err, ErrAttemptTimeout)

	// Caller cancellation is reported as the context error, not as an
	// attempt timeout.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runWithTimeout(ctx, time.Second, func(ctx context.Context) (*models.ModelResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	// Fast results pass through untouched.
	result, err := runWithTimeout(context.Background(), time.Second, func(ctx context.Context) (*models.ModelResult, error) {
		return &models.ModelResult{Data: "ok", Success: true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Data)
}

func TestSetRoutesSwapsTable(t *testing.T) {
	first := okModel("first", 0.9)
	second := okModel("second", 0.9)
	o := New(&RoutingTable{Conversational: &Route{Primary: first}}, nil, nil)

	result, err := o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, "first", result.ModelName)

	o.SetRoutes(&RoutingTable{Conversational: &Route{Primary: second}})

	result, err = o.ExecuteTask(context.Background(), conversationalTask(), models.TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, "second", result.ModelName)
}
