package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhome/anchor/internal/cache"
	"github.com/anchorhome/anchor/internal/metrics"
	"github.com/anchorhome/anchor/internal/provider"
	"github.com/anchorhome/anchor/internal/telemetry"
	"github.com/anchorhome/anchor/pkg/models"
)

const (
	// defaultTimeout bounds a single execution attempt when the task
	// carries no explicit timeout.
	defaultTimeout = 30 * time.Second

	// maxRetries is the number of retries after the first attempt, so a
	// permanently failing primary is tried exactly 4 times.
	maxRetries = 3
)

// SpecializedVariant is an alternative model preferred over the generic
// primary for critical-urgency tasks matching its predicate.
type SpecializedVariant struct {
	Model provider.AIModel

	// ForAccuracy selects this variant when the context requires accuracy.
	ForAccuracy bool

	// MinDataSize selects this variant for payloads at or above this size.
	// Zero disables the size predicate.
	MinDataSize int
}

// Route holds the model configuration for one task kind.
type Route struct {
	Primary     provider.AIModel
	Fallback    provider.AIModel
	Specialized []SpecializedVariant
}

// selectModel picks the model to execute. Specialized variants are only
// considered at critical urgency, and only when their predicate holds.
func (r *Route) selectModel(tc models.TaskContext) provider.AIModel {
	if tc.Urgency != models.UrgencyCritical {
		return r.Primary
	}
	for _, v := range r.Specialized {
		if v.Model == nil {
			continue
		}
		if v.ForAccuracy && tc.RequiresAccuracy {
			return v.Model
		}
		if v.MinDataSize > 0 && tc.DataSize >= v.MinDataSize {
			return v.Model
		}
	}
	return r.Primary
}

// RoutingTable maps every task kind to its route. One field per kind so
// adding a kind is a compile-time change, not a runtime string match.
type RoutingTable struct {
	Conversational *Route
	Document       *Route
	Emotional      *Route
	Intent         *Route
	Regulatory     *Route
}

// route returns the route for kind, nil when the kind is unknown or the
// table has a gap.
func (t *RoutingTable) route(kind models.TaskKind) *Route {
	if t == nil {
		return nil
	}
	switch kind {
	case models.TaskConversational:
		return t.Conversational
	case models.TaskDocument:
		return t.Document
	case models.TaskEmotional:
		return t.Emotional
	case models.TaskIntent:
		return t.Intent
	case models.TaskRegulatory:
		return t.Regulatory
	}
	return nil
}

// Orchestrator dispatches tasks to model implementations with bounded
// retries and fallback, and records execution outcomes.
type Orchestrator struct {
	routes  *routeHolder
	history *executionHistory
	cache   *cache.Cache
	metrics *metrics.Metrics
}

// New creates an Orchestrator. cache may be nil to disable response
// caching; m may be nil to disable metrics.
func New(table *RoutingTable, respCache *cache.Cache, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		routes:  newRouteHolder(table),
		history: newExecutionHistory(),
		cache:   respCache,
		metrics: m,
	}
}

// SetRoutes atomically replaces the routing table. Used by config hot
// reload; in-flight executions keep the table they started with.
func (o *Orchestrator) SetRoutes(table *RoutingTable) {
	o.routes.set(table)
}

// ExecuteTask selects a model for the task kind and executes it with
// timeout, retry, and fallback. It fails with ErrNoModelConfigured when
// the routing table has no entry for the kind, and with
// *ModelExecutionError only after primary and fallback are exhausted.
func (o *Orchestrator) ExecuteTask(ctx context.Context, task *models.Task, tc models.TaskContext) (*models.ModelResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.execute_task")
	defer span.End()

	route := o.routes.get().route(task.Kind)
	if route == nil || route.Primary == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoModelConfigured, task.Kind)
	}

	correlationID := uuid.NewString()
	start := time.Now()

	var cacheKey string
	if o.cache != nil && cacheableKind(task.Kind) {
		var err error
		cacheKey, err = cache.Key(string(task.Kind), task.Input, task.Options)
		if err == nil {
			if result, ok := o.cache.GetResult(ctx, cacheKey); ok {
				if o.metrics != nil {
					o.metrics.CacheHits.Inc()
				}
				return result, nil
			}
			if o.metrics != nil {
				o.metrics.CacheMisses.Inc()
			}
		}
	}

	model := route.selectModel(tc)

	result, primaryErr := o.executeWithRetry(ctx, model, task, correlationID)
	if primaryErr == nil {
		o.finish(task, model.Name(), result, start)
		if cacheKey != "" {
			o.cache.SetResult(ctx, cacheKey, result)
		}
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Fallback gets exactly one attempt, no retry loop.
	if route.Fallback != nil {
		log.Printf("[Orchestrator] primary exhausted for %s task (correlation %s), trying fallback %s",
			task.Kind, correlationID, route.Fallback.Name())
		fbResult, fbErr := runWithTimeout(ctx, taskTimeout(task), func(c context.Context) (*models.ModelResult, error) {
			return route.Fallback.Execute(c, task)
		})
		if o.metrics != nil {
			o.metrics.FallbackUsed.WithLabelValues(string(task.Kind), fmt.Sprintf("%t", fbErr == nil)).Inc()
		}
		if fbErr == nil {
			clampConfidence(fbResult)
			o.finish(task, route.Fallback.Name(), fbResult, start)
			return fbResult, nil
		}
		log.Printf("[Orchestrator] fallback %s failed for %s task (correlation %s): %v",
			route.Fallback.Name(), task.Kind, correlationID, fbErr)
	}

	o.history.Record(task.Kind, model.Name(), false, time.Since(start))
	if o.metrics != nil {
		o.metrics.RecordModelRequest(string(task.Kind), model.Name(), false, time.Since(start).Seconds(), 0)
		o.metrics.ModelErrors.WithLabelValues(string(task.Kind), model.Name(), errorType(primaryErr)).Inc()
	}

	return nil, &ModelExecutionError{
		TaskKind:      task.Kind,
		CorrelationID: correlationID,
		Context:       tc,
		Cause:         primaryErr,
	}
}

// executeWithRetry runs the model with a per-attempt timeout and
// exponential backoff between attempts (2^attempt seconds).
func (o *Orchestrator) executeWithRetry(ctx context.Context, model provider.AIModel, task *models.Task, correlationID string) (*models.ModelResult, error) {
	timeout := taskTimeout(task)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := runWithTimeout(ctx, timeout, func(c context.Context) (*models.ModelResult, error) {
			return model.Execute(c, task)
		})
		if err == nil {
			clampConfidence(result)
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("[Orchestrator] attempt %d/%d failed for %s task on %s (correlation %s): %v; retrying in %s",
				attempt+1, maxRetries+1, task.Kind, model.Name(), correlationID, err, backoff)
			if o.metrics != nil {
				o.metrics.ModelRetries.WithLabelValues(string(task.Kind), model.Name()).Inc()
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// PerformanceMetrics aggregates the execution history into per-model
// success rate and mean latency.
func (o *Orchestrator) PerformanceMetrics() map[string]*ModelPerformance {
	return o.history.PerformanceMetrics()
}

// History returns a copy of the bounded execution record buffer.
func (o *Orchestrator) History() []models.ExecutionRecord {
	return o.history.Snapshot()
}

func (o *Orchestrator) finish(task *models.Task, modelName string, result *models.ModelResult, start time.Time) {
	o.history.Record(task.Kind, modelName, true, time.Since(start))
	if o.metrics != nil {
		o.metrics.RecordModelRequest(string(task.Kind), modelName, true, time.Since(start).Seconds(), result.TokensUsed)
	}
}

// cacheableKind reports whether responses for the kind are deterministic
// enough to cache. Conversational and emotional output is always fresh.
func cacheableKind(kind models.TaskKind) bool {
	switch kind {
	case models.TaskDocument, models.TaskIntent, models.TaskRegulatory:
		return true
	}
	return false
}

func taskTimeout(task *models.Task) time.Duration {
	if task.Options.Timeout > 0 {
		return task.Options.Timeout
	}
	return defaultTimeout
}

func clampConfidence(result *models.ModelResult) {
	if result == nil {
		return
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
}

func errorType(err error) string {
	if errors.Is(err, ErrAttemptTimeout) {
		return "timeout"
	}
	if isTransientError(err) {
		return "transient"
	}
	return "provider"
}
