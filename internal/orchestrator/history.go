package orchestrator

import (
	"sync"
	"time"

	"github.com/anchorhome/anchor/pkg/models"
)

// maxHistorySize bounds the execution record buffer. Oldest entries are
// evicted first, so memory stays O(1) regardless of call volume.
const maxHistorySize = 1000

// executionHistory is a concurrency-safe ring buffer of the most recent
// terminal execution outcomes. Used only for aggregate performance
// metrics, never for correctness.
type executionHistory struct {
	mu      sync.RWMutex
	records []models.ExecutionRecord
}

func newExecutionHistory() *executionHistory {
	return &executionHistory{
		records: make([]models.ExecutionRecord, 0, maxHistorySize),
	}
}

// Record appends one terminal outcome. Append and truncation happen under
// a single lock so concurrent readers never observe a partial update.
func (h *executionHistory) Record(kind models.TaskKind, modelName string, success bool, elapsed time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, models.ExecutionRecord{
		TaskKind:      kind,
		ModelName:     modelName,
		Success:       success,
		ExecutionTime: elapsed,
		Timestamp:     time.Now().UTC(),
	})
	if len(h.records) > maxHistorySize {
		h.records = h.records[len(h.records)-maxHistorySize:]
	}
}

// Snapshot returns a copy of the buffered records in insertion order.
func (h *executionHistory) Snapshot() []models.ExecutionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.ExecutionRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the current number of buffered records.
func (h *executionHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// ModelPerformance aggregates history for a single model.
type ModelPerformance struct {
	ModelName   string        `json:"model_name"`
	Executions  int           `json:"executions"`
	SuccessRate float64       `json:"success_rate"`
	MeanLatency time.Duration `json:"mean_latency"`
}

// PerformanceMetrics aggregates the ring buffer into per-model success
// rate and mean latency. Read-only projection; never blocks dispatch
// beyond the shared read lock.
func (h *executionHistory) PerformanceMetrics() map[string]*ModelPerformance {
	h.mu.RLock()
	defer h.mu.RUnlock()

	perf := make(map[string]*ModelPerformance)
	successes := make(map[string]int)
	totalLatency := make(map[string]time.Duration)

	for _, r := range h.records {
		p, ok := perf[r.ModelName]
		if !ok {
			p = &ModelPerformance{ModelName: r.ModelName}
			perf[r.ModelName] = p
		}
		p.Executions++
		totalLatency[r.ModelName] += r.ExecutionTime
		if r.Success {
			successes[r.ModelName]++
		}
	}

	for name, p := range perf {
		p.SuccessRate = float64(successes[name]) / float64(p.Executions)
		p.MeanLatency = totalLatency[name] / time.Duration(p.Executions)
	}
	return perf
}
