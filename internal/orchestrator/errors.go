package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anchorhome/anchor/pkg/models"
)

// ErrNoModelConfigured indicates a routing table gap for a task kind.
// This is a configuration defect, never retried.
var ErrNoModelConfigured = errors.New("no model configured for task kind")

// ModelExecutionError is returned only after both the primary retry loop
// and the fallback attempt (when configured) are exhausted.
type ModelExecutionError struct {
	TaskKind      models.TaskKind
	CorrelationID string
	Context       models.TaskContext
	Cause         error
}

func (e *ModelExecutionError) Error() string {
	return fmt.Sprintf("model execution failed for %s task (correlation %s): %v",
		e.TaskKind, e.CorrelationID, e.Cause)
}

func (e *ModelExecutionError) Unwrap() error { return e.Cause }

// isTransientError checks whether an error message indicates a transient
// provider-side issue worth retrying. Configuration errors never match.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// Connection/network errors
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout") {
		return true
	}
	// HTTP status code errors (rate limits, server errors)
	if strings.Contains(msg, "status code 429") ||
		strings.Contains(msg, "status code 500") ||
		strings.Contains(msg, "status code 502") ||
		strings.Contains(msg, "status code 503") ||
		strings.Contains(msg, "status code 504") {
		return true
	}
	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota exceeded") {
		return true
	}
	return false
}
