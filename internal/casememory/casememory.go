package casememory

import (
	"context"
	"sync"
	"time"
)

// Update is one additive write into a case's memory.
type Update struct {
	Type       string                 `json:"type"` // e.g. "learning_summary", "pattern_match"
	Data       map[string]interface{} `json:"data"`
	Source     string                 `json:"source"`
	Confidence float64                `json:"confidence,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Snapshot is the case-memory view the learning subsystem consumes.
// Owned and persisted by the upstream case layer; read-mostly here.
type Snapshot struct {
	CaseID               string    `json:"case_id"`
	HistoricalPatterns   []string  `json:"historical_patterns,omitempty"`
	SuccessfulStrategies []string  `json:"successful_strategies,omitempty"`
	Updates              []Update  `json:"updates,omitempty"`
	LastInteractionAt    time.Time `json:"last_interaction_at,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Store is the case-memory collaborator contract. The production
// implementation lives with the relational persistence layer upstream;
// internal/database carries a Postgres-backed one and MemoryStore below
// serves tests and standalone runs.
type Store interface {
	// GetMemory returns the snapshot for a case, or nil when the case has
	// no memory yet.
	GetMemory(ctx context.Context, caseID string) (*Snapshot, error)

	// UpdateMemory appends an update and returns the new snapshot.
	// Updates are additive, never destructive, so learning writes are
	// idempotent to retry.
	UpdateMemory(ctx context.Context, caseID string, update Update) (*Snapshot, error)
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryStore creates an empty in-memory case-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*Snapshot)}
}

func (s *MemoryStore) GetMemory(_ context.Context, caseID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[caseID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) UpdateMemory(_ context.Context, caseID string, update Update) (*Snapshot, error) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[caseID]
	if !ok {
		snap = &Snapshot{CaseID: caseID}
		s.snapshots[caseID] = snap
	}
	snap.Updates = append(snap.Updates, update)
	snap.UpdatedAt = update.Timestamp

	switch update.Type {
	case "pattern_match":
		if id, ok := update.Data["pattern_id"].(string); ok && id != "" {
			snap.HistoricalPatterns = append(snap.HistoricalPatterns, id)
		}
	case "successful_strategy":
		if st, ok := update.Data["strategy"].(string); ok && st != "" {
			snap.SuccessfulStrategies = append(snap.SuccessfulStrategies, st)
		}
	case "interaction":
		snap.LastInteractionAt = update.Timestamp
	}

	cp := *snap
	return &cp, nil
}

// SetHistory seeds a snapshot; test helper for upstream-owned fields.
func (s *MemoryStore) SetHistory(caseID string, patterns, strategies []string, lastInteraction time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[caseID] = &Snapshot{
		CaseID:               caseID,
		HistoricalPatterns:   patterns,
		SuccessfulStrategies: strategies,
		LastInteractionAt:    lastInteraction,
		UpdatedAt:            time.Now().UTC(),
	}
}
