package casememory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMemoryReturnsNilWhenAbsent(t *testing.T) {
	s := NewMemoryStore()
	snap, err := s.GetMemory(context.Background(), "unknown-case")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUpdatesAreAdditive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.UpdateMemory(ctx, "case-1", Update{
		Type:   "pattern_match",
		Source: "learning",
		Data:   map[string]interface{}{"pattern_id": "pat-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pat-1"}, first.HistoricalPatterns)

	second, err := s.UpdateMemory(ctx, "case-1", Update{
		Type:   "successful_strategy",
		Source: "learning",
		Data:   map[string]interface{}{"strategy": "send checklist up front"},
	})
	require.NoError(t, err)

	// Earlier updates survive later ones.
	assert.Equal(t, []string{"pat-1"}, second.HistoricalPatterns)
	assert.Equal(t, []string{"send checklist up front"}, second.SuccessfulStrategies)
	assert.Len(t, second.Updates, 2)
}

func TestInteractionUpdateSetsLastSeen(t *testing.T) {
	s := NewMemoryStore()
	ts := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)

	snap, err := s.UpdateMemory(context.Background(), "case-1", Update{
		Type:      "interaction",
		Source:    "learning",
		Timestamp: ts,
	})
	require.NoError(t, err)
	assert.Equal(t, ts, snap.LastInteractionAt)
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.UpdateMemory(ctx, "case-1", Update{Type: "interaction"})
	require.NoError(t, err)

	snap, err := s.GetMemory(ctx, "case-1")
	require.NoError(t, err)
	snap.CaseID = "mutated"

	again, err := s.GetMemory(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "case-1", again.CaseID)
}
