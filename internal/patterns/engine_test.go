package patterns

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorhome/anchor/pkg/models"
)

type fakeCaseSource struct {
	cases []CaseRecord
}

func (f *fakeCaseSource) LabeledCases(_ context.Context, category string, limit int) ([]CaseRecord, error) {
	var out []CaseRecord
	for _, c := range f.cases {
		if c.Category == category {
			out = append(out, c)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func hardshipFeatures(hour int) models.FeatureSet {
	return models.FeatureSet{
		Temporal: models.TemporalFeatures{
			DayOfWeek: time.Tuesday,
			HourOfDay: hour,
			Season:    "spring",
		},
		Content: models.ContentFeatures{
			Length:     450,
			Sentiment:  -0.3,
			Complexity: 0.5,
			Topics:     []string{"hardship", "modification"},
		},
		Context: models.ContextFeatures{
			CaseStage:        "application",
			InteractionCount: 3,
			Urgency:          models.UrgencyMedium,
			Servicer:         "servicer-a",
		},
		Performance: models.PerformanceFeatures{
			ResponseTime: 800 * time.Millisecond,
			Resolved:     true,
		},
	}
}

func escalationFeatures() models.FeatureSet {
	return models.FeatureSet{
		Temporal: models.TemporalFeatures{
			DayOfWeek: time.Friday,
			HourOfDay: 22,
			Season:    "winter",
		},
		Content: models.ContentFeatures{
			Length:     1800,
			Sentiment:  -0.9,
			Complexity: 0.9,
			Topics:     []string{"foreclosure", "deadline"},
		},
		Context: models.ContextFeatures{
			CaseStage:        "foreclosure",
			InteractionCount: 12,
			Urgency:          models.UrgencyCritical,
			Servicer:         "servicer-b",
		},
		Performance: models.PerformanceFeatures{
			ResponseTime: 9 * time.Second,
			Escalated:    true,
		},
	}
}

func TestIdentifySuccessPatternsNeedsMinimumEvidence(t *testing.T) {
	src := &fakeCaseSource{}
	for i := 0; i < 9; i++ {
		src.cases = append(src.cases, CaseRecord{
			ID:       fmt.Sprintf("case-%d", i),
			Category: "modification",
			Features: hardshipFeatures(10),
			Success:  true,
		})
	}

	engine := NewEngine(NewMemoryStore(), src, nil, nil, nil)
	found, err := engine.IdentifySuccessPatterns(context.Background(), "modification", 0.6)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestIdentifySuccessPatternsDiscoversAndValidates(t *testing.T) {
	src := &fakeCaseSource{}
	// Twelve identical successful cases form one strong cluster.
	for i := 0; i < 12; i++ {
		src.cases = append(src.cases, CaseRecord{
			ID:       fmt.Sprintf("success-%d", i),
			Category: "modification",
			Features: hardshipFeatures(10),
			Success:  true,
			Outcome:  "modification approved",
		})
	}
	// Eight distinct failed cases: any cluster they dominate has zero
	// success rate and is rejected before validation.
	for i := 0; i < 8; i++ {
		src.cases = append(src.cases, CaseRecord{
			ID:       fmt.Sprintf("failure-%d", i),
			Category: "modification",
			Features: escalationFeatures(),
			Success:  false,
			Outcome:  "escalated to counselor",
		})
	}

	store := NewMemoryStore()
	engine := NewEngine(store, src, nil, nil, nil)
	found, err := engine.IdentifySuccessPatterns(context.Background(), "modification", 0.6)
	require.NoError(t, err)
	require.NotEmpty(t, found)

	for _, p := range found {
		assert.GreaterOrEqual(t, p.Occurrences, 5)
		assert.GreaterOrEqual(t, p.Confidence, 0.6)
		assert.InDelta(t, 1.0, p.SuccessRate, 1e-9)
		require.NotNil(t, p.Provenance)
		assert.Greater(t, p.Provenance.MeanAccuracy, 0.7)
		assert.Greater(t, p.Provenance.Consistency, 0.8)
		assert.Equal(t, "modification", p.Provenance.DiscoveredFrom)
	}

	// Survivors were persisted.
	stored, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, len(found))
}

func TestCrossValidateGates(t *testing.T) {
	uniform := make([]CaseRecord, 10)
	members := make([]int, 10)
	for i := range uniform {
		uniform[i] = CaseRecord{Success: true}
		members[i] = i
	}
	val := crossValidate(uniform, members, 5)
	assert.InDelta(t, 1.0, val.meanAccuracy, 1e-9)
	assert.InDelta(t, 1.0, val.consistency, 1e-9)

	// A 50/50 cluster has no predictive signal and must not pass the
	// accuracy gate.
	mixed := make([]CaseRecord, 10)
	for i := range mixed {
		mixed[i] = CaseRecord{Success: i%2 == 0}
	}
	val = crossValidate(mixed, members, 5)
	assert.LessOrEqual(t, val.meanAccuracy, 0.7)
}

func TestIdentifySuccessPatternsRequiresCaseSource(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), nil, nil, nil, nil)

	_, err := engine.IdentifySuccessPatterns(context.Background(), "hardship", 0.6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no labeled case source")
}

func TestFindSimilarPatternsAppliesAbsoluteFloor(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store, nil, nil, nil, nil)
	ctx := context.Background()

	match := &models.Pattern{
		Type:        models.PatternSuccess,
		Description: "hardship applications resolved on first contact",
		Features:    hardshipFeatures(10),
		Confidence:  0.8,
		Occurrences: 20,
		SuccessRate: 0.9,
	}
	_, err := engine.StorePattern(ctx, match, nil)
	require.NoError(t, err)

	distant := &models.Pattern{
		Type:        models.PatternEscalation,
		Description: "late-night foreclosure contacts escalate",
		Features:    escalationFeatures(),
		Confidence:  0.7,
		Occurrences: 15,
		SuccessRate: 0.2,
	}
	_, err = engine.StorePattern(ctx, distant, nil)
	require.NoError(t, err)

	results, err := engine.FindSimilarPatterns(ctx, hardshipFeatures(10), SearchOptions{
		MinSimilarity: 0.95,
		MaxResults:    10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, match.ID, results[0].Pattern.ID)
	assert.GreaterOrEqual(t, results[0].Similarity, 0.95)
}

func TestStorePatternMergesReobservation(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store, nil, nil, nil, nil)
	ctx := context.Background()

	first := &models.Pattern{
		Type:        models.PatternSuccess,
		Description: "original observation",
		Features:    hardshipFeatures(10),
		Confidence:  0.8,
		Occurrences: 5,
		SuccessRate: 0.8,
		Outcomes:    []string{"approved"},
	}
	_, err := engine.StorePattern(ctx, first, nil)
	require.NoError(t, err)

	second := &models.Pattern{
		Type:        models.PatternSuccess,
		Description: "same conditions observed again",
		Features:    hardshipFeatures(10),
		Confidence:  0.6,
		Occurrences: 1,
		SuccessRate: 1.0,
		Outcomes:    []string{"approved again"},
	}
	canonical, err := engine.StorePattern(ctx, second, nil)
	require.NoError(t, err)

	// Callers get the merged stored pattern back, not the discarded new id.
	assert.Equal(t, first.ID, canonical.ID)

	stored, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1, "identical patterns merge instead of duplicating")

	merged := stored[0]
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, 6, merged.Occurrences)
	// Weighted average: (0.8*5 + 0.6*1) / 6.
	assert.InDelta(t, 4.6/6.0, merged.Confidence, 1e-9)
	assert.Contains(t, merged.Outcomes, "approved again")
}

func TestStorePatternSupersedesWeakerNearDuplicate(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(store, nil, nil, nil, nil)
	ctx := context.Background()

	// Hand-built vectors with cosine similarity 0.9: close enough to
	// supersede, too far to merge.
	v1 := make([]float32, EmbeddingDim)
	v2 := make([]float32, EmbeddingDim)
	v1[0] = 1
	v2[0] = 0.9
	v2[1] = 0.43588989 // sqrt(1 - 0.81)

	weak := &models.Pattern{
		Type:        models.PatternSuccess,
		Description: "weak early pattern",
		Features:    hardshipFeatures(10),
		Confidence:  0.5,
	}
	_, err := engine.StorePattern(ctx, weak, v1)
	require.NoError(t, err)

	strong := &models.Pattern{
		Type:        models.PatternSuccess,
		Description: "stronger refinement",
		Features:    hardshipFeatures(11),
		Confidence:  0.9,
	}
	_, err = engine.StorePattern(ctx, strong, v2)
	require.NoError(t, err)

	updated, _, err := store.Get(ctx, weak.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, strong.ID, updated.SupersededBy)
	assert.True(t, updated.Superseded())

	// Default queries hide superseded patterns.
	results, err := store.Query(ctx, v1, 10, QueryFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, strong.ID, results[0].Pattern.ID)

	// They remain reachable when explicitly requested.
	results, err = store.Query(ctx, v1, 10, QueryFilters{IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestPatternRanking(t *testing.T) {
	strong := &models.Pattern{PredictivePower: 0.9, Confidence: 0.9, SuccessRate: 0.9, Occurrences: 100}
	weak := &models.Pattern{PredictivePower: 0.5, Confidence: 0.5, SuccessRate: 0.5, Occurrences: 10}

	list := []*models.Pattern{weak, strong}
	rankPatterns(list)
	assert.Same(t, strong, list[0])

	// Occurrences saturate at 100: more evidence past that point does not
	// change the score.
	more := &models.Pattern{PredictivePower: 0.9, Confidence: 0.9, SuccessRate: 0.9, Occurrences: 10000}
	assert.InDelta(t, patternScore(strong), patternScore(more), 1e-9)
}
