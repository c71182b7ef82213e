package features

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anchorhome/anchor/internal/casememory"
	"github.com/anchorhome/anchor/pkg/models"
)

// Distress/frustration thresholds driving derived urgency.
const (
	distressCriticalThreshold  = 0.8
	frustrationMediumThreshold = 0.7
)

// ContentAnalyzer is the slice of the orchestrator the extractor needs:
// it runs the emotional-analysis task used for sentiment and topics.
type ContentAnalyzer interface {
	ExecuteTask(ctx context.Context, task *models.Task, tc models.TaskContext) (*models.ModelResult, error)
}

// Extractor converts a raw interaction into a structured feature set.
// All fields except the AI-derived content scores are deterministic:
// extracting the same interaction twice yields identical values.
type Extractor struct {
	analyzer ContentAnalyzer
	memory   casememory.Store
}

// New creates an extractor. analyzer may be nil to skip AI content
// scoring entirely; memory may be nil to skip historical features.
func New(analyzer ContentAnalyzer, memory casememory.Store) *Extractor {
	return &Extractor{analyzer: analyzer, memory: memory}
}

// Extract computes the feature set for one interaction. This is the only
// step of the learning pipeline allowed to fail hard, and it does so only
// for structurally invalid input; degraded AI scoring falls back to
// zeroed content features with a logged warning.
func (e *Extractor) Extract(ctx context.Context, interaction *models.Interaction) (models.FeatureSet, error) {
	if interaction == nil {
		return models.FeatureSet{}, fmt.Errorf("interaction is nil")
	}
	if interaction.ID == "" {
		return models.FeatureSet{}, fmt.Errorf("interaction has no id")
	}

	fs := models.FeatureSet{
		Temporal:    e.temporalFeatures(ctx, interaction),
		Content:     e.contentFeatures(ctx, interaction),
		Context:     contextFeatures(interaction),
		Performance: performanceFeatures(interaction),
		Historical:  e.historicalFeatures(ctx, interaction),
	}
	return fs, nil
}

func (e *Extractor) temporalFeatures(ctx context.Context, interaction *models.Interaction) models.TemporalFeatures {
	ts := interaction.Timestamp
	tf := models.TemporalFeatures{
		DayOfWeek: ts.Weekday(),
		HourOfDay: ts.Hour(),
		Season:    seasonOf(ts.Month()),
	}

	if e.memory != nil {
		snap, err := e.memory.GetMemory(ctx, interaction.CaseID)
		if err == nil && snap != nil && !snap.LastInteractionAt.IsZero() {
			tf.DaysSinceLast = ts.Sub(snap.LastInteractionAt).Hours() / 24
			if tf.DaysSinceLast < 0 {
				tf.DaysSinceLast = 0
			}
		}
	}
	return tf
}

// contentFeatures scores the message content. Length is always computed;
// sentiment, complexity, and topics come from the emotional-analysis task
// and zero out when that call fails.
func (e *Extractor) contentFeatures(ctx context.Context, interaction *models.Interaction) models.ContentFeatures {
	cf := models.ContentFeatures{Length: len(interaction.Content)}
	if e.analyzer == nil || strings.TrimSpace(interaction.Content) == "" {
		return cf
	}

	task := &models.Task{
		Kind:   models.TaskEmotional,
		Input:  interaction.Content,
		System: `Analyze the message. Respond with JSON only: {"sentiment": -1..1, "complexity": 0..1, "topics": ["..."]}`,
		Options: models.TaskOptions{
			Temperature: 0,
			MaxTokens:   200,
		},
	}
	result, err := e.analyzer.ExecuteTask(ctx, task, models.TaskContext{
		Urgency: models.UrgencyLow,
		CaseID:  interaction.CaseID,
	})
	if err != nil {
		log.Printf("[Features] content analysis failed for interaction %s, using zeroed content features: %v",
			interaction.ID, err)
		return cf
	}

	var scored struct {
		Sentiment  float64  `json:"sentiment"`
		Complexity float64  `json:"complexity"`
		Topics     []string `json:"topics"`
	}
	if err := json.Unmarshal([]byte(extractJSON(result.Data)), &scored); err != nil {
		log.Printf("[Features] unparseable content analysis for interaction %s: %v", interaction.ID, err)
		return cf
	}

	cf.Sentiment = clampRange(scored.Sentiment, -1, 1)
	cf.Complexity = clampRange(scored.Complexity, 0, 1)
	cf.Topics = scored.Topics
	return cf
}

func contextFeatures(interaction *models.Interaction) models.ContextFeatures {
	return models.ContextFeatures{
		CaseStage:        interaction.Context.CaseStage,
		InteractionCount: interaction.Context.InteractionCount,
		Urgency:          DeriveUrgency(interaction),
		Servicer:         interaction.Context.Servicer,
	}
}

func performanceFeatures(interaction *models.Interaction) models.PerformanceFeatures {
	return models.PerformanceFeatures{
		ResponseTime: interaction.ResponseTime,
		Resolved:     interaction.Resolved,
		Escalated:    interaction.Escalated,
	}
}

func (e *Extractor) historicalFeatures(ctx context.Context, interaction *models.Interaction) models.HistoricalFeatures {
	if e.memory == nil {
		return models.HistoricalFeatures{}
	}
	snap, err := e.memory.GetMemory(ctx, interaction.CaseID)
	if err != nil {
		log.Printf("[Features] case memory unavailable for %s: %v", interaction.CaseID, err)
		return models.HistoricalFeatures{}
	}
	if snap == nil {
		return models.HistoricalFeatures{}
	}
	return models.HistoricalFeatures{
		PatternMatches:       snap.HistoricalPatterns,
		SuccessfulStrategies: snap.SuccessfulStrategies,
	}
}

// DeriveUrgency maps emotional-state thresholds to an urgency tier:
// distress above 0.8 is critical, an escalated state is high, frustration
// above 0.7 is medium, everything else low.
func DeriveUrgency(interaction *models.Interaction) models.Urgency {
	es := interaction.Context.Emotional
	if es == nil {
		return models.UrgencyLow
	}
	switch {
	case es.Distress > distressCriticalThreshold:
		return models.UrgencyCritical
	case es.Escalated:
		return models.UrgencyHigh
	case es.Frustration > frustrationMediumThreshold:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

func seasonOf(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "fall"
	}
}

// extractJSON strips any prose around the first JSON object in a model
// response.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func clampRange(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
