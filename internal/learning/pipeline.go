package learning

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/anchorhome/anchor/internal/casememory"
	"github.com/anchorhome/anchor/internal/eventbus"
	"github.com/anchorhome/anchor/internal/features"
	"github.com/anchorhome/anchor/internal/metrics"
	"github.com/anchorhome/anchor/internal/patterns"
	"github.com/anchorhome/anchor/internal/telemetry"
	"github.com/anchorhome/anchor/pkg/models"
)

// Thresholds tunes the per-interaction learning rules. All values have
// working defaults; operators adjust them in config, not code.
type Thresholds struct {
	// NotableSatisfaction is the minimum satisfaction for a successful
	// interaction to produce a pattern.
	NotableSatisfaction float64 `yaml:"notable_satisfaction" json:"notable_satisfaction"`

	// LowSatisfaction is the ceiling below which a failed interaction
	// counts as an explicit failure worth recording.
	LowSatisfaction float64 `yaml:"low_satisfaction" json:"low_satisfaction"`

	// SlowResponse is the latency above which response time becomes an
	// improvement area.
	SlowResponse time.Duration `yaml:"slow_response" json:"slow_response"`

	// MinSimilarity and MaxPatterns bound the similar-pattern retrieval.
	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`
	MaxPatterns   int     `yaml:"max_patterns" json:"max_patterns"`
}

// DefaultThresholds returns the standard tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NotableSatisfaction: 0.7,
		LowSatisfaction:     0.4,
		SlowResponse:        5 * time.Second,
		MinSimilarity:       0.75,
		MaxPatterns:         10,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.NotableSatisfaction <= 0 {
		t.NotableSatisfaction = d.NotableSatisfaction
	}
	if t.LowSatisfaction <= 0 {
		t.LowSatisfaction = d.LowSatisfaction
	}
	if t.SlowResponse <= 0 {
		t.SlowResponse = d.SlowResponse
	}
	if t.MinSimilarity <= 0 {
		t.MinSimilarity = d.MinSimilarity
	}
	if t.MaxPatterns <= 0 {
		t.MaxPatterns = d.MaxPatterns
	}
	return t
}

// LearningError wraps the only hard failure a learning cycle can produce:
// feature extraction on structurally invalid input. Everything downstream
// degrades instead of failing.
type LearningError struct {
	InteractionID string
	Cause         error
}

func (e *LearningError) Error() string {
	return fmt.Sprintf("learning cycle failed for interaction %q: %v", e.InteractionID, e.Cause)
}

func (e *LearningError) Unwrap() error { return e.Cause }

// ModelUpdater receives validated learnings for application. The production
// implementation lives with the conversation subsystem; a nil updater means
// learnings are recorded but not forwarded.
type ModelUpdater interface {
	ApplyLearning(ctx context.Context, learning *models.Learning) error
}

// ExperimentScheduler runs experiments that are too risky or expensive for
// synchronous quick validation. internal/experiments provides the
// Temporal-backed implementation.
type ExperimentScheduler interface {
	Schedule(ctx context.Context, exp *models.Experiment, hyp *models.Hypothesis) error
}

// Pipeline is the continuous learning loop: every interaction plus its
// outcome flows through once, producing features, pattern matches,
// hypotheses, experiments, learnings, and recommendations.
type Pipeline struct {
	extractor  *features.Extractor
	engine     *patterns.Engine
	memory     casememory.Store
	updater    ModelUpdater
	scheduler  ExperimentScheduler
	bus        *eventbus.Bus
	metrics    *metrics.Metrics
	thresholds Thresholds
}

// New wires a learning pipeline. extractor and engine are required; memory,
// updater, scheduler, bus, and metrics may be nil and degrade to no-ops.
func New(extractor *features.Extractor, engine *patterns.Engine, memory casememory.Store, updater ModelUpdater, scheduler ExperimentScheduler, bus *eventbus.Bus, m *metrics.Metrics, thresholds Thresholds) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		engine:     engine,
		memory:     memory,
		updater:    updater,
		scheduler:  scheduler,
		bus:        bus,
		metrics:    m,
		thresholds: thresholds.withDefaults(),
	}
}

// Thresholds returns the effective tuning after defaults are applied.
func (p *Pipeline) Thresholds() Thresholds { return p.thresholds }

// ProcessInteraction runs one full learning cycle. It returns an error only
// when feature extraction fails; every later step logs and degrades so a
// flaky collaborator cannot suppress the rest of the cycle.
func (p *Pipeline) ProcessInteraction(ctx context.Context, interaction *models.Interaction, outcome *models.InteractionOutcome) (*models.LearningResult, error) {
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "learning.ProcessInteraction")
	defer span.End()

	fs, err := p.extractor.Extract(ctx, interaction)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordLearningCycle("error", time.Since(started).Seconds())
		}
		return nil, &LearningError{InteractionID: interactionID(interaction), Cause: err}
	}
	span.SetAttributes(
		attribute.String("interaction.id", interaction.ID),
		attribute.String("case.id", interaction.CaseID),
	)

	result := &models.LearningResult{
		InteractionID: interaction.ID,
		Features:      fs,
	}

	similar := p.findSimilar(ctx, interaction, fs)
	for _, sp := range similar {
		result.SimilarPatterns = append(result.SimilarPatterns, sp.Pattern)
	}

	result.Hypotheses = generateHypotheses(fs, outcome, similar, p.thresholds)
	if p.metrics != nil && len(result.Hypotheses) > 0 {
		p.metrics.HypothesesGenerated.Add(float64(len(result.Hypotheses)))
	}

	result.Experiments = p.runExperiments(ctx, result.Hypotheses, similar, outcome)

	result.AppliedLearnings = p.applyLearnings(ctx, result.Experiments, result.Hypotheses)

	if created := p.createNotablePattern(ctx, interaction, outcome, fs); created != nil {
		result.CreatedPattern = created
	}

	result.Recommendations = buildRecommendations(outcome, fs, result.AppliedLearnings, p.thresholds)
	result.ImprovementAreas = improvementAreas(outcome, fs, result.Recommendations, p.thresholds)
	result.Confidence = p.cycleConfidence(similar, result.Hypotheses, result.Experiments)
	result.ProcessedAt = time.Now().UTC()

	p.recordMemory(ctx, interaction, result)

	if p.metrics != nil {
		p.metrics.RecordLearningCycle("ok", time.Since(started).Seconds())
	}
	log.Printf("[Learning] processed interaction %s: %d patterns, %d hypotheses, %d experiments, %d learnings, confidence %.2f",
		interaction.ID, len(result.SimilarPatterns), len(result.Hypotheses),
		len(result.Experiments), len(result.AppliedLearnings), result.Confidence)

	return result, nil
}

func (p *Pipeline) findSimilar(ctx context.Context, interaction *models.Interaction, fs models.FeatureSet) []patterns.ScoredPattern {
	similar, err := p.engine.FindSimilarPatterns(ctx, fs, patterns.SearchOptions{
		MinSimilarity: p.thresholds.MinSimilarity,
		MaxResults:    p.thresholds.MaxPatterns,
	})
	if err != nil {
		log.Printf("[Learning] pattern search failed for interaction %s, continuing without matches: %v",
			interaction.ID, err)
		return nil
	}
	return similar
}

// runExperiments promotes experiment-ready hypotheses. Low-risk, low-effort
// ones are quick-validated synchronously; the rest are scaffolded as planned
// and handed to the scheduler for out-of-band execution.
func (p *Pipeline) runExperiments(ctx context.Context, hyps []*models.Hypothesis, similar []patterns.ScoredPattern, outcome *models.InteractionOutcome) []*models.Experiment {
	var exps []*models.Experiment
	for _, h := range hyps {
		if !experimentReady(h) {
			continue
		}

		exp := &models.Experiment{
			ID:           uuid.NewString(),
			HypothesisID: h.ID,
			Description:  fmt.Sprintf("Test: %s", h.Description),
			Status:       models.ExperimentPlanned,
			Metrics:      []string{"success_rate", "user_satisfaction", "response_time"},
			CreatedAt:    time.Now().UTC(),
		}

		if quickValidatable(h) {
			quickValidate(exp, h, similar, outcome)
			p.publish(eventbus.SubjectExperimentCompleted, exp)
		} else if p.scheduler != nil {
			if err := p.scheduler.Schedule(ctx, exp, h); err != nil {
				log.Printf("[Learning] failed to schedule experiment %s: %v", exp.ID, err)
			}
		}

		if p.metrics != nil {
			p.metrics.ExperimentsRun.WithLabelValues(string(exp.Status)).Inc()
		}
		exps = append(exps, exp)
	}
	return exps
}

// applyLearnings promotes validated experiment results into learnings and
// forwards them to the model updater.
func (p *Pipeline) applyLearnings(ctx context.Context, exps []*models.Experiment, hyps []*models.Hypothesis) []*models.Learning {
	byID := make(map[string]*models.Hypothesis, len(hyps))
	for _, h := range hyps {
		byID[h.ID] = h
	}

	var applied []*models.Learning
	for _, exp := range exps {
		if exp.Status != models.ExperimentCompleted || exp.Result == nil || !exp.Result.Validated {
			continue
		}
		h, ok := byID[exp.HypothesisID]
		if !ok {
			continue
		}

		learning := learningFromExperiment(exp, h)
		if p.updater != nil {
			if err := p.updater.ApplyLearning(ctx, learning); err != nil {
				log.Printf("[Learning] failed to apply learning %s: %v", learning.ID, err)
				continue
			}
		}

		applied = append(applied, learning)
		p.publish(eventbus.SubjectLearningApplied, learning)
		if p.metrics != nil {
			p.metrics.LearningsApplied.WithLabelValues(string(learning.Impact)).Inc()
		}
	}
	return applied
}

// createNotablePattern records a single-observation pattern for
// interactions worth remembering: a clearly satisfied success, any
// escalation, or an explicit failure. Interactions in the unremarkable
// middle band produce nothing.
func (p *Pipeline) createNotablePattern(ctx context.Context, interaction *models.Interaction, outcome *models.InteractionOutcome, fs models.FeatureSet) *models.Pattern {
	var (
		ptype models.PatternType
		desc  string
		conf  float64
	)

	sat := outcome.Satisfaction(0)
	switch {
	case outcome.Success && sat >= p.thresholds.NotableSatisfaction:
		ptype = models.PatternSuccess
		desc = fmt.Sprintf("Successful %s interaction at %s stage with %.0f%% satisfaction",
			interaction.Type, fs.Context.CaseStage, sat*100)
		conf = sat
		if outcome.GoalAchieved {
			conf = clampUnit(conf + 0.05)
		}
	case outcome.EscalationRequired || interaction.Escalated:
		ptype = models.PatternEscalation
		desc = fmt.Sprintf("Escalation during %s interaction at %s stage (urgency %s)",
			interaction.Type, fs.Context.CaseStage, fs.Context.Urgency)
		conf = 0.6
	case !outcome.Success && outcome.UserSatisfaction != nil && sat < p.thresholds.LowSatisfaction:
		ptype = models.PatternFailure
		desc = fmt.Sprintf("Failed %s interaction at %s stage with low satisfaction",
			interaction.Type, fs.Context.CaseStage)
		conf = 0.55
	default:
		return nil
	}

	successRate := 0.0
	if outcome.Success {
		successRate = 1.0
	}

	now := time.Now().UTC()
	pattern := &models.Pattern{
		ID:          uuid.NewString(),
		Type:        ptype,
		Description: desc,
		Features:    fs,
		Confidence:  conf,
		Occurrences: 1,
		SuccessRate: successRate,
		Outcomes:    outcomeSummary(outcome),
		Tags:        []string{"interaction", string(fs.Context.Urgency)},
		Provenance: &models.PatternProvenance{
			SampleSize:       1,
			ValidationMethod: "observed",
			DiscoveredFrom:   interaction.ID,
		},
		CreatedAt: now,
		LastSeen:  now,
	}

	embedding := p.engine.EmbedFeatures(fs)
	canonical, err := p.engine.StorePattern(ctx, pattern, embedding)
	if err != nil {
		log.Printf("[Learning] failed to store pattern for interaction %s: %v", interaction.ID, err)
		return nil
	}
	// The store may have merged the observation into an existing pattern;
	// the result must reference the identity that is actually retrievable.
	return canonical
}

func (p *Pipeline) cycleConfidence(similar []patterns.ScoredPattern, hyps []*models.Hypothesis, exps []*models.Experiment) float64 {
	var patternConfs []float64
	for _, sp := range similar {
		patternConfs = append(patternConfs, sp.Pattern.Confidence)
	}
	var hypConfs []float64
	for _, h := range hyps {
		hypConfs = append(hypConfs, h.Confidence)
	}
	validated, completed := 0, 0
	for _, exp := range exps {
		if exp.Status != models.ExperimentCompleted || exp.Result == nil {
			continue
		}
		completed++
		if exp.Result.Validated {
			validated++
		}
	}
	return overallConfidence(patternConfs, hypConfs, validated, completed)
}

// recordMemory writes the cycle summary into case memory. Best effort.
func (p *Pipeline) recordMemory(ctx context.Context, interaction *models.Interaction, result *models.LearningResult) {
	if p.memory == nil {
		return
	}

	now := time.Now().UTC()
	if _, err := p.memory.UpdateMemory(ctx, interaction.CaseID, casememory.Update{
		Type:      "interaction",
		Source:    "learning",
		Timestamp: interaction.Timestamp,
		Data:      map[string]interface{}{"interaction_id": interaction.ID},
	}); err != nil {
		log.Printf("[Learning] failed to record interaction in case memory for %s: %v", interaction.CaseID, err)
	}

	summary := casememory.Update{
		Type:       "learning_summary",
		Source:     "learning",
		Confidence: result.Confidence,
		Timestamp:  now,
		Data: map[string]interface{}{
			"interaction_id":    interaction.ID,
			"patterns_matched":  len(result.SimilarPatterns),
			"hypotheses":        len(result.Hypotheses),
			"experiments_run":   len(result.Experiments),
			"learnings_applied": len(result.AppliedLearnings),
		},
	}
	if _, err := p.memory.UpdateMemory(ctx, interaction.CaseID, summary); err != nil {
		log.Printf("[Learning] failed to record learning summary for case %s: %v", interaction.CaseID, err)
	}

	if result.CreatedPattern != nil {
		if _, err := p.memory.UpdateMemory(ctx, interaction.CaseID, casememory.Update{
			Type:       "pattern_match",
			Source:     "learning",
			Confidence: result.CreatedPattern.Confidence,
			Timestamp:  now,
			Data:       map[string]interface{}{"pattern_id": result.CreatedPattern.ID},
		}); err != nil {
			log.Printf("[Learning] failed to record pattern match for case %s: %v", interaction.CaseID, err)
		}
	}
}

func (p *Pipeline) publish(subject string, payload interface{}) {
	if err := p.bus.Publish(subject, payload); err != nil {
		log.Printf("[Learning] event publish failed on %s: %v", subject, err)
		return
	}
	if p.bus != nil && p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(subject).Inc()
	}
}

func outcomeSummary(outcome *models.InteractionOutcome) []string {
	var out []string
	if outcome.Resolution != "" {
		out = append(out, outcome.Resolution)
	}
	if outcome.EscalationRequired {
		out = append(out, "escalated")
	}
	return out
}

func interactionID(interaction *models.Interaction) string {
	if interaction == nil {
		return ""
	}
	return interaction.ID
}
