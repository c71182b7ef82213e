package learning

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhome/anchor/internal/patterns"
	"github.com/anchorhome/anchor/pkg/models"
)

// experimentReady reports whether a hypothesis qualifies for
// experimentation at all: enough upside, actually testable, and not
// high-risk.
func experimentReady(h *models.Hypothesis) bool {
	return h.Potential > 0.7 && h.Testable && h.Risk != models.RiskHigh
}

// quickValidatable limits synchronous validation to cheap, safe
// hypotheses; everything else is scaffolded for out-of-band execution.
func quickValidatable(h *models.Hypothesis) bool {
	return h.Risk == models.RiskLow && h.Effort == models.EffortLow
}

// generateHypotheses derives candidate improvements from the current
// features, the outcome, and the retrieved similar patterns. Hypotheses
// are ephemeral: regenerated fresh each cycle.
func generateHypotheses(fs models.FeatureSet, outcome *models.InteractionOutcome, similar []patterns.ScoredPattern, thresholds Thresholds) []*models.Hypothesis {
	var hyps []*models.Hypothesis

	if fs.Context.Urgency == models.UrgencyCritical && !outcome.Success {
		hyps = append(hyps, &models.Hypothesis{
			ID:          uuid.NewString(),
			Description: "Responses during high-distress windows should prioritize empathetic tone before procedural guidance",
			Confidence:  0.6,
			Potential:   0.8,
			Testable:    true,
			Risk:        models.RiskLow,
			Effort:      models.EffortLow,
		})
	}

	if outcome.EscalationRequired {
		hyps = append(hyps, &models.Hypothesis{
			ID:          uuid.NewString(),
			Description: "Earlier detection of escalation signals would allow de-escalation before handoff is required",
			Confidence:  0.55,
			Potential:   0.85,
			Testable:    true,
			Risk:        models.RiskLow,
			Effort:      models.EffortLow,
		})
	}

	if fs.Performance.ResponseTime > thresholds.SlowResponse {
		hyps = append(hyps, &models.Hypothesis{
			ID: uuid.NewString(),
			Description: fmt.Sprintf("Reducing response time below %s would improve resolution odds for %s-stage cases",
				thresholds.SlowResponse, fs.Context.CaseStage),
			Confidence: 0.5,
			Potential:  0.75,
			Testable:   true,
			Risk:       models.RiskLow,
			Effort:     models.EffortMedium,
		})
	}

	// Strategies proven by similar successful patterns are candidates
	// when this interaction fell short.
	if !outcome.Success {
		for _, sp := range similar {
			p := sp.Pattern
			if p.Type != models.PatternSuccess || p.SuccessRate < 0.7 {
				continue
			}
			hyps = append(hyps, &models.Hypothesis{
				ID: uuid.NewString(),
				Description: fmt.Sprintf("Applying the approach from pattern %s (%.0f%% success over %d cases) could improve this case profile",
					p.ID, p.SuccessRate*100, p.Occurrences),
				Confidence:      p.Confidence * sp.Similarity,
				Potential:       p.SuccessRate * p.Confidence,
				Testable:        true,
				Risk:            models.RiskMedium,
				Effort:          models.EffortMedium,
				RelatedPatterns: []string{p.ID},
			})
		}
	}

	if outcome.Success && outcome.Satisfaction(0) >= thresholds.NotableSatisfaction {
		hyps = append(hyps, &models.Hypothesis{
			ID:          uuid.NewString(),
			Description: "The strategy used in this interaction should be replicated for similar case profiles",
			Confidence:  outcome.Satisfaction(0),
			Potential:   0.72,
			Testable:    true,
			Risk:        models.RiskLow,
			Effort:      models.EffortLow,
		})
	}

	return hyps
}

// quickValidate runs a synchronous "quick validation" experiment: the
// hypothesis is scored against current evidence (its own confidence, the
// strength of supporting patterns, and the outcome signal). The
// experiment transitions planned -> completed within this call.
func quickValidate(exp *models.Experiment, h *models.Hypothesis, similar []patterns.ScoredPattern, outcome *models.InteractionOutcome) {
	var patternSupport float64
	if len(similar) > 0 {
		for _, sp := range similar {
			patternSupport += sp.Pattern.Confidence
		}
		patternSupport /= float64(len(similar))
	} else {
		patternSupport = 0.5
	}

	outcomeSignal := 0.3
	if outcome.Success {
		outcomeSignal = 0.7
	}
	if outcome.GoalAchieved {
		outcomeSignal += 0.1
	}

	score := 0.5*h.Confidence + 0.3*patternSupport + 0.2*outcomeSignal

	now := time.Now().UTC()
	exp.Status = models.ExperimentCompleted
	exp.CompletedAt = &now
	exp.Result = &models.ExperimentResult{
		Validated:  score >= 0.65,
		Confidence: clampUnit(score),
		Measurement: map[string]float64{
			"hypothesis_confidence": h.Confidence,
			"pattern_support":       patternSupport,
			"outcome_signal":        clampUnit(outcomeSignal),
		},
		Notes: "quick validation against current evidence",
	}
}

// learningFromExperiment promotes a validated experiment into an
// applicable learning.
func learningFromExperiment(exp *models.Experiment, h *models.Hypothesis) *models.Learning {
	impact := models.ImpactLow
	switch {
	case h.Potential >= 0.85:
		impact = models.ImpactHigh
	case h.Potential >= 0.75:
		impact = models.ImpactMedium
	}

	return &models.Learning{
		ID:          uuid.NewString(),
		Type:        "strategy_adjustment",
		Description: h.Description,
		Confidence:  exp.Result.Confidence,
		Impact:      impact,
		Implementation: models.LearningImplementation{
			Component:       "conversation",
			Changes:         []string{h.Description},
			RolloutStrategy: "gradual",
		},
	}
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
