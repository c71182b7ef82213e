package learning

import (
	"fmt"

	"github.com/anchorhome/anchor/pkg/models"
)

// buildRecommendations derives rule-based suggestions from the outcome and
// the learnings applied this cycle. Rules are evaluated independently; a
// single interaction can yield several recommendations.
func buildRecommendations(outcome *models.InteractionOutcome, fs models.FeatureSet, applied []*models.Learning, thresholds Thresholds) []*models.Recommendation {
	var recs []*models.Recommendation

	if outcome.Success && outcome.Satisfaction(0) >= 0.8 {
		recs = append(recs, &models.Recommendation{
			Type:        "immediate",
			Description: "Replicate this approach for similar case profiles; user satisfaction was high",
			Priority:    models.PriorityMedium,
		})
	}

	if outcome.EscalationRequired {
		recs = append(recs, &models.Recommendation{
			Type:        "strategic",
			Description: "Review escalation triggers for this case profile; earlier intervention may prevent handoff",
			Priority:    models.PriorityHigh,
			Area:        models.AreaEscalationPrevention,
		})
	}

	if fs.Performance.ResponseTime > thresholds.SlowResponse {
		recs = append(recs, &models.Recommendation{
			Type: "performance",
			Description: fmt.Sprintf("Response time of %s exceeded the %s target; consider a faster model or caching for this task profile",
				fs.Performance.ResponseTime, thresholds.SlowResponse),
			Priority: models.PriorityMedium,
			Area:     models.AreaResponseTime,
		})
	}

	for _, l := range applied {
		if l.Impact != models.ImpactHigh {
			continue
		}
		recs = append(recs, &models.Recommendation{
			Type:        "strategic",
			Description: fmt.Sprintf("High-impact learning applied: %s", l.Description),
			Priority:    models.PriorityHigh,
			Area:        models.AreaSuccessRate,
		})
	}

	return recs
}

// improvementAreas flags the fixed vocabulary of areas this interaction
// suggests working on: the outcome-derived rules unioned with the areas
// targeted by high-priority recommendations. Deduplicated, stable order.
func improvementAreas(outcome *models.InteractionOutcome, fs models.FeatureSet, recs []*models.Recommendation, thresholds Thresholds) []models.ImprovementArea {
	var areas []models.ImprovementArea
	seen := make(map[models.ImprovementArea]bool)
	add := func(a models.ImprovementArea) {
		if a == "" || seen[a] {
			return
		}
		seen[a] = true
		areas = append(areas, a)
	}

	if !outcome.Success {
		add(models.AreaSuccessRate)
	}
	if outcome.EscalationRequired || fs.Performance.Escalated {
		add(models.AreaEscalationPrevention)
	}
	if outcome.UserSatisfaction != nil && *outcome.UserSatisfaction < 0.6 {
		add(models.AreaUserSatisfaction)
	}
	if fs.Performance.ResponseTime > thresholds.SlowResponse {
		add(models.AreaResponseTime)
	}

	for _, r := range recs {
		if r.Priority == models.PriorityHigh || r.Priority == models.PriorityCritical {
			add(r.Area)
		}
	}

	return areas
}

// overallConfidence is the mean of three component confidences, each
// defaulting to 0.5 when its collection is empty: pattern match strength,
// hypothesis strength, and experiment validation rate.
func overallConfidence(patternConfs, hypothesisConfs []float64, validated, completed int) float64 {
	patternComponent := 0.5
	if len(patternConfs) > 0 {
		patternComponent = mean(patternConfs)
	}

	hypothesisComponent := 0.5
	if len(hypothesisConfs) > 0 {
		hypothesisComponent = mean(hypothesisConfs)
	}

	experimentComponent := 0.5
	if completed > 0 {
		experimentComponent = float64(validated) / float64(completed)
	}

	return (patternComponent + hypothesisComponent + experimentComponent) / 3
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
