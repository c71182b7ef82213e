package patterns

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/anchorhome/anchor/internal/eventbus"
	"github.com/anchorhome/anchor/internal/metrics"
	"github.com/anchorhome/anchor/internal/telemetry"
	"github.com/anchorhome/anchor/pkg/models"
)

const (
	// minEvidence is the minimum number of labeled cases required before
	// discovery runs. Below this there is no statistical power and the
	// engine returns empty rather than guessing.
	minEvidence = 10

	// minClusterSize is the minimum cluster membership for a candidate.
	minClusterSize = 5

	// candidateConfidenceFloor discards weak candidates before validation.
	candidateConfidenceFloor = 0.6

	// Cross-validation gates.
	cvFolds           = 5
	cvAccuracyGate    = 0.7
	cvConsistencyGate = 0.8

	// mergeSimilarity treats a stored same-type pattern this close as a
	// re-observation of the same pattern.
	mergeSimilarity = 0.95

	// supersedeSimilarity marks an older, weaker same-type pattern as
	// superseded by a stronger near-duplicate.
	supersedeSimilarity = 0.85
)

// CaseRecord is one outcome-labeled historical case used for discovery.
type CaseRecord struct {
	ID       string
	Category string
	Features models.FeatureSet
	Success  bool
	Outcome  string
}

// CaseSource supplies outcome-labeled historical cases per category.
// Backed by the case-memory persistence layer upstream.
type CaseSource interface {
	LabeledCases(ctx context.Context, category string, limit int) ([]CaseRecord, error)
}

// SearchOptions tune a similarity search.
type SearchOptions struct {
	MinSimilarity float64
	MaxResults    int
	Filters       QueryFilters
}

// Engine clusters historical outcomes into candidate patterns, validates
// them with k-fold cross-validation, ranks survivors, and publishes them
// to the pattern store.
type Engine struct {
	store   VectorStore
	cases   CaseSource
	embed   EmbedFunc
	bus     *eventbus.Bus
	metrics *metrics.Metrics
}

// NewEngine wires a recognition engine. embed may be nil to use the
// default deterministic embedding; bus and m may be nil.
func NewEngine(store VectorStore, cases CaseSource, embed EmbedFunc, bus *eventbus.Bus, m *metrics.Metrics) *Engine {
	if embed == nil {
		embed = Embed
	}
	return &Engine{store: store, cases: cases, embed: embed, bus: bus, metrics: m}
}

// EmbedFeatures converts a feature set to a vector, falling back to the
// deterministic hash embedding when the primary path fails. Never errors.
func (e *Engine) EmbedFeatures(fs models.FeatureSet) []float32 {
	vec, err := e.embed(fs)
	if err != nil || len(vec) == 0 {
		log.Printf("[Patterns] embedding failed (%v), using simple fallback", err)
		return SimpleEmbedding(fs)
	}
	return fitDimension(vec)
}

// IdentifySuccessPatterns runs the batch discovery pipeline for a case
// category and returns validated patterns at or above minConfidence,
// ranked by predictive score. Survivors are persisted with provenance.
func (e *Engine) IdentifySuccessPatterns(ctx context.Context, category string, minConfidence float64) ([]*models.Pattern, error) {
	ctx, span := telemetry.StartSpan(ctx, "patterns.identify_success_patterns")
	defer span.End()

	if e.cases == nil {
		return nil, fmt.Errorf("no labeled case source configured")
	}
	cases, err := e.cases.LabeledCases(ctx, category, 500)
	if err != nil {
		return nil, fmt.Errorf("failed to load labeled cases for %s: %w", category, err)
	}
	if len(cases) < minEvidence {
		log.Printf("[Patterns] %d labeled cases for %q, need %d; skipping discovery",
			len(cases), category, minEvidence)
		return []*models.Pattern{}, nil
	}

	vectors := make([][]float32, len(cases))
	for i, c := range cases {
		vectors[i] = e.EmbedFeatures(c.Features)
	}

	// Dynamic cluster count keeps average cluster size at 5 or more.
	k := int(math.Ceil(float64(len(cases)) / 5.0))
	if k > 10 {
		k = 10
	}
	clusters := kmeansCluster(vectors, k)

	validated := make([]*models.Pattern, 0, len(clusters))
	embeddings := make(map[string][]float32)
	for _, cl := range clusters {
		if len(cl.Members) < minClusterSize {
			continue
		}

		candidate := e.synthesizeCandidate(category, cases, cl)
		if e.metrics != nil {
			e.metrics.PatternsDiscovered.WithLabelValues(category).Inc()
		}
		if candidate.Confidence < candidateConfidenceFloor {
			e.reject(category, "low_confidence")
			continue
		}

		val := crossValidate(cases, cl.Members, cvFolds)
		if val.meanAccuracy <= cvAccuracyGate || val.consistency <= cvConsistencyGate {
			e.reject(category, "cross_validation")
			continue
		}

		// Acceptance re-scales confidence by held-out accuracy.
		candidate.Confidence = clampUnit(candidate.Confidence * val.meanAccuracy)
		candidate.PredictivePower = clampUnit(val.meanAccuracy)
		prov := PatternProvenanceFor(len(cl.Members), val)
		prov.DiscoveredFrom = category
		candidate.Provenance = &prov

		if e.metrics != nil {
			e.metrics.PatternsValidated.WithLabelValues(category).Inc()
		}
		validated = append(validated, candidate)
		embeddings[candidate.ID] = meanVector(vectors, cl.Members)
	}

	rankPatterns(validated)

	published := make([]*models.Pattern, 0, len(validated))
	for _, p := range validated {
		if p.Confidence < minConfidence {
			continue
		}
		stored, err := e.StorePattern(ctx, p, embeddings[p.ID])
		if err != nil {
			log.Printf("[Patterns] failed to store pattern %s: %v", p.ID, err)
			continue
		}
		published = append(published, stored)
	}
	return published, nil
}

// FindSimilarPatterns embeds the features and returns stored patterns at
// or above MinSimilarity, best first. Embedding failures degrade to the
// simple embedding instead of aborting the search.
func (e *Engine) FindSimilarPatterns(ctx context.Context, fs models.FeatureSet, opts SearchOptions) ([]ScoredPattern, error) {
	if e.metrics != nil {
		e.metrics.PatternQueries.Inc()
	}

	vec := e.EmbedFeatures(fs)
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	scored, err := e.store.Query(ctx, vec, maxResults, opts.Filters)
	if err != nil {
		return nil, fmt.Errorf("pattern query failed: %w", err)
	}

	// The similarity floor is absolute: below-threshold results are
	// excluded regardless of rank.
	out := scored[:0]
	for _, s := range scored {
		if s.Similarity >= opts.MinSimilarity {
			out = append(out, s)
		}
	}
	return out, nil
}

// StorePattern persists a pattern and returns the canonical stored form.
// A stored same-type pattern within mergeSimilarity is treated as a
// re-observation and updated in place, in which case the merged stored
// pattern is returned instead of p; a weaker near-duplicate within
// supersedeSimilarity is marked superseded.
func (e *Engine) StorePattern(ctx context.Context, p *models.Pattern, embedding []float32) (*models.Pattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.LastSeen = now
	if len(embedding) == 0 {
		embedding = e.EmbedFeatures(p.Features)
	}

	nearest, err := e.store.Query(ctx, embedding, 1, QueryFilters{Types: []models.PatternType{p.Type}})
	if err == nil && len(nearest) > 0 && nearest[0].Pattern.ID != p.ID {
		near := nearest[0]
		if near.Similarity >= mergeSimilarity {
			return e.mergeObservation(ctx, near.Pattern, p)
		}
		if near.Similarity >= supersedeSimilarity && p.Confidence > near.Pattern.Confidence {
			near.Pattern.SupersededBy = p.ID
			_, nearVec, _ := e.store.Get(ctx, near.Pattern.ID)
			if err := e.store.Upsert(ctx, near.Pattern, nearVec); err != nil {
				return nil, err
			}
			if e.metrics != nil {
				e.metrics.PatternsSuperseded.Inc()
			}
			e.publish(eventbus.SubjectPatternSuperseded, map[string]string{
				"pattern_id":    near.Pattern.ID,
				"superseded_by": p.ID,
			})
		}
	}

	if err := e.store.Upsert(ctx, p, embedding); err != nil {
		return nil, err
	}
	e.publish(eventbus.SubjectPatternCreated, p)
	return p, nil
}

// mergeObservation folds a re-observed pattern into the stored one:
// occurrence count grows, confidence becomes a running weighted average,
// and supporting outcomes are appended. Returns the merged stored pattern.
func (e *Engine) mergeObservation(ctx context.Context, stored, observed *models.Pattern) (*models.Pattern, error) {
	prevWeight := float64(stored.Occurrences)
	newWeight := float64(observed.Occurrences)
	if newWeight <= 0 {
		newWeight = 1
	}
	total := prevWeight + newWeight

	stored.Confidence = clampUnit((stored.Confidence*prevWeight + observed.Confidence*newWeight) / total)
	stored.SuccessRate = clampUnit((stored.SuccessRate*prevWeight + observed.SuccessRate*newWeight) / total)
	stored.Occurrences = int(total)
	stored.LastSeen = time.Now().UTC()
	stored.Outcomes = append(stored.Outcomes, observed.Outcomes...)

	_, vec, _ := e.store.Get(ctx, stored.ID)
	if err := e.store.Upsert(ctx, stored, vec); err != nil {
		return nil, err
	}
	return stored, nil
}

func (e *Engine) synthesizeCandidate(category string, cases []CaseRecord, cl cluster) *models.Pattern {
	successes := 0
	outcomes := make([]string, 0, len(cl.Members))
	for _, m := range cl.Members {
		if cases[m].Success {
			successes++
		}
		if cases[m].Outcome != "" {
			outcomes = append(outcomes, cases[m].Outcome)
		}
	}
	successRate := float64(successes) / float64(len(cl.Members))

	// Representative features: the member closest to the centroid.
	bestIdx := cl.Members[0]
	var bestSim float32 = -2
	for _, m := range cl.Members {
		vec := e.EmbedFeatures(cases[m].Features)
		if sim := CosineSimilarity(vec, cl.Centroid); sim > bestSim {
			bestSim = sim
			bestIdx = m
		}
	}

	return &models.Pattern{
		ID:          uuid.NewString(),
		Type:        models.PatternSuccess,
		Description: fmt.Sprintf("Cluster of %d %s cases with %.0f%% success rate", len(cl.Members), category, successRate*100),
		Features:    cases[bestIdx].Features,
		Confidence:  clampUnit(cl.Cohesion * successRate),
		Occurrences: len(cl.Members),
		SuccessRate: successRate,
		Outcomes:    outcomes,
		Tags:        []string{category},
		CreatedAt:   time.Now().UTC(),
		LastSeen:    time.Now().UTC(),
	}
}

func (e *Engine) reject(category, reason string) {
	if e.metrics != nil {
		e.metrics.PatternsRejected.WithLabelValues(category, reason).Inc()
	}
}

func (e *Engine) publish(subject string, payload interface{}) {
	if err := e.bus.Publish(subject, payload); err != nil {
		log.Printf("[Patterns] event publish failed on %s: %v", subject, err)
	}
	if e.metrics != nil && e.bus != nil {
		e.metrics.EventsPublished.WithLabelValues(subject).Inc()
	}
}

// validation is the outcome of k-fold cross-validation over a cluster.
type validation struct {
	meanAccuracy   float64
	consistency    float64
	foldAccuracies []float64
}

// crossValidate partitions a cluster's supporting cases into folds and
// measures held-out label accuracy per fold: each fold is scored against
// the majority outcome of its training partition. Consistency is
// 1 - sqrt(variance) of fold accuracies.
func crossValidate(cases []CaseRecord, members []int, folds int) validation {
	if folds < 2 {
		folds = 2
	}
	if folds > len(members) {
		folds = len(members)
	}

	foldAccuracies := make([]float64, 0, folds)
	for f := 0; f < folds; f++ {
		var train, held []int
		for i, m := range members {
			if i%folds == f {
				held = append(held, m)
			} else {
				train = append(train, m)
			}
		}
		if len(held) == 0 || len(train) == 0 {
			continue
		}

		trainSuccesses := 0
		for _, m := range train {
			if cases[m].Success {
				trainSuccesses++
			}
		}
		majority := trainSuccesses*2 >= len(train)

		correct := 0
		for _, m := range held {
			if cases[m].Success == majority {
				correct++
			}
		}
		foldAccuracies = append(foldAccuracies, float64(correct)/float64(len(held)))
	}

	if len(foldAccuracies) == 0 {
		return validation{}
	}

	var sum float64
	for _, a := range foldAccuracies {
		sum += a
	}
	mean := sum / float64(len(foldAccuracies))

	var variance float64
	for _, a := range foldAccuracies {
		variance += (a - mean) * (a - mean)
	}
	variance /= float64(len(foldAccuracies))

	return validation{
		meanAccuracy:   mean,
		consistency:    1 - math.Sqrt(variance),
		foldAccuracies: foldAccuracies,
	}
}

// PatternProvenanceFor builds provenance metadata from a validation run.
func PatternProvenanceFor(sampleSize int, val validation) models.PatternProvenance {
	// Normal-approximation 95% interval on the mean fold accuracy.
	se := 0.0
	if n := len(val.foldAccuracies); n > 1 {
		var variance float64
		for _, a := range val.foldAccuracies {
			variance += (a - val.meanAccuracy) * (a - val.meanAccuracy)
		}
		variance /= float64(n - 1)
		se = math.Sqrt(variance / float64(n))
	}
	return models.PatternProvenance{
		SampleSize:         sampleSize,
		ValidationMethod:   fmt.Sprintf("%d-fold cross-validation", cvFolds),
		MeanAccuracy:       val.meanAccuracy,
		Consistency:        val.consistency,
		ConfidenceInterval: []float64{val.meanAccuracy - 1.96*se, val.meanAccuracy + 1.96*se},
	}
}

// rankPatterns orders by the weighted predictive score.
func rankPatterns(patterns []*models.Pattern) {
	sort.Slice(patterns, func(i, j int) bool {
		return patternScore(patterns[i]) > patternScore(patterns[j])
	})
}

func patternScore(p *models.Pattern) float64 {
	occ := float64(p.Occurrences) / 100.0
	if occ > 1 {
		occ = 1
	}
	return 0.4*p.PredictivePower + 0.3*p.Confidence + 0.2*p.SuccessRate + 0.1*occ
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
