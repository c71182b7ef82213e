package models

import "time"

// TaskKind is the closed set of AI work categories. Model routing is keyed
// by task kind, so adding a kind means extending the dispatch table in
// internal/orchestrator as well.
type TaskKind string

const (
	TaskConversational TaskKind = "conversational"
	TaskDocument       TaskKind = "document"
	TaskEmotional      TaskKind = "emotional"
	TaskIntent         TaskKind = "intent"
	TaskRegulatory     TaskKind = "regulatory"
)

// AllTaskKinds lists every task kind in dispatch order.
var AllTaskKinds = []TaskKind{
	TaskConversational,
	TaskDocument,
	TaskEmotional,
	TaskIntent,
	TaskRegulatory,
}

// Valid reports whether the kind is one of the known task kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskConversational, TaskDocument, TaskEmotional, TaskIntent, TaskRegulatory:
		return true
	}
	return false
}

// TaskOptions tunes a single model execution.
type TaskOptions struct {
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Task is a unit of orchestrated AI work. Immutable once dispatched.
type Task struct {
	Kind    TaskKind    `json:"kind"`
	Input   string      `json:"input"`
	System  string      `json:"system,omitempty"`
	Options TaskOptions `json:"options"`
}

// Urgency classifies how time-sensitive a task is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// TaskContext carries dispatch hints. It influences model selection only
// and never mutates the task itself.
type TaskContext struct {
	Urgency          Urgency `json:"urgency"`
	DataSize         int     `json:"data_size,omitempty"`
	RequiresAccuracy bool    `json:"requires_accuracy,omitempty"`
	CaseID           string  `json:"case_id,omitempty"`
	UserID           string  `json:"user_id,omitempty"`
}

// ModelResult is the outcome of a successful model execution attempt.
type ModelResult struct {
	Data          string        `json:"data"`
	Confidence    float64       `json:"confidence"` // always in [0,1]
	ExecutionTime time.Duration `json:"execution_time"`
	TokensUsed    int           `json:"tokens_used,omitempty"`
	ModelName     string        `json:"model_name"`
	Success       bool          `json:"success"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// ExecutionRecord is an append-only log entry for one terminal dispatch
// outcome. It carries timing and success only, never payload data.
type ExecutionRecord struct {
	TaskKind      TaskKind      `json:"task_kind"`
	ModelName     string        `json:"model_name"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"execution_time"`
	Timestamp     time.Time     `json:"timestamp"`
}

// EmotionalState captures per-interaction emotional signal strengths in [0,1].
type EmotionalState struct {
	Distress    float64 `json:"distress"`
	Frustration float64 `json:"frustration"`
	Hope        float64 `json:"hope"`
	Escalated   bool    `json:"escalated"`
}

// InteractionContext is the situational envelope around an interaction.
type InteractionContext struct {
	CaseStage        string          `json:"case_stage"`
	UserRole         string          `json:"user_role"`
	Emotional        *EmotionalState `json:"emotional,omitempty"`
	InteractionCount int             `json:"interaction_count"`
	Servicer         string          `json:"servicer,omitempty"`
	PreviousOutcomes []string        `json:"previous_outcomes,omitempty"`
	TimeOfDay        int             `json:"time_of_day"`
	DayOfWeek        time.Weekday    `json:"day_of_week"`
}

// Interaction is a single user exchange, created by the upstream
// conversation/document handlers. Read-only to the learning subsystem.
type Interaction struct {
	ID           string             `json:"id"`
	CaseID       string             `json:"case_id"`
	UserID       string             `json:"user_id"`
	Type         string             `json:"type"`
	Content      string             `json:"content"`
	Context      InteractionContext `json:"context"`
	Timestamp    time.Time          `json:"timestamp"`
	ResponseTime time.Duration      `json:"response_time"`
	Resolved     bool               `json:"resolved"`
	Escalated    bool               `json:"escalated"`
}

// OutcomeMetrics holds optional measured quality numbers for an outcome.
type OutcomeMetrics struct {
	ResponseTime     time.Duration `json:"response_time,omitempty"`
	AccuracyScore    float64       `json:"accuracy_score,omitempty"`
	HelpfulnessScore float64       `json:"helpfulness_score,omitempty"`
}

// InteractionOutcome describes how an interaction ended. Supplied alongside
// the interaction; together they are the sole input to learning.
type InteractionOutcome struct {
	Success            bool            `json:"success"`
	UserSatisfaction   *float64        `json:"user_satisfaction,omitempty"` // [0,1] when present
	GoalAchieved       bool            `json:"goal_achieved"`
	EscalationRequired bool            `json:"escalation_required"`
	FollowUpNeeded     bool            `json:"follow_up_needed"`
	Resolution         string          `json:"resolution,omitempty"`
	Metrics            *OutcomeMetrics `json:"metrics,omitempty"`
}

// Satisfaction returns the user satisfaction score, or fallback when the
// outcome carries none.
func (o *InteractionOutcome) Satisfaction(fallback float64) float64 {
	if o.UserSatisfaction == nil {
		return fallback
	}
	return *o.UserSatisfaction
}

// TemporalFeatures capture when an interaction happened.
type TemporalFeatures struct {
	DayOfWeek     time.Weekday `json:"day_of_week"`
	HourOfDay     int          `json:"hour_of_day"`
	Season        string       `json:"season"`
	DaysSinceLast float64      `json:"days_since_last"`
}

// ContentFeatures capture what the interaction said.
type ContentFeatures struct {
	Length     int      `json:"length"`
	Sentiment  float64  `json:"sentiment"`  // [-1,1]
	Complexity float64  `json:"complexity"` // [0,1]
	Topics     []string `json:"topics,omitempty"`
}

// ContextFeatures capture the case situation.
type ContextFeatures struct {
	CaseStage        string  `json:"case_stage"`
	InteractionCount int     `json:"interaction_count"`
	Urgency          Urgency `json:"urgency"`
	Servicer         string  `json:"servicer,omitempty"`
}

// PerformanceFeatures capture how the system performed.
type PerformanceFeatures struct {
	ResponseTime time.Duration `json:"response_time"`
	Resolved     bool          `json:"resolved"`
	Escalated    bool          `json:"escalated"`
}

// HistoricalFeatures capture prior learning signal for the case.
type HistoricalFeatures struct {
	PatternMatches       []string `json:"pattern_matches,omitempty"`
	SuccessfulStrategies []string `json:"successful_strategies,omitempty"`
}

// FeatureSet is the structured, comparable form of one interaction.
// Recomputed per interaction and treated as a value by every consumer.
type FeatureSet struct {
	Temporal    TemporalFeatures    `json:"temporal"`
	Content     ContentFeatures     `json:"content"`
	Context     ContextFeatures     `json:"context"`
	Performance PerformanceFeatures `json:"performance"`
	Historical  HistoricalFeatures  `json:"historical"`
}

// PatternType classifies what a learned pattern predicts.
type PatternType string

const (
	PatternSuccess      PatternType = "success"
	PatternFailure      PatternType = "failure"
	PatternEscalation   PatternType = "escalation"
	PatternEfficiency   PatternType = "efficiency"
	PatternSatisfaction PatternType = "satisfaction"
)

// PatternProvenance records how a validated pattern was produced.
type PatternProvenance struct {
	SampleSize         int       `json:"sample_size"`
	ValidationMethod   string    `json:"validation_method"`
	MeanAccuracy       float64   `json:"mean_accuracy"`
	Consistency        float64   `json:"consistency"`
	ConfidenceInterval []float64 `json:"confidence_interval,omitempty"`
	DiscoveredFrom     string    `json:"discovered_from,omitempty"` // case category or interaction id
}

// Pattern is the central learned artifact: a statistically validated
// description of conditions correlated with an outcome type. Patterns are
// never deleted, only superseded.
type Pattern struct {
	ID              string             `json:"id"`
	Type            PatternType        `json:"type"`
	Description     string             `json:"description"`
	Features        FeatureSet         `json:"features"`
	Confidence      float64            `json:"confidence"` // always in [0,1]
	Occurrences     int                `json:"occurrences"`
	SuccessRate     float64            `json:"success_rate"`
	PredictivePower float64            `json:"predictive_power"`
	Outcomes        []string           `json:"outcomes,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	SupersededBy    string             `json:"superseded_by,omitempty"`
	Provenance      *PatternProvenance `json:"provenance,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	LastSeen        time.Time          `json:"last_seen"`
}

// Superseded reports whether the pattern has been replaced by a newer one.
func (p *Pattern) Superseded() bool { return p.SupersededBy != "" }

// RiskLevel grades how dangerous it would be to act on a hypothesis.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// EffortLevel grades how expensive a hypothesis is to test.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
)

// Hypothesis is a candidate improvement generated fresh each learning
// cycle. It is not persisted unless promoted into an experiment.
type Hypothesis struct {
	ID              string      `json:"id"`
	Description     string      `json:"description"`
	Confidence      float64     `json:"confidence"`
	Potential       float64     `json:"potential"`
	Testable        bool        `json:"testable"`
	Risk            RiskLevel   `json:"risk"`
	Effort          EffortLevel `json:"effort"`
	RelatedPatterns []string    `json:"related_patterns,omitempty"`
}

// ExperimentStatus is the lifecycle state of an experiment.
// Quick validations transition planned -> completed within one call.
type ExperimentStatus string

const (
	ExperimentPlanned   ExperimentStatus = "planned"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentFailed    ExperimentStatus = "failed"
)

// ExperimentResult holds the measured outcome of a completed experiment.
type ExperimentResult struct {
	Validated   bool               `json:"validated"`
	Confidence  float64            `json:"confidence"`
	Measurement map[string]float64 `json:"measurement,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

// Experiment is a bounded test of a hypothesis.
type Experiment struct {
	ID           string            `json:"id"`
	HypothesisID string            `json:"hypothesis_id"`
	Description  string            `json:"description"`
	Status       ExperimentStatus  `json:"status"`
	Metrics      []string          `json:"metrics,omitempty"`
	Result       *ExperimentResult `json:"result,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Impact grades how much a validated learning is expected to move outcomes.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// LearningImplementation describes where and how a learning is applied.
type LearningImplementation struct {
	Component       string   `json:"component"`
	Changes         []string `json:"changes,omitempty"`
	RolloutStrategy string   `json:"rollout_strategy,omitempty"`
}

// Learning is a hypothesis promoted to a validated, applicable change.
// Produced only from validated experiment results.
type Learning struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Description    string                 `json:"description"`
	Confidence     float64                `json:"confidence"`
	Impact         Impact                 `json:"impact"`
	Implementation LearningImplementation `json:"implementation"`
}

// RecommendationPriority orders recommendations for the caller.
type RecommendationPriority string

const (
	PriorityLow      RecommendationPriority = "low"
	PriorityMedium   RecommendationPriority = "medium"
	PriorityHigh     RecommendationPriority = "high"
	PriorityCritical RecommendationPriority = "critical"
)

// Recommendation is a rule-derived suggestion surfaced to the
// conversational/document subsystems.
type Recommendation struct {
	Type        string                 `json:"type"` // immediate, strategic, performance
	Description string                 `json:"description"`
	Priority    RecommendationPriority `json:"priority"`

	// Area is the improvement area this recommendation targets, empty
	// when the suggestion is positive reinforcement.
	Area ImprovementArea `json:"area,omitempty"`
}

// ImprovementArea is a fixed vocabulary of things learning can flag.
type ImprovementArea string

const (
	AreaSuccessRate          ImprovementArea = "success_rate"
	AreaEscalationPrevention ImprovementArea = "escalation_prevention"
	AreaUserSatisfaction     ImprovementArea = "user_satisfaction"
	AreaResponseTime         ImprovementArea = "response_time"
)

// LearningResult is what one ProcessInteraction call returns. A successful
// call may legitimately carry empty collections.
type LearningResult struct {
	InteractionID    string            `json:"interaction_id"`
	Features         FeatureSet        `json:"features"`
	SimilarPatterns  []*Pattern        `json:"similar_patterns,omitempty"`
	Hypotheses       []*Hypothesis     `json:"hypotheses,omitempty"`
	Experiments      []*Experiment     `json:"experiments,omitempty"`
	AppliedLearnings []*Learning       `json:"applied_learnings,omitempty"`
	CreatedPattern   *Pattern          `json:"created_pattern,omitempty"`
	Recommendations  []*Recommendation `json:"recommendations,omitempty"`
	ImprovementAreas []ImprovementArea `json:"improvement_areas,omitempty"`
	Confidence       float64           `json:"confidence"`
	ProcessedAt      time.Time         `json:"processed_at"`
}
