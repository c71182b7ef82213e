package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/anchorhome/anchor/pkg/models"
)

// AIModel is the contract every model implementation satisfies. The
// orchestrator selects among AIModels per task kind; it never sees the
// underlying provider or transport.
type AIModel interface {
	// Name identifies the model for routing, metrics, and execution records.
	Name() string

	// Execute runs the task and returns a result. Implementations must
	// respect ctx cancellation.
	Execute(ctx context.Context, task *models.Task) (*models.ModelResult, error)

	// CanHandle reports whether this model accepts the task kind.
	CanHandle(kind models.TaskKind) bool

	// EstimatedCost returns the approximate cost in USD cents per call.
	EstimatedCost() float64

	// EstimatedTime returns the expected latency for a typical call.
	EstimatedTime() time.Duration
}

// Config describes one registered model backend (file/YAML config).
type Config struct {
	Name          string            `yaml:"name" json:"name"`
	Type          string            `yaml:"type" json:"type"` // openai, anthropic, local, custom, ollama
	Endpoint      string            `yaml:"endpoint" json:"endpoint"`
	APIKey        string            `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Model         string            `yaml:"model" json:"model"`
	Kinds         []models.TaskKind `yaml:"kinds" json:"kinds"`
	CostCents     float64           `yaml:"cost_cents" json:"cost_cents"`
	TypicalTimeMs int64             `yaml:"typical_time_ms" json:"typical_time_ms"`
	Status        string            `yaml:"status,omitempty" json:"status,omitempty"`
}

// Healthy reports whether the config's status allows dispatch.
func (c *Config) Healthy() bool {
	switch c.Status {
	case "", "healthy", "active":
		return true
	default:
		return false
	}
}

// NewModel builds an AIModel from config. The protocol is chosen by
// provider type; openai/anthropic/local/custom all speak the
// OpenAI-compatible API.
func NewModel(cfg *Config) (AIModel, error) {
	var protocol Protocol
	switch cfg.Type {
	case "openai", "anthropic", "local", "custom":
		protocol = NewOpenAIProtocol(cfg.Endpoint, cfg.APIKey)
	case "ollama":
		protocol = NewOllamaProtocol(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}

	kinds := make(map[models.TaskKind]bool, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kinds[k] = true
	}

	return &protocolModel{
		name:     cfg.Name,
		model:    cfg.Model,
		protocol: protocol,
		kinds:    kinds,
		cost:     cfg.CostCents,
		typical:  time.Duration(cfg.TypicalTimeMs) * time.Millisecond,
	}, nil
}

// protocolModel adapts a Protocol endpoint to the AIModel contract.
type protocolModel struct {
	name     string
	model    string
	protocol Protocol
	kinds    map[models.TaskKind]bool
	cost     float64
	typical  time.Duration
}

func (m *protocolModel) Name() string { return m.name }

func (m *protocolModel) CanHandle(kind models.TaskKind) bool {
	if len(m.kinds) == 0 {
		return true
	}
	return m.kinds[kind]
}

func (m *protocolModel) EstimatedCost() float64 { return m.cost }

func (m *protocolModel) EstimatedTime() time.Duration {
	if m.typical <= 0 {
		return 2 * time.Second
	}
	return m.typical
}

func (m *protocolModel) Execute(ctx context.Context, task *models.Task) (*models.ModelResult, error) {
	start := time.Now()

	resp, err := m.protocol.Complete(ctx, &CompletionRequest{
		Model:        m.model,
		SystemPrompt: task.System,
		UserMessage:  task.Input,
		Temperature:  task.Options.Temperature,
		MaxTokens:    task.Options.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &models.ModelResult{
		Data:          resp.Text,
		Confidence:    confidence,
		ExecutionTime: time.Since(start),
		TokensUsed:    resp.TokensUsed,
		ModelName:     m.name,
		Success:       true,
	}, nil
}
