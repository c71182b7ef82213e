package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CompletionRequest is the provider-neutral request shape used by model
// implementations. Provider identity and transport live behind Protocol.
type CompletionRequest struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserMessage  string  `json:"user_message"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// CompletionResponse is the provider-neutral response shape.
type CompletionResponse struct {
	Text       string  `json:"text"`
	TokensUsed int     `json:"tokens_used"`
	Confidence float64 `json:"confidence"`
}

// Protocol defines the interface for communicating with language-model
// providers.
type Protocol interface {
	// Complete sends a completion request and returns the model output.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIProtocol implements Protocol for OpenAI-compatible chat APIs.
type OpenAIProtocol struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewOpenAIProtocol creates a Protocol speaking the OpenAI chat-completions
// wire format. Works for OpenAI, Anthropic-compatible gateways, and local
// servers exposing the same API.
func NewOpenAIProtocol(endpoint, apiKey string) *OpenAIProtocol {
	return &OpenAIProtocol{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Complete sends a chat completion request.
func (p *OpenAIProtocol) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	url := fmt.Sprintf("%s/chat/completions", p.endpoint)

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserMessage})

	wireReq := struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature,omitempty"`
		MaxTokens   int           `json:"max_tokens,omitempty"`
	}{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var wireResp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
			Finish  string      `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(wireResp.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	return &CompletionResponse{
		Text:       wireResp.Choices[0].Message.Content,
		TokensUsed: wireResp.Usage.TotalTokens,
		Confidence: confidenceFromFinish(wireResp.Choices[0].Finish),
	}, nil
}

// OllamaProtocol implements Protocol for Ollama endpoints.
// See: https://github.com/ollama/ollama/blob/main/docs/api.md
type OllamaProtocol struct {
	endpoint string
	client   *http.Client
}

// NewOllamaProtocol creates a Protocol speaking the Ollama chat API.
func NewOllamaProtocol(endpoint string) *OllamaProtocol {
	return &OllamaProtocol{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Complete sends a chat request to an Ollama server.
func (p *OllamaProtocol) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	url := fmt.Sprintf("%s/api/chat", p.endpoint)
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserMessage})

	wireReq := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
		Options  struct {
			Temperature float64 `json:"temperature,omitempty"`
			NumPredict  int     `json:"num_predict,omitempty"`
		} `json:"options,omitempty"`
	}{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}
	wireReq.Options.Temperature = req.Temperature
	wireReq.Options.NumPredict = req.MaxTokens

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var wireResp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Done      bool `json:"done"`
		EvalCount int  `json:"eval_count"`
	}
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	confidence := 0.5
	if wireResp.Done {
		confidence = 0.85
	}
	return &CompletionResponse{
		Text:       wireResp.Message.Content,
		TokensUsed: wireResp.EvalCount,
		Confidence: confidence,
	}, nil
}

// confidenceFromFinish maps a finish reason to a coarse confidence score.
// Truncated outputs get a lower score than clean stops.
func confidenceFromFinish(finish string) float64 {
	switch finish {
	case "stop":
		return 0.9
	case "length":
		return 0.6
	default:
		return 0.5
	}
}
