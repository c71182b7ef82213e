package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProtocolComplete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "forbearance explained"}, "finish_reason": "stop"}],
			"usage": {"total_tokens": 42}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProtocol(srv.URL, "test-key")
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Model:        "gpt-like",
		SystemPrompt: "you explain mortgage terms",
		UserMessage:  "what is forbearance?",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-like", gotBody["model"])
	messages := gotBody["messages"].([]interface{})
	require.Len(t, messages, 2)

	assert.Equal(t, "forbearance explained", resp.Text)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Equal(t, 0.9, resp.Confidence)
}

func TestOpenAIProtocolTruncationLowersConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "partial"}, "finish_reason": "length"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProtocol(srv.URL, "")
	resp, err := p.Complete(context.Background(), &CompletionRequest{Model: "m", UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 0.6, resp.Confidence)
}

func TestOpenAIProtocolErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProtocol(srv.URL, "k")
	_, err := p.Complete(context.Background(), &CompletionRequest{Model: "m", UserMessage: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIProtocolEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	p := NewOpenAIProtocol(srv.URL, "k")
	_, err := p.Complete(context.Background(), &CompletionRequest{Model: "m", UserMessage: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOllamaProtocolComplete(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"message": {"role": "assistant", "content": "classified: denial letter"}, "done": true, "eval_count": 17}`))
	}))
	defer srv.Close()

	p := NewOllamaProtocol(srv.URL)
	resp, err := p.Complete(context.Background(), &CompletionRequest{Model: "doc-model", UserMessage: "classify"})
	require.NoError(t, err)

	assert.Equal(t, "/api/chat", gotPath)
	assert.Equal(t, "classified: denial letter", resp.Text)
	assert.Equal(t, 17, resp.TokensUsed)
	assert.Equal(t, 0.85, resp.Confidence)
}

func TestOllamaProtocolRequiresModel(t *testing.T) {
	p := NewOllamaProtocol("http://localhost:11434")
	_, err := p.Complete(context.Background(), &CompletionRequest{UserMessage: "hi"})
	assert.Error(t, err)
}
