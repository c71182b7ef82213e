package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorhome/anchor/pkg/models"
)

const sampleConfig = `
server:
  listen_addr: ":9999"
database:
  dsn: ""
nats:
  enabled: false
models:
  - name: primary-conversational
    type: openai
    endpoint: https://api.example.com/v1
    api_key: test-key
    model: gpt-like
    kinds: [conversational, emotional]
  - name: local-documents
    type: ollama
    endpoint: http://localhost:11434
    model: doc-model
    kinds: [document, intent, regulatory]
routing:
  conversational:
    primary: primary-conversational
  document:
    primary: local-documents
    fallback: primary-conversational
    specialized:
      - model: local-documents
        for_accuracy: true
learning:
  thresholds:
    notable_satisfaction: 0.75
    slow_response: 3s
discovery:
  categories: [modification]
  min_confidence: 0.65
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "ANCHOR", cfg.NATS.StreamName)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 0.75, cfg.Learning.Thresholds.NotableSatisfaction)
	assert.Equal(t, 3*time.Second, cfg.Learning.Thresholds.SlowResponse)
	assert.Equal(t, 0.65, cfg.Discovery.MinConfidence)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, []models.TaskKind{models.TaskConversational, models.TaskEmotional}, cfg.Models[0].Kinds)
}

func TestValidateRejectsUnknownReferences(t *testing.T) {
	broken := strings.Replace(sampleConfig,
		"routing:\n", "routing:\n  emotional:\n    primary: no-such-model\n", 1)
	_, err := Load(writeConfig(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-model")
}

func TestValidateRejectsUnknownTaskKind(t *testing.T) {
	broken := strings.Replace(sampleConfig,
		"routing:\n", "routing:\n  telepathy:\n    primary: primary-conversational\n", 1)
	_, err := Load(writeConfig(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")
}

func TestBuildRoutingTable(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	byName, err := BuildModels(cfg.Models)
	require.NoError(t, err)
	require.Len(t, byName, 2)

	table, err := BuildRoutingTable(cfg.Routing, byName)
	require.NoError(t, err)

	require.NotNil(t, table.Conversational)
	assert.Equal(t, "primary-conversational", table.Conversational.Primary.Name())
	assert.Nil(t, table.Conversational.Fallback)

	require.NotNil(t, table.Document)
	assert.Equal(t, "local-documents", table.Document.Primary.Name())
	require.NotNil(t, table.Document.Fallback)
	require.Len(t, table.Document.Specialized, 1)
	assert.True(t, table.Document.Specialized[0].ForAccuracy)

	// Kinds without a routing entry stay nil and reject at dispatch.
	assert.Nil(t, table.Emotional)
	assert.Nil(t, table.Regulatory)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	updated := []byte(sampleConfig + "\ncache:\n  max_size: 42\n")
	require.NoError(t, os.WriteFile(path, updated, 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 42, cfg.Cache.MaxSize)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload never fired")
	}
}

func TestWatcherKeepsRunningOnBrokenConfig(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	// A broken save is skipped without invoking the callback.
	require.NoError(t, os.WriteFile(path, []byte("models: [broken"), 0o644))
	select {
	case <-reloaded:
		t.Fatal("broken config must not reach the callback")
	case <-time.After(600 * time.Millisecond):
	}

	// A later valid save still reloads.
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("valid config after a broken one never reloaded")
	}
}
