package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anchorhome/anchor/pkg/models"
)

// Config defines response cache behavior.
type Config struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	DefaultTTL    time.Duration `yaml:"default_ttl" json:"default_ttl"`
	MaxSize       int           `yaml:"max_size" json:"max_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period" json:"cleanup_period"`
}

// DefaultConfig returns sensible defaults for caching.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		DefaultTTL:    1 * time.Hour,
		MaxSize:       10000,
		CleanupPeriod: 5 * time.Minute,
	}
}

// Backend is the storage interface behind the cache. Implementations:
// the in-memory map below and RedisBackend.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// Stats tracks cache performance.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache stores serialized model results keyed by request hash.
type Cache struct {
	backend Backend
	config  *Config

	mu    sync.Mutex
	stats Stats
}

// New creates a cache on the given backend. A nil backend gets an
// in-memory one.
func New(config *Config, backend Backend) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if backend == nil {
		backend = newMemoryBackend(config)
	}
	return &Cache{backend: backend, config: config}
}

// Key builds a deterministic cache key from request parameters.
func Key(parts ...interface{}) (string, error) {
	hasher := sha256.New()
	for _, p := range parts {
		b, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to marshal cache key part: %w", err)
		}
		hasher.Write(b)
		hasher.Write([]byte{':'})
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// GetResult returns a cached model result, if present and fresh.
func (c *Cache) GetResult(ctx context.Context, key string) (*models.ModelResult, bool) {
	if c == nil || !c.config.Enabled {
		return nil, false
	}
	raw, ok := c.backend.Get(ctx, key)
	if !ok {
		c.bump(func(s *Stats) { s.Misses++ })
		return nil, false
	}
	var result models.ModelResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.backend.Delete(ctx, key)
		c.bump(func(s *Stats) { s.Misses++ })
		return nil, false
	}
	c.bump(func(s *Stats) { s.Hits++ })
	return &result, true
}

// SetResult stores a model result under key with the default TTL.
// Failures are swallowed: caching is best-effort.
func (c *Cache) SetResult(ctx context.Context, key string, result *models.ModelResult) {
	if c == nil || !c.config.Enabled || result == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.backend.Set(ctx, key, raw, c.config.DefaultTTL)
}

// GetStats returns a copy of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) bump(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// memoryBackend is a map with per-entry expiry and a background cleanup
// loop.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	config  *Config
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func newMemoryBackend(config *Config) *memoryBackend {
	b := &memoryBackend{
		entries: make(map[string]memoryEntry),
		config:  config,
	}
	if config.Enabled && config.CleanupPeriod > 0 {
		go b.cleanupLoop()
	}
	return b
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.config.MaxSize > 0 && len(b.entries) >= b.config.MaxSize {
		b.evictOldestLocked()
	}
	b.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

func (b *memoryBackend) Clear(_ context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]memoryEntry)
}

func (b *memoryBackend) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range b.entries {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey = k
			oldest = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(b.entries, oldestKey)
	}
}

func (b *memoryBackend) cleanupLoop() {
	ticker := time.NewTicker(b.config.CleanupPeriod)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		b.mu.Lock()
		for k, e := range b.entries {
			if now.After(e.expiresAt) {
				delete(b.entries, k)
			}
		}
		b.mu.Unlock()
	}
}
