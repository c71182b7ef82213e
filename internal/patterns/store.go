package patterns

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anchorhome/anchor/pkg/models"
)

// QueryFilters narrow a similarity query by metadata.
type QueryFilters struct {
	Types             []models.PatternType
	Tags              []string
	Since             time.Time
	Servicer          string
	IncludeSuperseded bool
}

// ScoredPattern pairs a pattern with its similarity to the query vector.
type ScoredPattern struct {
	Pattern    *models.Pattern
	Similarity float64
}

// VectorStore persists pattern embeddings and answers top-K cosine
// similarity queries with metadata filtering. The in-memory implementation
// below is a linear scan; a real ANN index or the Postgres store can be
// substituted without changing callers.
type VectorStore interface {
	// Upsert stores or replaces the pattern and its embedding. Atomic per
	// pattern id.
	Upsert(ctx context.Context, pattern *models.Pattern, embedding []float32) error

	// Query returns the topK stored patterns most similar to the vector,
	// best first, after applying filters.
	Query(ctx context.Context, embedding []float32, topK int, filters QueryFilters) ([]ScoredPattern, error)

	// Get returns the pattern by id, or nil when absent.
	Get(ctx context.Context, id string) (*models.Pattern, []float32, error)

	// Delete removes a pattern. Normal lifecycle supersedes instead; this
	// exists for operational cleanup only.
	Delete(ctx context.Context, id string) error

	// List returns all stored patterns.
	List(ctx context.Context) ([]*models.Pattern, error)
}

// MemoryStore is the in-memory VectorStore. Mutation is keyed by pattern
// id under a single lock, so a concurrent reader never observes a
// half-written pattern.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*storeEntry
}

type storeEntry struct {
	pattern   models.Pattern // stored by value; readers get copies
	embedding []float32
}

// NewMemoryStore creates an empty in-memory pattern store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*storeEntry)}
}

func (s *MemoryStore) Upsert(_ context.Context, pattern *models.Pattern, embedding []float32) error {
	if pattern == nil || pattern.ID == "" {
		return fmt.Errorf("pattern must have an id")
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[pattern.ID] = &storeEntry{pattern: *pattern, embedding: vec}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, embedding []float32, topK int, filters QueryFilters) ([]ScoredPattern, error) {
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	scored := make([]ScoredPattern, 0, len(s.entries))
	for _, e := range s.entries {
		if !matchesFilters(&e.pattern, filters) {
			continue
		}
		sim := float64(CosineSimilarity(embedding, e.embedding))
		p := e.pattern
		scored = append(scored, ScoredPattern{Pattern: &p, Similarity: sim})
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Pattern, []float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, nil, nil
	}
	p := e.pattern
	vec := make([]float32, len(e.embedding))
	copy(vec, e.embedding)
	return &p, vec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Pattern, 0, len(s.entries))
	for _, e := range s.entries {
		p := e.pattern
		out = append(out, &p)
	}
	return out, nil
}

func matchesFilters(p *models.Pattern, f QueryFilters) bool {
	if !f.IncludeSuperseded && p.Superseded() {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if p.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && p.LastSeen.Before(f.Since) {
		return false
	}
	if f.Servicer != "" && p.Features.Context.Servicer != f.Servicer {
		return false
	}
	for _, tag := range f.Tags {
		found := false
		for _, pt := range p.Tags {
			if pt == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
