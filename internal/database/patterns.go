package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/anchorhome/anchor/internal/patterns"
	"github.com/anchorhome/anchor/pkg/models"
)

// Upsert stores or replaces a pattern and its packed embedding.
func (d *Database) Upsert(ctx context.Context, pattern *models.Pattern, embedding []float32) error {
	if pattern == nil || pattern.ID == "" {
		return fmt.Errorf("pattern must have an id")
	}

	featuresJSON, err := json.Marshal(pattern.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	outcomesJSON, err := json.Marshal(pattern.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}
	tagsJSON, err := json.Marshal(pattern.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	var provenanceJSON []byte
	if pattern.Provenance != nil {
		provenanceJSON, err = json.Marshal(pattern.Provenance)
		if err != nil {
			return fmt.Errorf("failed to marshal provenance: %w", err)
		}
	}

	_, err = d.db.ExecContext(ctx, rebind(`
		INSERT INTO patterns (id, type, description, features, confidence, occurrences,
			success_rate, predictive_power, outcomes, tags, superseded_by, provenance,
			embedding, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			description = EXCLUDED.description,
			features = EXCLUDED.features,
			confidence = EXCLUDED.confidence,
			occurrences = EXCLUDED.occurrences,
			success_rate = EXCLUDED.success_rate,
			predictive_power = EXCLUDED.predictive_power,
			outcomes = EXCLUDED.outcomes,
			tags = EXCLUDED.tags,
			superseded_by = EXCLUDED.superseded_by,
			provenance = EXCLUDED.provenance,
			embedding = EXCLUDED.embedding,
			last_seen = EXCLUDED.last_seen`),
		pattern.ID, string(pattern.Type), pattern.Description, featuresJSON,
		pattern.Confidence, pattern.Occurrences, pattern.SuccessRate,
		pattern.PredictivePower, outcomesJSON, tagsJSON,
		nullableString(pattern.SupersededBy), provenanceJSON,
		patterns.PackFloat32(embedding), pattern.CreatedAt, pattern.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern %s: %w", pattern.ID, err)
	}
	return nil
}

// Query returns the topK stored patterns most similar to the vector.
// Metadata filters that map to columns are pushed into SQL; similarity is
// computed in Go over the unpacked embeddings.
func (d *Database) Query(ctx context.Context, embedding []float32, topK int, filters patterns.QueryFilters) ([]patterns.ScoredPattern, error) {
	if topK <= 0 {
		topK = 10
	}

	query := `SELECT id, type, description, features, confidence, occurrences,
		success_rate, predictive_power, outcomes, tags, superseded_by, provenance,
		embedding, created_at, last_seen
		FROM patterns WHERE 1=1`
	var args []interface{}

	if !filters.IncludeSuperseded {
		query += ` AND (superseded_by IS NULL OR superseded_by = '')`
	}
	if len(filters.Types) > 0 {
		query += ` AND type IN (`
		for i, t := range filters.Types {
			if i > 0 {
				query += `, `
			}
			query += `?`
			args = append(args, string(t))
		}
		query += `)`
	}
	if !filters.Since.IsZero() {
		query += ` AND last_seen >= ?`
		args = append(args, filters.Since)
	}

	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var scored []patterns.ScoredPattern
	for rows.Next() {
		p, vec, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		// Tags and servicer filters need the decoded pattern.
		if !tagsMatch(p.Tags, filters.Tags) {
			continue
		}
		if filters.Servicer != "" && p.Features.Context.Servicer != filters.Servicer {
			continue
		}
		scored = append(scored, patterns.ScoredPattern{
			Pattern:    p,
			Similarity: float64(patterns.CosineSimilarity(embedding, vec)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patterns: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Get returns a pattern and its embedding by id, or nil when absent.
func (d *Database) Get(ctx context.Context, id string) (*models.Pattern, []float32, error) {
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT id, type, description, features, confidence, occurrences,
			success_rate, predictive_power, outcomes, tags, superseded_by, provenance,
			embedding, created_at, last_seen
		FROM patterns WHERE id = ?`), id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get pattern %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil, rows.Err()
	}
	p, vec, err := scanPattern(rows)
	if err != nil {
		return nil, nil, err
	}
	return p, vec, nil
}

// Delete removes a pattern. Operational cleanup only; normal lifecycle
// supersedes instead.
func (d *Database) Delete(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, rebind(`DELETE FROM patterns WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete pattern %s: %w", id, err)
	}
	return nil
}

// List returns all stored patterns, newest first.
func (d *Database) List(ctx context.Context) ([]*models.Pattern, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, type, description, features, confidence, occurrences,
			success_rate, predictive_power, outcomes, tags, superseded_by, provenance,
			embedding, created_at, last_seen
		FROM patterns ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.Pattern
	for rows.Next() {
		p, _, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPattern(rows *sql.Rows) (*models.Pattern, []float32, error) {
	var (
		p              models.Pattern
		ptype          string
		featuresJSON   []byte
		outcomesJSON   []byte
		tagsJSON       []byte
		supersededBy   sql.NullString
		provenanceJSON []byte
		embeddingBlob  []byte
	)
	err := rows.Scan(&p.ID, &ptype, &p.Description, &featuresJSON, &p.Confidence,
		&p.Occurrences, &p.SuccessRate, &p.PredictivePower, &outcomesJSON, &tagsJSON,
		&supersededBy, &provenanceJSON, &embeddingBlob, &p.CreatedAt, &p.LastSeen)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan pattern: %w", err)
	}

	p.Type = models.PatternType(ptype)
	p.SupersededBy = supersededBy.String
	if err := json.Unmarshal(featuresJSON, &p.Features); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal features for %s: %w", p.ID, err)
	}
	if len(outcomesJSON) > 0 {
		_ = json.Unmarshal(outcomesJSON, &p.Outcomes)
	}
	if len(tagsJSON) > 0 {
		_ = json.Unmarshal(tagsJSON, &p.Tags)
	}
	if len(provenanceJSON) > 0 {
		var prov models.PatternProvenance
		if err := json.Unmarshal(provenanceJSON, &prov); err == nil {
			p.Provenance = &prov
		}
	}

	return &p, patterns.UnpackFloat32(embeddingBlob), nil
}

func tagsMatch(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
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

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
