package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anchorhome/anchor/internal/patterns"
)

// RecordLabeledCase stores one outcome-labeled case for later discovery.
// Written by the learning pipeline's upstream once a case closes.
func (d *Database) RecordLabeledCase(ctx context.Context, c patterns.CaseRecord) error {
	if c.ID == "" {
		return fmt.Errorf("case must have an id")
	}
	featuresJSON, err := json.Marshal(c.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal case features: %w", err)
	}

	_, err = d.db.ExecContext(ctx, rebind(`
		INSERT INTO labeled_cases (id, category, features, success, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			features = EXCLUDED.features,
			success = EXCLUDED.success,
			outcome = EXCLUDED.outcome`),
		c.ID, c.Category, featuresJSON, c.Success, c.Outcome, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record labeled case %s: %w", c.ID, err)
	}
	return nil
}

// LabeledCases returns up to limit recent labeled cases for a category.
func (d *Database) LabeledCases(ctx context.Context, category string, limit int) ([]patterns.CaseRecord, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT id, category, features, success, outcome
		FROM labeled_cases
		WHERE category = ?
		ORDER BY created_at DESC
		LIMIT ?`), category, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query labeled cases: %w", err)
	}
	defer rows.Close()

	var cases []patterns.CaseRecord
	for rows.Next() {
		var (
			c            patterns.CaseRecord
			featuresJSON []byte
			outcome      sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Category, &featuresJSON, &c.Success, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan labeled case: %w", err)
		}
		if err := json.Unmarshal(featuresJSON, &c.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features for case %s: %w", c.ID, err)
		}
		c.Outcome = outcome.String
		cases = append(cases, c)
	}
	return cases, rows.Err()
}
