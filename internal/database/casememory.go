package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anchorhome/anchor/internal/casememory"
)

// GetMemory returns the case-memory snapshot, or nil when the case has no
// memory yet.
func (d *Database) GetMemory(ctx context.Context, caseID string) (*casememory.Snapshot, error) {
	var snapshotJSON []byte
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT snapshot FROM case_memory WHERE case_id = ?`), caseID).Scan(&snapshotJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get case memory for %s: %w", caseID, err)
	}

	var snap casememory.Snapshot
	if err := json.Unmarshal(snapshotJSON, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal case memory for %s: %w", caseID, err)
	}
	return &snap, nil
}

// UpdateMemory appends one update to a case's memory inside a transaction
// and returns the new snapshot. Read-modify-write under SELECT FOR UPDATE
// keeps concurrent learners from losing updates.
func (d *Database) UpdateMemory(ctx context.Context, caseID string, update casememory.Update) (*casememory.Snapshot, error) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin case memory update: %w", err)
	}
	defer tx.Rollback()

	snap := &casememory.Snapshot{CaseID: caseID}
	var snapshotJSON []byte
	err = tx.QueryRowContext(ctx, rebind(`
		SELECT snapshot FROM case_memory WHERE case_id = ? FOR UPDATE`), caseID).Scan(&snapshotJSON)
	switch {
	case err == nil:
		if err := json.Unmarshal(snapshotJSON, snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal case memory for %s: %w", caseID, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// First update for this case.
	default:
		return nil, fmt.Errorf("failed to read case memory for %s: %w", caseID, err)
	}

	snap.Updates = append(snap.Updates, update)
	snap.UpdatedAt = update.Timestamp
	applyUpdate(snap, update)

	out, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal case memory for %s: %w", caseID, err)
	}

	_, err = tx.ExecContext(ctx, rebind(`
		INSERT INTO case_memory (case_id, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (case_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`),
		caseID, out, snap.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to write case memory for %s: %w", caseID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit case memory for %s: %w", caseID, err)
	}
	return snap, nil
}

// applyUpdate mirrors the in-memory store's projection of updates onto
// snapshot fields.
func applyUpdate(snap *casememory.Snapshot, update casememory.Update) {
	switch update.Type {
	case "pattern_match":
		if id, ok := update.Data["pattern_id"].(string); ok && id != "" {
			snap.HistoricalPatterns = append(snap.HistoricalPatterns, id)
		}
	case "successful_strategy":
		if st, ok := update.Data["strategy"].(string); ok && st != "" {
			snap.SuccessfulStrategies = append(snap.SuccessfulStrategies, st)
		}
	case "interaction":
		snap.LastInteractionAt = update.Timestamp
	}
}
