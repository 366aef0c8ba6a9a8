package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/storage"
)

// SaveSnapshot durably writes a new snapshot version.
// Versions are never overwritten: the primary key rejects duplicates.
func (s *Storage) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	query := `
		INSERT INTO snapshots (document_id, version, watermark, checksum, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		snap.DocumentID,
		snap.Version,
		snap.Watermark,
		snap.Checksum,
		snap.State,
		snap.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

// LatestSnapshot returns the newest snapshot of the document.
// ULID versions sort lexicographically in creation order.
func (s *Storage) LatestSnapshot(ctx context.Context, documentID string) (*models.Snapshot, error) {
	query := `
		SELECT document_id, version, watermark, checksum, state, created_at
		FROM snapshots
		WHERE document_id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	return s.scanSnapshot(s.db.QueryRowContext(ctx, query, documentID))
}

// GetSnapshot returns a specific snapshot version.
func (s *Storage) GetSnapshot(ctx context.Context, documentID, version string) (*models.Snapshot, error) {
	query := `
		SELECT document_id, version, watermark, checksum, state, created_at
		FROM snapshots
		WHERE document_id = ? AND version = ?
	`

	return s.scanSnapshot(s.db.QueryRowContext(ctx, query, documentID, version))
}

// PriorSnapshot returns the newest snapshot older than the given version.
func (s *Storage) PriorSnapshot(ctx context.Context, documentID, version string) (*models.Snapshot, error) {
	query := `
		SELECT document_id, version, watermark, checksum, state, created_at
		FROM snapshots
		WHERE document_id = ? AND version < ?
		ORDER BY version DESC
		LIMIT 1
	`

	return s.scanSnapshot(s.db.QueryRowContext(ctx, query, documentID, version))
}

func (s *Storage) scanSnapshot(row *sql.Row) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	var createdAt int64

	err := row.Scan(
		&snap.DocumentID,
		&snap.Version,
		&snap.Watermark,
		&snap.Checksum,
		&snap.State,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.CreatedAt = time.Unix(createdAt, 0).UTC()
	return snap, nil
}

// ListSnapshots returns all snapshot versions of the document, newest
// first, without their state payloads.
func (s *Storage) ListSnapshots(ctx context.Context, documentID string) ([]*models.Snapshot, error) {
	query := `
		SELECT document_id, version, watermark, checksum, created_at
		FROM snapshots
		WHERE document_id = ?
		ORDER BY version DESC
	`

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap := &models.Snapshot{}
		var createdAt int64
		if err := rows.Scan(&snap.DocumentID, &snap.Version, &snap.Watermark, &snap.Checksum, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.CreatedAt = time.Unix(createdAt, 0).UTC()
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snaps, nil
}
