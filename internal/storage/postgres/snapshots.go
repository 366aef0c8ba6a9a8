package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/storage"
)

// SaveSnapshot durably записывает новую версию снапшота.
// Существующие версии никогда не перезаписываются.
func (s *Storage) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (document_id, version, watermark, checksum, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, snap.DocumentID, snap.Version, snap.Watermark, snap.Checksum, snap.State, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot возвращает новейший снапшот документа.
func (s *Storage) LatestSnapshot(ctx context.Context, documentID string) (*models.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT document_id, version, watermark, checksum, state, created_at
		FROM snapshots
		WHERE document_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, documentID)

	return scanSnapshot(row)
}

// GetSnapshot возвращает конкретную версию снапшота.
func (s *Storage) GetSnapshot(ctx context.Context, documentID, version string) (*models.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT document_id, version, watermark, checksum, state, created_at
		FROM snapshots
		WHERE document_id = $1 AND version = $2
	`, documentID, version)

	return scanSnapshot(row)
}

// PriorSnapshot возвращает новейший снапшот старше данной версии.
func (s *Storage) PriorSnapshot(ctx context.Context, documentID, version string) (*models.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT document_id, version, watermark, checksum, state, created_at
		FROM snapshots
		WHERE document_id = $1 AND version < $2
		ORDER BY version DESC
		LIMIT 1
	`, documentID, version)

	return scanSnapshot(row)
}

func scanSnapshot(row pgx.Row) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	err := row.Scan(
		&snap.DocumentID,
		&snap.Version,
		&snap.Watermark,
		&snap.Checksum,
		&snap.State,
		&snap.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots возвращает все версии снапшотов документа, новейшие
// первыми, без состояния.
func (s *Storage) ListSnapshots(ctx context.Context, documentID string) ([]*models.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, version, watermark, checksum, created_at
		FROM snapshots
		WHERE document_id = $1
		ORDER BY version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap := &models.Snapshot{}
		if err := rows.Scan(&snap.DocumentID, &snap.Version, &snap.Watermark, &snap.Checksum, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snaps, nil
}
