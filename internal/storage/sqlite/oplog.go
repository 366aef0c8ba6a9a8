package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avdeyev/holst/internal/models"
)

// Append durably appends an operation and returns its sequence number.
// Sequences are allocated from a per-document counter that survives log
// trimming: a compacted log never reuses watermarks.
func (s *Storage) Append(ctx context.Context, documentID string, op *models.Operation) (int64, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal operation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var seq int64
	row := tx.QueryRowContext(ctx, `
		INSERT INTO sequences (document_id, seq) VALUES (?, 1)
		ON CONFLICT (document_id) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, documentID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO oplog (document_id, seq, op) VALUES (?, ?, ?)`,
		documentID, seq, data)
	if err != nil {
		return 0, fmt.Errorf("failed to insert operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	return seq, nil
}

// Since returns all operations with sequence numbers strictly greater
// than after, in sequence order.
func (s *Storage) Since(ctx context.Context, documentID string, after int64) ([]*models.OpRecord, error) {
	query := `
		SELECT seq, op
		FROM oplog
		WHERE document_id = ? AND seq > ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, documentID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query oplog: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*models.OpRecord
	for rows.Next() {
		var seq int64
		var data []byte
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		var op models.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation %d: %w", seq, err)
		}
		records = append(records, &models.OpRecord{Seq: seq, Op: op})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate oplog: %w", err)
	}

	return records, nil
}

// LatestSeq returns the highest sequence number ever allocated for the
// document, even after the log was trimmed.
func (s *Storage) LatestSeq(ctx context.Context, documentID string) (int64, error) {
	var seq int64
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT seq FROM sequences WHERE document_id = ?), 0)`, documentID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to get latest seq: %w", err)
	}
	return seq, nil
}

// TrimThrough removes all operations up to and including through.
// Called only after a covering snapshot is acknowledged durable.
func (s *Storage) TrimThrough(ctx context.Context, documentID string, through int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM oplog WHERE document_id = ? AND seq <= ?`, documentID, through)
	if err != nil {
		return fmt.Errorf("failed to trim oplog: %w", err)
	}
	return nil
}
