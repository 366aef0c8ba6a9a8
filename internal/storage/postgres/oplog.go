package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avdeyev/holst/internal/models"
)

// Append durably дописывает операцию и возвращает ее номер.
// Номер выдается per-document счетчиком в той же транзакции: выдача
// атомарна между процессами и переживает усечение журнала.
func (s *Storage) Append(ctx context.Context, documentID string, op *models.Operation) (int64, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal operation: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var seq int64
	row := tx.QueryRow(ctx, `
		INSERT INTO sequences (document_id, seq) VALUES ($1, 1)
		ON CONFLICT (document_id) DO UPDATE SET seq = sequences.seq + 1
		RETURNING seq
	`, documentID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO oplog (document_id, seq, op) VALUES ($1, $2, $3)`,
		documentID, seq, data)
	if err != nil {
		return 0, fmt.Errorf("failed to insert operation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	return seq, nil
}

// Since возвращает операции с номерами строго больше after по порядку.
func (s *Storage) Since(ctx context.Context, documentID string, after int64) ([]*models.OpRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, op
		FROM oplog
		WHERE document_id = $1 AND seq > $2
		ORDER BY seq ASC
	`, documentID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query oplog: %w", err)
	}
	defer rows.Close()

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

// LatestSeq возвращает старший когда-либо выданный номер документа.
func (s *Storage) LatestSeq(ctx context.Context, documentID string) (int64, error) {
	var seq int64
	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT seq FROM sequences WHERE document_id = $1), 0)`, documentID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to get latest seq: %w", err)
	}
	return seq, nil
}

// TrimThrough удаляет операции по номер through включительно.
// Вызывается только после durable-подтверждения покрывающего снапшота.
func (s *Storage) TrimThrough(ctx context.Context, documentID string, through int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM oplog WHERE document_id = $1 AND seq <= $2`, documentID, through)
	if err != nil {
		return fmt.Errorf("failed to trim oplog: %w", err)
	}
	return nil
}
