package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/avdeyev/holst/internal/models"
)

// Append durably дописывает операцию и возвращает ее номер.
// Счетчик номеров живет отдельно от журнала и переживает усечение.
func (s *Storage) Append(_ context.Context, documentID string, op *models.Operation) (int64, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal operation: %w", err)
	}

	var seq int64
	err = s.db.Update(func(tx *bbolt.Tx) error {
		sequences := tx.Bucket(sequencesBucket)

		seq = 1
		if raw := sequences.Get([]byte(documentID)); raw != nil {
			seq = int64(binary.BigEndian.Uint64(raw)) + 1
		}
		if err := sequences.Put([]byte(documentID), seqKey(seq)); err != nil {
			return fmt.Errorf("failed to store sequence: %w", err)
		}

		docBucket, err := tx.Bucket(oplogBucket).CreateBucketIfNotExists([]byte(documentID))
		if err != nil {
			return fmt.Errorf("failed to create document bucket: %w", err)
		}
		return docBucket.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("transaction failed: %w", err)
	}

	return seq, nil
}

// Since возвращает операции с номерами строго больше after по порядку.
func (s *Storage) Since(_ context.Context, documentID string, after int64) ([]*models.OpRecord, error) {
	var records []*models.OpRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		docBucket := tx.Bucket(oplogBucket).Bucket([]byte(documentID))
		if docBucket == nil {
			return nil
		}

		cursor := docBucket.Cursor()
		for key, data := cursor.Seek(seqKey(after + 1)); key != nil; key, data = cursor.Next() {
			var op models.Operation
			if err := json.Unmarshal(data, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation: %w", err)
			}
			records = append(records, &models.OpRecord{
				Seq: int64(binary.BigEndian.Uint64(key)),
				Op:  op,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read oplog: %w", err)
	}

	return records, nil
}

// LatestSeq возвращает старший когда-либо выданный номер документа.
func (s *Storage) LatestSeq(_ context.Context, documentID string) (int64, error) {
	var seq int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(sequencesBucket).Get([]byte(documentID)); raw != nil {
			seq = int64(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}

	return seq, nil
}

// TrimThrough удаляет операции по номер through включительно.
func (s *Storage) TrimThrough(_ context.Context, documentID string, through int64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docBucket := tx.Bucket(oplogBucket).Bucket([]byte(documentID))
		if docBucket == nil {
			return nil
		}

		cursor := docBucket.Cursor()
		for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
			if int64(binary.BigEndian.Uint64(key)) > through {
				break
			}
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("failed to delete operation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to trim oplog: %w", err)
	}

	return nil
}
