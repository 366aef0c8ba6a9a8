package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/storage"
)

// SaveSnapshot durably записывает новую версию снапшота.
func (s *Storage) SaveSnapshot(_ context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		docBucket, err := tx.Bucket(snapshotsBucket).CreateBucketIfNotExists([]byte(snap.DocumentID))
		if err != nil {
			return fmt.Errorf("failed to create document bucket: %w", err)
		}

		if docBucket.Get([]byte(snap.Version)) != nil {
			return fmt.Errorf("snapshot version %s already exists", snap.Version)
		}
		return docBucket.Put([]byte(snap.Version), data)
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// LatestSnapshot возвращает новейший снапшот документа.
// ULID-версии упорядочены лексикографически по времени создания,
// поэтому новейшая версия - последний ключ bucket'а.
func (s *Storage) LatestSnapshot(_ context.Context, documentID string) (*models.Snapshot, error) {
	var snap *models.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		docBucket := tx.Bucket(snapshotsBucket).Bucket([]byte(documentID))
		if docBucket == nil {
			return storage.ErrSnapshotNotFound
		}

		_, data := docBucket.Cursor().Last()
		if data == nil {
			return storage.ErrSnapshotNotFound
		}

		snap = &models.Snapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// GetSnapshot возвращает конкретную версию снапшота.
func (s *Storage) GetSnapshot(_ context.Context, documentID, version string) (*models.Snapshot, error) {
	var snap *models.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		docBucket := tx.Bucket(snapshotsBucket).Bucket([]byte(documentID))
		if docBucket == nil {
			return storage.ErrSnapshotNotFound
		}

		data := docBucket.Get([]byte(version))
		if data == nil {
			return storage.ErrSnapshotNotFound
		}

		snap = &models.Snapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// PriorSnapshot возвращает новейший снапшот старше данной версии.
func (s *Storage) PriorSnapshot(_ context.Context, documentID, version string) (*models.Snapshot, error) {
	var snap *models.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		docBucket := tx.Bucket(snapshotsBucket).Bucket([]byte(documentID))
		if docBucket == nil {
			return storage.ErrSnapshotNotFound
		}

		cursor := docBucket.Cursor()
		key, data := cursor.Seek([]byte(version))
		if key != nil {
			// Seek встал на version или первую версию после нее;
			// предыдущий ключ - искомая более старая версия.
			key, data = cursor.Prev()
		} else {
			// Все версии старше искомой: берем последнюю.
			key, data = cursor.Last()
		}
		if key == nil {
			return storage.ErrSnapshotNotFound
		}

		snap = &models.Snapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// ListSnapshots возвращает все версии снапшотов документа, новейшие
// первыми, без состояния.
func (s *Storage) ListSnapshots(_ context.Context, documentID string) ([]*models.Snapshot, error) {
	var snaps []*models.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		docBucket := tx.Bucket(snapshotsBucket).Bucket([]byte(documentID))
		if docBucket == nil {
			return nil
		}

		cursor := docBucket.Cursor()
		for key, data := cursor.Last(); key != nil; key, data = cursor.Prev() {
			snap := &models.Snapshot{}
			if err := json.Unmarshal(data, snap); err != nil {
				return fmt.Errorf("failed to unmarshal snapshot: %w", err)
			}
			snap.State = nil
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return snaps, nil
}
