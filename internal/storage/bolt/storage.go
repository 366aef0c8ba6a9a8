// Package bolt реализует встраиваемое durable-хранилище движка поверх
// bbolt: разработка и однопроцессные развертывания без внешней базы.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// snapshotsBucket хранит вложенный bucket на документ: version -> snapshot JSON
	snapshotsBucket = []byte("snapshots")

	// oplogBucket хранит вложенный bucket на документ: seq (big endian) -> op JSON
	oplogBucket = []byte("oplog")

	// sequencesBucket хранит счетчик номеров журнала: documentID -> seq
	sequencesBucket = []byte("sequences")
)

// Storage представляет bbolt-хранилище снапшотов и журнала операций.
type Storage struct {
	db *bbolt.DB
}

// New открывает (или создает) файл базы данных.
func New(path string) (*Storage, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{snapshotsBucket, oplogBucket, sequencesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &Storage{db: db}, nil
}

// Ping проверяет, что база открыта.
func (s *Storage) Ping(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database is closed")
	}
	return nil
}

// Close закрывает базу данных.
func (s *Storage) Close() error {
	return s.db.Close()
}

// seqKey кодирует номер журнала в big-endian: байтовый порядок ключей
// совпадает с числовым порядком номеров.
func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}
