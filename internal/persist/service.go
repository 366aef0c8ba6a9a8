// Package persist реализует периодические снапшоты документов и
// компакцию журнала операций: история правок не ограничена, память и
// диск - ограничены. Журнал усекается только после durable-подтверждения
// покрывающего снапшота, так что (снапшот + хвост журнала) всегда
// эквивалентны полной истории.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/avdeyev/holst/internal/crdt"
	"github.com/avdeyev/holst/internal/integrity"
	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/storage"
)

// Config параметры сервиса персистентности.
type Config struct {
	SnapshotInterval  time.Duration // снапшот после этого времени активности
	SnapshotEveryOps  int           // или после стольких операций - что наступит раньше
	MaxRetryInterval  time.Duration // потолок паузы между повторами записи
	MaxDegradedWindow time.Duration // повторы дольше этого окна переводят комнату в read-only
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval:  30 * time.Second,
		SnapshotEveryOps:  500,
		MaxRetryInterval:  15 * time.Second,
		MaxDegradedWindow: 2 * time.Minute,
	}
}

// Service снимает снапшоты документов и усекает журнал операций.
type Service struct {
	snapshots storage.SnapshotStore
	oplog     storage.OpLog
	logger    *slog.Logger
	cfg       Config
}

// NewService создает сервис персистентности.
func NewService(snapshots storage.SnapshotStore, oplog storage.OpLog, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		snapshots: snapshots,
		oplog:     oplog,
		cfg:       cfg,
		logger:    logger,
	}
}

// Snapshot пишет новую версию снапшота документа и усекает журнал по его
// watermark. Усечение происходит строго после подтверждения записи;
// ошибка усечения не фатальна - лишний хвост журнала безвреден.
func (s *Service) Snapshot(ctx context.Context, doc *crdt.Document, watermark int64) error {
	state, err := doc.MarshalState()
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", doc.ID(), err)
	}

	checksum, err := integrity.Checksum(state)
	if err != nil {
		return fmt.Errorf("failed to checksum document %s: %w", doc.ID(), err)
	}

	snap := &models.Snapshot{
		DocumentID: doc.ID(),
		Version:    ulid.Make().String(),
		Watermark:  watermark,
		Checksum:   checksum,
		State:      state,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to save snapshot of %s: %w", doc.ID(), err)
	}

	s.logger.Info("snapshot written",
		"document_id", doc.ID(),
		"version", snap.Version,
		"watermark", watermark,
		"state_bytes", len(state),
	)

	if err := s.oplog.TrimThrough(ctx, doc.ID(), watermark); err != nil {
		s.logger.Warn("failed to compact oplog",
			"document_id", doc.ID(), "watermark", watermark, "error", err)
	}

	return nil
}

// Restore восстанавливает документ: новейший валидный снапшот плюс
// переигранный хвост журнала. Снапшот с неверной контрольной суммой
// никогда не принимается молча - restore откатывается на предыдущую
// версию и переигрывает больший хвост. Возвращает документ и watermark,
// который он отражает.
func (s *Service) Restore(ctx context.Context, documentID string) (*crdt.Document, int64, error) {
	doc, watermark, err := s.loadSnapshot(ctx, documentID)
	if err != nil {
		return nil, 0, err
	}

	records, err := s.oplog.Since(ctx, documentID, watermark)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read oplog of %s: %w", documentID, err)
	}

	for _, rec := range records {
		doc.Merge(&rec.Op)
		if rec.Seq > watermark {
			watermark = rec.Seq
		}
	}

	s.logger.Info("document restored",
		"document_id", documentID,
		"watermark", watermark,
		"replayed_ops", len(records),
	)

	return doc, watermark, nil
}

// loadSnapshot загружает новейший снапшот, откатываясь по цепочке версий
// при неверной контрольной сумме. Полное отсутствие снапшотов - новый
// документ: журнал переигрывается с генезиса.
func (s *Service) loadSnapshot(ctx context.Context, documentID string) (*crdt.Document, int64, error) {
	snap, err := s.snapshots.LatestSnapshot(ctx, documentID)
	for err == nil {
		if verr := integrity.Verify(snap.State, snap.Checksum); verr != nil {
			s.logger.Error("corrupt snapshot, falling back to prior version",
				"document_id", documentID,
				"version", snap.Version,
				"error", verr,
			)
			snap, err = s.snapshots.PriorSnapshot(ctx, documentID, snap.Version)
			continue
		}

		doc, lerr := crdt.LoadDocument(documentID, snap.State)
		if lerr != nil {
			s.logger.Error("unreadable snapshot, falling back to prior version",
				"document_id", documentID,
				"version", snap.Version,
				"error", lerr,
			)
			snap, err = s.snapshots.PriorSnapshot(ctx, documentID, snap.Version)
			continue
		}

		return doc, snap.Watermark, nil
	}

	if errors.Is(err, storage.ErrSnapshotNotFound) {
		return crdt.NewDocument(documentID), 0, nil
	}
	return nil, 0, fmt.Errorf("failed to load snapshot of %s: %w", documentID, err)
}
