// Package postgres реализует durable-хранилище движка поверх PostgreSQL.
// Основной продакшен-бэкенд: пул соединений разделяется всеми процессами,
// выдача номеров журнала атомарна и на несколько процессов.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema создается идемпотентно при старте процесса.
const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    document_id TEXT NOT NULL,
    version     TEXT NOT NULL,
    watermark   BIGINT NOT NULL,
    checksum    TEXT NOT NULL,
    state       BYTEA NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (document_id, version)
);

CREATE TABLE IF NOT EXISTS oplog (
    document_id TEXT NOT NULL,
    seq         BIGINT NOT NULL,
    op          JSONB NOT NULL,
    PRIMARY KEY (document_id, seq)
);

CREATE TABLE IF NOT EXISTS sequences (
    document_id TEXT PRIMARY KEY,
    seq         BIGINT NOT NULL
);
`

// Storage представляет PostgreSQL-хранилище снапшотов и журнала операций.
type Storage struct {
	pool *pgxpool.Pool
}

// New создает хранилище и применяет схему.
// dsn - строка подключения PostgreSQL.
func New(ctx context.Context, dsn string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{pool: pool}, nil
}

// Ping проверяет доступность базы.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}
