// Package storage defines the durable persistence interfaces of the sync
// engine: versioned document snapshots and the append-only operation log.
// Backends: postgres (shared, production), sqlite (single node), bolt
// (embedded/dev). All writes are append/versioned-write only - a crash
// mid-write can never corrupt a previously valid snapshot.
package storage

import (
	"context"

	"github.com/avdeyev/holst/internal/models"
)

// SnapshotStore persists versioned document snapshots.
// Snapshot versions are ULIDs: lexicographic order equals creation order.
// Superseded versions stay addressable for audit and rollback.
//
//go:generate moq -out snapshots_moq_test.go . SnapshotStore
type SnapshotStore interface {
	// SaveSnapshot durably writes a new snapshot version.
	// Existing versions are never overwritten.
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error

	// LatestSnapshot returns the newest snapshot of the document.
	// Returns ErrSnapshotNotFound if none exists.
	LatestSnapshot(ctx context.Context, documentID string) (*models.Snapshot, error)

	// GetSnapshot returns a specific snapshot version.
	// Returns ErrSnapshotNotFound if it does not exist.
	GetSnapshot(ctx context.Context, documentID, version string) (*models.Snapshot, error)

	// PriorSnapshot returns the newest snapshot older than the given
	// version. Used to fall back when a snapshot fails its integrity
	// check. Returns ErrSnapshotNotFound if none exists.
	PriorSnapshot(ctx context.Context, documentID, version string) (*models.Snapshot, error)

	// ListSnapshots returns all snapshot versions of the document,
	// newest first, without their state payloads.
	ListSnapshots(ctx context.Context, documentID string) ([]*models.Snapshot, error)
}

// OpLog persists the append-only operation log of a document.
// Sequence numbers are the engine's watermarks: snapshot boundaries,
// client acks and delta sync are all expressed in them.
//
//go:generate moq -out oplog_moq_test.go . OpLog
type OpLog interface {
	// Append durably appends an operation and returns its sequence
	// number (monotonic per document).
	Append(ctx context.Context, documentID string, op *models.Operation) (int64, error)

	// Since returns all operations with sequence numbers strictly
	// greater than after, in sequence order.
	Since(ctx context.Context, documentID string, after int64) ([]*models.OpRecord, error)

	// LatestSeq returns the highest sequence number of the document,
	// or 0 when the log is empty.
	LatestSeq(ctx context.Context, documentID string) (int64, error)

	// TrimThrough removes all operations with sequence numbers less
	// than or equal to through. Called only after a covering snapshot
	// is acknowledged durable.
	TrimThrough(ctx context.Context, documentID string, through int64) error
}

// Store bundles both persistence concerns behind one backend.
type Store interface {
	SnapshotStore
	OpLog

	// Ping verifies that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
