package storage

import "errors"

// Common storage errors
var (
	// ErrSnapshotNotFound indicates that no snapshot exists for the document
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrCorruptSnapshot indicates that a snapshot failed its integrity check
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrStorageClosed indicates that the storage has been closed
	ErrStorageClosed = errors.New("storage closed")
)
