package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/storage"
)

// setupTestStorage открывает in-memory базу для тестов.
func setupTestStorage(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	s, err := New(ctx, ":memory:")
	require.NoError(t, err)

	cleanup := func() {
		_ = s.Close()
	}
	return s, cleanup
}

func testOp(counter int64) *models.Operation {
	return &models.Operation{
		Type:    models.OpSet,
		NodeID:  "node-1",
		Version: models.Version{Counter: counter, Session: "s1"},
		Field:   "text",
		Value:   json.RawMessage(`"hello"`),
	}
}

func testSnapshot(documentID, version string, watermark int64) *models.Snapshot {
	return &models.Snapshot{
		DocumentID: documentID,
		Version:    version,
		Watermark:  watermark,
		Checksum:   "checksum-" + version,
		State:      []byte(`{"nodes":[]}`),
		CreatedAt:  time.Now(),
	}
}

func TestOpLog_AppendAndSince(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	for i := int64(1); i <= 5; i++ {
		seq, err := s.Append(ctx, "doc-1", testOp(i))
		require.NoError(t, err)
		assert.Equal(t, i, seq, "sequences are monotonic per document")
	}

	// Журналы документов независимы.
	seq, err := s.Append(ctx, "doc-2", testOp(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	records, err := s.Since(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, models.OpSet, records[0].Op.Type)
	assert.Equal(t, "node-1", records[0].Op.NodeID)

	records, err = s.Since(ctx, "doc-1", 3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(4), records[0].Seq)
	assert.Equal(t, int64(5), records[1].Seq)

	records, err = s.Since(ctx, "doc-1", 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOpLog_LatestSeq(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	seq, err := s.LatestSeq(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq, "empty log has seq 0")

	for i := int64(1); i <= 3; i++ {
		_, err := s.Append(ctx, "doc-1", testOp(i))
		require.NoError(t, err)
	}

	seq, err = s.LatestSeq(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
}

func TestOpLog_TrimDoesNotReuseSequences(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	for i := int64(1); i <= 4; i++ {
		_, err := s.Append(ctx, "doc-1", testOp(i))
		require.NoError(t, err)
	}

	require.NoError(t, s.TrimThrough(ctx, "doc-1", 3))

	records, err := s.Since(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(4), records[0].Seq)

	// Счетчик переживает усечение: watermark не переиспользуется.
	seq, err := s.LatestSeq(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	seq, err = s.Append(ctx, "doc-1", testOp(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq)
}

func TestSnapshots_SaveAndLatest(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.LatestSnapshot(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	// ULID-версии: лексикографический порядок равен хронологическому.
	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01A", 10)))
	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01B", 20)))
	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01C", 30)))

	latest, err := s.LatestSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "01C", latest.Version)
	assert.Equal(t, int64(30), latest.Watermark)
	assert.Equal(t, []byte(`{"nodes":[]}`), latest.State)
}

func TestSnapshots_VersionsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01A", 10)))
	assert.Error(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01A", 99)),
		"existing snapshot version must never be overwritten")
}

func TestSnapshots_GetAndPrior(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01A", 10)))
	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01B", 20)))

	snap, err := s.GetSnapshot(ctx, "doc-1", "01A")
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Watermark)

	_, err = s.GetSnapshot(ctx, "doc-1", "01Z")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	prior, err := s.PriorSnapshot(ctx, "doc-1", "01B")
	require.NoError(t, err)
	assert.Equal(t, "01A", prior.Version)

	_, err = s.PriorSnapshot(ctx, "doc-1", "01A")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestSnapshots_List(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	snaps, err := s.ListSnapshots(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, snaps)

	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01A", 10)))
	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-1", "01B", 20)))
	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("doc-2", "01X", 5)))

	snaps, err = s.ListSnapshots(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "01B", snaps[0].Version, "newest first")
	assert.Equal(t, "01A", snaps[1].Version)
	assert.Nil(t, snaps[0].State, "listing omits state payloads")
}

func TestStorage_Ping(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	assert.NoError(t, s.Ping(ctx))
}
