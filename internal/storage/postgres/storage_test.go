package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/storage"
)

// setupTestStorage подключается к базе из TEST_POSTGRES_DSN.
// Без переменной окружения тесты пропускаются.
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN is not set, skipping postgres tests")
	}

	s, err := New(context.Background(), dsn)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testDocID дает каждому тесту собственный документ: тесты не мешают
// друг другу и повторным прогонам на общей базе.
func testDocID() string {
	return "test-" + uuid.New().String()
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

func TestOpLog_AppendSinceTrim(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)
	docID := testDocID()

	for i := int64(1); i <= 4; i++ {
		seq, err := s.Append(ctx, docID, testOp(i))
		require.NoError(t, err)
		assert.Equal(t, i, seq)
	}

	records, err := s.Since(ctx, docID, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(3), records[0].Seq)

	require.NoError(t, s.TrimThrough(ctx, docID, 3))

	records, err = s.Since(ctx, docID, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(4), records[0].Seq)

	seq, err := s.LatestSeq(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq, "counter survives trimming")
}

func TestOpLog_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)
	docID := testDocID()

	const writers = 8
	const perWriter = 10

	errC := make(chan error, writers)
	for w := 0; w < writers; w++ {
		go func() {
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(ctx, docID, testOp(int64(i))); err != nil {
					errC <- err
					return
				}
			}
			errC <- nil
		}()
	}
	for w := 0; w < writers; w++ {
		require.NoError(t, <-errC)
	}

	// Номера уникальны и плотны: каждый выдан ровно один раз.
	records, err := s.Since(ctx, docID, 0)
	require.NoError(t, err)
	require.Len(t, records, writers*perWriter)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Seq)
	}
}

func TestSnapshots_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)
	docID := testDocID()

	_, err := s.LatestSnapshot(ctx, docID)
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	versions := []string{"01A", "01B", "01C"}
	for i, v := range versions {
		require.NoError(t, s.SaveSnapshot(ctx, testSnapshot(docID, v, int64((i+1)*10))))
	}

	latest, err := s.LatestSnapshot(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "01C", latest.Version)

	assert.Error(t, s.SaveSnapshot(ctx, testSnapshot(docID, "01A", 99)),
		"existing version must never be overwritten")

	prior, err := s.PriorSnapshot(ctx, docID, "01C")
	require.NoError(t, err)
	assert.Equal(t, "01B", prior.Version)

	snaps, err := s.ListSnapshots(ctx, docID)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "01C", snaps[0].Version, "newest first")
	assert.Nil(t, snaps[0].State)

	for i, v := range versions {
		snap, err := s.GetSnapshot(ctx, docID, v)
		require.NoError(t, err, fmt.Sprintf("version %s", v))
		assert.Equal(t, int64((i+1)*10), snap.Watermark)
	}
}
