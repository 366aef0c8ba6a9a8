package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeyev/holst/internal/crdt"
	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/storage/sqlite"
)

func setupService(t *testing.T) (*Service, *sqlite.Storage) {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewService(store, store, DefaultConfig(), slog.Default()), store
}

// appendEdits строит документ и durable-журнал из n вставок.
func appendEdits(t *testing.T, store *sqlite.Storage, doc *crdt.Document, n int) int64 {
	t.Helper()
	ctx := context.Background()

	var watermark int64
	for i := 0; i < n; i++ {
		op := &models.Operation{
			Type:    models.OpInsert,
			NodeID:  "node-" + string(rune('a'+i)),
			Version: doc.NextVersion("s1"),
			Kind:    models.NodeKindText,
			Parent:  models.RootNodeID,
			Position: models.PositionBetween(
				models.Position{int64(i * 100)}, models.Position{int64(i*100 + 10)}),
			Fields: map[string]json.RawMessage{"text": json.RawMessage(`"x"`)},
		}
		require.True(t, doc.ApplyLocal(op))

		seq, err := store.Append(ctx, doc.ID(), op)
		require.NoError(t, err)
		watermark = seq
	}
	return watermark
}

func TestService_SnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	svc, store := setupService(t)

	doc := crdt.NewDocument("doc-1")
	watermark := appendEdits(t, store, doc, 3)

	require.NoError(t, svc.Snapshot(ctx, doc, watermark))

	restored, restoredMark, err := svc.Restore(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, watermark, restoredMark)

	want, err := doc.MarshalState()
	require.NoError(t, err)
	got, err := restored.MarshalState()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestService_SnapshotCompactsOplog(t *testing.T) {
	ctx := context.Background()
	svc, store := setupService(t)

	doc := crdt.NewDocument("doc-1")
	watermark := appendEdits(t, store, doc, 5)

	require.NoError(t, svc.Snapshot(ctx, doc, watermark))

	// Журнал усечен по watermark, счетчик номеров сохранен.
	records, err := store.Since(ctx, "doc-1", 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	seq, err := store.LatestSeq(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, watermark, seq)
}

func TestService_RestoreReplaysTail(t *testing.T) {
	ctx := context.Background()
	svc, store := setupService(t)

	doc := crdt.NewDocument("doc-1")
	watermark := appendEdits(t, store, doc, 2)
	require.NoError(t, svc.Snapshot(ctx, doc, watermark))

	// Хвост журнала после снапшота.
	tailMark := appendEdits(t, store, doc, 2)

	restored, restoredMark, err := svc.Restore(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, tailMark, restoredMark)

	want, err := doc.MarshalState()
	require.NoError(t, err)
	got, err := restored.MarshalState()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestService_RestoreFreshDocument(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	doc, watermark, err := svc.Restore(ctx, "brand-new")
	require.NoError(t, err)
	assert.Equal(t, int64(0), watermark)
	assert.Equal(t, models.RootNodeID, doc.Tree().ID)
	assert.Empty(t, doc.Tree().Children)
}

func TestService_CorruptSnapshotFallsBack(t *testing.T) {
	ctx := context.Background()
	svc, store := setupService(t)

	doc := crdt.NewDocument("doc-1")
	watermark := appendEdits(t, store, doc, 2)
	require.NoError(t, svc.Snapshot(ctx, doc, watermark))

	// Более новый снапшот с побитым состоянием: контрольная сумма
	// не сходится, restore обязан откатиться на валидную версию.
	state, err := doc.MarshalState()
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(ctx, &models.Snapshot{
		DocumentID: "doc-1",
		Version:    "ZZZZZZZZZZZZZZZZZZZZZZZZZZ",
		Watermark:  watermark + 100,
		Checksum:   "bogus",
		State:      state,
		CreatedAt:  time.Now(),
	}))

	restored, restoredMark, err := svc.Restore(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, watermark, restoredMark, "restore fell back to the valid snapshot")

	want, err := doc.MarshalState()
	require.NoError(t, err)
	got, err := restored.MarshalState()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}
