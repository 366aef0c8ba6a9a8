package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeyev/holst/internal/crdt"
	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/storage"
	"github.com/avdeyev/holst/internal/storage/sqlite"
)

// fakeTarget комната-заглушка для снапшоттера.
type fakeTarget struct {
	doc       *crdt.Document
	watermark int64
	degraded  []bool
	mu        sync.Mutex
}

func (f *fakeTarget) Document() *crdt.Document { return f.doc }

func (f *fakeTarget) Watermark() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark
}

func (f *fakeTarget) advance(to int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermark = to
}

func (f *fakeTarget) SetDegraded(degraded bool, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = append(f.degraded, degraded)
}

func (f *fakeTarget) degradedHistory() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.degraded...)
}

// failingSnapshots отклоняет первые failures записей снапшотов.
type failingSnapshots struct {
	storage.SnapshotStore
	failures int
	attempts int
	mu       sync.Mutex
}

func (f *failingSnapshots) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	f.mu.Lock()
	f.attempts++
	failing := f.attempts <= f.failures
	f.mu.Unlock()

	if failing {
		return fmt.Errorf("storage unavailable")
	}
	return f.SnapshotStore.SaveSnapshot(ctx, snap)
}

func jobConfig() Config {
	return Config{
		SnapshotInterval:  time.Hour, // снапшоты только по порогу операций
		SnapshotEveryOps:  3,
		MaxRetryInterval:  10 * time.Millisecond,
		MaxDegradedWindow: time.Hour,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestJob_SnapshotAfterOpThreshold(t *testing.T) {
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	svc := NewService(store, store, jobConfig(), slog.Default())

	doc := crdt.NewDocument("doc-1")
	target := &fakeTarget{doc: doc}

	job := svc.StartJob(ctx, target)
	defer job.Stop()

	// Две операции - ниже порога, снапшота нет.
	target.advance(2)
	job.NoteOp()
	job.NoteOp()

	time.Sleep(50 * time.Millisecond)
	_, err = store.LatestSnapshot(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	// Третья операция пересекает порог.
	target.advance(3)
	job.NoteOp()

	waitFor(t, func() bool {
		_, err := store.LatestSnapshot(ctx, "doc-1")
		return err == nil
	})

	snap, err := store.LatestSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Watermark)
}

func TestJob_RetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	flaky := &failingSnapshots{SnapshotStore: store, failures: 2}
	svc := NewService(flaky, store, jobConfig(), slog.Default())

	doc := crdt.NewDocument("doc-1")
	target := &fakeTarget{doc: doc}

	job := svc.StartJob(ctx, target)
	defer job.Stop()

	target.advance(5)
	for i := 0; i < 3; i++ {
		job.NoteOp()
	}

	waitFor(t, func() bool {
		_, err := store.LatestSnapshot(ctx, "doc-1")
		return err == nil
	})

	// Повторы уложились в окно деградации - комната в read-only не уходила.
	assert.Empty(t, target.degradedHistory())
}

func TestJob_DegradesAfterWindow(t *testing.T) {
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	cfg := jobConfig()
	cfg.MaxDegradedWindow = 0 // первый же отказ деградирует комнату

	flaky := &failingSnapshots{SnapshotStore: store, failures: 3}
	svc := NewService(flaky, store, cfg, slog.Default())

	doc := crdt.NewDocument("doc-1")
	target := &fakeTarget{doc: doc}

	job := svc.StartJob(ctx, target)
	defer job.Stop()

	target.advance(5)
	for i := 0; i < 3; i++ {
		job.NoteOp()
	}

	waitFor(t, func() bool {
		_, err := store.LatestSnapshot(ctx, "doc-1")
		return err == nil
	})

	// Комната деградировала на время отказов и вернулась после успеха.
	history := target.degradedHistory()
	require.Len(t, history, 2)
	assert.True(t, history[0])
	assert.False(t, history[1])
}

func TestJob_NoSnapshotWithoutNewOps(t *testing.T) {
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	cfg := jobConfig()
	cfg.SnapshotInterval = 10 * time.Millisecond

	svc := NewService(store, store, cfg, slog.Default())
	target := &fakeTarget{doc: crdt.NewDocument("doc-1")}

	job := svc.StartJob(ctx, target)
	defer job.Stop()

	// Watermark не двигался: тикер не должен плодить пустые снапшоты.
	time.Sleep(100 * time.Millisecond)
	_, err = store.LatestSnapshot(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}
