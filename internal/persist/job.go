package persist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/avdeyev/holst/internal/crdt"
)

// Target комната с точки зрения сервиса персистентности.
// Реализуется internal/room.Room.
type Target interface {
	// Document возвращает реплику документа комнаты.
	Document() *crdt.Document

	// Watermark возвращает старший номер журнала, примененный комнатой.
	Watermark() int64

	// SetDegraded переводит комнату в деградированный (read-only) режим
	// и обратно. Вызывается, когда повторы записи снапшота исчерпали
	// допустимое окно.
	SetDegraded(degraded bool, reason string)
}

// Job фоновый снапшоттер одной активной комнаты: снапшот по таймеру
// активности либо после порога накопленных операций - что наступит
// раньше. Отменяется при вытеснении комнаты.
type Job struct {
	svc      *Service
	target   Target
	cancel   context.CancelFunc
	doneC    chan struct{}
	opC      chan struct{}
	ops      atomic.Int64
	lastSnap atomic.Int64
}

// StartJob запускает снапшоттер комнаты.
func (s *Service) StartJob(ctx context.Context, target Target) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		svc:    s,
		target: target,
		cancel: cancel,
		doneC:  make(chan struct{}),
		opC:    make(chan struct{}, 1),
	}
	j.lastSnap.Store(target.Watermark())

	go j.run(ctx)

	return j
}

// NoteOp сообщает снапшоттеру о примененной операции.
func (j *Job) NoteOp() {
	if j.ops.Add(1) >= int64(j.svc.cfg.SnapshotEveryOps) {
		select {
		case j.opC <- struct{}{}:
		default:
		}
	}
}

// Stop отменяет снапшоттер и дожидается его завершения.
// Финальный снапшот при вытеснении комнаты делает вызывающий.
func (j *Job) Stop() {
	j.cancel()
	<-j.doneC
}

func (j *Job) run(ctx context.Context) {
	defer close(j.doneC)

	ticker := time.NewTicker(j.svc.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.snapshotIfDirty(ctx)
		case <-j.opC:
			j.snapshotIfDirty(ctx)
		}
	}
}

// snapshotIfDirty снимает снапшот, если с прошлого снапшота были
// операции. Ошибки записи повторяются с экспоненциальным backoff, не
// блокируя редактирование; повторы дольше MaxDegradedWindow переводят
// комнату в read-only до первого успеха.
func (j *Job) snapshotIfDirty(ctx context.Context) {
	watermark := j.target.Watermark()
	if watermark <= j.lastSnap.Load() {
		return
	}
	j.ops.Store(0)

	started := time.Now()
	degraded := false

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = j.svc.cfg.MaxRetryInterval
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		// Каждый заход снимает актуальное состояние: пока мы
		// повторяем запись, комната продолжает редактироваться.
		watermark = j.target.Watermark()
		err := j.svc.Snapshot(ctx, j.target.Document(), watermark)
		if err == nil {
			return nil
		}

		j.svc.logger.Warn("snapshot write failed, will retry",
			"document_id", j.target.Document().ID(),
			"error", err,
		)

		if !degraded && time.Since(started) >= j.svc.cfg.MaxDegradedWindow {
			degraded = true
			j.target.SetDegraded(true, "snapshot storage unavailable")
		}
		return err
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		// Контекст отменен: комната вытесняется, работа не нужна.
		return
	}

	j.lastSnap.Store(watermark)
	if degraded {
		j.target.SetDegraded(false, "")
	}
}
