// Package room реализует живую единицу коллаборации: один документ,
// подключенные к нему сессии и трекер присутствия. Вся мутация документа
// идет через комнату и сериализуется ее репликой; комнаты независимы -
// медленный снапшот одной комнаты не задерживает правки другой.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/avdeyev/holst/internal/bus"
	"github.com/avdeyev/holst/internal/crdt"
	"github.com/avdeyev/holst/internal/models"
	"github.com/avdeyev/holst/internal/presence"
	"github.com/avdeyev/holst/internal/storage"
)

// ErrDegraded редактирование временно переведено в read-only:
// durable-хранилище недоступно дольше допустимого окна.
var ErrDegraded = errors.New("editing temporarily degraded")

// memberBuffer размер исходящего буфера участника. Участник, не
// успевающий его вычитывать, отключается и переподключается с дельтой.
const memberBuffer = 256

// EventKind тип события комнаты для локального участника.
type EventKind string

// События комнаты.
const (
	EventOps      EventKind = "ops"      // новые записи журнала
	EventPresence EventKind = "presence" // состав присутствия
	EventClosing  EventKind = "closing"  // комната закрывается
	EventDegraded EventKind = "degraded" // переключение read-only режима
)

// Event событие комнаты. Поля заполняются в зависимости от Kind.
type Event struct {
	Kind     EventKind
	Records  []*models.OpRecord
	Roster   []presence.Entry
	Reason   string
	ReadOnly bool
}

// Member локальный участник комнаты. Канал закрывается комнатой при
// закрытии, отключении участника или переполнении его буфера.
type Member struct {
	SessionID string
	C         chan Event
}

// Publisher публикует конверты в межпроцессную шину.
// Реализуется bus.Bus и bus.QueuedPublisher.
type Publisher interface {
	Publish(ctx context.Context, roomID string, env *bus.Envelope) error
}

// Room одна активная комната.
type Room struct {
	doc       *crdt.Document
	presence  *presence.Tracker
	oplog     storage.OpLog
	publisher Publisher
	sub       bus.Subscription
	logger    *slog.Logger

	members map[string]*Member
	origin  string // идентификатор процесса для конвертов шины

	watermark atomic.Int64
	degraded  atomic.Bool
	reason    atomic.Value // string: причина деградации

	closedC chan struct{}
	doneC   chan struct{}
	mu      sync.Mutex
	closed  bool
}

// opsPayload нагрузка конверта KindOps.
type opsPayload struct {
	Records []*models.OpRecord `json:"records"`
}

// presencePayload нагрузка конверта KindPresence.
type presencePayload struct {
	Roster []presence.Entry `json:"roster"`
}

// New создает комнату вокруг восстановленного документа и запускает
// цикл рассылки. watermark - граница журнала, которую документ отражает.
func New(
	doc *crdt.Document,
	watermark int64,
	oplog storage.OpLog,
	publisher Publisher,
	sub bus.Subscription,
	tracker *presence.Tracker,
	origin string,
	logger *slog.Logger,
) *Room {
	r := &Room{
		doc:       doc,
		presence:  tracker,
		oplog:     oplog,
		publisher: publisher,
		sub:       sub,
		logger:    logger,
		members:   make(map[string]*Member),
		origin:    origin,
		closedC:   make(chan struct{}),
		doneC:     make(chan struct{}),
	}
	r.watermark.Store(watermark)
	r.reason.Store("")

	go r.run()

	return r
}

// ID возвращает идентификатор документа комнаты.
func (r *Room) ID() string {
	return r.doc.ID()
}

// Document возвращает реплику документа комнаты.
func (r *Room) Document() *crdt.Document {
	return r.doc
}

// Watermark возвращает старший номер журнала, примененный комнатой.
func (r *Room) Watermark() int64 {
	return r.watermark.Load()
}

// Presence возвращает трекер присутствия комнаты.
func (r *Room) Presence() *presence.Tracker {
	return r.presence
}

// Degraded возвращает текущий режим комнаты и причину деградации.
func (r *Room) Degraded() (bool, string) {
	reason, _ := r.reason.Load().(string)
	return r.degraded.Load(), reason
}

// SetDegraded переключает read-only режим комнаты и уведомляет
// участников. Вызывается сервисом персистентности.
func (r *Room) SetDegraded(degraded bool, reason string) {
	if r.degraded.Swap(degraded) == degraded {
		return
	}
	r.reason.Store(reason)

	r.logger.Warn("room degraded mode changed",
		"room_id", r.ID(), "degraded", degraded, "reason", reason)

	r.broadcast(Event{Kind: EventDegraded, ReadOnly: degraded, Reason: reason})
}

// Join подключает сессию к комнате.
func (r *Room) Join(sessionID string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("room %s is closed", r.ID())
	}

	m := &Member{
		SessionID: sessionID,
		C:         make(chan Event, memberBuffer),
	}
	r.members[sessionID] = m
	return m, nil
}

// Leave отключает сессию. Запись присутствия удаляется сразу: курсор
// умершей сессии не должен выглядеть живым.
func (r *Room) Leave(sessionID string) {
	r.presence.Remove(sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.members[sessionID]; ok {
		delete(r.members, sessionID)
		close(m.C)
	}
}

// Members возвращает число подключенных участников.
func (r *Room) Members() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// ApplyLocal применяет операции локальной сессии: слияние в документ,
// durable-запись в журнал, рассылка локальным участникам и публикация
// в межпроцессную шину. Возвращает записи журнала с номерами.
func (r *Room) ApplyLocal(ctx context.Context, ops []*models.Operation) ([]*models.OpRecord, error) {
	if r.degraded.Load() {
		reason, _ := r.reason.Load().(string)
		return nil, fmt.Errorf("%w: %s", ErrDegraded, reason)
	}

	records := make([]*models.OpRecord, 0, len(ops))
	var appendErr error
	for _, op := range ops {
		// Сначала журнал, потом слияние: видимое состояние реплики
		// никогда не обгоняет durable-журнал.
		seq, err := r.oplog.Append(ctx, r.ID(), op)
		if err != nil {
			appendErr = fmt.Errorf("failed to append operation: %w", err)
			break
		}

		// Клиентская операция для серверной реплики - удаленная:
		// слияние двигает часы по метке источника.
		r.doc.Merge(op)
		r.advance(seq)
		records = append(records, &models.OpRecord{Seq: seq, Op: *op})
	}

	// Принятая часть пакета рассылается даже при обрыве на середине:
	// она уже durable и применена к реплике.
	if len(records) > 0 {
		r.broadcast(Event{Kind: EventOps, Records: records})
		r.publish(ctx, bus.KindOps, opsPayload{Records: records})
	}

	return records, appendErr
}

// RecordsSince возвращает записи журнала после данного watermark.
// Используется для дельта-синхронизации при переподключении.
func (r *Room) RecordsSince(ctx context.Context, after int64) ([]*models.OpRecord, error) {
	return r.oplog.Since(ctx, r.ID(), after)
}

// SetPresence записывает состояние присутствия локальной сессии.
// Рассылку и публикацию в шину коалесцирует трекер.
func (r *Room) SetPresence(sessionID, userID string, state json.RawMessage) {
	r.presence.SetLocal(sessionID, userID, state)
}

// advance поднимает watermark комнаты до seq.
func (r *Room) advance(seq int64) {
	for {
		cur := r.watermark.Load()
		if seq <= cur || r.watermark.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// broadcast рассылает событие локальным участникам. Участник с
// переполненным буфером отключается: после переподключения он догонит
// состояние дельта-синхронизацией.
func (r *Room) broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, m := range r.members {
		select {
		case m.C <- ev:
		default:
			r.logger.Warn("member lagging, disconnecting",
				"room_id", r.ID(), "session_id", id)
			delete(r.members, id)
			close(m.C)
		}
	}
}

// publish отправляет конверт в межпроцессную шину.
func (r *Room) publish(ctx context.Context, kind bus.Kind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal bus payload",
			"room_id", r.ID(), "kind", kind, "error", err)
		return
	}

	env := &bus.Envelope{
		Origin:  r.origin,
		RoomID:  r.ID(),
		Kind:    kind,
		Payload: data,
	}
	if err := r.publisher.Publish(ctx, r.ID(), env); err != nil {
		r.logger.Warn("failed to publish to bus",
			"room_id", r.ID(), "kind", kind, "error", err)
	}
}

// run цикл комнаты: конверты шины и коалесцированные обновления
// присутствия превращаются в события для локальных участников.
func (r *Room) run() {
	defer close(r.doneC)

	rosterC, cancelWatch := r.presence.Watch()
	defer cancelWatch()

	for {
		select {
		case <-r.closedC:
			return

		case env, ok := <-r.sub.C():
			if !ok {
				return
			}
			r.handleEnvelope(env)

		case roster, ok := <-rosterC:
			if !ok {
				return
			}
			// Участникам - весь состав, включая чужие процессы;
			// в шину - только локальные сессии, иначе процессы
			// зациклят пересылку друг друга.
			r.broadcast(Event{Kind: EventPresence, Roster: roster})
			r.publish(context.Background(), bus.KindPresence, presencePayload{Roster: r.presence.LocalRoster()})
		}
	}
}

// handleEnvelope применяет конверт другого процесса. Доставка
// at-least-once: дубликаты безвредны благодаря идемпотентному слиянию.
func (r *Room) handleEnvelope(env *bus.Envelope) {
	if env.Origin == r.origin {
		return
	}

	switch env.Kind {
	case bus.KindOps:
		var payload opsPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			r.logger.Warn("failed to unmarshal ops envelope",
				"room_id", r.ID(), "error", err)
			return
		}
		for _, rec := range payload.Records {
			r.doc.Merge(&rec.Op)
			r.advance(rec.Seq)
		}
		r.broadcast(Event{Kind: EventOps, Records: payload.Records})

	case bus.KindPresence:
		var payload presencePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			r.logger.Warn("failed to unmarshal presence envelope",
				"room_id", r.ID(), "error", err)
			return
		}
		// Чужой состав вливается в общий, рассылку делает flush
		// трекера: участники всегда видят полный состав комнаты.
		r.presence.MergeRemote(env.Origin, payload.Roster)

	case bus.KindClosing:
		// Другой процесс закрыл свою копию комнаты; наша живет,
		// пока есть локальные участники, но его сессии из состава
		// уходят сразу.
		r.presence.MergeRemote(env.Origin, nil)
	}
}

// Close закрывает комнату: участники получают room_closing, каналы
// закрываются, фоновый цикл и трекер присутствия останавливаются.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true

	for id, m := range r.members {
		select {
		case m.C <- Event{Kind: EventClosing, Reason: reason}:
		default:
		}
		delete(r.members, id)
		close(m.C)
	}
	r.mu.Unlock()

	// Другие процессы убирают наших участников из состава сразу,
	// не дожидаясь Expiry.
	r.publish(context.Background(), bus.KindClosing, presencePayload{})

	close(r.closedC)
	_ = r.sub.Close()
	<-r.doneC
	r.presence.Stop()
}
